package astipsi

import (
	"bytes"
	"testing"
	"time"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clockReference = newClockReference(3271034319, 58)

func TestClockReference(t *testing.T) {
	assert.Equal(t, 36344825768814*time.Nanosecond, clockReference.Duration())
	assert.Equal(t, int64(36344), clockReference.Time().Unix())
	assert.Equal(t, uint64(3271034319*300+58), clockReference.Ticks())
	assert.Equal(t, clockReference, newClockReferenceFromTicks(clockReference.Ticks()))
}

func TestDecodePCR(t *testing.T) {
	v, err := DecodePCR(pcrBytes())
	require.NoError(t, err)
	assert.Equal(t, pcr.Ticks(), v)

	// Base low bit lives in the 2nd to last byte's high bit
	v, err = DecodePCR([]byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)

	_, err = DecodePCR([]byte{0, 1, 2})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestPCRNanos(t *testing.T) {
	assert.Equal(t, uint64(0), PCRNanos(0))
	assert.Equal(t, uint64(37), PCRNanos(1))
	assert.Equal(t, uint64(1e9), PCRNanos(27e6))
	assert.Equal(t, uint64(pcr.Duration()), PCRNanos(pcr.Ticks()))
}

func TestEncodePCR(t *testing.T) {
	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	err := EncodePCR(w, pcr.Ticks())
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.Equal(t, pcrBytes(), buf.Bytes())
}

func TestEncodePCRDecodePCR(t *testing.T) {
	for _, ticks := range []uint64{0, 299, 300, pcr.Ticks(), opcr.Ticks(), (1<<33-1)*300 + 299} {
		buf := &bytes.Buffer{}
		w := bitio.NewWriter(buf)
		require.NoError(t, EncodePCR(w, ticks))
		require.NoError(t, w.Close())
		require.Len(t, buf.Bytes(), pcrSize)
		v, err := DecodePCR(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ticks, v)
	}
}

func BenchmarkDecodePCR(b *testing.B) {
	bs := pcrBytes()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		DecodePCR(bs)
	}
}
