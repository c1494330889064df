package astipsi

import (
	"bytes"
	"testing"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/require"
)

func TestWriteBinary(t *testing.T) {
	bw := &bytes.Buffer{}
	w := bitio.NewWriter(bw)

	require.NoError(t, writeBinary(w, ""))
	require.NoError(t, writeBinary(w, "000000"))
	require.Equal(t, 0, bw.Len())

	require.NoError(t, writeBinary(w, "01"))
	require.Equal(t, []byte{1}, bw.Bytes())

	require.NoError(t, writeBinary(w, "1010101111001101"))
	require.Equal(t, []byte{1, 0xab, 0xcd}, bw.Bytes())

	require.Error(t, writeBinary(w, "2"))
}
