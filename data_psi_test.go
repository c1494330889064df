package astipsi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func psiSectionBytes(tableID PSITableID, tableIDExtension uint16, data []byte) []byte {
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	w.Write(uint8(tableID))             // Table ID
	w.Write("1011")                     // Syntax section indicator, private bit, reserved bits
	w.WriteN(uint16(5+len(data)+4), 12) // Section length
	w.Write(tableIDExtension)           // Table ID extension
	w.Write("11")                       // Reserved bits
	w.Write("00011")                    // Version number
	w.Write("1")                        // Current/next indicator
	w.Write(uint8(0))                   // Section number
	w.Write(uint8(1))                   // Last section number
	w.Write(data)                       // Data
	return binary.BigEndian.AppendUint32(buf.Bytes(), computeCRC32(buf.Bytes()))
}

// psiPacket writes a packet whose payload starts with a pointer field followed by filler bytes and the sections
func psiPacket(pointer int, sections ...[]byte) []byte {
	payload := []byte{uint8(pointer)}
	payload = append(payload, bytes.Repeat([]byte{0xaa}, pointer)...)
	for _, s := range sections {
		payload = append(payload, s...)
	}
	return BuildPacketWithPayload(PacketHeader{AdaptationFieldControl: AdaptationFieldControlPayloadOnly, PayloadUnitStartIndicator: true, PID: 100}, payload)
}

func TestPacketTables(t *testing.T) {
	p, err := NewPacket(psiPacket(3, psiSectionBytes(PSITableIDPMT, 7, []byte{1, 2, 3})))
	require.NoError(t, err)
	tb, err := p.Tables()
	require.NoError(t, err)
	assert.Equal(t, PSITableIDPMT, tb.TableID())
	assert.Equal(t, PSITableTypePMT, tb.TableID().String())
	assert.True(t, tb.HasSyntaxSection())
	assert.False(t, tb.PrivateBit())
	assert.Equal(t, uint16(12), tb.SectionLength())
	assert.Len(t, tb.Bytes(), MaxPayloadSize-4)

	s, err := tb.Section()
	require.NoError(t, err)
	assert.Len(t, s.Bytes(), 15)
	assert.Equal(t, PSITableIDPMT, s.TableID())
	assert.True(t, s.HasSyntaxSection())
	assert.False(t, s.PrivateBit())
	assert.Equal(t, uint16(12), s.SectionLength())
	assert.True(t, s.ValidSyntax())
	assert.Equal(t, uint16(7), s.TableIDExtension())
	assert.Equal(t, uint8(3), s.VersionNumber())
	assert.True(t, s.CurrentNextIndicator())
	assert.Equal(t, uint8(0), s.SectionNumber())
	assert.Equal(t, uint8(1), s.LastSectionNumber())
	assert.Equal(t, []byte{1, 2, 3}, s.TableData())
	assert.Equal(t, s.ComputedCRC32(), s.CRC32())
	assert.NoError(t, s.VerifyCRC32())
	assert.NoError(t, s.Validate())

	_, ok, err := tb.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPacketTablesErrors(t *testing.T) {
	// No payload
	p, err := NewPacket(BuildPacket(PacketHeader{AdaptationFieldControl: AdaptationFieldControlAdaptationFieldOnly}))
	require.NoError(t, err)
	_, err = p.Tables()
	assert.ErrorIs(t, err, ErrNoPayload)

	// Pointer field overflows the payload
	bs := psiPacket(0)
	bs[4] = 200
	p, err = NewPacket(bs)
	require.NoError(t, err)
	_, err = p.Tables()
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Not enough bytes left for a section header
	bs[4] = MaxPayloadSize - 3
	_, err = p.Tables()
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Section length overflows the payload
	s := psiSectionBytes(PSITableIDPAT, 1, nil)
	s[1] |= 0x03
	p, err = NewPacket(psiPacket(0, s))
	require.NoError(t, err)
	tb, err := p.Tables()
	require.NoError(t, err)
	_, err = tb.Section()
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Section with syntax is too short
	p, err = NewPacket(psiPacket(0, []byte{0x00, 0xb0, 0x02, 0x00, 0x01}))
	require.NoError(t, err)
	tb, err = p.Tables()
	require.NoError(t, err)
	_, err = tb.Section()
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestTableNext(t *testing.T) {
	s1 := psiSectionBytes(PSITableIDPAT, 1, []byte{0x00, 0x01, 0xe0, 0x10})
	s2 := psiSectionBytes(PSITableIDPMT, 2, nil)
	p, err := NewPacket(psiPacket(0, s1, s2))
	require.NoError(t, err)

	tb, err := p.Tables()
	require.NoError(t, err)
	var ids []PSITableID
	var exts []uint16
	for ok := true; ok; tb, ok, err = tb.Next() {
		require.NoError(t, err)
		s, err := tb.Section()
		require.NoError(t, err)
		ids = append(ids, s.TableID())
		exts = append(exts, s.TableIDExtension())
	}
	require.NoError(t, err)
	assert.Equal(t, []PSITableID{PSITableIDPAT, PSITableIDPMT}, ids)
	assert.Equal(t, []uint16{1, 2}, exts)

	// Next section header is truncated
	tb, err = NewTable(append(append([]byte(nil), s1...), 0x02, 0xb0))
	require.NoError(t, err)
	_, _, err = tb.Next()
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestSectionValidate(t *testing.T) {
	bs := psiSectionBytes(PSITableIDPAT, 1, []byte{0x00, 0x01, 0xe0, 0x10})

	// Corrupted data
	c := append([]byte(nil), bs...)
	c[9] ^= 0xff
	s, err := newSection(c)
	require.NoError(t, err)
	assert.True(t, s.ValidSyntax())
	assert.ErrorIs(t, s.VerifyCRC32(), ErrCRCMismatch)
	assert.ErrorIs(t, s.Validate(), ErrCRCMismatch)

	// Reserved bits
	c = append([]byte(nil), bs...)
	c[5] &= 0x3f
	s, err = newSection(c)
	require.NoError(t, err)
	assert.False(t, s.ValidSyntax())
	assert.ErrorIs(t, s.Validate(), ErrValidityMismatch)
}

func TestSectionWithoutSyntax(t *testing.T) {
	s, err := newSection([]byte{0x80, 0x00, 0x01, 0xaa})
	require.NoError(t, err)
	assert.False(t, s.HasSyntaxSection())
	assert.False(t, s.ValidSyntax())
	assert.Equal(t, uint16(0), s.TableIDExtension())
	assert.Nil(t, s.TableData())
	assert.Equal(t, PSITableTypeUnknown, s.TableID().String())
}

func TestWritePSISection(t *testing.T) {
	for _, v := range []struct {
		name string
		bs   []byte
		h    psiSectionHeader
	}{
		{
			name: "PAT",
			bs:   testDataPat,
			h:    psiSectionHeader{currentNextIndicator: true, tableID: PSITableIDPAT, tableIDExtension: 1, versionNumber: 16},
		},
		{
			name: "PMT",
			bs:   testDataPmt,
			h:    psiSectionHeader{currentNextIndicator: true, tableID: PSITableIDPMT, tableIDExtension: 1, versionNumber: 26},
		},
	} {
		t.Run(v.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
			n, err := writePSISection(w, v.h, v.bs[8:len(v.bs)-4])
			assert.NoError(t, err)
			assert.Equal(t, len(v.bs), n)
			assert.Equal(t, v.bs, buf.Bytes())
		})
	}
}

func TestWritePSIPacket(t *testing.T) {
	bs, err := writePSIPacket(256, 5, testDataPat)
	require.NoError(t, err)
	assert.Equal(t, uint8(MaxPayloadSize-1-len(testDataPat)), bs[4])
	assert.Equal(t, testDataPat, bs[PacketSize-len(testDataPat):])

	_, err = writePSIPacket(256, 5, make([]byte, MaxPayloadSize))
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func BenchmarkPacketTables(b *testing.B) {
	bs := psiPacket(0, testDataPmt)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p, _ := NewPacket(bs)
		tb, _ := p.Tables()
		s, _ := tb.Section()
		s.VerifyCRC32()
	}
}
