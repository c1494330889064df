package astipsi

import (
	"bytes"
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pmtSection(t *testing.T, bs []byte) Section {
	p, err := NewPacket(bs)
	require.NoError(t, err)
	tb, err := p.Tables()
	require.NoError(t, err)
	s, err := tb.Section()
	require.NoError(t, err)
	return s
}

func elementaryStreamBytes(streamType StreamType, pid uint16, esInfo []byte) []byte {
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	w.Write(uint8(streamType))        // Stream type
	w.Write("111")                    // Reserved bits
	w.WriteN(pid, 13)                 // Elementary PID
	w.Write("1111")                   // Reserved bits
	w.Write("00")                     // Unused bits
	w.WriteN(uint16(len(esInfo)), 10) // ES info length
	w.Write(esInfo)                   // ES info
	return buf.Bytes()
}

func TestPMTFixture(t *testing.T) {
	s := pmtSection(t, fixturePacket(t, fixturePMT))
	assert.Equal(t, PSITableIDPMT, s.TableID())
	assert.Equal(t, uint16(1), s.TableIDExtension())
	assert.NoError(t, s.Validate())

	p, err := s.PMT()
	require.NoError(t, err)
	assert.True(t, p.Valid())
	assert.NoError(t, p.Validate())
	assert.Equal(t, uint16(256), p.PCRPID())
	assert.Equal(t, uint16(0), p.ProgramInfoLength())
	assert.Nil(t, p.DescriptorData())

	es, ok, err := p.ElementaryStreams()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StreamTypeH264Video, es.StreamType())
	assert.Equal(t, uint16(256), es.ElementaryPID())
	assert.Equal(t, uint16(0), es.ESInfoLength())
	assert.Empty(t, es.ESInfo())
	assert.True(t, es.Valid())
	assert.Equal(t, []byte{0x1b, 0xe1, 0x00, 0xf0, 0x00}, es.Bytes())

	_, ok, err = es.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPMTStreams(t *testing.T) {
	s, err := newSection(testDataPmt)
	require.NoError(t, err)
	assert.NoError(t, s.VerifyCRC32())

	p, err := s.PMT()
	require.NoError(t, err)
	ss, err := p.Streams()
	require.NoError(t, err)
	require.Len(t, ss, 2)

	assert.Equal(t, StreamTypeH264Video, ss[0].StreamType())
	assert.Equal(t, uint16(0x100), ss[0].ElementaryPID())
	assert.False(t, ss[0].Valid())

	assert.Equal(t, StreamTypeADTS, ss[1].StreamType())
	assert.Equal(t, uint16(0x104), ss[1].ElementaryPID())
	assert.Equal(t, uint16(6), ss[1].ESInfoLength())
	assert.Equal(t, []byte{0x0a, 0x04, 0x72, 0x75, 0x73, 0x00}, ss[1].ESInfo())
	assert.False(t, ss[1].Valid())

	// Decoding succeeded but neither stream has its ES info length reserved bits set
	assert.ErrorIs(t, p.Validate(), ErrValidityMismatch)
	assert.ErrorIs(t, ss[0].Validate(), ErrValidityMismatch)
	assert.ErrorIs(t, ss[1].Validate(), ErrValidityMismatch)
}

func TestElementaryStreamValid(t *testing.T) {
	bs := append(elementaryStreamBytes(StreamTypeADTS, 0x104, []byte{0x0a, 0x04, 0x72, 0x75, 0x73, 0x00}), elementaryStreamBytes(StreamTypeH264Video, 0x100, nil)...)
	s, ok, err := newElementaryStream(bs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Valid())
	assert.NoError(t, s.Validate())
	assert.Equal(t, uint16(0x104), s.ElementaryPID())
	assert.Equal(t, uint16(6), s.ESInfoLength())

	s, ok, err = s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Valid())
	assert.NoError(t, s.Validate())
	assert.Equal(t, StreamTypeH264Video, s.StreamType())

	// Clearing the reserved nibble of the ES info length
	bs[3] &= 0x0f
	s, _, err = newElementaryStream(bs)
	require.NoError(t, err)
	assert.False(t, s.Valid())
	assert.ErrorIs(t, s.Validate(), ErrValidityMismatch)
}

func TestPMTDescriptorData(t *testing.T) {
	data := []byte{0xe1, 0x00, 0xf0, 0x03, 0x01, 0x02, 0x03}
	data = append(data, elementaryStreamBytes(StreamTypeADTS, 0x101, nil)...)
	s, err := newSection(psiSectionBytes(PSITableIDPMT, 1, data))
	require.NoError(t, err)

	p, err := s.PMT()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, p.DescriptorData())
	ss, err := p.Streams()
	require.NoError(t, err)
	require.Len(t, ss, 1)
	assert.Equal(t, uint16(0x101), ss[0].ElementaryPID())

	// Program info length overflows the table data
	data[3] = 0xff
	s, err = newSection(psiSectionBytes(PSITableIDPMT, 1, data))
	require.NoError(t, err)
	_, err = s.PMT()
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Table data is too short
	s, err = newSection(psiSectionBytes(PSITableIDPMT, 1, []byte{0xe1, 0x00}))
	require.NoError(t, err)
	_, err = s.PMT()
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestElementaryStreamTermination(t *testing.T) {
	bs := elementaryStreamBytes(StreamTypeH265Video, 0x200, []byte{0x01, 0x02})

	// Filler
	s, ok, err := newElementaryStream(append(append([]byte(nil), bs...), 0xff, 0x00, 0x00))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, s.Bytes(), 7)
	_, ok, err = s.Next()
	assert.NoError(t, err)
	assert.False(t, ok)

	// Truncated header
	s, ok, err = newElementaryStream(append(append([]byte(nil), bs...), 0x03, 0xe1))
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = s.Next()
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// ES info length overflows
	_, _, err = newElementaryStream(bs[:6])
	assert.ErrorIs(t, err, ErrOutOfBounds)

	// Empty
	_, ok, err = newElementaryStream(nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatePMTPacketFixture(t *testing.T) {
	bs, err := CreatePMTPacket(0x1000, []PMTStream{{ElementaryPID: 256, StreamType: StreamTypeH264Video}}, 0, PMTOptPCRPID(256))
	require.NoError(t, err)
	s := fixturePacket(t, fixturePMT)[5:26]
	assert.Equal(t, s, bs[PacketSize-len(s):])
}

func TestCreatePMTPacket(t *testing.T) {
	streams := []PMTStream{
		{ElementaryPID: 0x100, StreamType: StreamTypeH264Video},
		{ElementaryPID: 0x101, StreamType: StreamTypeADTS},
		{ElementaryPID: 0x102, StreamType: StreamTypeMPEG2PacketizedData},
	}
	bs, err := CreatePMTPacket(0x1000, streams, 3, PMTOptProgramNumber(12))
	require.NoError(t, err)

	p, err := NewPacket(bs)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1000), p.PID())
	assert.Equal(t, uint8(3), p.ContinuityCounter())
	assert.True(t, p.PayloadUnitStartIndicator())

	s := pmtSection(t, bs)
	assert.Equal(t, uint16(13+5*len(streams)), s.SectionLength())
	assert.Equal(t, uint16(12), s.TableIDExtension())
	assert.NoError(t, s.Validate())

	pmt, err := s.PMT()
	require.NoError(t, err)
	assert.Equal(t, uint16(PIDNull), pmt.PCRPID())
	assert.NoError(t, pmt.Validate())
	ss, err := pmt.Streams()
	require.NoError(t, err)
	require.Len(t, ss, len(streams))
	for idx, e := range ss {
		assert.Equal(t, streams[idx].ElementaryPID, e.ElementaryPID())
		assert.Equal(t, streams[idx].StreamType, e.StreamType())
		assert.Equal(t, uint16(0), e.ESInfoLength())
	}
}

func TestCreatePMTPacketLimits(t *testing.T) {
	streams := make([]PMTStream, 34)
	for idx := range streams {
		streams[idx] = PMTStream{ElementaryPID: uint16(0x100 + idx), StreamType: StreamTypeMPEG1Audio}
	}

	bs, err := CreatePMTPacket(0x1000, streams[:33], 0)
	require.NoError(t, err)
	pmt, err := pmtSection(t, bs).PMT()
	require.NoError(t, err)
	ss, err := pmt.Streams()
	require.NoError(t, err)
	assert.Len(t, ss, 33)

	_, err = CreatePMTPacket(0x1000, streams, 0)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}
