package astipsi

import (
	"bytes"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// StreamType represents a PMT stream type
type StreamType uint8

// Stream types
const (
	StreamTypeMPEG1Audio                 StreamType = 0x03 // ISO/IEC 11172-3
	StreamTypeMPEG2HalvedSampleRateAudio StreamType = 0x04 // ISO/IEC 13818-3
	StreamTypeMPEG2PacketizedData        StreamType = 0x06 // ITU-T Rec. H.222 and ISO/IEC 13818-1 i.e., DVB subtitles/VBI and AC-3
	StreamTypeADTS                       StreamType = 0x0f // ISO/IEC 13818-7 Audio with ADTS transport syntax
	StreamTypeH264Video                  StreamType = 0x1b // ITU-T Rec. H.264 and ISO/IEC 14496-10
	StreamTypeH265Video                  StreamType = 0x24 // ITU-T Rec. H.265 and ISO/IEC 23008-2
	StreamTypeFiller                     StreamType = 0xff // Once a stream is followed by this byte, the rest of the table data is stuffing
)

const (
	pmtHeaderSize              = 4
	elementaryStreamHeaderSize = 5
	defaultProgramNumber       = 1
)

// PMT represents a non owning view over the table data of a PMT section
// https://en.wikipedia.org/wiki/Program-specific_information
type PMT struct {
	bs []byte
}

// PMT returns the PMT view of a section
func (s Section) PMT() (p PMT, err error) {
	bs := s.TableData()
	if len(bs) < pmtHeaderSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: table data is %d bytes, PMT header is %d bytes", len(bs), pmtHeaderSize)
		return
	}
	p.bs = bs
	if pmtHeaderSize+int(p.ProgramInfoLength()) > len(bs) {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: program info length %d overflows %d bytes of table data", p.ProgramInfoLength(), len(bs))
		return
	}
	return
}

// Bytes returns the table data
func (p PMT) Bytes() []byte { return p.bs }

// Valid checks the reserved bits preceding the PCR PID and the program info length
func (p PMT) Valid() bool { return p.bs[0]&0xe0 == 0xe0 && p.bs[2]&0xf0 == 0xf0 }

// PCRPID returns the packet identifier that contains the program clock reference. If this is unused. then it is set to 0x1FFF (all bits on).
func (p PMT) PCRPID() uint16 { return uint13(p.bs[0:2]) }

// ProgramInfoLength returns the program descriptors length
func (p PMT) ProgramInfoLength() uint16 { return uint10(p.bs[2:4]) }

// DescriptorData returns the raw program descriptors or nil if there's none
func (p PMT) DescriptorData() []byte {
	l := int(p.ProgramInfoLength())
	if l == 0 {
		return nil
	}
	return p.bs[pmtHeaderSize : pmtHeaderSize+l]
}

// ElementaryStreams returns the first elementary stream, ok is false if there's none
func (p PMT) ElementaryStreams() (s ElementaryStream, ok bool, err error) {
	return newElementaryStream(p.bs[pmtHeaderSize+int(p.ProgramInfoLength()):])
}

// Streams returns all elementary streams
func (p PMT) Streams() (ss []ElementaryStream, err error) {
	var s ElementaryStream
	var ok bool
	if s, ok, err = p.ElementaryStreams(); err != nil {
		err = errors.Wrap(err, "astipsi: fetching first elementary stream failed")
		return
	}
	for ok {
		ss = append(ss, s)
		if s, ok, err = s.Next(); err != nil {
			err = errors.Wrapf(err, "astipsi: fetching elementary stream #%d failed", len(ss)+1)
			return
		}
	}
	return
}

// Validate checks the reserved bits of the PMT and of its elementary streams
func (p PMT) Validate() (err error) {
	if !p.Valid() {
		return errors.Wrap(ErrValidityMismatch, "astipsi: PMT reserved bits are not set")
	}
	var ss []ElementaryStream
	if ss, err = p.Streams(); err != nil {
		return
	}
	for _, s := range ss {
		if err = s.Validate(); err != nil {
			return
		}
	}
	return
}

// ElementaryStream represents a non owning view starting at an elementary stream and running until the end of the table data
type ElementaryStream struct {
	bs []byte
}

// newElementaryStream creates an elementary stream view
// ok is false when no bytes are left or when the stream type is the filler value
func newElementaryStream(bs []byte) (s ElementaryStream, ok bool, err error) {
	if len(bs) == 0 || StreamType(bs[0]) == StreamTypeFiller {
		return
	}
	if len(bs) < elementaryStreamHeaderSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: %d bytes left, elementary stream header is %d bytes", len(bs), elementaryStreamHeaderSize)
		return
	}
	s.bs = bs
	if s.end() > len(bs) {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: ES info length %d overflows %d bytes", s.ESInfoLength(), len(bs))
		return
	}
	ok = true
	return
}

func (s ElementaryStream) end() int { return elementaryStreamHeaderSize + int(s.ESInfoLength()) }

// Bytes returns the bytes of this elementary stream only, ES info included
func (s ElementaryStream) Bytes() []byte { return s.bs[:s.end()] }

// Valid checks the reserved bits preceding the elementary PID and the ES info length
func (s ElementaryStream) Valid() bool { return s.bs[1]&0xe0 == 0xe0 && s.bs[3]&0xf0 == 0xf0 }

// StreamType defines the structure of the data contained within the elementary packet identifier
func (s ElementaryStream) StreamType() StreamType { return StreamType(s.bs[0]) }

// ElementaryPID returns the packet identifier that contains the stream type data
func (s ElementaryStream) ElementaryPID() uint16 { return uint13(s.bs[1:3]) }

// ESInfoLength returns the elementary stream descriptors length
func (s ElementaryStream) ESInfoLength() uint16 { return uint10(s.bs[3:5]) }

// ESInfo returns the raw elementary stream descriptors
func (s ElementaryStream) ESInfo() []byte { return s.bs[elementaryStreamHeaderSize:s.end()] }

// Next returns the following elementary stream, ok is false if there's none
func (s ElementaryStream) Next() (n ElementaryStream, ok bool, err error) {
	return newElementaryStream(s.bs[s.end():])
}

// Validate checks reserved bits
func (s ElementaryStream) Validate() error {
	if !s.Valid() {
		return errors.Wrapf(ErrValidityMismatch, "astipsi: elementary stream %d reserved bits are not set", s.ElementaryPID())
	}
	return nil
}

// PMTStream represents an elementary stream CreatePMTPacket writes
type PMTStream struct {
	ElementaryPID uint16
	StreamType    StreamType
}

type pmtOptions struct {
	pcrPID        uint16
	programNumber uint16
}

// PMTOption represents a CreatePMTPacket option
type PMTOption func(o *pmtOptions)

// PMTOptPCRPID returns the option to set the PCR PID, which defaults to 0x1fff (unused)
func PMTOptPCRPID(pid uint16) PMTOption {
	return func(o *pmtOptions) {
		o.pcrPID = pid
	}
}

// PMTOptProgramNumber returns the option to set the program number, which defaults to 1
func PMTOptProgramNumber(n uint16) PMTOption {
	return func(o *pmtOptions) {
		o.programNumber = n
	}
}

// CreatePMTPacket creates a packet on pid holding a single PMT section
// Program info and ES info are empty. At most 33 streams fit in the packet.
func CreatePMTPacket(pid uint16, streams []PMTStream, cc uint8, opts ...PMTOption) (bs []byte, err error) {
	// Options
	o := pmtOptions{
		pcrPID:        PIDNull,
		programNumber: defaultProgramNumber,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Write table data
	var data []byte
	if data, err = writePMTData(o.pcrPID, streams); err != nil {
		err = errors.Wrap(err, "astipsi: writing PMT data failed")
		return
	}

	// Write section
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	if _, err = writePSISection(w, psiSectionHeader{
		currentNextIndicator: true,
		tableID:              PSITableIDPMT,
		tableIDExtension:     o.programNumber,
	}, data); err != nil {
		err = errors.Wrap(err, "astipsi: writing PMT section failed")
		return
	}

	// Write packet
	if bs, err = writePSIPacket(pid, cc, buf.Bytes()); err != nil {
		err = errors.Wrapf(err, "astipsi: writing PMT packet with %d streams failed", len(streams))
		return
	}
	return
}

// writePMTData writes the PMT table data
func writePMTData(pcrPID uint16, streams []PMTStream) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	b := astikit.NewBitsWriterBatch(w)

	b.WriteN(uint8(0xff), 3)
	b.WriteN(pcrPID&maxPID, 13)
	b.WriteN(uint8(0xff), 4)
	b.WriteN(uint8(0), 2)
	b.WriteN(uint16(0), 10) // Program info length

	for _, s := range streams {
		b.Write(uint8(s.StreamType))
		b.WriteN(uint8(0xff), 3)
		b.WriteN(s.ElementaryPID&maxPID, 13)
		b.WriteN(uint8(0xff), 4)
		b.WriteN(uint8(0), 2)
		b.WriteN(uint16(0), 10) // ES info length
	}
	return buf.Bytes(), b.Err()
}
