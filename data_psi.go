package astipsi

import (
	"encoding/binary"
	"fmt"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// PSI table types
const (
	PSITableTypeNull    = "Null"
	PSITableTypePAT     = "PAT"
	PSITableTypePMT     = "PMT"
	PSITableTypeUnknown = "Unknown"
)

// PSITableID represents a PSI table id
type PSITableID uint8

// PSI table ids
const (
	PSITableIDPAT  PSITableID = 0x00
	PSITableIDPMT  PSITableID = 0x02
	PSITableIDNull PSITableID = 0xff // Once a section is followed by this byte, the rest of the payload is stuffing
)

// PSI sizes
const (
	psiSectionHeaderSize       = 3
	psiSectionSyntaxHeaderSize = 5
	psiCRC32Size               = 4
	psiSectionMinSyntaxSize    = psiSectionHeaderSize + psiSectionSyntaxHeaderSize + psiCRC32Size
)

// String implements the Stringer interface
func (t PSITableID) String() string {
	switch t {
	case PSITableIDNull:
		return PSITableTypeNull
	case PSITableIDPAT:
		return PSITableTypePAT
	case PSITableIDPMT:
		return PSITableTypePMT
	default:
		return PSITableTypeUnknown
	}
}

// Table represents a non owning view starting at a PSI section and running until the end of the payload
// https://en.wikipedia.org/wiki/Program-specific_information
type Table struct {
	bs []byte
}

// Tables returns the first table of the packet payload, after the pointer field and its filler bytes
func (p Packet) Tables() (t Table, err error) {
	// Packet must have a payload
	if !p.HasPayload() {
		err = ErrNoPayload
		return
	}

	// Get payload
	var payload []byte
	if payload, err = p.PayloadData(); err != nil {
		err = errors.Wrap(err, "astipsi: fetching payload failed")
		return
	}
	if len(payload) == 0 {
		err = errors.Wrap(ErrOutOfBounds, "astipsi: payload has no pointer field")
		return
	}

	// Skip pointer field and filler bytes
	var bs []byte
	if bs, err = tail(payload, 1+int(payload[0])); err != nil {
		err = errors.Wrapf(err, "astipsi: skipping pointer field %d failed", payload[0])
		return
	}
	return NewTable(bs)
}

// NewTable creates a table view over bs, which must start with a section header
func NewTable(bs []byte) (t Table, err error) {
	if len(bs) < psiSectionHeaderSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: %d bytes left, section header is %d bytes", len(bs), psiSectionHeaderSize)
		return
	}
	t.bs = bs
	return
}

// Bytes returns the window, which may hold several sections
func (t Table) Bytes() []byte { return t.bs }

// TableID returns the table id
func (t Table) TableID() PSITableID { return PSITableID(t.bs[0]) }

// HasSyntaxSection returns the section syntax indicator. The PAT, PMT, and CAT all set this to 1.
func (t Table) HasSyntaxSection() bool { return t.bs[1]&0x80 > 0 }

// PrivateBit returns the private bit. The PAT, PMT, and CAT all set this to 0.
func (t Table) PrivateBit() bool { return t.bs[1]&0x40 > 0 }

// SectionLength returns the number of bytes that follow the section length field
func (t Table) SectionLength() uint16 { return uint10(t.bs[1:3]) }

func (t Table) sectionEnd() int { return psiSectionHeaderSize + int(t.SectionLength()) }

// Section returns the first section of the window
func (t Table) Section() (s Section, err error) {
	var bs []byte
	if bs, err = window(t.bs, 0, t.sectionEnd()); err != nil {
		err = errors.Wrapf(err, "astipsi: section length %d overflows", t.SectionLength())
		return
	}
	return newSection(bs)
}

// Next returns the table following the current section, if any
// It stops when no bytes are left or when the next table id is the 0xff filler.
func (t Table) Next() (n Table, ok bool, err error) {
	end := t.sectionEnd()
	if len(t.bs) <= end {
		return
	}
	if PSITableID(t.bs[end]) == PSITableIDNull {
		return
	}
	if n, err = NewTable(t.bs[end:]); err != nil {
		err = errors.Wrap(err, "astipsi: creating next table failed")
		return
	}
	ok = true
	return
}

// Section represents a non owning view over a single section, CRC32 included
type Section struct {
	bs []byte
}

// newSection creates a section view
func newSection(bs []byte) (s Section, err error) {
	s.bs = bs
	if s.HasSyntaxSection() && len(bs) < psiSectionMinSyntaxSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: section with syntax is %d bytes, expected at least %d", len(bs), psiSectionMinSyntaxSize)
		return
	}
	return
}

// Bytes returns the section bytes, CRC32 included
func (s Section) Bytes() []byte { return s.bs }

// TableID returns the table id
func (s Section) TableID() PSITableID { return PSITableID(s.bs[0]) }

// HasSyntaxSection returns the section syntax indicator
func (s Section) HasSyntaxSection() bool { return s.bs[1]&0x80 > 0 }

// PrivateBit returns the private bit
func (s Section) PrivateBit() bool { return s.bs[1]&0x40 > 0 }

// SectionLength returns the number of bytes that follow the section length field, CRC32 included
func (s Section) SectionLength() uint16 { return uint10(s.bs[1:3]) }

// hasSyntaxBytes checks whether the section is long enough for syntax accessors
// Accessors return zero values otherwise, which only happens for sections without syntax.
func (s Section) hasSyntaxBytes() bool { return len(s.bs) >= psiSectionMinSyntaxSize }

// ValidSyntax checks that the 2 reserved bits preceding the version number are set
func (s Section) ValidSyntax() bool {
	return s.hasSyntaxBytes() && s.bs[5]&0xc0 == 0xc0
}

// TableIDExtension returns the table id extension. The PAT uses this for the transport stream identifier and the PMT uses this for the Program number.
func (s Section) TableIDExtension() uint16 {
	if !s.hasSyntaxBytes() {
		return 0
	}
	return binary.BigEndian.Uint16(s.bs[3:5])
}

// VersionNumber returns the syntax version number
func (s Section) VersionNumber() uint8 {
	if !s.hasSyntaxBytes() {
		return 0
	}
	return s.bs[5] >> 1 & 0x1f
}

// CurrentNextIndicator indicates if data is current in effect or is for future use
func (s Section) CurrentNextIndicator() bool {
	return s.hasSyntaxBytes() && s.bs[5]&0x1 > 0
}

// SectionNumber returns the index of this section in a related sequence of sections
func (s Section) SectionNumber() uint8 {
	if !s.hasSyntaxBytes() {
		return 0
	}
	return s.bs[6]
}

// LastSectionNumber returns the index of the last section in the sequence
func (s Section) LastSectionNumber() uint8 {
	if !s.hasSyntaxBytes() {
		return 0
	}
	return s.bs[7]
}

// TableData returns the bytes between the syntax header and the CRC32
func (s Section) TableData() []byte {
	if !s.hasSyntaxBytes() {
		return nil
	}
	return s.bs[psiSectionHeaderSize+psiSectionSyntaxHeaderSize : len(s.bs)-psiCRC32Size]
}

// CRC32 returns the CRC32 stored in the last 4 bytes
func (s Section) CRC32() uint32 {
	if len(s.bs) < psiCRC32Size {
		return 0
	}
	return binary.BigEndian.Uint32(s.bs[len(s.bs)-psiCRC32Size:])
}

// ComputedCRC32 computes the CRC32 of the section, stored CRC32 excluded
func (s Section) ComputedCRC32() uint32 { return CalcCRC32(s.bs) }

// VerifyCRC32 checks the stored CRC32 against the computed one
func (s Section) VerifyCRC32() error {
	if c, e := s.ComputedCRC32(), s.CRC32(); c != e {
		return errors.Wrapf(ErrCRCMismatch, "astipsi: table CRC32 %x != computed CRC32 %x", e, c)
	}
	return nil
}

// Validate checks reserved bits and CRC32
// Decoding never calls it: it's up to the caller to decide whether data failing validation should be trusted.
func (s Section) Validate() error {
	if !s.ValidSyntax() {
		return errors.Wrap(ErrValidityMismatch, "astipsi: syntax reserved bits are not set")
	}
	return s.VerifyCRC32()
}

// String implements the Stringer interface
func (s Section) String() string {
	return fmt.Sprintf("%s section: extension %d | version %d | number %d/%d | %d bytes", s.TableID(), s.TableIDExtension(), s.VersionNumber(), s.SectionNumber(), s.LastSectionNumber(), len(s.bs))
}

// psiSectionHeader represents what's written before the table data
type psiSectionHeader struct {
	currentNextIndicator bool
	lastSectionNumber    uint8
	sectionNumber        uint8
	tableID              PSITableID
	tableIDExtension     uint16
	versionNumber        uint8
}

// calcPSISectionLength returns the section length of a section with syntax
func calcPSISectionLength(dataLength int) uint16 {
	return uint16(psiSectionSyntaxHeaderSize + dataLength + psiCRC32Size)
}

// writePSISection writes a section with syntax and stamps its CRC32
func writePSISection(w *astikit.BitsWriter, h psiSectionHeader, data []byte) (int, error) {
	b := astikit.NewBitsWriterBatch(w)

	sectionCRC32 := crc32Seed
	w.SetWriteCallback(func(bs []byte) {
		sectionCRC32 = updateCRC32(sectionCRC32, bs)
	})

	// Header
	b.Write(uint8(h.tableID))
	b.Write(true)  // Section syntax indicator
	b.Write(false) // Private bit
	b.WriteN(uint8(0xff), 2)
	b.WriteN(uint8(0), 2)
	b.WriteN(calcPSISectionLength(len(data)), 10)

	// Syntax header
	b.Write(h.tableIDExtension)
	b.WriteN(uint8(0xff), 2)
	b.WriteN(h.versionNumber, 5)
	b.Write(h.currentNextIndicator)
	b.Write(h.sectionNumber)
	b.Write(h.lastSectionNumber)

	// Data
	b.Write(data)

	// CRC32
	w.SetWriteCallback(nil)
	b.Write(sectionCRC32)
	return psiSectionHeaderSize + int(calcPSISectionLength(len(data))), b.Err()
}

// writePSIPacket lays sections out in a new packet so that they end on the last byte of the packet
// The pointer field gets whatever room is left.
func writePSIPacket(pid uint16, cc uint8, sections []byte) (bs []byte, err error) {
	if len(sections) > MaxPayloadSize-1 {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: sections are %d bytes, only %d bytes fit in a packet", len(sections), MaxPayloadSize-1)
		return
	}
	bs = BuildPacket(PacketHeader{
		AdaptationFieldControl:    AdaptationFieldControlPayloadOnly,
		ContinuityCounter:         cc,
		PayloadUnitStartIndicator: true,
		PID:                       pid,
	})
	pointer := MaxPayloadSize - 1 - len(sections)
	bs[PacketHeaderSize] = uint8(pointer)
	copy(bs[PacketHeaderSize+1+pointer:], sections)
	return
}
