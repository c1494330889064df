package astipsi

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet constants
const (
	PacketSize         = 188
	PacketHeaderSize   = 4
	MaxPayloadSize     = PacketSize - PacketHeaderSize
	PIDPAT             = 0x0000 // Program Association Table (PAT) contains a directory listing of all Program Map Tables.
	PIDNull            = 0x1fff // Null Packet (used for fixed bandwidth padding)
	StuffingByte       = 0xff
	syncByte           = 0x47
	maxPID             = 0x1fff
	maxContinuityCount = 0xf
)

// Scrambling Controls
const (
	ScramblingControlNotScrambled         = 0
	ScramblingControlReservedForFutureUse = 1
	ScramblingControlScrambledWithEvenKey = 2
	ScramblingControlScrambledWithOddKey  = 3
)

// Adaptation field controls
const (
	AdaptationFieldControlReserved                  = 0
	AdaptationFieldControlPayloadOnly               = 1
	AdaptationFieldControlAdaptationFieldOnly       = 2
	AdaptationFieldControlAdaptationFieldAndPayload = 3
)

// Packet represents a non owning view over a 188 bytes packet
// https://en.wikipedia.org/wiki/MPEG_transport_stream
// It aliases the slice it was created from and is invalid as soon as that slice is modified or reused.
type Packet struct {
	bs []byte
}

// PacketHeader represents a packet header
type PacketHeader struct {
	AdaptationFieldControl     uint8  // 0 is reserved, 1 is payload only, 2 is adaptation field only, 3 is both
	ContinuityCounter          uint8  // Sequence number of payload packets (0x00 to 0x0F) within each stream (except PID 8191)
	PayloadUnitStartIndicator  bool   // Set when a PES, PSI, or DVB-MIP packet begins immediately following the header.
	PID                        uint16 // Packet Identifier, describing the payload data.
	TransportErrorIndicator    bool   // Set when a demodulator can't correct errors from FEC data; indicating the packet is corrupt.
	TransportPriority          bool   // Set when the current packet has a higher priority than other packets with the same PID.
	TransportScramblingControl uint8
}

// NewPacket creates a packet view over bs
// The sync byte is not checked: callers must do it before trusting offsets.
func NewPacket(bs []byte) (p Packet, err error) {
	if len(bs) < PacketSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: packet is %d bytes, expected %d", len(bs), PacketSize)
		return
	}
	p.bs = bs[:PacketSize:PacketSize]
	return
}

// Bytes returns the underlying 188 bytes
func (p Packet) Bytes() []byte { return p.bs }

func (p Packet) header() uint32 { return binary.BigEndian.Uint32(p.bs[:4]) }

// Sync returns the sync byte, which should be 0x47
func (p Packet) Sync() uint8 { return uint8(p.header() >> 24) }

// TransportErrorIndicator returns the transport error indicator
func (p Packet) TransportErrorIndicator() bool { return p.header()&0x800000 > 0 }

// PayloadUnitStartIndicator returns the payload unit start indicator
func (p Packet) PayloadUnitStartIndicator() bool { return p.header()&0x400000 > 0 }

// TransportPriority returns the transport priority
func (p Packet) TransportPriority() bool { return p.header()&0x200000 > 0 }

// PID returns the packet identifier
func (p Packet) PID() uint16 { return uint16(p.header()>>8) & maxPID }

// TransportScramblingControl returns the transport scrambling control
func (p Packet) TransportScramblingControl() uint8 { return uint8(p.header()>>6) & 0x3 }

// AdaptationFieldControl returns the adaptation field control
func (p Packet) AdaptationFieldControl() uint8 { return uint8(p.header()>>4) & 0x3 }

// HasAdaptationField returns whether the adaptation field control signals an adaptation field
func (p Packet) HasAdaptationField() bool { return p.AdaptationFieldControl()&0x2 > 0 }

// HasPayload returns whether the adaptation field control signals a payload
func (p Packet) HasPayload() bool { return p.AdaptationFieldControl()&0x1 > 0 }

// ContinuityCounter returns the continuity counter
func (p Packet) ContinuityCounter() uint8 { return uint8(p.header()) & maxContinuityCount }

// Header returns a snapshot of the header fields
func (p Packet) Header() PacketHeader {
	return PacketHeader{
		AdaptationFieldControl:     p.AdaptationFieldControl(),
		ContinuityCounter:          p.ContinuityCounter(),
		PayloadUnitStartIndicator:  p.PayloadUnitStartIndicator(),
		PID:                        p.PID(),
		TransportErrorIndicator:    p.TransportErrorIndicator(),
		TransportPriority:          p.TransportPriority(),
		TransportScramblingControl: p.TransportScramblingControl(),
	}
}

// AdaptationField returns the adaptation field view
func (p Packet) AdaptationField() (a PacketAdaptationField, err error) {
	if !p.HasAdaptationField() {
		err = ErrNoAdaptationField
		return
	}
	return newPacketAdaptationField(p.bs)
}

// payloadOffset returns the payload offset
func (p Packet) payloadOffset() (offset int, err error) {
	offset = PacketHeaderSize
	if p.HasAdaptationField() {
		offset += 1 + int(p.bs[PacketHeaderSize])
		if offset > PacketSize {
			err = errors.Wrapf(ErrOutOfBounds, "astipsi: adaptation field length %d overflows the packet", p.bs[PacketHeaderSize])
			return
		}
	}
	return
}

// PayloadData returns everything after the header and the adaptation field, stuffing included
// The adaptation field length byte is not counted in its own length: with an adaptation field of length L the
// payload is 183-L bytes, not 184-L.
func (p Packet) PayloadData() (bs []byte, err error) {
	var offset int
	if offset, err = p.payloadOffset(); err != nil {
		return
	}
	return tail(p.bs, offset)
}

// BuildPacket creates a new 188 bytes packet filled with stuffing bytes and writes the header
// Since unset bytes are stuffing, an adaptation field or payload region left untouched already reads as filler.
func BuildPacket(h PacketHeader) []byte {
	bs := make([]byte, PacketSize)
	for idx := range bs {
		bs[idx] = StuffingByte
	}
	writePacketHeader(bs, h)
	return bs
}

// BuildPacketWithPayload creates a new packet and copies the payload right after the header
// The payload is always written at offset 4, even if the adaptation field control declares an adaptation field: in
// that case the payload takes the place of the adaptation field. Use BuildPacketWithAdaptationField to get both.
// Payloads bigger than 184 bytes are truncated.
func BuildPacketWithPayload(h PacketHeader, payload []byte) []byte {
	bs := BuildPacket(h)
	if h.AdaptationFieldControl&0x2 > 0 {
		logger.Warnf("astipsi: adaptation field control is %d but payload is written at offset %d", h.AdaptationFieldControl, PacketHeaderSize)
	}
	if len(payload) > MaxPayloadSize {
		logger.Warnf("astipsi: payload of %d bytes truncated to %d bytes", len(payload), MaxPayloadSize)
		payload = payload[:MaxPayloadSize]
	}
	copy(bs[PacketHeaderSize:], payload)
	return bs
}

// SetContinuityCounter updates the continuity counter in place, leaving the rest of the byte untouched
func SetContinuityCounter(bs []byte, cc uint8) {
	bs[3] = bs[3]&0xf0 | cc&maxContinuityCount
}

// writePacketHeader writes the packet header
func writePacketHeader(bs []byte, h PacketHeader) {
	bs[0] = syncByte
	bs[1] = uint8(h.PID>>8) & 0x1f
	if h.TransportErrorIndicator {
		bs[1] |= 0x80
	}
	if h.PayloadUnitStartIndicator {
		bs[1] |= 0x40
	}
	if h.TransportPriority {
		bs[1] |= 0x20
	}
	bs[2] = uint8(h.PID)
	bs[3] = h.TransportScramblingControl&0x3<<6 | h.AdaptationFieldControl&0x3<<4 | h.ContinuityCounter&maxContinuityCount
}
