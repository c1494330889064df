package astipsi

import (
	"bytes"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

const (
	adaptationFieldLengthOffset   = PacketHeaderSize
	adaptationFieldFlagsOffset    = PacketHeaderSize + 1
	adaptationFieldOptionalOffset = PacketHeaderSize + 2
	pcrSize                       = 6
)

// Adaptation field flags
const (
	adaptationFieldFlagDiscontinuity            = 0x80
	adaptationFieldFlagRandomAccess             = 0x40
	adaptationFieldFlagElementaryStreamPriority = 0x20
	adaptationFieldFlagPCR                      = 0x10
	adaptationFieldFlagOPCR                     = 0x08
	adaptationFieldFlagSplicingCountdown        = 0x04
	adaptationFieldFlagTransportPrivateData     = 0x02
	adaptationFieldFlagExtension                = 0x01
)

// adaptationFieldItem is an optional adaptation field item
// Items are listed in the order they appear in the adaptation field
type adaptationFieldItem int

const (
	adaptationFieldItemPCR adaptationFieldItem = iota
	adaptationFieldItemOPCR
	adaptationFieldItemSpliceCountdown
	adaptationFieldItemTransportPrivateData
	adaptationFieldItemExtension
	adaptationFieldItemStuffing
)

// adaptationFieldLayout maps every optional item to its presence flag and its size
// A size of 0 means the item is prefixed with a length byte and is 1 + that length bytes long
var adaptationFieldLayout = [...]struct {
	flag uint8
	size int
}{
	adaptationFieldItemPCR:                  {flag: adaptationFieldFlagPCR, size: pcrSize},
	adaptationFieldItemOPCR:                 {flag: adaptationFieldFlagOPCR, size: pcrSize},
	adaptationFieldItemSpliceCountdown:      {flag: adaptationFieldFlagSplicingCountdown, size: 1},
	adaptationFieldItemTransportPrivateData: {flag: adaptationFieldFlagTransportPrivateData},
	adaptationFieldItemExtension:            {flag: adaptationFieldFlagExtension},
}

// PacketAdaptationField represents a non owning view over a packet adaptation field
// Offsets are packet offsets and every accessor recomputes them from the flags.
type PacketAdaptationField struct {
	bs  []byte // Whole packet, capped at the end of the adaptation field
	end int
}

func newPacketAdaptationField(p []byte) (a PacketAdaptationField, err error) {
	a.end = adaptationFieldFlagsOffset + int(p[adaptationFieldLengthOffset])
	if a.end > PacketSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: adaptation field length %d overflows the packet", p[adaptationFieldLengthOffset])
		return
	}
	a.bs = p[:a.end:a.end]
	return
}

// Length returns the number of bytes following the length byte
func (a PacketAdaptationField) Length() uint8 { return a.bs[adaptationFieldLengthOffset] }

// Bytes returns the adaptation field, length byte included
func (a PacketAdaptationField) Bytes() []byte { return a.bs[adaptationFieldLengthOffset:] }

// flags returns the flags byte, which doesn't exist when length is 0
func (a PacketAdaptationField) flags() uint8 {
	if a.Length() == 0 {
		return 0
	}
	return a.bs[adaptationFieldFlagsOffset]
}

// DiscontinuityIndicator is set if current TS packet is in a discontinuity state with respect to either the continuity counter or the program clock reference
func (a PacketAdaptationField) DiscontinuityIndicator() bool {
	return a.flags()&adaptationFieldFlagDiscontinuity > 0
}

// RandomAccessIndicator is set when the stream may be decoded without errors from this point
func (a PacketAdaptationField) RandomAccessIndicator() bool {
	return a.flags()&adaptationFieldFlagRandomAccess > 0
}

// ElementaryStreamPriorityIndicator is set when this stream should be considered "high priority"
func (a PacketAdaptationField) ElementaryStreamPriorityIndicator() bool {
	return a.flags()&adaptationFieldFlagElementaryStreamPriority > 0
}

// HasPCR is set when the adaptation field holds a program clock reference
func (a PacketAdaptationField) HasPCR() bool { return a.flags()&adaptationFieldFlagPCR > 0 }

// HasOPCR is set when the adaptation field holds an original program clock reference
func (a PacketAdaptationField) HasOPCR() bool { return a.flags()&adaptationFieldFlagOPCR > 0 }

// HasSplicingCountdown is set when the adaptation field holds a splice countdown
func (a PacketAdaptationField) HasSplicingCountdown() bool {
	return a.flags()&adaptationFieldFlagSplicingCountdown > 0
}

// HasTransportPrivateData is set when the adaptation field holds transport private data
func (a PacketAdaptationField) HasTransportPrivateData() bool {
	return a.flags()&adaptationFieldFlagTransportPrivateData > 0
}

// HasAdaptationExtensionField is set when the adaptation field holds an extension
func (a PacketAdaptationField) HasAdaptationExtensionField() bool {
	return a.flags()&adaptationFieldFlagExtension > 0
}

// offset returns the packet offset of an item: 6 plus the size of every present item before it
func (a PacketAdaptationField) offset(item adaptationFieldItem) (offset int, err error) {
	offset = adaptationFieldOptionalOffset
	flags := a.flags()
	for _, l := range adaptationFieldLayout[:item] {
		if flags&l.flag == 0 {
			continue
		}
		if l.size > 0 {
			offset += l.size
			continue
		}
		if offset >= a.end {
			err = errors.Wrapf(ErrOutOfBounds, "astipsi: length byte at offset %d is outside the adaptation field", offset)
			return
		}
		offset += 1 + int(a.bs[offset])
	}
	return
}

// item returns the n bytes of an item
func (a PacketAdaptationField) item(item adaptationFieldItem, n int) (bs []byte, err error) {
	var offset int
	if offset, err = a.offset(item); err != nil {
		return
	}
	if bs, err = window(a.bs, offset, n); err != nil {
		err = errors.Wrapf(err, "astipsi: fetching adaptation field item %d failed", item)
		return
	}
	return
}

// lengthPrefixedItem returns the data of an item prefixed with a length byte
func (a PacketAdaptationField) lengthPrefixedItem(item adaptationFieldItem) (bs []byte, err error) {
	var l []byte
	if l, err = a.item(item, 1); err != nil {
		return
	}
	var offset int
	if offset, err = a.offset(item); err != nil {
		return
	}
	if bs, err = window(a.bs, offset+1, int(l[0])); err != nil {
		err = errors.Wrapf(err, "astipsi: fetching adaptation field item %d data failed", item)
		return
	}
	return
}

// PCR returns the program clock reference in 27MHz ticks, or 0 if there's none
func (a PacketAdaptationField) PCR() (pcr uint64, err error) {
	if !a.HasPCR() {
		return
	}
	var bs []byte
	if bs, err = a.item(adaptationFieldItemPCR, pcrSize); err != nil {
		return
	}
	return DecodePCR(bs)
}

// PCRNanos returns the program clock reference in nanoseconds
func (a PacketAdaptationField) PCRNanos() (n uint64, err error) {
	var pcr uint64
	if pcr, err = a.PCR(); err != nil {
		return
	}
	return PCRNanos(pcr), nil
}

// OPCR returns the original program clock reference in 27MHz ticks
// Presence is gated on the PCR flag and not on the OPCR flag: when there's a PCR, the 6 bytes following it are
// decoded whatever the OPCR flag says, otherwise 0 is returned.
func (a PacketAdaptationField) OPCR() (opcr uint64, err error) {
	if !a.HasPCR() {
		return a.PCR()
	}
	var bs []byte
	if bs, err = a.item(adaptationFieldItemOPCR, pcrSize); err != nil {
		return
	}
	return DecodePCR(bs)
}

// OPCRNanos returns the original program clock reference in nanoseconds
func (a PacketAdaptationField) OPCRNanos() (n uint64, err error) {
	var opcr uint64
	if opcr, err = a.OPCR(); err != nil {
		return
	}
	return PCRNanos(opcr), nil
}

// SpliceCountdown indicates how many TS packets from this one a splicing point occurs (Two's complement signed; may be negative)
func (a PacketAdaptationField) SpliceCountdown() (c int8, err error) {
	if !a.HasSplicingCountdown() {
		return
	}
	var bs []byte
	if bs, err = a.item(adaptationFieldItemSpliceCountdown, 1); err != nil {
		return
	}
	return int8(bs[0]), nil
}

// TransportPrivateDataLength returns the transport private data length
func (a PacketAdaptationField) TransportPrivateDataLength() (l uint8, err error) {
	if !a.HasTransportPrivateData() {
		return
	}
	var bs []byte
	if bs, err = a.item(adaptationFieldItemTransportPrivateData, 1); err != nil {
		return
	}
	return bs[0], nil
}

// TransportPrivateData returns the transport private data
func (a PacketAdaptationField) TransportPrivateData() (bs []byte, err error) {
	if !a.HasTransportPrivateData() {
		return
	}
	return a.lengthPrefixedItem(adaptationFieldItemTransportPrivateData)
}

// Extension returns the raw adaptation extension field, length byte excluded
func (a PacketAdaptationField) Extension() (bs []byte, err error) {
	if !a.HasAdaptationExtensionField() {
		return
	}
	return a.lengthPrefixedItem(adaptationFieldItemExtension)
}

// Stuffing returns the bytes between the last optional item and the end of the adaptation field
func (a PacketAdaptationField) Stuffing() (bs []byte, err error) {
	if a.Length() == 0 {
		return
	}
	var offset int
	if offset, err = a.offset(adaptationFieldItemStuffing); err != nil {
		return
	}
	return tail(a.bs, offset)
}

// AdaptationFieldOptions represents the adaptation field BuildPacketWithAdaptationField writes
type AdaptationFieldOptions struct {
	DiscontinuityIndicator            bool
	ElementaryStreamPriorityIndicator bool
	HasOPCR                           bool
	HasPCR                            bool
	HasSplicingCountdown              bool
	OPCR                              uint64 // In 27MHz ticks
	PCR                               uint64 // In 27MHz ticks
	RandomAccessIndicator             bool
	SpliceCountdown                   int8
	TransportPrivateData              []byte // Written when not nil
}

// BuildPacketWithAdaptationField creates a new packet with an adaptation field followed by the payload
// Unlike BuildPacketWithPayload, the payload starts after the adaptation field, which is stuffed so that the payload
// ends on the last byte of the packet. The adaptation field control must declare an adaptation field.
func BuildPacketWithAdaptationField(h PacketHeader, o AdaptationFieldOptions, payload []byte) (bs []byte, err error) {
	// Check adaptation field control
	if h.AdaptationFieldControl&0x2 == 0 {
		err = errors.Wrapf(ErrNoAdaptationField, "astipsi: adaptation field control is %d", h.AdaptationFieldControl)
		return
	}
	if h.AdaptationFieldControl&0x1 == 0 && len(payload) > 0 {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: adaptation field control is %d but payload is %d bytes", h.AdaptationFieldControl, len(payload))
		return
	}

	// Write adaptation field body
	var body []byte
	if body, err = writePacketAdaptationField(o); err != nil {
		err = errors.Wrap(err, "astipsi: writing adaptation field failed")
		return
	}

	// Check size
	available := MaxPayloadSize - 1 - len(body)
	if len(payload) > available {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: payload is %d bytes, only %d bytes left after the adaptation field", len(payload), available)
		return
	}

	// Lay out packet, stuffing is already there
	bs = BuildPacket(h)
	bs[adaptationFieldLengthOffset] = uint8(len(body) + available - len(payload))
	copy(bs[adaptationFieldFlagsOffset:], body)
	copy(bs[PacketSize-len(payload):], payload)
	return
}

// writePacketAdaptationField writes the adaptation field flags and optional items, stuffing excluded
func writePacketAdaptationField(o AdaptationFieldOptions) (bs []byte, err error) {
	buf := &bytes.Buffer{}

	// Flags
	var flags uint8
	for _, f := range []struct {
		flag uint8
		set  bool
	}{
		{flag: adaptationFieldFlagDiscontinuity, set: o.DiscontinuityIndicator},
		{flag: adaptationFieldFlagRandomAccess, set: o.RandomAccessIndicator},
		{flag: adaptationFieldFlagElementaryStreamPriority, set: o.ElementaryStreamPriorityIndicator},
		{flag: adaptationFieldFlagPCR, set: o.HasPCR},
		{flag: adaptationFieldFlagOPCR, set: o.HasOPCR},
		{flag: adaptationFieldFlagSplicingCountdown, set: o.HasSplicingCountdown},
		{flag: adaptationFieldFlagTransportPrivateData, set: o.TransportPrivateData != nil},
	} {
		if f.set {
			flags |= f.flag
		}
	}
	buf.WriteByte(flags)

	// Clock references
	w := bitio.NewWriter(buf)
	if o.HasPCR {
		if err = EncodePCR(w, o.PCR); err != nil {
			err = errors.Wrap(err, "astipsi: writing PCR failed")
			return
		}
	}
	if o.HasOPCR {
		if err = EncodePCR(w, o.OPCR); err != nil {
			err = errors.Wrap(err, "astipsi: writing OPCR failed")
			return
		}
	}
	if err = w.Close(); err != nil {
		err = errors.Wrap(err, "astipsi: flushing bits writer failed")
		return
	}

	// Splice countdown
	if o.HasSplicingCountdown {
		buf.WriteByte(uint8(o.SpliceCountdown))
	}

	// Transport private data
	if o.TransportPrivateData != nil {
		if len(o.TransportPrivateData) > 0xff {
			err = errors.Wrapf(ErrOutOfBounds, "astipsi: transport private data is %d bytes", len(o.TransportPrivateData))
			return
		}
		buf.WriteByte(uint8(len(o.TransportPrivateData)))
		buf.Write(o.TransportPrivateData)
	}
	bs = buf.Bytes()
	return
}
