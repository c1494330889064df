package astipsi

import (
	"encoding/binary"
	"time"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// Clock reference constants
const (
	clockReferenceBaseFrequency      = 90000    // Base is a 90kHz clock
	clockReferenceExtensionFrequency = 27000000 // Extension and ticks are a 27MHz clock
	clockReferenceExtensionModulo    = 300
)

// ClockReference represents a clock reference
// Base is based on a 90 kHz clock and extension is based on a 27 MHz clock
type ClockReference struct {
	Base, Extension int64
}

// newClockReference builds a new clock reference
func newClockReference(base, extension int64) *ClockReference {
	return &ClockReference{
		Base:      base,
		Extension: extension,
	}
}

// newClockReferenceFromTicks splits 27MHz ticks into a clock reference
func newClockReferenceFromTicks(ticks uint64) *ClockReference {
	return newClockReference(int64(ticks/clockReferenceExtensionModulo), int64(ticks%clockReferenceExtensionModulo))
}

// Ticks returns the clock reference in 27MHz ticks
func (p ClockReference) Ticks() uint64 {
	return uint64(p.Base*clockReferenceExtensionModulo + p.Extension)
}

// Duration converts the clock reference into duration
func (p ClockReference) Duration() time.Duration {
	return time.Duration(p.Base*1e9/clockReferenceBaseFrequency) + time.Duration(p.Extension*1e9/clockReferenceExtensionFrequency)
}

// Time converts the clock reference into time
func (p ClockReference) Time() time.Time {
	return time.Unix(0, p.Duration().Nanoseconds())
}

// DecodePCR decodes a 6 bytes program clock reference into 27MHz ticks
// Program clock reference, stored as 33 bits base, 6 bits reserved, 9 bits extension.
func DecodePCR(bs []byte) (ticks uint64, err error) {
	if len(bs) < pcrSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: PCR is %d bytes, expected %d", len(bs), pcrSize)
		return
	}
	high := uint64(binary.BigEndian.Uint32(bs[0:4]))
	low := uint64(binary.BigEndian.Uint16(bs[4:6]))
	base := high<<1 | low>>15
	extension := low & 0x1ff
	return base*clockReferenceExtensionModulo + extension, nil
}

// PCRNanos converts 27MHz ticks into nanoseconds, truncating
// ticks * 1e9 / 27e6 is computed as ticks * 1000 / 27 so that 42 bits ticks don't overflow
func PCRNanos(ticks uint64) uint64 {
	return ticks * 1000 / 27
}

// EncodePCR writes 27MHz ticks as a 6 bytes program clock reference
func EncodePCR(w *bitio.Writer, ticks uint64) (err error) {
	cr := newClockReferenceFromTicks(ticks)
	if err = w.WriteBits(uint64(cr.Base), 33); err != nil {
		return errors.Wrap(err, "astipsi: writing base failed")
	}
	if err = writeBinary(w, "111111"); err != nil {
		return errors.Wrap(err, "astipsi: writing reserved bits failed")
	}
	if err = w.WriteBits(uint64(cr.Extension), 9); err != nil {
		return errors.Wrap(err, "astipsi: writing extension failed")
	}
	return
}
