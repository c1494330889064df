package astipsi

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Every view returned by this package is a window over the caller's slice: no bytes are copied.
// Views are only valid as long as the backing slice is neither modified nor reused.

// window returns bs[offset:offset+n] without copying
// It fails with ErrOutOfBounds instead of panicking when the range doesn't fit
func window(bs []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(bs) {
		return nil, errors.Wrapf(ErrOutOfBounds, "astipsi: range [%d:%d] doesn't fit in %d bytes", offset, offset+n, len(bs))
	}
	return bs[offset : offset+n : offset+n], nil
}

// tail returns bs[offset:] without copying
func tail(bs []byte, offset int) ([]byte, error) {
	if offset < 0 || offset > len(bs) {
		return nil, errors.Wrapf(ErrOutOfBounds, "astipsi: offset %d doesn't fit in %d bytes", offset, len(bs))
	}
	return bs[offset:], nil
}

// uint13 reads the 13 low bits of 2 big endian bytes, which is how PIDs are packed
func uint13(bs []byte) uint16 {
	return binary.BigEndian.Uint16(bs) & 0x1fff
}

// uint10 reads the 10 low bits of 2 big endian bytes, which is how PSI lengths are packed
func uint10(bs []byte) uint16 {
	return binary.BigEndian.Uint16(bs) & 0x3ff
}
