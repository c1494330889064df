package astipsi

import "github.com/pkg/errors"

// Errors
var (
	// ErrOutOfBounds is returned when a declared length would index past the frame or the backing buffer
	ErrOutOfBounds = errors.New("astipsi: out of bounds")
	// ErrValidityMismatch is returned by validation methods when reserved bits don't have their expected value
	ErrValidityMismatch = errors.New("astipsi: validity mismatch")
	// ErrCRCMismatch is returned by validation methods when the computed CRC32 differs from the stored one
	ErrCRCMismatch = errors.New("astipsi: CRC32 mismatch")
	// ErrNoPayload is returned when tables are requested on a packet without payload
	ErrNoPayload = errors.New("astipsi: packet has no payload")
	// ErrNoAdaptationField is returned when the adaptation field is requested on a packet without one
	ErrNoAdaptationField = errors.New("astipsi: packet has no adaptation field")
)
