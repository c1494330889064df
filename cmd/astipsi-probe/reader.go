package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astipsi"
)

const syncByte = 0x47

// Errors
var (
	ErrNoMorePackets                = errors.New("astipsi: no more packets")
	ErrPacketMustStartWithASyncByte = errors.New("astipsi: packet must start with a sync byte")
)

// Packet sizes seen in the wild: plain TS, TS with a 4 bytes timestamp prefix (M2TS) and TS with 16 bytes of FEC
var packetSizes = []int{astipsi.PacketSize, 192, 204}

// m2tsPrefixSize is the size of the timestamp preceding each TS packet in 192 bytes packets
const m2tsPrefixSize = 4

// packetReader reads fixed size chunks and returns the TS packet they contain
type packetReader struct {
	b          []byte
	ctx        context.Context
	offset     int
	packetSize int
	r          io.Reader
}

// newPacketReader creates a new packet reader
// If packetSize is 0 it is auto detected.
func newPacketReader(ctx context.Context, r io.Reader, packetSize int) (pr *packetReader, err error) {
	// Init
	pr = &packetReader{
		ctx:        ctx,
		packetSize: packetSize,
		r:          r,
	}

	// Packet size is not set
	if pr.packetSize == 0 {
		// Auto detect packet size
		if pr.packetSize, pr.offset, pr.r, err = autoDetectPacketSize(r); err != nil {
			err = fmt.Errorf("astipsi: auto detecting packet size failed: %w", err)
			return
		}
	} else if pr.packetSize == 192 {
		pr.offset = m2tsPrefixSize
	}
	if pr.packetSize < pr.offset+astipsi.PacketSize {
		err = fmt.Errorf("astipsi: packet size %d is too small", pr.packetSize)
		return
	}
	pr.b = make([]byte, pr.packetSize)
	return
}

// autoDetectPacketSize detects the packet size based on the first bytes
// First sync byte must be either the first byte or the byte following an M2TS timestamp. The packet size is the
// distance to the next sync byte. The returned reader starts at the beginning of the stream.
func autoDetectPacketSize(r io.Reader) (packetSize, offset int, o io.Reader, err error) {
	// Read first bytes
	l := packetSizes[len(packetSizes)-1] + m2tsPrefixSize + 1
	b := make([]byte, l)
	var n int
	if n, err = io.ReadFull(r, b); err != nil && err != io.ErrUnexpectedEOF {
		err = fmt.Errorf("astipsi: reading first %d bytes failed: %w", l, err)
		return
	}
	err = nil
	b = b[:n]

	// Packet must start with a sync byte
	switch {
	case len(b) > 0 && b[0] == syncByte:
	case len(b) > m2tsPrefixSize && b[m2tsPrefixSize] == syncByte:
		offset = m2tsPrefixSize
	default:
		err = ErrPacketMustStartWithASyncByte
		return
	}

	// Look for the next sync byte
	for _, s := range packetSizes {
		if offset+s < len(b) && b[offset+s] == syncByte {
			packetSize = s
			break
		}
	}
	if packetSize == 0 {
		// A single packet is not followed by a sync byte
		if len(b)-offset != astipsi.PacketSize {
			err = fmt.Errorf("astipsi: no sync byte found after the first one in %d bytes", len(b))
			return
		}
		packetSize = astipsi.PacketSize
	}
	if offset > 0 && packetSize != 192 {
		err = fmt.Errorf("astipsi: %d bytes packets can't have a timestamp prefix", packetSize)
		return
	}

	// Rewind or replay
	var rn int64
	if rn, err = rewind(r); err != nil {
		err = fmt.Errorf("astipsi: rewinding failed: %w", err)
		return
	} else if rn == -1 {
		o = io.MultiReader(bytes.NewReader(b), r)
		return
	}
	o = r
	return
}

// rewind rewinds the reader if possible, otherwise n = -1
func rewind(r io.Reader) (n int64, err error) {
	if s, ok := r.(io.Seeker); ok {
		if n, err = s.Seek(0, io.SeekStart); err != nil {
			err = fmt.Errorf("astipsi: seeking to 0 failed: %w", err)
			return
		}
		return
	}
	n = -1
	return
}

// next fetches the next packet
// The returned packet aliases the reader buffer and is only valid until the next call.
func (pr *packetReader) next() (p astipsi.Packet, err error) {
	// Check context
	if err = pr.ctx.Err(); err != nil {
		return
	}

	// Read
	if _, err = io.ReadFull(pr.r, pr.b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrNoMorePackets
		} else {
			err = fmt.Errorf("astipsi: reading %d bytes failed: %w", pr.packetSize, err)
		}
		return
	}

	// Create packet
	if p, err = astipsi.NewPacket(pr.b[pr.offset:]); err != nil {
		err = fmt.Errorf("astipsi: creating packet failed: %w", err)
		return
	}
	return
}
