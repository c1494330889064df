package astipsi

import (
	"bytes"
	"encoding/binary"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

const (
	patProgramSize         = 4
	defaultTransportStream = 1
	patProgramNumberStart  = 1
)

// PATProgram represents a non owning view starting at a PAT program and running until the end of the table data
// https://en.wikipedia.org/wiki/Program-specific_information
type PATProgram struct {
	bs []byte
}

// PAT returns the first program of a PAT section
func (s Section) PAT() (p PATProgram, err error) {
	return newPATProgram(s.TableData())
}

// PATPrograms returns all programs of a PAT section
func (s Section) PATPrograms() (ps []PATProgram, err error) {
	if len(s.TableData()) == 0 {
		return
	}
	var p PATProgram
	if p, err = s.PAT(); err != nil {
		return
	}
	for ok := true; ok; p, ok = p.Next() {
		ps = append(ps, p)
	}
	return
}

func newPATProgram(bs []byte) (p PATProgram, err error) {
	if len(bs) < patProgramSize {
		err = errors.Wrapf(ErrOutOfBounds, "astipsi: %d bytes left, PAT program is %d bytes", len(bs), patProgramSize)
		return
	}
	p.bs = bs
	return
}

// Bytes returns the 4 bytes of the program
func (p PATProgram) Bytes() []byte { return p.bs[:patProgramSize] }

// Valid checks that the 3 reserved bits preceding the program map PID are set
func (p PATProgram) Valid() bool { return p.bs[2]&0xe0 == 0xe0 }

// ProgramNumber relates to the Table ID extension in the associated PMT. A value of 0 is reserved for a NIT packet identifier.
func (p PATProgram) ProgramNumber() uint16 { return binary.BigEndian.Uint16(p.bs[0:2]) }

// ProgramMapPID returns the packet identifier that contains the associated PMT
func (p PATProgram) ProgramMapPID() uint16 { return uint13(p.bs[2:4]) }

// Next returns the following program, if there are enough bytes left
func (p PATProgram) Next() (n PATProgram, ok bool) {
	if len(p.bs) < 2*patProgramSize {
		return
	}
	return PATProgram{bs: p.bs[patProgramSize:]}, true
}

// Validate checks reserved bits
func (p PATProgram) Validate() error {
	if !p.Valid() {
		return errors.Wrapf(ErrValidityMismatch, "astipsi: PAT program %d reserved bits are not set", p.ProgramNumber())
	}
	return nil
}

type patOptions struct {
	singleSection     bool
	transportStreamID uint16
}

// PATOption represents a CreatePATPacket option
type PATOption func(o *patOptions)

// PATOptSingleSection returns the option to write all programs in a single PAT section
// By default every program gets its own section, sections being chained in the payload.
func PATOptSingleSection() PATOption {
	return func(o *patOptions) {
		o.singleSection = true
	}
}

// PATOptTransportStreamID returns the option to set the transport stream id, which defaults to 1
func PATOptTransportStreamID(id uint16) PATOption {
	return func(o *patOptions) {
		o.transportStreamID = id
	}
}

// CreatePATPacket creates a PAT packet on PID 0 mapping programs 1..n to pids
// By default it writes one independent section per pid, each with its own CRC32, instead of a single section with several
// programs, which allows at most 11 pids. Sections end on the last byte of the packet.
func CreatePATPacket(pids []uint16, cc uint8, opts ...PATOption) (bs []byte, err error) {
	// Options
	o := patOptions{transportStreamID: defaultTransportStream}
	for _, opt := range opts {
		opt(&o)
	}

	// Write sections
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	h := psiSectionHeader{
		currentNextIndicator: true,
		tableID:              PSITableIDPAT,
		tableIDExtension:     o.transportStreamID,
	}
	if o.singleSection {
		var data []byte
		if data, err = writePATPrograms(pids, patProgramNumberStart); err != nil {
			err = errors.Wrap(err, "astipsi: writing PAT programs failed")
			return
		}
		if _, err = writePSISection(w, h, data); err != nil {
			err = errors.Wrap(err, "astipsi: writing PAT section failed")
			return
		}
	} else {
		for idx, pid := range pids {
			var data []byte
			if data, err = writePATPrograms([]uint16{pid}, uint16(patProgramNumberStart+idx)); err != nil {
				err = errors.Wrapf(err, "astipsi: writing PAT program %d failed", idx+1)
				return
			}
			if _, err = writePSISection(w, h, data); err != nil {
				err = errors.Wrapf(err, "astipsi: writing PAT section %d failed", idx+1)
				return
			}
		}
	}

	// Write packet
	if bs, err = writePSIPacket(PIDPAT, cc, buf.Bytes()); err != nil {
		err = errors.Wrapf(err, "astipsi: writing PAT packet with %d pids failed", len(pids))
		return
	}
	return
}

// writePATPrograms writes programs with numbers starting at start
func writePATPrograms(pids []uint16, start uint16) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := astikit.NewBitsWriter(astikit.BitsWriterOptions{Writer: buf})
	b := astikit.NewBitsWriterBatch(w)
	for idx, pid := range pids {
		b.Write(start + uint16(idx))
		b.WriteN(uint8(0xff), 3)
		b.WriteN(pid&maxPID, 13)
	}
	return buf.Bytes(), b.Err()
}
