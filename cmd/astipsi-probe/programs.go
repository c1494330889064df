package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/asticode/go-astipsi"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// programMap represents a program ids map
type programMap struct {
	p map[uint16]uint16 // map[ProgramMapID]ProgramNumber
}

// newProgramMap creates a new program ids map
func newProgramMap() programMap {
	return programMap{p: make(map[uint16]uint16)}
}

// exists checks whether the program with this pid exists
func (m programMap) exists(pid uint16) (ok bool) {
	_, ok = m.p[pid]
	return
}

// number returns the program number carried by this pid
func (m programMap) number(pid uint16) uint16 { return m.p[pid] }

// set sets a new program id
func (m programMap) set(pid, number uint16) { m.p[pid] = number }

// Program represents a program
type Program struct {
	Descriptors []byte    `json:"descriptors,omitempty"`
	ID          uint16    `json:"id,omitempty"`
	MapID       uint16    `json:"map_id,omitempty"`
	PCRPID      uint16    `json:"pcr_pid,omitempty"`
	Streams     []*Stream `json:"streams,omitempty"`
}

// Stream represents a stream
type Stream struct {
	Descriptors []byte             `json:"descriptors,omitempty"`
	ID          uint16             `json:"id,omitempty"`
	Type        astipsi.StreamType `json:"type,omitempty"`
}

func newProgram(id, mapID uint16) *Program {
	return &Program{
		ID:    id,
		MapID: mapID,
	}
}

func newStream(id uint16, _type astipsi.StreamType) *Stream {
	return &Stream{
		ID:   id,
		Type: _type,
	}
}

// String implements the Stringer interface
func (p Program) String() (o string) {
	o = fmt.Sprintf("[%d] - Map ID: %d - PCR PID: %d", p.ID, p.MapID, p.PCRPID)
	if len(p.Descriptors) > 0 {
		o += fmt.Sprintf(" - Descriptors: %x", p.Descriptors)
	}
	for _, s := range p.Streams {
		o += fmt.Sprintf("\n  * %s", s.String())
	}
	return
}

// String implements the Stringer interface
func (s Stream) String() (o string) {
	// Get type
	var t = fmt.Sprintf("unlisted stream type %d", s.Type)
	switch s.Type {
	case astipsi.StreamTypeMPEG1Audio:
		t = "MPEG-1 audio"
	case astipsi.StreamTypeMPEG2HalvedSampleRateAudio:
		t = "MPEG-2 halved sample rate audio"
	case astipsi.StreamTypeMPEG2PacketizedData:
		t = "DVB subtitles/VBI or AC-3"
	case astipsi.StreamTypeADTS:
		t = "ADTS"
	case astipsi.StreamTypeH264Video:
		t = "H264 video"
	case astipsi.StreamTypeH265Video:
		t = "H265 video"
	}

	// Output
	o = fmt.Sprintf("[%d] - Type: %s", s.ID, t)
	if len(s.Descriptors) > 0 {
		o += fmt.Sprintf(" - Descriptors: %x", s.Descriptors)
	}
	return
}

// programsCollector builds programs out of PAT and PMT packets
type programsCollector struct {
	name          string
	pgms          map[uint16]*Program
	pgmsToProcess map[uint16]bool
	programMap    programMap
}

func newProgramsCollector(name string) *programsCollector {
	return &programsCollector{
		name:          name,
		pgms:          make(map[uint16]*Program),
		pgmsToProcess: make(map[uint16]bool),
		programMap:    newProgramMap(),
	}
}

// done indicates whether at least one PAT has been processed as well as all the PMTs it lists
func (c *programsCollector) done() bool { return len(c.pgms) > 0 && len(c.pgmsToProcess) == 0 }

// programs returns programs sorted by program number
func (c *programsCollector) programs() (o []*Program) {
	ids := maps.Keys(c.pgms)
	slices.Sort(ids)
	for _, id := range ids {
		o = append(o, c.pgms[id])
	}
	return
}

// add processes a packet
// Sections that don't fit in the packet as well as sections failing validation are logged and skipped.
func (c *programsCollector) add(p astipsi.Packet) error {
	// Only the first packet of a PSI payload is processed
	if !p.PayloadUnitStartIndicator() || !p.HasPayload() {
		return nil
	}

	// Only PAT and PMT pids are processed
	pid := p.PID()
	if pid != astipsi.PIDPAT && !c.programMap.exists(pid) {
		return nil
	}

	// Get first table
	tb, err := p.Tables()
	if err != nil {
		if errors.Is(err, astipsi.ErrOutOfBounds) {
			log.Printf("%s: pid %d: skipping tables: %s\n", c.name, pid, err)
			return nil
		}
		return fmt.Errorf("astipsi: getting tables of pid %d failed: %w", pid, err)
	}

	// Loop through tables
	for ok := true; ok; tb, ok, err = tb.Next() {
		// Get section
		var s astipsi.Section
		if s, err = tb.Section(); err != nil {
			log.Printf("%s: pid %d: skipping section: %s\n", c.name, pid, err)
			return nil
		}

		// Validate section
		if err = s.Validate(); err != nil {
			log.Printf("%s: pid %d: skipping %s: %s\n", c.name, pid, s, err)
			continue
		}

		// Switch on table id
		switch {
		case pid == astipsi.PIDPAT && s.TableID() == astipsi.PSITableIDPAT:
			c.addPAT(s)
		case pid != astipsi.PIDPAT && s.TableID() == astipsi.PSITableIDPMT:
			c.addPMT(pid, s)
		}
	}
	if err != nil {
		log.Printf("%s: pid %d: skipping next tables: %s\n", c.name, pid, err)
	}
	return nil
}

func (c *programsCollector) addPAT(s astipsi.Section) {
	ps, err := s.PATPrograms()
	if err != nil {
		log.Printf("%s: skipping PAT programs: %s\n", c.name, err)
		return
	}
	for _, p := range ps {
		// Program number 0 is reserved to NIT
		if p.ProgramNumber() == 0 {
			continue
		}

		// Program has not already been added
		if _, ok := c.pgms[p.ProgramNumber()]; !ok {
			c.pgmsToProcess[p.ProgramNumber()] = true
			c.pgms[p.ProgramNumber()] = newProgram(p.ProgramNumber(), p.ProgramMapPID())
			c.programMap.set(p.ProgramMapPID(), p.ProgramNumber())
		}
	}
}

func (c *programsCollector) addPMT(pid uint16, s astipsi.Section) {
	// Program has already been processed
	number := c.programMap.number(pid)
	if s.TableIDExtension() != number || !c.pgmsToProcess[number] {
		return
	}

	// Get PMT
	pmt, err := s.PMT()
	if err != nil {
		log.Printf("%s: skipping PMT of program %d: %s\n", c.name, number, err)
		return
	}
	if err = pmt.Validate(); err != nil {
		log.Printf("%s: PMT of program %d is invalid: %s\n", c.name, number, err)
	}

	// Get streams
	var ss []astipsi.ElementaryStream
	if ss, err = pmt.Streams(); err != nil {
		log.Printf("%s: skipping streams of program %d: %s\n", c.name, number, err)
		return
	}

	// Update program
	pgm := c.pgms[number]
	pgm.PCRPID = pmt.PCRPID()
	pgm.Descriptors = append([]byte(nil), pmt.DescriptorData()...)
	for _, es := range ss {
		st := newStream(es.ElementaryPID(), es.StreamType())
		if len(es.ESInfo()) > 0 {
			st.Descriptors = append([]byte(nil), es.ESInfo()...)
		}
		pgm.Streams = append(pgm.Streams, st)
	}

	// Update list of programs to process
	delete(c.pgmsToProcess, number)
}
