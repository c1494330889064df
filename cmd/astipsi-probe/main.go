package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astipsi"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"
)

// Flags
var (
	ctx, cancel     = context.WithCancel(context.Background())
	cpuProfiling    = flag.Bool("cp", false, "if yes, cpu profiling is enabled")
	format          = flag.String("f", "", "the format")
	inputPaths      = astikit.NewFlagStrings()
	memoryProfiling = flag.Bool("mp", false, "if yes, memory profiling is enabled")
	outputPath      = flag.String("o", "", "the output path")
	packetSize      = flag.Int("ps", 0, "the packet size, auto detected if 0")
	pcrPID          = flag.Uint("pcr-pid", astipsi.PIDNull, "the PCR pid")
	pmtPID          = flag.Uint("pmt-pid", 0x1000, "the PMT pid")
	singleSection   = flag.Bool("single-section", false, "if yes, all PAT programs are written in a single section")
	streams         = astikit.NewFlagStrings()
)

// Input represents the result of probing an input
type Input struct {
	Path     string     `json:"path"`
	Programs []*Program `json:"programs,omitempty"`
}

func main() {
	// Init
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s <packets|programs|synth>:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Var(inputPaths, "i", "the input paths, either a file or udp://<multicast addr>")
	flag.Var(streams, "s", "the streams written by synth, formatted as <pid>:<stream type>")
	cmd := astikit.FlagCmd()
	flag.Parse()

	// Handle signals
	handleSignals()

	// Start profiling
	if *cpuProfiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if *memoryProfiling {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	// Switch on command
	switch cmd {
	case "packets":
		// Log packets
		if err := probe(ctx, packets); err != nil {
			log.Fatal(fmt.Errorf("astipsi: fetching packets failed: %w", err))
		}
	case "synth":
		// Synthesize
		if err := synth(); err != nil {
			log.Fatal(fmt.Errorf("astipsi: synthesizing failed: %w", err))
		}
	default:
		// Fetch the programs
		is := make([]*Input, len(*inputPaths.Slice))
		if err := probe(ctx, func(ctx context.Context, idx int, path string, pr *packetReader) (err error) {
			is[idx] = &Input{Path: path}
			is[idx].Programs, err = programs(path, pr)
			return
		}); err != nil {
			log.Fatal(fmt.Errorf("astipsi: fetching programs failed: %w", err))
		}

		// Print
		switch *format {
		case "json":
			var e = json.NewEncoder(os.Stdout)
			e.SetIndent("", "  ")
			if err := e.Encode(is); err != nil {
				log.Fatal(fmt.Errorf("astipsi: json encoding to stdout failed: %w", err))
			}
		default:
			for _, i := range is {
				fmt.Printf("Programs of %s are:\n", i.Path)
				for _, pgm := range i.Programs {
					fmt.Printf("* %s\n", pgm)
				}
			}
		}
	}
}

func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch)
	go func() {
		for s := range ch {
			if s != syscall.SIGURG {
				log.Printf("Received signal %s\n", s)
			}
			switch s {
			case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
				cancel()
				return
			}
		}
	}()
}

type probeFunc func(ctx context.Context, idx int, path string, pr *packetReader) error

// probe executes fn on every input concurrently
// The first error cancels the other inputs.
func probe(ctx context.Context, fn probeFunc) error {
	// Validate input
	if len(*inputPaths.Slice) == 0 {
		return errors.New("use -i to indicate an input path")
	}

	g, ctx := errgroup.WithContext(ctx)
	for idx, path := range *inputPaths.Slice {
		idx, path := idx, path
		g.Go(func() (err error) {
			// Build the reader
			var r io.Reader
			if r, err = buildReader(path); err != nil {
				return fmt.Errorf("astipsi: building reader for %s failed: %w", path, err)
			}

			// Make sure the reader is closed properly and unblocks when the context is cancelled
			if c, ok := r.(io.Closer); ok {
				done := make(chan struct{})
				defer close(done)
				defer c.Close()
				go func() {
					select {
					case <-ctx.Done():
						c.Close()
					case <-done:
					}
				}()
			}

			// Create the packet reader
			var pr *packetReader
			if pr, err = newPacketReader(ctx, r, *packetSize); err != nil {
				return fmt.Errorf("astipsi: creating packet reader for %s failed: %w", path, err)
			}
			return fn(ctx, idx, path, pr)
		})
	}
	return g.Wait()
}

// udpReader buffers datagrams so that packets can be read one at a time
type udpReader struct {
	*bufio.Reader
	c *net.UDPConn
}

func (r udpReader) Close() error { return r.c.Close() }

func buildReader(path string) (r io.Reader, err error) {
	// Parse input
	var u *url.URL
	if u, err = url.Parse(path); err != nil {
		err = fmt.Errorf("astipsi: parsing input path failed: %w", err)
		return
	}

	// Switch on scheme
	switch u.Scheme {
	case "udp":
		// Resolve addr
		var addr *net.UDPAddr
		if addr, err = net.ResolveUDPAddr("udp", u.Host); err != nil {
			err = fmt.Errorf("astipsi: resolving udp addr %s failed: %w", u.Host, err)
			return
		}

		// Listen to multicast UDP
		var c *net.UDPConn
		if c, err = net.ListenMulticastUDP("udp", nil, addr); err != nil {
			err = fmt.Errorf("astipsi: listening on multicast udp addr %s failed: %w", u.Host, err)
			return
		}
		c.SetReadBuffer(4096)
		r = udpReader{Reader: bufio.NewReaderSize(c, 1<<16), c: c}
	default:
		// Open file
		var f *os.File
		if f, err = os.Open(path); err != nil {
			err = fmt.Errorf("astipsi: opening %s failed: %w", path, err)
			return
		}
		r = f
	}
	return
}

func packets(ctx context.Context, idx int, path string, pr *packetReader) (err error) {
	// Loop through packets
	var p astipsi.Packet
	log.Printf("%s: fetching packets...\n", path)
	for {
		// Get next packet
		if p, err = pr.next(); err != nil {
			if errors.Is(err, ErrNoMorePackets) {
				return nil
			}
			err = fmt.Errorf("astipsi: getting next packet failed: %w", err)
			return
		}

		// Log packet
		log.Printf("%s: PKT: %d\n", path, p.PID())
		log.Printf("  Continuity Counter: %v\n", p.ContinuityCounter())
		log.Printf("  Payload Unit Start Indicator: %v\n", p.PayloadUnitStartIndicator())
		log.Printf("  Has Payload: %v\n", p.HasPayload())
		log.Printf("  Has Adaptation Field: %v\n", p.HasAdaptationField())
		log.Printf("  Transport Error Indicator: %v\n", p.TransportErrorIndicator())
		log.Printf("  Transport Priority: %v\n", p.TransportPriority())
		log.Printf("  Transport Scrambling Control: %v\n", p.TransportScramblingControl())
		if p.HasAdaptationField() {
			logAdaptationField(p)
		}
	}
}

func logAdaptationField(p astipsi.Packet) {
	a, err := p.AdaptationField()
	if err != nil {
		log.Printf("  Adaptation Field: %s\n", err)
		return
	}
	log.Printf("  Adaptation Field Length: %d\n", a.Length())
	log.Printf("  Discontinuity Indicator: %v\n", a.DiscontinuityIndicator())
	log.Printf("  Random Access Indicator: %v\n", a.RandomAccessIndicator())
	if a.HasPCR() {
		if pcr, err := a.PCR(); err != nil {
			log.Printf("  PCR: %s\n", err)
		} else {
			log.Printf("  PCR: %d (%dns)\n", pcr, astipsi.PCRNanos(pcr))
		}
	}
	if a.HasSplicingCountdown() {
		if c, err := a.SpliceCountdown(); err == nil {
			log.Printf("  Splice Countdown: %d\n", c)
		}
	}
}

func programs(path string, pr *packetReader) (o []*Program, err error) {
	// Loop through packets
	c := newProgramsCollector(path)
	log.Printf("%s: fetching programs...\n", path)
	for !c.done() {
		// Get next packet
		var p astipsi.Packet
		if p, err = pr.next(); err != nil {
			if errors.Is(err, ErrNoMorePackets) {
				err = nil
				break
			}
			err = fmt.Errorf("astipsi: getting next packet failed: %w", err)
			return
		}

		// Add packet
		if err = c.add(p); err != nil {
			err = fmt.Errorf("astipsi: adding packet failed: %w", err)
			return
		}
	}
	return c.programs(), nil
}

func synth() (err error) {
	// Validate output
	if len(*outputPath) <= 0 {
		return errors.New("use -o to indicate an output path")
	}

	// Parse streams
	var ss []astipsi.PMTStream
	if ss, err = parsePMTStreams(*streams.Slice); err != nil {
		return fmt.Errorf("astipsi: parsing streams failed: %w", err)
	}

	// Create PAT
	var opts []astipsi.PATOption
	if *singleSection {
		opts = append(opts, astipsi.PATOptSingleSection())
	}
	var pat []byte
	if pat, err = astipsi.CreatePATPacket([]uint16{uint16(*pmtPID)}, 0, opts...); err != nil {
		return fmt.Errorf("astipsi: creating PAT packet failed: %w", err)
	}

	// Create PMT
	var pmt []byte
	if pmt, err = astipsi.CreatePMTPacket(uint16(*pmtPID), ss, 0, astipsi.PMTOptPCRPID(uint16(*pcrPID))); err != nil {
		return fmt.Errorf("astipsi: creating PMT packet failed: %w", err)
	}

	// Write
	if err = os.WriteFile(*outputPath, append(pat, pmt...), 0644); err != nil {
		return fmt.Errorf("astipsi: writing to %s failed: %w", *outputPath, err)
	}
	log.Printf("PAT and PMT packets written to %s\n", *outputPath)
	return
}

// parsePMTStreams parses streams formatted as <pid>:<stream type>, both accepting a 0x prefix
func parsePMTStreams(vs []string) (ss []astipsi.PMTStream, err error) {
	for _, v := range vs {
		// Split
		items := strings.Split(v, ":")
		if len(items) != 2 {
			err = fmt.Errorf("astipsi: %s is not formatted as <pid>:<stream type>", v)
			return
		}

		// Parse pid
		var pid uint64
		if pid, err = strconv.ParseUint(items[0], 0, 13); err != nil {
			err = fmt.Errorf("astipsi: parsing pid %s failed: %w", items[0], err)
			return
		}

		// Parse stream type
		var t uint64
		if t, err = strconv.ParseUint(items[1], 0, 8); err != nil {
			err = fmt.Errorf("astipsi: parsing stream type %s failed: %w", items[1], err)
			return
		}
		ss = append(ss, astipsi.PMTStream{
			ElementaryPID: uint16(pid),
			StreamType:    astipsi.StreamType(t),
		})
	}
	return
}
