package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/program"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Options tune the device.
type Options struct {
	// Poll is how long one read waits before the loop rechecks ctx.
	Poll time.Duration
	// FixedBursts emits numOutputs burst members per SPK burst, padding
	// with the no-fire sentinel, as fixed-width fabric sinks do.
	FixedBursts bool
}

func DefaultOptions() Options {
	return Options{Poll: 5 * time.Millisecond}
}

// Stats counts device activity.
type Stats struct {
	PacketsIn  int
	PacketsOut int
	Cycles     int
	Fires      int
	Clears     int
	BadPackets int
}

// Device serves the target side of a link. Program loads a network; Serve
// answers packets until ctx ends or the port closes.
type Device struct {
	port link.Port
	opts Options

	mu     sync.Mutex
	schema *schema.Schema
	core   *Core
	// idle cycles run since the last dispatch output advance
	idle  int
	stats Stats
}

func NewDevice(port link.Port, opts Options) *Device {
	if opts.Poll <= 0 {
		opts.Poll = DefaultOptions().Poll
	}
	return &Device{port: port, opts: opts}
}

// Program implements program.Programmer.
func (d *Device) Program(_ context.Context, b program.Build) error {
	if b.Schema == nil || b.Network == nil {
		return fmt.Errorf("emulator: build %s has no schema", b)
	}
	core, err := NewCore(b.Network)
	if err != nil {
		return fmt.Errorf("emulator: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schema = b.Schema
	d.core = core
	d.idle = 0
	log.Info().Str("build", b.String()).Msg("emulator programmed")
	return nil
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Serve runs the device loop.
func (d *Device) Serve(ctx context.Context) error {
	var buf []byte
	have := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		d.mu.Lock()
		s := d.schema
		d.mu.Unlock()
		if s == nil {
			// unprogrammed fabric leaves input unread
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.opts.Poll):
			}
			continue
		}
		if size := s.Input.Size(); len(buf) != size {
			buf, have = make([]byte, size), 0
		}
		n, err := d.port.ReadFull(buf[have:], d.opts.Poll)
		have += n
		if err != nil && !errors.Is(err, link.ErrTimeout) {
			return closedOrErr(err)
		}
		if have < len(buf) {
			continue
		}
		have = 0
		if err := d.handle(buf); err != nil {
			return closedOrErr(err)
		}
	}
}

func closedOrErr(err error) error {
	if errors.Is(err, link.ErrClosed) {
		return nil
	}
	return err
}

func (d *Device) handle(pkt []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.schema
	d.stats.PacketsIn++
	if s.IO.Input == protocol.Stream {
		in, err := s.DecodeStreamInput(pkt)
		if err != nil {
			return err
		}
		return d.streamCycle(in)
	}

	op, err := s.InputOpcode(pkt)
	if err != nil {
		return err
	}
	switch op {
	case protocol.OpNOP:
		return nil
	case protocol.OpSPK:
		p, err := s.DecodeSpike(pkt)
		if err != nil {
			return err
		}
		if err := d.core.Inject(p.Index, p.Charge); err != nil {
			d.stats.BadPackets++
			log.Warn().Err(err).Msg("emulator: dropped spike")
		}
		return nil
	case protocol.OpRUN, protocol.OpSNC:
		c, err := s.DecodeCommand(pkt)
		if err != nil {
			return err
		}
		return d.run(s.Options.RunEncoding.Runs(c.Operand), op == protocol.OpSNC)
	case protocol.OpCLR:
		return d.clear()
	default:
		d.stats.BadPackets++
		log.Warn().Uint8("opcode", uint8(op)).Msg("emulator: invalid opcode")
		return nil
	}
}

// run steps n cycles for one dispatch command and flushes at the end.
func (d *Device) run(n int, sync bool) error {
	if n <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		last := i == n-1
		fires := d.core.Step()
		d.stats.Cycles++
		d.stats.Fires += len(fires)
		if err := d.emitCycle(fires, sync && last, false); err != nil {
			return err
		}
	}
	return d.flush(sync)
}

func (d *Device) streamCycle(in schema.StreamInput) error {
	if in.CLR {
		d.reset()
		if d.schema.IO.Output == protocol.Dispatch {
			if err := d.writeOutput(schema.Command{Op: protocol.OpCLR}); err != nil {
				return err
			}
		}
	}
	for i, c := range in.Charges {
		if err := d.core.Inject(i, c); err != nil {
			return err
		}
	}
	fires := d.core.Step()
	d.stats.Cycles++
	d.stats.Fires += len(fires)
	if err := d.emitCycle(fires, in.SNC, in.CLR); err != nil {
		return err
	}
	return d.flush(in.SNC)
}

// emitCycle reports one stepped cycle. Stream output writes one packet per
// cycle; dispatch output accumulates idle cycles and writes a burst when
// something fired.
func (d *Device) emitCycle(fires []int, snc, clr bool) error {
	s := d.schema
	if s.IO.Output == protocol.Stream {
		out := schema.StreamOutput{SNC: snc, CLR: clr, Fires: make([]bool, s.NumOutputs)}
		for _, i := range fires {
			out.Fires[i] = true
		}
		b, err := s.EncodeStreamOutput(out)
		if err != nil {
			return err
		}
		return d.write(b)
	}
	if len(fires) == 0 {
		d.idle++
		return nil
	}
	if err := d.advance(d.idle, false); err != nil {
		return err
	}
	members := fires
	if d.opts.FixedBursts {
		members = make([]int, s.NumOutputs)
		for i := range members {
			members[i] = s.NumOutputs
		}
		copy(members, fires)
	}
	if err := d.writeOutput(schema.Command{Op: protocol.OpSPK, Operand: int64(len(members))}); err != nil {
		return err
	}
	for _, idx := range members {
		if err := d.writeOutput(schema.Command{Op: protocol.OpSPK, Operand: int64(idx)}); err != nil {
			return err
		}
	}
	d.idle = 1
	return nil
}

// flush ends a chunk on dispatch output.
func (d *Device) flush(sync bool) error {
	if d.schema.IO.Output != protocol.Dispatch {
		return nil
	}
	err := d.advance(d.idle, sync)
	d.idle = 0
	return err
}

// advance reports n cycles with RUN packets; the last is SNC when sync.
func (d *Device) advance(n int, sync bool) error {
	limit := d.schema.MaxOutputRuns()
	enc := d.schema.Options.RunEncoding
	for n > 0 {
		step := min(n, limit)
		n -= step
		op := protocol.OpRUN
		if sync && n == 0 {
			op = protocol.OpSNC
		}
		if err := d.writeOutput(schema.Command{Op: op, Operand: enc.Operand(step)}); err != nil {
			return err
		}
	}
	d.idle = 0
	return nil
}

func (d *Device) clear() error {
	d.reset()
	if d.schema.IO.Output == protocol.Stream {
		b, err := d.schema.EncodeStreamOutput(schema.StreamOutput{CLR: true, Fires: make([]bool, d.schema.NumOutputs)})
		if err != nil {
			return err
		}
		return d.write(b)
	}
	return d.writeOutput(schema.Command{Op: protocol.OpCLR})
}

func (d *Device) reset() {
	d.core.Reset()
	d.idle = 0
	d.stats.Clears++
}

func (d *Device) writeOutput(c schema.Command) error {
	b, err := d.schema.EncodeOutputCommand(c)
	if err != nil {
		return err
	}
	return d.write(b)
}

func (d *Device) write(b []byte) error {
	d.stats.PacketsOut++
	_, err := d.port.Write(b)
	return err
}
