package processor

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/observability"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/danmuck/spikelink/internal/spike"
	"github.com/rs/zerolog/log"
)

// transmitter owns every write to the port.
type transmitter struct {
	port   link.Port
	schema *schema.Schema
	net    *network.Network
	clock  clock.Clock
	pacing bool
	sess   *session
}

// charge is the summed charge for one input in one batch.
type charge struct {
	index int
	value int64
}

// charges maps spikes to input charges. Spikes for the same input are
// summed in first-seen order; each spike fits one charge field, so a sum of
// n spikes splits into at most n packets.
func (t *transmitter) charges(spikes []spike.Spike) ([]charge, error) {
	out := make([]charge, 0, len(spikes))
	pos := make(map[int]int, len(spikes))
	for _, s := range spikes {
		node, ok := t.net.Node(s.ID)
		if !ok || !node.IsInput() {
			return nil, fmt.Errorf("%w: node %d", protocol.ErrNotInput, s.ID)
		}
		v, err := t.schema.SpikeCharge(s.Value)
		if err != nil {
			return nil, err
		}
		if i, ok := pos[node.InputIndex]; ok {
			out[i].value += v
			continue
		}
		pos[node.InputIndex] = len(out)
		out = append(out, charge{index: node.InputIndex, value: v})
	}
	return out, nil
}

// send transmits spikes due at the input clock, then runs cycles. The
// final command of a run is sync.
func (t *transmitter) send(spikes []spike.Spike, runs int, sync bool) error {
	batch, err := t.charges(spikes)
	if err != nil {
		return err
	}
	if t.schema.IO.Input == protocol.Stream {
		return t.sendStream(batch, runs, sync)
	}
	return t.sendDispatch(batch, runs, sync)
}

func (t *transmitter) sendDispatch(batch []charge, runs int, sync bool) error {
	lo, hi := t.schema.ChargeRange()
	sent := 0
	for _, c := range batch {
		// the fabric accumulates repeated spikes, so an oversized sum is
		// split across packets
		for _, part := range splitCharge(c.value, lo, hi) {
			b, err := t.schema.EncodeSpike(schema.SpikePacket{Index: c.index, Charge: part})
			if err != nil {
				return err
			}
			if err := t.write(b, protocol.OpSPK.String()); err != nil {
				return err
			}
			sent++
		}
	}
	observability.RecordSpikesSent(sent)
	if runs <= 0 {
		return nil
	}
	op := protocol.OpRUN
	if sync {
		op = protocol.OpSNC
	}
	b, err := t.schema.EncodeCommand(schema.Command{Op: op, Operand: t.schema.Options.RunEncoding.Operand(runs)})
	if err != nil {
		return err
	}
	if err := t.write(b, op.String()); err != nil {
		return err
	}
	t.advance(runs)
	return nil
}

func (t *transmitter) sendStream(batch []charge, runs int, sync bool) error {
	if runs < 1 {
		return protocol.ErrRunRequired
	}
	lo, hi := t.schema.ChargeRange()
	first := make([]int64, t.schema.NumInputs)
	for _, c := range batch {
		v := min(max(c.value, lo), hi)
		if v != c.value {
			log.Warn().Str("session", t.sess.id).Int("input", c.index).Int64("charge", c.value).Msg("stream charge saturated")
		}
		first[c.index] = v
	}
	observability.RecordSpikesSent(len(batch))
	empty := make([]int64, t.schema.NumInputs)
	for i := 0; i < runs; i++ {
		pkt := schema.StreamInput{
			SNC:     sync && i == runs-1,
			CLR:     t.sess.in.Load() == 0,
			Charges: empty,
		}
		if i == 0 {
			pkt.Charges = first
		}
		b, err := t.schema.EncodeStreamInput(pkt)
		if err != nil {
			return err
		}
		if err := t.write(b, "stream"); err != nil {
			return err
		}
		t.advance(1)
	}
	return nil
}

// clear resets the fabric. Stream input clears with the next cycle instead.
func (t *transmitter) clear() error {
	if t.schema.IO.Input != protocol.Dispatch {
		return nil
	}
	b, err := t.schema.EncodeCommand(schema.Command{Op: protocol.OpCLR})
	if err != nil {
		return err
	}
	return t.write(b, protocol.OpCLR.String())
}

func (t *transmitter) write(b []byte, kind string) error {
	if _, err := t.port.Write(b); err != nil {
		return fmt.Errorf("%w: write %s: %w", protocol.ErrResource, kind, err)
	}
	observability.RecordPacket(observability.DirectionTx, kind)
	return nil
}

// advance moves the input clock and waits out the wire time of runs cycles.
func (t *transmitter) advance(runs int) {
	in := t.sess.in.Add(int64(runs))
	observability.RecordCyclesSent(runs)
	observability.SetRunLag(t.sess.lag())
	log.Debug().Str("session", t.sess.id).Int64("in_clock", in).Int("runs", runs).Msg("tx advance")
	if t.pacing {
		t.clock.Sleep(time.Duration(t.schema.Limits.SecsPerRun * float64(runs) * float64(time.Second)))
	}
}

// splitCharge breaks v into parts within [lo, hi] that sum to v.
func splitCharge(v, lo, hi int64) []int64 {
	if v >= lo && v <= hi {
		return []int64{v}
	}
	var parts []int64
	for v > hi {
		parts = append(parts, hi)
		v -= hi
	}
	for v < lo {
		parts = append(parts, lo)
		v -= lo
	}
	if v != 0 {
		parts = append(parts, v)
	}
	return parts
}
