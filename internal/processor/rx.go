package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/observability"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// readSlice bounds one blocking port read so cancellation is noticed.
const readSlice = 20 * time.Millisecond

type rxState int

const (
	awaitPacket rxState = iota
	fireBurst
	awaitClear
)

func (s rxState) String() string {
	switch s {
	case awaitPacket:
		return "await_packet"
	case fireBurst:
		return "fire_burst"
	case awaitClear:
		return "await_clear"
	default:
		return fmt.Sprintf("rx_state(%d)", int(s))
	}
}

// receiver owns every read from the port while a run or clear is active.
type receiver struct {
	port    link.Port
	schema  *schema.Schema
	sess    *session
	timeout time.Duration

	target int64
	state  rxState
	// members left in the current fire burst
	burst int
	buf   []byte
}

func newReceiver(port link.Port, s *schema.Schema, sess *session, timeout time.Duration) *receiver {
	return &receiver{
		port:    port,
		schema:  s,
		sess:    sess,
		timeout: timeout,
		buf:     make([]byte, s.Output.Size()),
	}
}

// run consumes output until the output clock reaches target.
func (r *receiver) run(ctx context.Context, target int64) error {
	r.target = target
	r.state = awaitPacket
	for r.sess.out.Load() < r.target || r.state == fireBurst {
		if err := r.read(ctx); err != nil {
			return err
		}
		var err error
		if r.schema.IO.Output == protocol.Stream {
			err = r.stream()
		} else {
			err = r.dispatch()
		}
		if err != nil {
			observability.RecordProtocolError(reason(err))
			log.Error().Err(err).Str("session", r.sess.id).Int64("out_clock", r.sess.out.Load()).Int64("target", r.target).Msg("rx failed")
			return err
		}
	}
	return nil
}

// drain discards output until the clear echo arrives.
func (r *receiver) drain(ctx context.Context) error {
	r.state = awaitClear
	for {
		if err := r.read(ctx); err != nil {
			return err
		}
		if r.schema.IO.Output == protocol.Stream {
			out, err := r.schema.DecodeStreamOutput(r.buf)
			if err == nil && out.CLR {
				break
			}
			continue
		}
		c, err := r.schema.DecodeOutputCommand(r.buf)
		if err == nil && c.Op == protocol.OpCLR {
			break
		}
	}
	observability.RecordPacket(observability.DirectionRx, protocol.OpCLR.String())
	r.state = awaitPacket
	return nil
}

func (r *receiver) dispatch() error {
	c, err := r.schema.DecodeOutputCommand(r.buf)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrBadPacket, err)
	}
	observability.RecordPacket(observability.DirectionRx, c.Op.String())
	out := r.sess.out.Load()

	if r.state == fireBurst {
		if c.Op != protocol.OpSPK {
			return fmt.Errorf("%w: %s inside a fire burst", protocol.ErrBadPacket, c)
		}
		r.burst--
		if r.burst == 0 {
			r.state = awaitPacket
		}
		idx := int(c.Operand)
		switch {
		case idx == r.schema.NumOutputs:
			// sentinel padding from fixed-width bursts
		case idx > r.schema.NumOutputs || idx < 0:
			return fmt.Errorf("%w: output index %d of %d", protocol.ErrBadPacket, idx, r.schema.NumOutputs)
		default:
			r.sess.fires[idx] = append(r.sess.fires[idx], out)
			observability.RecordFires(1)
		}
		return nil
	}

	switch c.Op {
	case protocol.OpNOP:
	case protocol.OpRUN, protocol.OpSNC:
		next := out + int64(r.schema.Options.RunEncoding.Runs(c.Operand))
		if next > r.target {
			return fmt.Errorf("%w: %s moves clock %d past target %d", protocol.ErrClockOverrun, c, out, r.target)
		}
		if (c.Op == protocol.OpSNC) != (next == r.target) {
			return fmt.Errorf("%w: %s at clock %d, target %d", protocol.ErrSyncMismatch, c, out, r.target)
		}
		r.sess.out.Store(next)
	case protocol.OpSPK:
		n := int(c.Operand)
		if n > r.schema.NumOutputs {
			return fmt.Errorf("%w: burst of %d for %d outputs", protocol.ErrBadPacket, n, r.schema.NumOutputs)
		}
		if n > 0 {
			r.state, r.burst = fireBurst, n
		}
	case protocol.OpCLR:
		if out != 0 {
			return fmt.Errorf("%w: at clock %d", protocol.ErrUnexpectedClear, out)
		}
		log.Debug().Str("session", r.sess.id).Msg("rx skipped stale clear echo")
	default:
		return fmt.Errorf("%w: opcode %s", protocol.ErrBadPacket, c.Op)
	}
	return nil
}

func (r *receiver) stream() error {
	p, err := r.schema.DecodeStreamOutput(r.buf)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrBadPacket, err)
	}
	observability.RecordPacket(observability.DirectionRx, "stream")
	out := r.sess.out.Load()
	if p.CLR {
		if out != 0 {
			return fmt.Errorf("%w: at clock %d", protocol.ErrUnexpectedClear, out)
		}
		if r.schema.IO.Input == protocol.Dispatch {
			return nil
		}
	}
	fired := 0
	for i, f := range p.Fires {
		if f {
			r.sess.fires[i] = append(r.sess.fires[i], out)
			fired++
		}
	}
	observability.RecordFires(fired)
	out++
	if p.SNC != (out == r.target) {
		return fmt.Errorf("%w: snc=%t at clock %d, target %d", protocol.ErrSyncMismatch, p.SNC, out, r.target)
	}
	r.sess.out.Store(out)
	return nil
}

// read fills buf with one packet or fails once the read timeout elapses.
func (r *receiver) read(ctx context.Context) error {
	have := 0
	deadline := time.Now().Add(r.timeout)
	for have < len(r.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := min(time.Until(deadline), readSlice)
		if wait <= 0 {
			return fmt.Errorf("%w: got %d of %d bytes in %s", protocol.ErrShortPacket, have, len(r.buf), r.state)
		}
		n, err := r.port.ReadFull(r.buf[have:], wait)
		have += n
		if err != nil && !errors.Is(err, link.ErrTimeout) {
			return fmt.Errorf("%w: read: %w", protocol.ErrResource, err)
		}
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrShortPacket):
		return "short_packet"
	case errors.Is(err, protocol.ErrSyncMismatch):
		return "sync_mismatch"
	case errors.Is(err, protocol.ErrUnexpectedClear):
		return "unexpected_clear"
	case errors.Is(err, protocol.ErrClockOverrun):
		return "clock_overrun"
	case errors.Is(err, protocol.ErrBadPacket):
		return "bad_packet"
	default:
		return "other"
	}
}
