// Package processor drives a spiking network processor over a link: it
// loads networks, schedules spikes against the hardware clock, runs the
// fabric in flow-controlled chunks and records output fires.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/observability"
	"github.com/danmuck/spikelink/internal/program"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/danmuck/spikelink/internal/spike"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the processor lifecycle state.
type State int32

const (
	StateUnloaded State = iota
	StateIdle
	StateRunning
	// StateDirty follows a failed or cancelled operation; clear to recover.
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDirty:
		return "dirty"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Processor is the host side of one link. Public operations are serialized;
// a call made while Run is active blocks until it returns.
type Processor struct {
	port     link.Port
	prog     program.Programmer
	cfg      Config
	clock    clock.Clock
	buildDir string

	mu          sync.Mutex
	net         *network.Network
	networkPath string
	schema      *schema.Schema
	sess        *session
	state       atomic.Int32
}

func New(port link.Port, prog program.Programmer, cfg Config, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.DrainQuiet <= 0 {
		cfg.DrainQuiet = def.DrainQuiet
	}
	if cfg.BackpressurePoll <= 0 {
		cfg.BackpressurePoll = def.BackpressurePoll
	}
	p := &Processor{
		port:  port,
		prog:  prog,
		cfg:   cfg,
		clock: clock.New(),
		sess:  newSession(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadNetworkFile loads a neuro JSON network from path.
func (p *Processor) LoadNetworkFile(ctx context.Context, path string) error {
	net, err := network.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrConfig, err)
	}
	return p.load(ctx, net, path)
}

// LoadNetwork compiles the protocol for net, programs the target and clears
// it. A failed load leaves the processor unloaded.
func (p *Processor) LoadNetwork(ctx context.Context, net *network.Network) error {
	return p.load(ctx, net, "")
}

func (p *Processor) load(ctx context.Context, net *network.Network, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.net, p.schema, p.networkPath = nil, nil, ""
	p.sess = newSession(0)
	p.setState(StateUnloaded)

	s, err := schema.Compile(net, p.cfg.IO, p.cfg.SchemaOptions(p.port.Baud()))
	if err != nil {
		return err
	}
	b := program.NewBuild(p.cfg.Target, net, s)
	b.NetworkPath = path
	b.BuildDir = p.buildDir
	if err := p.prog.Program(ctx, b); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrProgram, err)
	}
	p.net, p.schema, p.networkPath = net, s, path
	log.Info().
		Str("target", p.cfg.Target).
		Str("io", s.IO.String()).
		Int("inputs", s.NumInputs).
		Int("outputs", s.NumOutputs).
		Int("max_run", s.Limits.MaxRun).
		Int("max_runs_ahead", s.Limits.MaxRunsAhead).
		Msg("network loaded")
	return p.clearLocked(ctx)
}

// Clear resets all activity on the target. The network stays loaded.
func (p *Processor) Clear(ctx context.Context) error { return p.ClearActivity(ctx) }

func (p *Processor) ClearActivity(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clearLocked(ctx)
}

func (p *Processor) clearLocked(ctx context.Context) error {
	numOut := 0
	if p.schema != nil {
		numOut = p.schema.NumOutputs
	}
	p.sess = newSession(numOut)
	if p.schema != nil {
		if err := p.transmitter().clear(); err != nil {
			p.setState(StateDirty)
			return err
		}
		if p.schema.IO.Input == protocol.Dispatch {
			if err := newReceiver(p.port, p.schema, p.sess, p.cfg.ReadTimeout).drain(ctx); err != nil {
				p.setState(StateDirty)
				return err
			}
		}
	}
	n, err := p.port.Drain(p.cfg.DrainQuiet)
	if err != nil {
		p.setState(StateDirty)
		return fmt.Errorf("%w: drain: %w", protocol.ErrResource, err)
	}
	if p.schema == nil {
		p.setState(StateUnloaded)
	} else {
		p.setState(StateIdle)
	}
	log.Debug().Str("session", p.sess.id).Int("stale_bytes", n).Msg("activity cleared")
	return nil
}

// Unload clears activity and forgets the network.
func (p *Processor) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.clearLocked(ctx)
	p.net, p.schema, p.networkPath = nil, nil, ""
	p.sess = newSession(0)
	p.setState(StateUnloaded)
	return err
}

// ApplySpike queues s. Its time is relative to the input clock.
func (p *Processor) ApplySpike(s spike.Spike) error { return p.ApplySpikes(s) }

// ApplySpikes queues every spike or none. Each value must fit one charge
// field on its own. With dispatch input, spikes due now are sent
// immediately.
func (p *Processor) ApplySpikes(spikes ...spike.Spike) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schema == nil {
		return protocol.ErrNotLoaded
	}
	in := int(p.sess.in.Load())
	for _, s := range spikes {
		if s.Time < 0 {
			return fmt.Errorf("%w: node %d at %d", protocol.ErrSpikeInPast, s.ID, s.Time)
		}
		if s.Time > math.MaxInt-in {
			return fmt.Errorf("%w: node %d at %d after clock %d", protocol.ErrSpikeTime, s.ID, s.Time, in)
		}
		if node, ok := p.net.Node(s.ID); !ok || !node.IsInput() {
			return fmt.Errorf("%w: node %d", protocol.ErrNotInput, s.ID)
		}
		if _, err := p.schema.SpikeCharge(s.Value); err != nil {
			return fmt.Errorf("node %d at %d: %w", s.ID, s.Time, err)
		}
	}
	for _, s := range spikes {
		p.sess.queue.Push(s.At(in + s.Time))
	}
	if p.schema.IO.Input != protocol.Dispatch {
		return nil
	}
	due := p.sess.queue.PopDue(in)
	if len(due) == 0 {
		return nil
	}
	if err := p.transmitter().send(due, 0, false); err != nil {
		p.setState(StateDirty)
		return err
	}
	return nil
}

// Run advances the target by duration cycles and records the fires it
// reports. Queries afterwards cover this run only.
func (p *Processor) Run(ctx context.Context, duration int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.schema == nil:
		return protocol.ErrNotLoaded
	case duration < 0:
		return fmt.Errorf("%w: %d", protocol.ErrNegativeRun, duration)
	case duration == 0 && p.schema.IO.Input == protocol.Stream:
		return protocol.ErrRunRequired
	case p.State() == StateDirty:
		return protocol.ErrDirty
	}

	start := p.clock.Now()
	p.setState(StateRunning)
	err := p.run(ctx, int64(duration))
	observability.RecordRun(p.schema.IO.String(), p.clock.Since(start), err == nil)
	if err != nil {
		p.setState(StateDirty)
		return err
	}
	p.setState(StateIdle)
	return nil
}

func (p *Processor) run(ctx context.Context, duration int64) error {
	sess := p.sess
	sess.lastRun = sess.in.Load()
	target := sess.lastRun + duration
	log.Debug().Str("session", sess.id).Int64("in_clock", sess.lastRun).Int64("target", target).Msg("run start")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	rx := newReceiver(p.port, p.schema, sess, p.cfg.ReadTimeout)
	g.Go(func() error { return rx.run(gctx, target) })

	txErr := p.transmit(gctx, target)
	if txErr != nil {
		cancel()
	}
	rxErr := g.Wait()
	switch {
	case txErr != nil && !errors.Is(txErr, context.Canceled):
		return txErr
	case rxErr != nil:
		return rxErr
	default:
		return txErr
	}
}

// transmit sends chunks until the input clock reaches target. Chunks end
// at spike times and never let tx run more than MaxRunsAhead cycles ahead
// of rx.
func (p *Processor) transmit(ctx context.Context, target int64) error {
	sess := p.sess
	tx := p.transmitter()
	ahead := int64(p.schema.Limits.MaxRunsAhead)
	step := min(int64(p.schema.Limits.MaxRun), ahead)

	for sess.in.Load() < target {
		in := sess.in.Load()
		due := sess.queue.PopDue(int(in))
		next := target
		if s, ok := sess.queue.Peek(); ok && int64(s.Time) < target {
			next = int64(s.Time)
		}
		for in < next {
			chunk := min(step, next-in)
			if err := p.backpressure(ctx, in+chunk-ahead); err != nil {
				return err
			}
			if err := tx.send(due, int(chunk), in+chunk == target); err != nil {
				return err
			}
			due = nil
			in = sess.in.Load()
		}
	}
	return nil
}

// backpressure waits until the output clock reaches atLeast.
func (p *Processor) backpressure(ctx context.Context, atLeast int64) error {
	if p.sess.out.Load() >= atLeast {
		return nil
	}
	observability.RecordBackpressureWait()
	for p.sess.out.Load() < atLeast {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.clock.Sleep(p.cfg.BackpressurePoll)
	}
	return nil
}

func (p *Processor) transmitter() *transmitter {
	return &transmitter{
		port:   p.port,
		schema: p.schema,
		net:    p.net,
		clock:  p.clock,
		pacing: p.cfg.Pacing,
		sess:   p.sess,
	}
}

// OutputVector returns the fire times of output idx during the last run,
// relative to its start.
func (p *Processor) OutputVector(idx int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.queryable(idx); err != nil {
		return nil, err
	}
	return p.sess.since(idx), nil
}

func (p *Processor) OutputVectors() ([][]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.schema == nil:
		return nil, protocol.ErrNotLoaded
	case p.schema.IO.Output == protocol.Decoder:
		return nil, protocol.ErrDecodedOutput
	}
	out := make([][]int, len(p.sess.fires))
	for i := range out {
		out[i] = p.sess.since(i)
	}
	return out, nil
}

func (p *Processor) OutputCount(idx int) (int, error) {
	v, err := p.OutputVector(idx)
	return len(v), err
}

func (p *Processor) OutputCounts() ([]int, error) {
	vs, err := p.OutputVectors()
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = len(v)
	}
	return out, nil
}

// OutputLastFire returns the last fire time of output idx during the last
// run, or -1.
func (p *Processor) OutputLastFire(idx int) (int, error) {
	v, err := p.OutputVector(idx)
	if err != nil {
		return 0, err
	}
	return last(v), nil
}

func (p *Processor) OutputLastFires() ([]int, error) {
	vs, err := p.OutputVectors()
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = last(v)
	}
	return out, nil
}

func last(v []int) int {
	if len(v) == 0 {
		return -1
	}
	return v[len(v)-1]
}

func (p *Processor) queryable(idx int) error {
	if p.schema == nil {
		return protocol.ErrNotLoaded
	}
	if p.schema.IO.Output == protocol.Decoder {
		return protocol.ErrDecodedOutput
	}
	if idx < 0 || idx >= p.schema.NumOutputs {
		return fmt.Errorf("%w: %d of %d", protocol.ErrOutputIndex, idx, p.schema.NumOutputs)
	}
	return nil
}

// Schema returns the compiled protocol, or nil when unloaded.
func (p *Processor) Schema() *schema.Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schema
}

func (p *Processor) Network() *network.Network {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.net
}

// State does not wait for a running operation.
func (p *Processor) State() State { return State(p.state.Load()) }

func (p *Processor) setState(s State) { p.state.Store(int32(s)) }

// Clocks returns the input and output clocks of the current session.
func (p *Processor) Clocks() (in, out int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.in.Load(), p.sess.out.Load()
}

// SessionID names the activity since the last clear.
func (p *Processor) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.id
}

// Pending is the number of queued spikes not yet transmitted.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.queue.Len()
}
