package processor

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/frame"
	"github.com/danmuck/spikelink/internal/protocol/schema"
)

// Config tunes one processor.
type Config struct {
	// Target names the board the fabric is built for.
	Target string
	IO     protocol.IOConfig
	// Baud overrides the port's line rate when set.
	Baud    int
	ClockHz float64

	// ReadTimeout bounds one packet read.
	ReadTimeout time.Duration
	// DrainQuiet is how long the link must stay silent before a clear ends.
	DrainQuiet time.Duration
	// BackpressurePoll is the wait between lag checks while tx is ahead.
	BackpressurePoll time.Duration
	// Pacing sleeps the expected wire time after each transmitted chunk.
	Pacing bool

	Framing      frame.Framing
	SystemBuffer int
	MaxRunsAhead int
	RunEncoding  protocol.RunEncoding
}

func DefaultConfig() Config {
	opts := schema.DefaultOptions()
	return Config{
		Target:           "sim",
		IO:               protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Dispatch},
		ClockHz:          opts.ClockHz,
		ReadTimeout:      10 * time.Second,
		DrainQuiet:       20 * time.Millisecond,
		BackpressurePoll: 100 * time.Nanosecond,
		Pacing:           true,
		Framing:          opts.Framing,
		SystemBuffer:     opts.SystemBuffer,
		RunEncoding:      opts.RunEncoding,
	}
}

// SchemaOptions resolves the compiler options for a port running at baud.
func (c Config) SchemaOptions(baud int) schema.Options {
	opts := schema.DefaultOptions()
	opts.Framing = c.Framing
	opts.Baud = baud
	if c.Baud > 0 {
		opts.Baud = c.Baud
	}
	if c.ClockHz > 0 {
		opts.ClockHz = c.ClockHz
	}
	if c.SystemBuffer > 0 {
		opts.SystemBuffer = c.SystemBuffer
	}
	opts.MaxRunsAhead = c.MaxRunsAhead
	opts.RunEncoding = c.RunEncoding
	return opts
}

// Option customizes a Processor.
type Option func(*Processor)

// WithClock replaces the wall clock used for pacing, backpressure waits and
// run timing.
func WithClock(c clock.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

// WithBuildDir sets the build directory handed to the programmer.
func WithBuildDir(dir string) Option {
	return func(p *Processor) { p.buildDir = dir }
}
