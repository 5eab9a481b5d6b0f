// Package program loads a compiled network onto a target.
package program

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/frame"
	"github.com/danmuck/spikelink/internal/protocol/schema"
)

// Build describes one bitstream: the network and the link parameters the
// fabric is generated for.
type Build struct {
	Target      string
	IO          protocol.IOConfig
	Network     *network.Network
	NetworkPath string
	// Schema is the compiled protocol the fabric must speak.
	Schema      *schema.Schema
	ChargeWidth int
	NumInputs   int
	NumOutputs  int
	Baud        int
	ClockHz     float64
	// BuildDir is where backends place generated sources.
	BuildDir string
}

// Programmer makes the target run b. It returns once the target is ready to
// accept packets.
type Programmer interface {
	Program(ctx context.Context, b Build) error
}

// Func adapts a function to Programmer.
type Func func(ctx context.Context, b Build) error

func (f Func) Program(ctx context.Context, b Build) error { return f(ctx, b) }

// Vars are the ${VAR} names available to command templates.
func (b Build) Vars() map[string]string {
	return map[string]string{
		"TARGET":       b.Target,
		"IO_TYPE":      b.IO.String(),
		"INPUT_SOURCE": strings.ToLower(b.IO.Input.String()) + "_source",
		"OUTPUT_SINK":  strings.ToLower(b.IO.Output.String()) + "_sink",
		"NETWORK":      b.NetworkPath,
		"PROC":         procName(b.Network),
		"CHARGE_WIDTH": strconv.Itoa(b.ChargeWidth),
		"NUM_INPUTS":   strconv.Itoa(b.NumInputs),
		"NUM_OUTPUTS":  strconv.Itoa(b.NumOutputs),
		"BAUD_RATE":    strconv.Itoa(b.Baud),
		"CLK_FREQ":     strconv.FormatFloat(b.ClockHz, 'f', -1, 64),
		"BUILD_DIR":    b.BuildDir,
		"BYTE_ALIGNED": strconv.FormatBool(b.framing().ByteAligned),
		"BYTE_ORDER":   b.framing().Order.String(),
		"PAD":          b.framing().Pad.String(),
	}
}

func (b Build) framing() frame.Framing {
	if b.Schema == nil {
		return frame.DefaultFraming()
	}
	return b.Schema.Options.Framing
}

// NewBuild derives a build from a compiled schema.
func NewBuild(target string, net *network.Network, s *schema.Schema) Build {
	return Build{
		Target:      target,
		IO:          s.IO,
		Network:     net,
		Schema:      s,
		ChargeWidth: s.ChargeWidth,
		NumInputs:   s.NumInputs,
		NumOutputs:  s.NumOutputs,
		Baud:        s.Options.Baud,
		ClockHz:     s.Options.ClockHz,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("%s/%s in=%d out=%d charge=%d baud=%d", b.Target, b.IO, b.NumInputs, b.NumOutputs, b.ChargeWidth, b.Baud)
}

func procName(n *network.Network) string {
	if n == nil {
		return ""
	}
	return n.Proc
}
