// Package schema derives the packet formats and flow-control limits for a
// network from its widths and the link's io types.
package schema

import (
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/spikelink/internal/bits"
	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/frame"
	"github.com/danmuck/spikelink/internal/protocol/layout"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Field names shared by every format.
const (
	FieldOpcode  = "opcode"
	FieldOperand = "operand"
	FieldIndex   = "index"
	FieldCharge  = "charge"
	FieldPad     = "pad"
)

// DefaultSystemBuffer is the receive buffer of the host serial driver.
const DefaultSystemBuffer = 4096

// Options are the link properties the schema depends on.
type Options struct {
	Framing      frame.Framing
	Baud         int
	ClockHz      float64
	SystemBuffer int
	// MaxRunsAhead overrides the derived lag bound when > 0.
	MaxRunsAhead int
	RunEncoding  protocol.RunEncoding
}

func DefaultOptions() Options {
	return Options{
		Framing:      frame.DefaultFraming(),
		Baud:         115200,
		ClockHz:      100e6,
		SystemBuffer: DefaultSystemBuffer,
		RunEncoding:  protocol.RunCount,
	}
}

// Limits bound how far the transmitter may run ahead of the receiver.
type Limits struct {
	// MaxBytesPerRun is the worst-case output bytes one cycle produces.
	MaxBytesPerRun int
	// SecsPerRun is the link time one cycle of output costs.
	SecsPerRun float64
	// MaxRun is the largest chunk sent in one command.
	MaxRun int
	// MaxRunsAhead is the largest permitted input/output clock lag.
	MaxRunsAhead int
}

// Schema is the compiled protocol for one network and io configuration.
type Schema struct {
	IO      protocol.IOConfig
	Options Options

	NumInputs  int
	NumOutputs int

	ChargeWidth      int
	WastefulCharge   bool
	SpikeValueFactor float64
	// IndexWidth addresses inputs in dispatch spike packets.
	IndexWidth int
	// OperandWidth is the dispatch input command operand.
	OperandWidth int
	// OutputOperandWidth is the dispatch output operand.
	OutputOperandWidth int

	// Input is the stream packet (stream input) or the command packet
	// (dispatch input).
	Input *frame.Codec
	// Spike is the dispatch spike packet; nil for stream input.
	Spike *frame.Codec
	// Output is the dispatch or stream output packet.
	Output *frame.Codec

	Limits Limits
}

// Compile builds the schema for net over io. Only width-relevant parts of the
// network are read.
func Compile(net *network.Network, io protocol.IOConfig, opts Options) (*Schema, error) {
	if net == nil {
		return nil, errors.Wrap(protocol.ErrConfig, "schema: nil network")
	}
	if err := checkSupported(net, io, opts); err != nil {
		return nil, err
	}
	chargeW, wasteful, err := net.ChargeWidth()
	if err != nil {
		return nil, errors.Wrapf(protocol.ErrConfig, "schema: %v", err)
	}
	svf, _ := net.SpikeValueFactor()
	if wasteful {
		log.Warn().
			Float64("spike_value_factor", svf).
			Int("charge_width", chargeW).
			Msg("schema: spike value factor is wider than the weight range")
	}

	s := &Schema{
		IO:               io,
		Options:          opts,
		NumInputs:        net.NumInputs(),
		NumOutputs:       net.NumOutputs(),
		ChargeWidth:      chargeW,
		WastefulCharge:   wasteful,
		SpikeValueFactor: svf,
	}
	if err := s.buildInput(); err != nil {
		return nil, err
	}
	if err := s.buildOutput(); err != nil {
		return nil, err
	}
	s.Limits = s.limits()
	log.Debug().
		Str("io", io.String()).
		Int("charge_width", s.ChargeWidth).
		Int("in_bytes", s.Input.Size()).
		Int("out_bytes", s.Output.Size()).
		Int("max_run", s.Limits.MaxRun).
		Int("max_runs_ahead", s.Limits.MaxRunsAhead).
		Msg("schema compiled")
	return s, nil
}

func checkSupported(net *network.Network, io protocol.IOConfig, opts Options) error {
	if io.Input != protocol.Dispatch && io.Input != protocol.Stream {
		return errors.Wrapf(protocol.ErrConfig, "schema: unsupported input type %s", io.Input)
	}
	switch io.Output {
	case protocol.Dispatch, protocol.Stream:
	case protocol.Decoder:
		return errors.Wrap(protocol.ErrConfig, "schema: decoded output is not supported")
	default:
		return errors.Wrapf(protocol.ErrConfig, "schema: unsupported output type %s", io.Output)
	}
	if net.Proc != network.ProcRISP {
		return errors.Wrapf(protocol.ErrConfig, "schema: unsupported processor %q", net.Proc)
	}
	if !net.Params.Discrete {
		return errors.Wrap(protocol.ErrConfig, "schema: only discrete networks are supported")
	}
	if net.NumInputs() < 1 || net.NumOutputs() < 1 {
		return errors.Wrapf(protocol.ErrConfig, "schema: network needs inputs and outputs, got %d/%d",
			net.NumInputs(), net.NumOutputs())
	}
	if opts.Baud <= 0 {
		return errors.Wrapf(protocol.ErrConfig, "schema: baud rate %d", opts.Baud)
	}
	if io.Output == protocol.Dispatch && opts.ClockHz <= 0 {
		return errors.Wrapf(protocol.ErrConfig, "schema: clock frequency %g", opts.ClockHz)
	}
	if opts.SystemBuffer <= 0 {
		return errors.Wrapf(protocol.ErrConfig, "schema: system buffer %d", opts.SystemBuffer)
	}
	return nil
}

func (s *Schema) buildInput() error {
	fr := s.Options.Framing
	switch s.IO.Input {
	case protocol.Dispatch:
		// commands and spikes share the opcode prefix
		opcode, err := prefix("input_opcode", layout.Field{Name: FieldOpcode, Width: protocol.OpcodeWidth()})
		if err != nil {
			return err
		}
		opc := opcode.Width()
		s.IndexWidth = bits.UnsignedWidth(int64(s.NumInputs - 1))
		payload := s.IndexWidth + s.ChargeWidth
		s.OperandWidth = payload
		if fr.ByteAligned {
			s.OperandWidth = bits.NearestByte(opc+payload) - opc
		}
		cmdWidth := bits.NearestByte(opc + s.OperandWidth)
		cmd, err := s.codec("input_command", fr.Pad, cmdWidth, opcode,
			[]layout.Field{{Name: FieldOperand, Width: s.OperandWidth}})
		if err != nil {
			return err
		}
		spk, err := s.codec("input_spike", fr.Pad, cmdWidth, opcode,
			[]layout.Field{
				{Name: FieldIndex, Width: s.IndexWidth},
				{Name: FieldCharge, Width: s.ChargeWidth, Signed: true},
			})
		if err != nil {
			return err
		}
		s.Input, s.Spike = cmd, spk
	case protocol.Stream:
		flags, err := prefix("input_flags", flagFields()...)
		if err != nil {
			return err
		}
		payload := make([]layout.Field, s.NumInputs)
		for i := range payload {
			payload[i] = layout.Field{Name: ChargeField(i), Width: s.ChargeWidth, Signed: true}
		}
		width := flags.Width() + s.NumInputs*s.ChargeWidth
		in, err := s.codec("input_stream", fr.Pad, bits.NearestByte(width), flags, payload)
		if err != nil {
			return err
		}
		s.Input = in
	}
	return nil
}

func (s *Schema) buildOutput() error {
	fr := s.Options.Framing
	switch s.IO.Output {
	case protocol.Dispatch:
		opcode, err := prefix("output_opcode", layout.Field{Name: FieldOpcode, Width: protocol.OpcodeWidth()})
		if err != nil {
			return err
		}
		opc := opcode.Width()
		s.OutputOperandWidth = bits.UnsignedWidth(int64(s.NumOutputs))
		if fr.ByteAligned {
			s.OutputOperandWidth = bits.NearestByte(opc+s.OutputOperandWidth) - opc
		}
		out, err := s.codec("output_dispatch", fr.Pad, bits.NearestByte(opc+s.OutputOperandWidth), opcode,
			[]layout.Field{{Name: FieldOperand, Width: s.OutputOperandWidth}})
		if err != nil {
			return err
		}
		s.Output = out
	case protocol.Stream:
		flags, err := prefix("output_flags", flagFields()...)
		if err != nil {
			return err
		}
		payload := make([]layout.Field, s.NumOutputs)
		for i := range payload {
			payload[i] = layout.Field{Name: FireField(i), Width: 1}
		}
		width := flags.Width() + s.NumOutputs
		out, err := s.codec("output_stream", fr.Pad, bits.NearestByte(width), flags, payload)
		if err != nil {
			return err
		}
		s.Output = out
	}
	return nil
}

func prefix(name string, fields ...layout.Field) (*layout.Format, error) {
	f, err := layout.New(name, fields...)
	if err != nil {
		return nil, errors.Wrapf(protocol.ErrConfig, "schema: %v", err)
	}
	return f, nil
}

// codec extends head with payload, padded to total bits.
func (s *Schema) codec(name string, pad frame.PadPlacement, total int, head *layout.Format, payload []layout.Field) (*frame.Codec, error) {
	used := head.Width()
	for _, f := range payload {
		used += f.Width
	}
	padField := layout.Field{Name: FieldPad, Width: total - used, Pad: true}
	if padField.Width < 0 {
		return nil, errors.Wrapf(protocol.ErrConfig, "schema: %s needs %d bits, has %d", name, used, total)
	}
	var rest []layout.Field
	if pad == frame.PadTrailing {
		rest = append(append(rest, payload...), padField)
	} else {
		rest = append([]layout.Field{padField}, payload...)
	}
	f, err := head.Extend(name, rest...)
	if err != nil {
		return nil, errors.Wrapf(protocol.ErrConfig, "schema: %v", err)
	}
	c, err := frame.NewCodec(f, s.Options.Framing.Order)
	if err != nil {
		return nil, errors.Wrapf(protocol.ErrConfig, "schema: %v", err)
	}
	return c, nil
}

func (s *Schema) limits() Limits {
	var l Limits
	outBytes := s.Output.Size()
	l.MaxBytesPerRun = outBytes
	if s.IO.Output == protocol.Dispatch {
		l.MaxBytesPerRun = outBytes * (s.NumOutputs + 2)
	}
	l.SecsPerRun = float64(l.MaxBytesPerRun) * 10 / float64(s.Options.Baud)
	if s.IO.Output == protocol.Dispatch {
		l.SecsPerRun += float64(s.NumOutputs) / s.Options.ClockHz
	}
	l.MaxRun = s.Options.SystemBuffer / l.MaxBytesPerRun
	if s.IO.Input == protocol.Dispatch {
		l.MaxRun = min(l.MaxRun, s.Options.RunEncoding.MaxRuns(s.OperandWidth))
	}
	l.MaxRun = max(l.MaxRun, 1)
	l.MaxRunsAhead = l.MaxRun
	if s.Options.MaxRunsAhead > 0 {
		l.MaxRunsAhead = s.Options.MaxRunsAhead
	}
	return l
}

// MaxOutputRuns is the largest cycle count one dispatch output RUN/SNC
// packet carries.
func (s *Schema) MaxOutputRuns() int {
	return s.Options.RunEncoding.MaxRuns(s.OutputOperandWidth)
}

// ChargeRange is the signed range of one charge field.
func (s *Schema) ChargeRange() (lo, hi int64) {
	return -(int64(1) << (s.ChargeWidth - 1)), int64(1)<<(s.ChargeWidth-1) - 1
}

// SpikeCharge scales a real spike value to the integer charge carried on the
// wire, truncating toward zero. The charge must fit one charge field.
func (s *Schema) SpikeCharge(value float64) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %v is not finite", protocol.ErrSpikeValue, value)
	}
	lo, hi := s.ChargeRange()
	scaled := math.Trunc(value * s.SpikeValueFactor)
	if scaled < float64(lo) || scaled > float64(hi) {
		return 0, fmt.Errorf("%w: %v scales to %g, charge range is [%d, %d]", protocol.ErrSpikeValue, value, scaled, lo, hi)
	}
	return int64(scaled), nil
}

func flagFields() []layout.Field {
	flags := protocol.Flags()
	out := make([]layout.Field, len(flags))
	for i, f := range flags {
		out[i] = layout.Field{Name: f.String(), Width: 1}
	}
	return out
}

func ChargeField(i int) string { return fmt.Sprintf("%s[%d]", FieldCharge, i) }

func FireField(i int) string { return fmt.Sprintf("fire[%d]", i) }

// Describe renders the compiled formats and limits as text.
func (s *Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "io=%s inputs=%d outputs=%d charge_width=%d spike_value_factor=%g\n",
		s.IO, s.NumInputs, s.NumOutputs, s.ChargeWidth, s.SpikeValueFactor)
	fmt.Fprintf(&b, "framing byte_aligned=%t order=%s pad=%s run_encoding=%s\n",
		s.Options.Framing.ByteAligned, s.Options.Framing.Order, s.Options.Framing.Pad, s.Options.RunEncoding)
	for _, c := range []*frame.Codec{s.Input, s.Spike, s.Output} {
		if c == nil {
			continue
		}
		describeFormat(&b, c)
	}
	fmt.Fprintf(&b, "limits max_run=%d max_runs_ahead=%d max_bytes_per_run=%d secs_per_run=%.6g\n",
		s.Limits.MaxRun, s.Limits.MaxRunsAhead, s.Limits.MaxBytesPerRun, s.Limits.SecsPerRun)
	if s.WastefulCharge {
		b.WriteString("warning: spike value factor widens the charge field beyond the weight range\n")
	}
	return b.String()
}

func describeFormat(b *strings.Builder, c *frame.Codec) {
	f := c.Format()
	fmt.Fprintf(b, "%s (%d bytes)\n", f.Name(), c.Size())
	hi := f.Width() - 1
	for _, fd := range f.Fields() {
		kind := "u"
		switch {
		case fd.Pad:
			kind = "pad"
		case fd.Signed:
			kind = "s"
		}
		fmt.Fprintf(b, "  [%3d:%3d] %-12s %s%d\n", hi, hi-fd.Width+1, fd.Name, kind, fd.Width)
		hi -= fd.Width
	}
}
