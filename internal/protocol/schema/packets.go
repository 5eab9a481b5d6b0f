package schema

import (
	"fmt"

	"github.com/danmuck/spikelink/internal/protocol"
)

// Command is a dispatch packet with an opcode and an unsigned operand. It is
// used for dispatch input commands and every dispatch output packet.
type Command struct {
	Op      protocol.Opcode
	Operand int64
}

func (c Command) String() string { return fmt.Sprintf("%s(%d)", c.Op, c.Operand) }

// SpikePacket is a dispatch input spike.
type SpikePacket struct {
	Index  int
	Charge int64
}

// StreamInput is one cycle of stream input.
type StreamInput struct {
	SNC, CLR bool
	Charges  []int64
}

// StreamOutput is one cycle of stream output.
type StreamOutput struct {
	SNC, CLR bool
	Fires    []bool
}

func (s *Schema) EncodeCommand(c Command) ([]byte, error) {
	if s.IO.Input != protocol.Dispatch {
		return nil, fmt.Errorf("%w: command packets need dispatch input", protocol.ErrUsage)
	}
	return encodeCommand(s.Input.Format().Lookup, s.Input.Encode, s.Input.Format().Zero(), c)
}

func (s *Schema) DecodeCommand(b []byte) (Command, error) {
	if s.IO.Input != protocol.Dispatch {
		return Command{}, fmt.Errorf("%w: command packets need dispatch input", protocol.ErrUsage)
	}
	vals, err := s.Input.Decode(b)
	if err != nil {
		return Command{}, err
	}
	f := s.Input.Format()
	return Command{
		Op:      protocol.Opcode(vals[f.Lookup(FieldOpcode)]),
		Operand: lookup(vals, f.Lookup(FieldOperand)),
	}, nil
}

func (s *Schema) EncodeSpike(p SpikePacket) ([]byte, error) {
	if s.Spike == nil {
		return nil, fmt.Errorf("%w: spike packets need dispatch input", protocol.ErrUsage)
	}
	f := s.Spike.Format()
	vals := f.Zero()
	vals[f.Lookup(FieldOpcode)] = int64(protocol.OpSPK)
	if i := f.Lookup(FieldIndex); i >= 0 {
		vals[i] = int64(p.Index)
	} else if p.Index != 0 {
		return nil, fmt.Errorf("%w: input index %d", protocol.ErrBadPacket, p.Index)
	}
	vals[f.Lookup(FieldCharge)] = p.Charge
	return s.Spike.Encode(vals)
}

func (s *Schema) DecodeSpike(b []byte) (SpikePacket, error) {
	if s.Spike == nil {
		return SpikePacket{}, fmt.Errorf("%w: spike packets need dispatch input", protocol.ErrUsage)
	}
	vals, err := s.Spike.Decode(b)
	if err != nil {
		return SpikePacket{}, err
	}
	f := s.Spike.Format()
	return SpikePacket{
		Index:  int(lookup(vals, f.Lookup(FieldIndex))),
		Charge: vals[f.Lookup(FieldCharge)],
	}, nil
}

// InputOpcode reads the opcode of a dispatch input packet without decoding
// the rest. Command and spike packets share the prefix.
func (s *Schema) InputOpcode(b []byte) (protocol.Opcode, error) {
	c, err := s.DecodeCommand(b)
	return c.Op, err
}

func (s *Schema) EncodeStreamInput(p StreamInput) ([]byte, error) {
	if s.IO.Input != protocol.Stream {
		return nil, fmt.Errorf("%w: stream packets need stream input", protocol.ErrUsage)
	}
	if len(p.Charges) != s.NumInputs {
		return nil, fmt.Errorf("%w: %d charges for %d inputs", protocol.ErrBadPacket, len(p.Charges), s.NumInputs)
	}
	f := s.Input.Format()
	vals := f.Zero()
	setFlags(vals, f.Lookup, p.SNC, p.CLR)
	for i, c := range p.Charges {
		vals[f.Lookup(ChargeField(i))] = c
	}
	return s.Input.Encode(vals)
}

func (s *Schema) DecodeStreamInput(b []byte) (StreamInput, error) {
	if s.IO.Input != protocol.Stream {
		return StreamInput{}, fmt.Errorf("%w: stream packets need stream input", protocol.ErrUsage)
	}
	vals, err := s.Input.Decode(b)
	if err != nil {
		return StreamInput{}, err
	}
	f := s.Input.Format()
	out := StreamInput{Charges: make([]int64, s.NumInputs)}
	out.SNC, out.CLR = flags(vals, f.Lookup)
	for i := range out.Charges {
		out.Charges[i] = vals[f.Lookup(ChargeField(i))]
	}
	return out, nil
}

func (s *Schema) EncodeOutputCommand(c Command) ([]byte, error) {
	if s.IO.Output != protocol.Dispatch {
		return nil, fmt.Errorf("%w: command packets need dispatch output", protocol.ErrUsage)
	}
	return encodeCommand(s.Output.Format().Lookup, s.Output.Encode, s.Output.Format().Zero(), c)
}

func (s *Schema) DecodeOutputCommand(b []byte) (Command, error) {
	if s.IO.Output != protocol.Dispatch {
		return Command{}, fmt.Errorf("%w: command packets need dispatch output", protocol.ErrUsage)
	}
	vals, err := s.Output.Decode(b)
	if err != nil {
		return Command{}, err
	}
	f := s.Output.Format()
	return Command{
		Op:      protocol.Opcode(vals[f.Lookup(FieldOpcode)]),
		Operand: vals[f.Lookup(FieldOperand)],
	}, nil
}

func (s *Schema) EncodeStreamOutput(p StreamOutput) ([]byte, error) {
	if s.IO.Output != protocol.Stream {
		return nil, fmt.Errorf("%w: stream packets need stream output", protocol.ErrUsage)
	}
	if len(p.Fires) != s.NumOutputs {
		return nil, fmt.Errorf("%w: %d fires for %d outputs", protocol.ErrBadPacket, len(p.Fires), s.NumOutputs)
	}
	f := s.Output.Format()
	vals := f.Zero()
	setFlags(vals, f.Lookup, p.SNC, p.CLR)
	for i, fire := range p.Fires {
		if fire {
			vals[f.Lookup(FireField(i))] = 1
		}
	}
	return s.Output.Encode(vals)
}

func (s *Schema) DecodeStreamOutput(b []byte) (StreamOutput, error) {
	if s.IO.Output != protocol.Stream {
		return StreamOutput{}, fmt.Errorf("%w: stream packets need stream output", protocol.ErrUsage)
	}
	vals, err := s.Output.Decode(b)
	if err != nil {
		return StreamOutput{}, err
	}
	f := s.Output.Format()
	out := StreamOutput{Fires: make([]bool, s.NumOutputs)}
	out.SNC, out.CLR = flags(vals, f.Lookup)
	for i := range out.Fires {
		out.Fires[i] = vals[f.Lookup(FireField(i))] != 0
	}
	return out, nil
}

func encodeCommand(find func(string) int, enc func([]int64) ([]byte, error), vals []int64, c Command) ([]byte, error) {
	if !c.Op.Valid() {
		return nil, fmt.Errorf("%w: opcode %d", protocol.ErrBadPacket, uint8(c.Op))
	}
	vals[find(FieldOpcode)] = int64(c.Op)
	if i := find(FieldOperand); i >= 0 {
		vals[i] = c.Operand
	} else if c.Operand != 0 {
		return nil, fmt.Errorf("%w: operand %d has no field", protocol.ErrBadPacket, c.Operand)
	}
	return enc(vals)
}

func setFlags(vals []int64, find func(string) int, snc, clr bool) {
	if snc {
		vals[find(protocol.FlagSNC.String())] = 1
	}
	if clr {
		vals[find(protocol.FlagCLR.String())] = 1
	}
}

func flags(vals []int64, find func(string) int) (snc, clr bool) {
	return vals[find(protocol.FlagSNC.String())] != 0, vals[find(protocol.FlagCLR.String())] != 0
}

func lookup(vals []int64, i int) int64 {
	if i < 0 {
		return 0
	}
	return vals[i]
}
