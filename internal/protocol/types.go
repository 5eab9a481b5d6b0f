package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/spikelink/internal/bits"
)

// IOType selects how one direction of the link carries events.
type IOType int

const (
	// Dispatch sends individually addressed packets per event.
	Dispatch IOType = iota
	// Stream sends one fixed-width packet per cycle covering every index.
	Stream
	// Decoder emits decoded output values instead of fire events.
	Decoder
)

func (t IOType) String() string {
	switch t {
	case Dispatch:
		return "dispatch"
	case Stream:
		return "stream"
	case Decoder:
		return "decoder"
	default:
		return fmt.Sprintf("iotype(%d)", int(t))
	}
}

func (t IOType) letter() byte {
	switch t {
	case Dispatch:
		return 'D'
	case Stream:
		return 'S'
	case Decoder:
		return 'V'
	default:
		return '?'
	}
}

// IOConfig pairs the input and output io types.
type IOConfig struct {
	Input  IOType
	Output IOType
}

// String renders the io type string, e.g. "DISO".
func (c IOConfig) String() string {
	return string([]byte{c.Input.letter(), 'I', c.Output.letter(), 'O'})
}

// ParseIOType parses "(D|S)I(D|S|V)O", case-insensitive.
func ParseIOType(raw string) (IOConfig, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) != 4 || s[1] != 'I' || s[3] != 'O' {
		return IOConfig{}, fmt.Errorf("%w: invalid io type %q, expected (D|S)I(D|S)O", ErrConfig, raw)
	}
	var cfg IOConfig
	switch s[0] {
	case 'D':
		cfg.Input = Dispatch
	case 'S':
		cfg.Input = Stream
	default:
		return IOConfig{}, fmt.Errorf("%w: invalid input type %cI, expected (D|S)I", ErrConfig, s[0])
	}
	switch s[2] {
	case 'D':
		cfg.Output = Dispatch
	case 'S':
		cfg.Output = Stream
	case 'V':
		cfg.Output = Decoder
	default:
		return IOConfig{}, fmt.Errorf("%w: invalid output type %cO, expected (D|S)O", ErrConfig, s[2])
	}
	return cfg, nil
}

// Opcode is the dispatch packet prefix, shared by both directions.
type Opcode uint8

const (
	OpNOP Opcode = iota
	OpRUN
	OpSPK
	OpCLR
	OpSNC
	opLimit
)

var opcodeNames = [...]string{"NOP", "RUN", "SPK", "CLR", "SNC"}

func (o Opcode) String() string {
	if o < opLimit {
		return opcodeNames[o]
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

func (o Opcode) Valid() bool { return o < opLimit }

// OpcodeWidth is the number of bits holding every dispatch opcode.
func OpcodeWidth() int { return bits.UnsignedWidth(int64(opLimit - 1)) }

// Flag indexes the per-cycle control bits of stream packets.
type Flag int

const (
	FlagSNC Flag = iota
	FlagCLR
	flagLimit
)

func (f Flag) String() string {
	switch f {
	case FlagSNC:
		return "snc"
	case FlagCLR:
		return "clr"
	default:
		return fmt.Sprintf("flag(%d)", int(f))
	}
}

// FlagWidth is one bit per stream flag.
func FlagWidth() int { return int(flagLimit) }

// Flags lists the stream flags in field order.
func Flags() []Flag { return []Flag{FlagSNC, FlagCLR} }

// RunEncoding fixes how a RUN/SNC operand maps to a cycle count. Fabric
// revisions disagree on whether the operand counts cycles or names the last
// cycle of the chunk.
type RunEncoding int

const (
	// RunCount: operand n runs n cycles.
	RunCount RunEncoding = iota
	// RunLastCycle: operand n runs n+1 cycles.
	RunLastCycle
)

func (e RunEncoding) String() string {
	if e == RunLastCycle {
		return "last-cycle"
	}
	return "count"
}

// ParseRunEncoding accepts "count" and "last-cycle".
func ParseRunEncoding(raw string) (RunEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "count", "exclusive":
		return RunCount, nil
	case "last-cycle", "last_cycle", "inclusive":
		return RunLastCycle, nil
	default:
		return RunCount, fmt.Errorf("%w: invalid run encoding %q", ErrConfig, raw)
	}
}

// Operand maps a cycle count (>= 1) to its wire operand.
func (e RunEncoding) Operand(runs int) int64 {
	if e == RunLastCycle {
		return int64(runs - 1)
	}
	return int64(runs)
}

// Runs maps a wire operand back to a cycle count.
func (e RunEncoding) Runs(operand int64) int {
	if e == RunLastCycle {
		return int(operand) + 1
	}
	return int(operand)
}

// MaxRuns is the largest count an operand of width bits can carry.
func (e RunEncoding) MaxRuns(width int) int {
	if width <= 0 {
		return 0
	}
	if width >= 62 {
		width = 62
	}
	limit := (1 << width) - 1
	if e == RunLastCycle {
		return limit + 1
	}
	return limit
}
