// Package frame maps packet bit vectors to the bytes carried by the link
// and back.
//
// A packet is always a whole number of bytes; the schema compiler places the
// padding. On the wire the packet is transmitted least significant byte
// first by default, i.e. reversed relative to field order.
package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/danmuck/spikelink/internal/bits"
	"github.com/danmuck/spikelink/internal/protocol/layout"
)

var (
	ErrUnaligned    = errors.New("frame: packet width is not byte aligned")
	ErrSizeMismatch = errors.New("frame: packet size mismatch")
)

// ByteOrder is the order packet bytes travel on the link.
type ByteOrder int

const (
	// LSBFirst sends the least significant byte (last fields) first.
	LSBFirst ByteOrder = iota
	// MSBFirst sends bytes in field-definition order.
	MSBFirst
)

func (o ByteOrder) String() string {
	if o == MSBFirst {
		return "msb-first"
	}
	return "lsb-first"
}

// PadPlacement is where the schema compiler inserts byte padding.
type PadPlacement int

const (
	// PadAfterPrefix puts padding between the opcode/flags and the payload.
	PadAfterPrefix PadPlacement = iota
	// PadTrailing puts padding after the last field.
	PadTrailing
)

func (p PadPlacement) String() string {
	if p == PadTrailing {
		return "trailing"
	}
	return "after-prefix"
}

// Framing is the transport convention packets follow.
type Framing struct {
	// ByteAligned widens dispatch command operands to the byte boundary
	// instead of sizing them to index + charge.
	ByteAligned bool
	Order       ByteOrder
	Pad         PadPlacement
}

// DefaultFraming matches the UART/AXI-stream fabric.
func DefaultFraming() Framing {
	return Framing{ByteAligned: true, Order: LSBFirst, Pad: PadAfterPrefix}
}

// ParseByteOrder accepts "lsb-first" and "msb-first".
func ParseByteOrder(raw string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "lsb-first", "lsb", "reversed":
		return LSBFirst, nil
	case "msb-first", "msb":
		return MSBFirst, nil
	default:
		return LSBFirst, fmt.Errorf("frame: invalid byte order %q", raw)
	}
}

// ParsePadPlacement accepts "after-prefix" and "trailing".
func ParsePadPlacement(raw string) (PadPlacement, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "after-prefix", "prefix":
		return PadAfterPrefix, nil
	case "trailing":
		return PadTrailing, nil
	default:
		return PadAfterPrefix, fmt.Errorf("frame: invalid pad placement %q", raw)
	}
}

// Codec converts values of one format to and from wire bytes.
type Codec struct {
	format *layout.Format
	order  ByteOrder
	size   int
}

func NewCodec(f *layout.Format, order ByteOrder) (*Codec, error) {
	if !bits.IsByteAligned(f.Width()) {
		return nil, fmt.Errorf("%w: %s is %d bits", ErrUnaligned, f.Name(), f.Width())
	}
	return &Codec{format: f, order: order, size: f.Bytes()}, nil
}

func (c *Codec) Format() *layout.Format { return c.format }

// Size is the packet size in bytes.
func (c *Codec) Size() int { return c.size }

func (c *Codec) Encode(values []int64) ([]byte, error) {
	vec, err := c.format.Encode(values)
	if err != nil {
		return nil, err
	}
	return c.Marshal(vec), nil
}

func (c *Codec) Decode(b []byte) ([]int64, error) {
	vec, err := c.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return c.format.Decode(vec)
}

// Marshal lays a bit vector out as bytes in the codec's byte order.
func (c *Codec) Marshal(vec *bitset.BitSet) []byte {
	out := make([]byte, c.size)
	for k := 0; k < c.size; k++ {
		var v byte
		for i := 0; i < 8; i++ {
			if vec.Test(uint(8*k + i)) {
				v |= 1 << i
			}
		}
		out[c.byteSlot(k)] = v
	}
	return out
}

// Unmarshal is the inverse of Marshal.
func (c *Codec) Unmarshal(b []byte) (*bitset.BitSet, error) {
	if len(b) != c.size {
		return nil, fmt.Errorf("%w: got=%d want=%d", ErrSizeMismatch, len(b), c.size)
	}
	vec := bitset.New(uint(c.format.Width()))
	for k := 0; k < c.size; k++ {
		v := b[c.byteSlot(k)]
		for i := 0; i < 8; i++ {
			if v&(1<<i) != 0 {
				vec.Set(uint(8*k + i))
			}
		}
	}
	return vec, nil
}

// byteSlot maps significance k (0 = least significant byte) to the wire
// position.
func (c *Codec) byteSlot(k int) int {
	if c.order == MSBFirst {
		return c.size - 1 - k
	}
	return k
}
