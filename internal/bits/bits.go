// Package bits holds the width arithmetic and two's complement bit-vector
// codecs shared by the schema compiler and the packet layouts.
//
// Bit vectors are []bool, most significant bit first.
package bits

import (
	"errors"
	"fmt"
)

// ErrRange is matched by every RangeError.
var ErrRange = errors.New("bits: value out of range")

// RangeError reports a value that cannot be represented in Width bits.
type RangeError struct {
	Value  int64
	Width  int
	Signed bool
}

func (e *RangeError) Error() string {
	kind := "unsigned"
	if e.Signed {
		kind = "signed"
	}
	return fmt.Sprintf("bits: value %d does not fit in %d %s bits", e.Value, e.Width, kind)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }

// CeilLog2 returns the smallest k with 2^k >= n. n <= 1 yields 0.
func CeilLog2(n int64) int {
	k := 0
	for v := int64(1); v < n; v <<= 1 {
		k++
	}
	return k
}

func BitsToBytes(bits int) int { return (bits + 7) / 8 }

func BytesToBits(bytes int) int { return bytes * 8 }

// NearestByte rounds bits up to a whole number of bytes, in bits.
func NearestByte(bits int) int { return BytesToBits(BitsToBytes(bits)) }

func IsByteAligned(bits int) bool { return bits%8 == 0 }

// PaddingToByte is the number of bits needed to reach the next byte boundary.
func PaddingToByte(bits int) int { return NearestByte(bits) - bits }

// SignedWidth is the minimal two's complement width holding v.
func SignedWidth(v int64) int {
	if v < 0 {
		v = -v - 1
	}
	w := 1
	for ; v > 0; v >>= 1 {
		w++
	}
	return w
}

// UnsignedWidth is SignedWidth without the sign bit. UnsignedWidth(0) is 0.
// Negative values have no unsigned width and report -1.
func UnsignedWidth(v int64) int {
	if v < 0 {
		return -1
	}
	return SignedWidth(v) - 1
}

// EncodeSigned encodes v as a width-bit two's complement vector. A zero
// width infers the minimal width.
func EncodeSigned(v int64, width int) ([]bool, error) {
	if width <= 0 {
		width = SignedWidth(v)
	}
	if width > 64 || SignedWidth(v) > width {
		return nil, &RangeError{Value: v, Width: width, Signed: true}
	}
	out := make([]bool, width)
	u := uint64(v)
	for i := 0; i < width; i++ {
		out[width-1-i] = u&(1<<uint(i)) != 0
	}
	return out, nil
}

// DecodeSigned reads a two's complement vector. An empty vector is 0.
func DecodeSigned(b []bool) int64 {
	if len(b) == 0 {
		return 0
	}
	var v int64
	if b[0] {
		v = -1
	}
	for _, bit := range b {
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v
}

// EncodeUnsigned encodes v in width bits by running the signed codec over
// width+1 bits and dropping the leading zero sign bit.
func EncodeUnsigned(v int64, width int) ([]bool, error) {
	if v < 0 {
		return nil, &RangeError{Value: v, Width: width}
	}
	if width <= 0 {
		width = UnsignedWidth(v)
		if width == 0 {
			return []bool{}, nil
		}
	}
	b, err := EncodeSigned(v, width+1)
	if err != nil {
		return nil, &RangeError{Value: v, Width: width}
	}
	return b[1:], nil
}

// DecodeUnsigned is DecodeSigned over the vector with a zero sign bit
// prepended.
func DecodeUnsigned(b []bool) int64 {
	return DecodeSigned(append([]bool{false}, b...))
}
