// Package layout describes packets as ordered bit fields and packs field
// values into bit vectors. Field 0 is the most significant.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/danmuck/spikelink/internal/bits"
)

var (
	ErrDuplicateField = errors.New("layout: duplicate field name")
	ErrFieldWidth     = errors.New("layout: invalid field width")
	ErrValueCount     = errors.New("layout: value count does not match field count")
	ErrVectorWidth    = errors.New("layout: bit vector width mismatch")
)

// Field is one named bit field. Pad fields always encode as zero and decode
// to zero.
type Field struct {
	Name   string
	Width  int
	Signed bool
	Pad    bool
}

func (f Field) String() string {
	switch {
	case f.Pad:
		return fmt.Sprintf("%s:p%d", f.Name, f.Width)
	case f.Signed:
		return fmt.Sprintf("%s:s%d", f.Name, f.Width)
	default:
		return fmt.Sprintf("%s:u%d", f.Name, f.Width)
	}
}

// Format is an immutable ordered list of fields.
type Format struct {
	name    string
	fields  []Field
	offsets []int
	index   map[string]int
	width   int
}

// New builds a format. Zero-width fields are dropped.
func New(name string, fields ...Field) (*Format, error) {
	f := &Format{name: name, index: make(map[string]int)}
	for _, fd := range fields {
		if fd.Width < 0 || fd.Width > 64 {
			return nil, fmt.Errorf("%w: %s width %d", ErrFieldWidth, fd.Name, fd.Width)
		}
		if fd.Width == 0 {
			continue
		}
		if _, ok := f.index[fd.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, fd.Name)
		}
		f.index[fd.Name] = len(f.fields)
		f.fields = append(f.fields, fd)
		f.width += fd.Width
	}
	f.offsets = make([]int, len(f.fields))
	off := f.width
	for i, fd := range f.fields {
		off -= fd.Width
		f.offsets[i] = off
	}
	return f, nil
}

// Extend returns a new format with fields appended after f's fields.
func (f *Format) Extend(name string, fields ...Field) (*Format, error) {
	all := append(append([]Field(nil), f.fields...), fields...)
	return New(name, all...)
}

func (f *Format) Name() string { return f.name }

// Width is the total width in bits.
func (f *Format) Width() int { return f.width }

// Bytes is the width rounded up to whole bytes.
func (f *Format) Bytes() int { return bits.BitsToBytes(f.width) }

func (f *Format) NumFields() int { return len(f.fields) }

func (f *Format) Field(i int) Field { return f.fields[i] }

func (f *Format) Fields() []Field { return append([]Field(nil), f.fields...) }

// Lookup returns the position of field name, or -1.
func (f *Format) Lookup(name string) int {
	if i, ok := f.index[name]; ok {
		return i
	}
	return -1
}

// Zero returns a value slice sized for f.
func (f *Format) Zero() []int64 { return make([]int64, len(f.fields)) }

// Encode packs one value per field into a bit vector of Width bits.
func (f *Format) Encode(values []int64) (*bitset.BitSet, error) {
	if len(values) != len(f.fields) {
		return nil, fmt.Errorf("%w: %s got=%d want=%d", ErrValueCount, f.name, len(values), len(f.fields))
	}
	out := bitset.New(uint(f.width))
	for i, fd := range f.fields {
		if fd.Pad {
			continue
		}
		var (
			vec []bool
			err error
		)
		if fd.Signed {
			vec, err = bits.EncodeSigned(values[i], fd.Width)
		} else {
			vec, err = bits.EncodeUnsigned(values[i], fd.Width)
		}
		if err != nil {
			return nil, fmt.Errorf("layout: %s.%s: %w", f.name, fd.Name, err)
		}
		for j, bit := range vec {
			if bit {
				out.Set(uint(f.offsets[i] + fd.Width - 1 - j))
			}
		}
	}
	return out, nil
}

// Decode unpacks a bit vector into one value per field.
func (f *Format) Decode(b *bitset.BitSet) ([]int64, error) {
	if b == nil || int(b.Len()) < f.width {
		return nil, fmt.Errorf("%w: %s", ErrVectorWidth, f.name)
	}
	values := make([]int64, len(f.fields))
	for i, fd := range f.fields {
		if fd.Pad {
			continue
		}
		vec := make([]bool, fd.Width)
		for j := range vec {
			vec[j] = b.Test(uint(f.offsets[i] + fd.Width - 1 - j))
		}
		if fd.Signed {
			values[i] = bits.DecodeSigned(vec)
		} else {
			values[i] = bits.DecodeUnsigned(vec)
		}
	}
	return values, nil
}

// String renders the fields most significant first.
func (f *Format) String() string {
	parts := make([]string, len(f.fields))
	for i, fd := range f.fields {
		parts[i] = fd.String()
	}
	return f.name + "{" + strings.Join(parts, " ") + "}"
}
