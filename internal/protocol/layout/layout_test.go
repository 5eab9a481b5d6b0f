package layout

import (
	"testing"

	"github.com/danmuck/spikelink/internal/bits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOffsetsMostSignificantFirst(t *testing.T) {
	f, err := New("spk",
		Field{Name: "opcode", Width: 3},
		Field{Name: "pad", Width: 1, Pad: true},
		Field{Name: "charge", Width: 4, Signed: true},
	)
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width())
	assert.Equal(t, 1, f.Bytes())

	b, err := f.Encode([]int64{2, 0, -3})
	require.NoError(t, err)
	// 010 0 1101
	want := []uint{0, 2, 3, 6}
	for i := uint(0); i < 8; i++ {
		assert.Equal(t, contains(want, i), b.Test(i), "bit %d", i)
	}

	values, err := f.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 0, -3}, values)
}

func TestFormatDropsZeroWidthAndRejectsDuplicates(t *testing.T) {
	f, err := New("cmd", Field{Name: "opcode", Width: 3}, Field{Name: "index", Width: 0}, Field{Name: "operand", Width: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, f.NumFields())
	assert.Equal(t, -1, f.Lookup("index"))
	assert.Equal(t, 1, f.Lookup("operand"))

	_, err = New("dup", Field{Name: "a", Width: 1}, Field{Name: "a", Width: 2})
	assert.ErrorIs(t, err, ErrDuplicateField)
	_, err = New("wide", Field{Name: "a", Width: 65})
	assert.ErrorIs(t, err, ErrFieldWidth)
}

func TestFormatExtendSharesPrefix(t *testing.T) {
	prefix, err := New("prefix", Field{Name: "opcode", Width: 3})
	require.NoError(t, err)
	cmd, err := prefix.Extend("cmd", Field{Name: "operand", Width: 13})
	require.NoError(t, err)
	assert.Equal(t, 16, cmd.Width())
	assert.Equal(t, 1, prefix.NumFields())
	assert.Equal(t, "cmd{opcode:u3 operand:u13}", cmd.String())
}

func TestEncodeRangeAndCountErrors(t *testing.T) {
	f, err := New("f", Field{Name: "u", Width: 2}, Field{Name: "s", Width: 3, Signed: true})
	require.NoError(t, err)
	_, err = f.Encode([]int64{4, 0})
	assert.ErrorIs(t, err, bits.ErrRange)
	_, err = f.Encode([]int64{0, 4})
	assert.ErrorIs(t, err, bits.ErrRange)
	_, err = f.Encode([]int64{0})
	assert.ErrorIs(t, err, ErrValueCount)
}

func TestWideStreamFormatRoundTrip(t *testing.T) {
	fields := []Field{{Name: "snc", Width: 1}, {Name: "clr", Width: 1}}
	var values []int64
	values = append(values, 1, 0)
	for i := 0; i < 20; i++ {
		fields = append(fields, Field{Name: "charge[" + string(rune('a'+i)) + "]", Width: 5, Signed: true})
		values = append(values, int64(i-10))
	}
	f, err := New("stream", fields...)
	require.NoError(t, err)
	assert.Equal(t, 102, f.Width())
	b, err := f.Encode(values)
	require.NoError(t, err)
	got, err := f.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func contains(list []uint, v uint) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
