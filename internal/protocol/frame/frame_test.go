package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/spikelink/internal/protocol/layout"
	"github.com/danmuck/spikelink/internal/testutil/testlog"
)

func spikeFormat(t *testing.T) *layout.Format {
	t.Helper()
	f, err := layout.New("spk",
		layout.Field{Name: "opcode", Width: 3},
		layout.Field{Name: "pad", Width: 5, Pad: true},
		layout.Field{Name: "index", Width: 4},
		layout.Field{Name: "charge", Width: 4, Signed: true},
	)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	return f
}

func TestCodecLSBFirstReversesFieldOrder(t *testing.T) {
	testlog.Start(t)
	c, err := NewCodec(spikeFormat(t), LSBFirst)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	b, err := c.Encode([]int64{2, 0, 5, -1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// fields: 010 00000 | 0101 1111 -> msb byte 0x40, lsb byte 0x5F
	if !bytes.Equal(b, []byte{0x5F, 0x40}) {
		t.Fatalf("wire got=% x want=5f 40", b)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0] != 2 || got[2] != 5 || got[3] != -1 {
		t.Fatalf("decode got=%v", got)
	}
}

func TestCodecMSBFirst(t *testing.T) {
	testlog.Start(t)
	c, err := NewCodec(spikeFormat(t), MSBFirst)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	b, err := c.Encode([]int64{2, 0, 5, -1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(b, []byte{0x40, 0x5F}) {
		t.Fatalf("wire got=% x want=40 5f", b)
	}
}

func TestCodecRejectsUnalignedFormat(t *testing.T) {
	testlog.Start(t)
	f, _ := layout.New("odd", layout.Field{Name: "a", Width: 3})
	if _, err := NewCodec(f, LSBFirst); !errors.Is(err, ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	testlog.Start(t)
	c, _ := NewCodec(spikeFormat(t), LSBFirst)
	if _, err := c.Decode([]byte{1, 2, 3}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, err := c.Decode([]byte{1}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestParseFramingOptions(t *testing.T) {
	testlog.Start(t)
	if o, err := ParseByteOrder("msb-first"); err != nil || o != MSBFirst {
		t.Fatalf("order got=%v err=%v", o, err)
	}
	if _, err := ParseByteOrder("middle"); err == nil {
		t.Fatalf("expected error")
	}
	if p, err := ParsePadPlacement("trailing"); err != nil || p != PadTrailing {
		t.Fatalf("pad got=%v err=%v", p, err)
	}
	if d := DefaultFraming(); !d.ByteAligned || d.Order != LSBFirst || d.Pad != PadAfterPrefix {
		t.Fatalf("default framing got=%+v", d)
	}
}
