package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/spikelink/internal/testutil/testlog"
)

func TestParseIOType(t *testing.T) {
	testlog.Start(t)
	cases := map[string]IOConfig{
		"DIDO":   {Input: Dispatch, Output: Dispatch},
		"diso":   {Input: Dispatch, Output: Stream},
		"SIDO":   {Input: Stream, Output: Dispatch},
		" siso ": {Input: Stream, Output: Stream},
		"DIVO":   {Input: Dispatch, Output: Decoder},
	}
	for raw, want := range cases {
		got, err := ParseIOType(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q got=%+v want=%+v", raw, got, want)
		}
	}
	for _, bad := range []string{"", "XIDO", "DIXO", "DIDOX", "DADO"} {
		if _, err := ParseIOType(bad); !errors.Is(err, ErrConfig) {
			t.Fatalf("parse %q: expected ErrConfig, got %v", bad, err)
		}
	}
	if s := (IOConfig{Input: Stream, Output: Dispatch}).String(); s != "SIDO" {
		t.Fatalf("string got=%q", s)
	}
}

func TestOpcodeAndFlagWidths(t *testing.T) {
	testlog.Start(t)
	if OpcodeWidth() != 3 {
		t.Fatalf("opcode width got=%d", OpcodeWidth())
	}
	if FlagWidth() != 2 {
		t.Fatalf("flag width got=%d", FlagWidth())
	}
	if OpSNC.String() != "SNC" || Opcode(9).Valid() {
		t.Fatalf("opcode names broken")
	}
}

func TestRunEncoding(t *testing.T) {
	testlog.Start(t)
	if RunCount.Operand(5) != 5 || RunCount.Runs(5) != 5 {
		t.Fatalf("count encoding broken")
	}
	if RunLastCycle.Operand(5) != 4 || RunLastCycle.Runs(4) != 5 {
		t.Fatalf("last-cycle encoding broken")
	}
	if RunCount.MaxRuns(5) != 31 || RunLastCycle.MaxRuns(5) != 32 {
		t.Fatalf("max runs got=%d/%d", RunCount.MaxRuns(5), RunLastCycle.MaxRuns(5))
	}
	if _, err := ParseRunEncoding("sideways"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	testlog.Start(t)
	if !errors.Is(ErrSpikeInPast, ErrUsage) || errors.Is(ErrSpikeInPast, ErrProtocol) {
		t.Fatalf("spike-in-past kind wrong")
	}
	if !errors.Is(ErrSyncMismatch, ErrProtocol) {
		t.Fatalf("sync mismatch kind wrong")
	}
	if !errors.Is(ErrProgram, ErrResource) {
		t.Fatalf("program kind wrong")
	}
}
