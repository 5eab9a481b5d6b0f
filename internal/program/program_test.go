package program

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/spikelink/internal/config"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/testutil/testlog"
	"github.com/danmuck/spikelink/internal/testutil/testnet"
	"github.com/danmuck/spikelink/internal/tools"
)

type fakeRunner struct {
	got  tools.Command
	res  tools.Result
	err  error
	runs int
}

func (f *fakeRunner) Run(_ context.Context, cmd tools.Command) (tools.Result, error) {
	f.runs++
	f.got = cmd
	return f.res, f.err
}

func testBuild(t *testing.T) Build {
	return Build{
		Target:      "basys3",
		IO:          protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Stream},
		Network:     testnet.Simple(t),
		NetworkPath: "/nets/simple.json",
		ChargeWidth: 4,
		NumInputs:   1,
		NumOutputs:  1,
		Baud:        3000000,
		ClockHz:     100e6,
		BuildDir:    "/tmp/build",
	}
}

func TestCommandProgrammerExpandsVars(t *testing.T) {
	testlog.Start(t)
	runner := &fakeRunner{}
	p := &CommandProgrammer{
		Runner:  runner,
		Command: []string{"prog", "${TARGET}", "--io=${IO_TYPE}", "${INPUT_SOURCE}", "${OUTPUT_SINK}", "${CLK_FREQ}", "${BAUD_RATE}"},
		Dir:     "${BUILD_DIR}",
		Env:     map[string]string{"BOARD": "b3"},
	}
	if err := p.Program(context.Background(), testBuild(t)); err != nil {
		t.Fatalf("program: %v", err)
	}
	want := []string{"basys3", "--io=DISO", "dispatch_source", "stream_sink", "100000000", "3000000"}
	if runner.got.Name != "prog" || strings.Join(runner.got.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("argv got=%s %v want=%v", runner.got.Name, runner.got.Args, want)
	}
	if runner.got.Dir != "/tmp/build" {
		t.Fatalf("dir got=%q", runner.got.Dir)
	}
	env := strings.Join(runner.got.Env, "\n")
	if !strings.Contains(env, "BOARD=b3") || !strings.Contains(env, "SPIKELINK_NUM_INPUTS=1") || !strings.Contains(env, "SPIKELINK_PROC=risp") {
		t.Fatalf("env got=%v", runner.got.Env)
	}
}

func TestCommandProgrammerReportsFailure(t *testing.T) {
	testlog.Start(t)
	runner := &fakeRunner{
		res: tools.Result{ExitCode: 2, Stderr: []byte("ERROR: [Labtools 27-3161] no hardware target")},
		err: errors.New("exit status 2"),
	}
	p := &CommandProgrammer{Runner: runner, Command: []string{"vivado"}}
	err := p.Program(context.Background(), testBuild(t))
	if err == nil || !strings.Contains(err.Error(), "no hardware target") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestCommandProgrammerEmpty(t *testing.T) {
	testlog.Start(t)
	p := &CommandProgrammer{Runner: &fakeRunner{}}
	if err := p.Program(context.Background(), testBuild(t)); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	noop := Func(func(context.Context, Build) error { return nil })
	if err := r.Register("emulator", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("emulator", noop); !errors.Is(err, ErrProgrammerExists) {
		t.Fatalf("expected ErrProgrammerExists, got %v", err)
	}
	if err := r.Register("Bad Name", noop); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if err := r.Register("x", nil); !errors.Is(err, ErrProgrammerNil) {
		t.Fatalf("expected ErrProgrammerNil, got %v", err)
	}
	if _, ok := r.Resolve("emulator"); !ok {
		t.Fatalf("resolve emulator failed")
	}
}

func TestFromTarget(t *testing.T) {
	testlog.Start(t)
	cat, err := config.DefaultTargets()
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	basys, _ := cat.Lookup("basys3")
	r, err := FromTarget(basys)
	if err != nil {
		t.Fatalf("from target: %v", err)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "vivado" {
		t.Fatalf("names got=%v", names)
	}
	sim, _ := cat.Lookup("sim")
	r, err = FromTarget(sim)
	if err != nil {
		t.Fatalf("from sim target: %v", err)
	}
	if len(r.Names()) != 0 {
		t.Fatalf("sim has no command tools, got=%v", r.Names())
	}
}
