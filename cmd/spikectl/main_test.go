package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/spikelink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleNetwork = "../../internal/network/testdata/simple.json"

func TestRunCommandOnEmulator(t *testing.T) {
	testlog.Start(t)
	var out strings.Builder
	err := run(context.Background(), []string{
		"run", "-network", simpleNetwork, "-run", "10",
		"-spike", "0:0", "-spike", "0:1", "-spike", "0:2:1",
	}, &out)
	require.NoError(t, err, "out=%s", out.String())
	assert.Contains(t, out.String(), "io=DIDO input_clock=10 output_clock=10")
	assert.Contains(t, out.String(), "output 0: count=1 last=5 fires=[5]")
}

func TestRunCommandFromRunFile(t *testing.T) {
	testlog.Start(t)
	abs, err := filepath.Abs(simpleNetwork)
	require.NoError(t, err)
	path := writeRunFile(t, `
target = "sim"
io_type = "SISO"
network = "`+abs+`"
run = 10

[processor]
pacing = false

[[spikes]]
id = 0
time = 0
value = 1.0

[[spikes]]
id = 0
time = 1
value = 1.0
`)
	var out strings.Builder
	err = run(context.Background(), []string{"run", "-config", path, "-spike", "0:2"}, &out)
	require.NoError(t, err, "out=%s", out.String())
	assert.Contains(t, out.String(), "io=SISO")
	assert.Contains(t, out.String(), "output 0: count=1 last=5 fires=[5]")
}

func TestRunCommandNeedsNetwork(t *testing.T) {
	testlog.Start(t)
	err := run(context.Background(), []string{"run"}, &strings.Builder{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a network")
}

func TestRunCommandRejectsBadSpikeFlag(t *testing.T) {
	testlog.Start(t)
	err := run(context.Background(), []string{"run", "-network", simpleNetwork, "-spike", "zero"}, &strings.Builder{})
	require.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	testlog.Start(t)
	var out strings.Builder
	require.NoError(t, run(context.Background(), []string{"schema", "-network", simpleNetwork, "-io", "dido"}, &out))
	assert.Contains(t, out.String(), "DIDO")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"schema", "-network", simpleNetwork, "-io", "SISO", "-target", "icebreaker"}, &out))
	assert.Contains(t, out.String(), "SISO")

	err := run(context.Background(), []string{"schema", "-network", simpleNetwork, "-target", "nope"}, &strings.Builder{})
	require.Error(t, err)
}

func TestLoopCommandOnSim(t *testing.T) {
	testlog.Start(t)
	var out strings.Builder
	err := run(context.Background(), []string{"loop", "-device", "sim", "-rates", "115200,921600", "-bytes", "2048", "-chunk", "256"}, &out)
	require.NoError(t, err, "out=%s", out.String())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "baud=115200 passed=true bytes=2048"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "baud=921600 passed=true"), lines[1])

	err = run(context.Background(), []string{"loop"}, &strings.Builder{})
	require.Error(t, err)
}

func TestTargetsCommand(t *testing.T) {
	testlog.Start(t)
	var out strings.Builder
	require.NoError(t, run(context.Background(), []string{"targets"}, &out))
	assert.Contains(t, out.String(), "basys3 clock_hz=1e+08 default_baud=3000000 tool=vivado")
	assert.Contains(t, out.String(), "sim clock_hz=1e+08 default_baud=4000000 tool=emulator")
}

func TestInitCommandRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "targets.toml")
	require.NoError(t, run(context.Background(), []string{"init", "-kind", "targets", "-output", path}, &strings.Builder{}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[targets.sim]")

	require.Error(t, run(context.Background(), []string{"init", "-kind", "targets", "-output", path}, &strings.Builder{}))
	require.NoError(t, run(context.Background(), []string{"init", "-kind", "targets", "-output", path, "-force"}, &strings.Builder{}))
	require.Error(t, run(context.Background(), []string{"init", "-kind", "ghost", "-output", path, "-force"}, &strings.Builder{}))
}

func TestUnknownCommand(t *testing.T) {
	testlog.Start(t)
	err := run(context.Background(), []string{"launch"}, &strings.Builder{})
	require.ErrorIs(t, err, errUsage)
	require.ErrorIs(t, run(context.Background(), nil, &strings.Builder{}), errUsage)

	var out strings.Builder
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	assert.Contains(t, out.String(), "commands:")
}
