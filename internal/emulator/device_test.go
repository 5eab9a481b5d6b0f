package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/program"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/danmuck/spikelink/internal/testutil/testlog"
	"github.com/danmuck/spikelink/internal/testutil/testnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rig struct {
	t      *testing.T
	host   *link.PipePort
	dev    *Device
	schema *schema.Schema
}

func startDevice(t *testing.T, net *network.Network, io protocol.IOConfig, opts Options) *rig {
	t.Helper()
	s, err := schema.Compile(net, io, schema.DefaultOptions())
	require.NoError(t, err)
	host, devPort := link.Pipe(s.Options.Baud)
	dev := NewDevice(devPort, opts)
	require.NoError(t, dev.Program(context.Background(), program.NewBuild("sim", net, s)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = host.Close()
		if err := <-done; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return &rig{t: t, host: host, dev: dev, schema: s}
}

func (r *rig) send(b []byte, err error) {
	r.t.Helper()
	require.NoError(r.t, err)
	_, err = r.host.Write(b)
	require.NoError(r.t, err)
}

func (r *rig) readCommand(t *testing.T) schema.Command {
	t.Helper()
	buf := make([]byte, r.schema.Output.Size())
	_, err := r.host.ReadFull(buf, time.Second)
	require.NoError(t, err)
	c, err := r.schema.DecodeOutputCommand(buf)
	require.NoError(t, err)
	return c
}

func (r *rig) readStream(t *testing.T) schema.StreamOutput {
	t.Helper()
	buf := make([]byte, r.schema.Output.Size())
	_, err := r.host.ReadFull(buf, time.Second)
	require.NoError(t, err)
	o, err := r.schema.DecodeStreamOutput(buf)
	require.NoError(t, err)
	return o
}

func cmd(op protocol.Opcode, operand int64) schema.Command {
	return schema.Command{Op: op, Operand: operand}
}

func TestDeviceDispatchBurstsAndSync(t *testing.T) {
	testlog.Start(t)
	r := startDevice(t, testnet.Simple(t), protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Dispatch}, DefaultOptions())
	for i := 0; i < 3; i++ {
		r.send(r.schema.EncodeSpike(schema.SpikePacket{Charge: 7}))
		r.send(r.schema.EncodeCommand(cmd(protocol.OpRUN, 1)))
	}
	r.send(r.schema.EncodeCommand(cmd(protocol.OpSNC, 5)))

	want := []schema.Command{
		cmd(protocol.OpRUN, 1), cmd(protocol.OpRUN, 1), cmd(protocol.OpRUN, 1),
		cmd(protocol.OpRUN, 2), cmd(protocol.OpSPK, 1), cmd(protocol.OpSPK, 0),
		cmd(protocol.OpSNC, 3),
	}
	for i, w := range want {
		if got := r.readCommand(t); got != w {
			t.Fatalf("packet %d got=%s want=%s", i, got, w)
		}
	}
	st := r.dev.Stats()
	assert.Equal(t, 8, st.Cycles)
	assert.Equal(t, 1, st.Fires)
}

func TestDeviceFixedBurstsPadWithSentinel(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.FixedBursts = true
	r := startDevice(t, testnet.Relay(t, 3), protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Dispatch}, opts)
	r.send(r.schema.EncodeSpike(schema.SpikePacket{Index: 1, Charge: 7}))
	r.send(r.schema.EncodeCommand(cmd(protocol.OpSNC, 1)))

	want := []schema.Command{
		cmd(protocol.OpSPK, 3), cmd(protocol.OpSPK, 1), cmd(protocol.OpSPK, 3), cmd(protocol.OpSPK, 3),
		cmd(protocol.OpSNC, 1),
	}
	for i, w := range want {
		if got := r.readCommand(t); got != w {
			t.Fatalf("packet %d got=%s want=%s", i, got, w)
		}
	}
}

func TestDeviceClearEchoes(t *testing.T) {
	testlog.Start(t)
	r := startDevice(t, testnet.Relay(t, 1), protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Stream}, DefaultOptions())
	r.send(r.schema.EncodeCommand(cmd(protocol.OpCLR, 0)))
	echo := r.readStream(t)
	assert.True(t, echo.CLR)
	assert.Equal(t, []bool{false}, echo.Fires)

	r.send(r.schema.EncodeSpike(schema.SpikePacket{Charge: 7}))
	r.send(r.schema.EncodeCommand(cmd(protocol.OpSNC, 2)))
	first, second := r.readStream(t), r.readStream(t)
	assert.Equal(t, schema.StreamOutput{Fires: []bool{true}}, first)
	assert.Equal(t, schema.StreamOutput{SNC: true, Fires: []bool{false}}, second)
	assert.Equal(t, 1, r.dev.Stats().Clears)
}

func TestDeviceStreamInput(t *testing.T) {
	testlog.Start(t)
	r := startDevice(t, testnet.Relay(t, 2), protocol.IOConfig{Input: protocol.Stream, Output: protocol.Dispatch}, DefaultOptions())
	r.send(r.schema.EncodeStreamInput(schema.StreamInput{CLR: true, Charges: []int64{0, 7}}))
	r.send(r.schema.EncodeStreamInput(schema.StreamInput{SNC: true, Charges: []int64{0, 0}}))

	want := []schema.Command{
		cmd(protocol.OpCLR, 0),
		cmd(protocol.OpSPK, 1), cmd(protocol.OpSPK, 1),
		cmd(protocol.OpRUN, 1),
		cmd(protocol.OpSNC, 1),
	}
	for i, w := range want {
		if got := r.readCommand(t); got != w {
			t.Fatalf("packet %d got=%s want=%s", i, got, w)
		}
	}
}

func TestDeviceSplitsLongAdvances(t *testing.T) {
	testlog.Start(t)
	r := startDevice(t, testnet.Relay(t, 3), protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Dispatch}, DefaultOptions())
	limit := r.schema.MaxOutputRuns()
	r.send(r.schema.EncodeCommand(cmd(protocol.OpSNC, int64(limit+2))))
	assert.Equal(t, cmd(protocol.OpRUN, int64(limit)), r.readCommand(t))
	assert.Equal(t, cmd(protocol.OpSNC, 2), r.readCommand(t))
}

func TestDeviceProgramRequiresSchema(t *testing.T) {
	testlog.Start(t)
	_, port := link.Pipe(0)
	dev := NewDevice(port, Options{})
	if err := dev.Program(context.Background(), program.Build{Target: "sim"}); err == nil {
		t.Fatalf("expected error")
	}
}
