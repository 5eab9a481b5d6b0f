package emulator

import (
	"testing"

	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/testutil/testlog"
	"github.com/danmuck/spikelink/internal/testutil/testnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCore injects charge(t) into input 0 for cycles [0, n) and returns the
// cycles in which output 0 fired.
func runCore(t *testing.T, c *Core, n int, charge func(int) int64) []int {
	t.Helper()
	var fired []int
	for cyc := 0; cyc < n; cyc++ {
		require.NoError(t, c.Inject(0, charge(cyc)))
		for _, idx := range c.Step() {
			if idx == 0 {
				fired = append(fired, cyc)
			}
		}
	}
	return fired
}

func TestCoreFullSpikesFireAfterDelay(t *testing.T) {
	testlog.Start(t)
	c, err := NewCore(testnet.Simple(t))
	require.NoError(t, err)
	full := func(cyc int) int64 {
		if cyc < 3 {
			return 7
		}
		return 0
	}
	// ceil(10/4) = 3 input fires, the last lands 1+delay cycles later
	assert.Equal(t, []int{3 + testnet.Delay}, runCore(t, c, 20, full))
}

func TestCorePartialSpikesAccumulate(t *testing.T) {
	testlog.Start(t)
	c, err := NewCore(testnet.Simple(t))
	require.NoError(t, err)
	partial := func(cyc int) int64 {
		if cyc < 12 {
			return 2
		}
		return 0
	}
	assert.Equal(t, []int{12 + testnet.Delay}, runCore(t, c, 30, partial))
}

func TestCoreLeakAllForgetsCharge(t *testing.T) {
	testlog.Start(t)
	net := testnet.Simple(t)
	net.Params.LeakMode = network.LeakAll
	c, err := NewCore(net)
	require.NoError(t, err)
	fired := runCore(t, c, 30, func(int) int64 { return 2 })
	assert.Empty(t, fired)
}

func TestCoreExclusiveThreshold(t *testing.T) {
	testlog.Start(t)
	net := testnet.Relay(t, 1)
	net.Params.ThresholdInclusive = false
	c, err := NewCore(net)
	require.NoError(t, err)
	require.NoError(t, c.Inject(0, 1))
	assert.Empty(t, c.Step())
	require.NoError(t, c.Inject(0, 1))
	assert.Equal(t, []int{0}, c.Step())
}

func TestCoreClampsMinPotential(t *testing.T) {
	testlog.Start(t)
	c, err := NewCore(testnet.Relay(t, 1))
	require.NoError(t, err)
	require.NoError(t, c.Inject(0, -20))
	assert.Empty(t, c.Step())
	require.NoError(t, c.Inject(0, 16))
	assert.Equal(t, []int{0}, c.Step())
}

func TestCoreResetAndBounds(t *testing.T) {
	testlog.Start(t)
	c, err := NewCore(testnet.Relay(t, 2))
	require.NoError(t, err)
	require.NoError(t, c.Inject(1, 7))
	require.NoError(t, c.Inject(0, 7))
	assert.Equal(t, []int{0, 1}, c.Step())
	assert.Equal(t, 1, c.Now())
	c.Reset()
	assert.Equal(t, 0, c.Now())
	assert.Error(t, c.Inject(2, 1))
	assert.Equal(t, 2, c.NumOutputs())
}
