// Package emulator is a virtual target: a cycle-level RISP network behind
// the device side of the link protocol.
package emulator

import (
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/spikelink/internal/network"
)

type synapse struct {
	to     int
	weight int64
	delay  int
}

type neuron struct {
	threshold float64
	leak      bool
	potential int64
	touched   bool
	out       []synapse
	output    int
}

// Core steps a discrete network one cycle at a time. Charge delivered at
// cycle t is integrated at t; a neuron firing at t delivers its weights at
// t+1+delay.
type Core struct {
	neurons   []neuron
	inputs    []int
	outputs   int
	inclusive bool
	minPot    int64

	now     int
	pending map[int][]delivery
	touched []int
}

type delivery struct {
	to     int
	charge int64
}

func NewCore(net *network.Network) (*Core, error) {
	if err := net.Validate(); err != nil {
		return nil, err
	}
	minPot, err := net.MinPotential()
	if err != nil {
		return nil, err
	}
	nodes := net.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	dense := make(map[int]int, len(nodes))
	c := &Core{
		neurons:   make([]neuron, len(nodes)),
		inputs:    make([]int, net.NumInputs()),
		outputs:   net.NumOutputs(),
		inclusive: net.Params.ThresholdInclusive,
		minPot:    int64(math.Floor(minPot)),
		pending:   make(map[int][]delivery),
	}
	for i, n := range nodes {
		dense[n.ID] = i
		c.neurons[i] = neuron{
			threshold: n.Threshold,
			leak:      leaks(net.Params.LeakMode, n),
			output:    n.OutputIndex,
		}
		if n.IsInput() {
			c.inputs[n.InputIndex] = i
		}
	}
	for _, e := range net.Edges() {
		from := &c.neurons[dense[e.From]]
		from.out = append(from.out, synapse{to: dense[e.To], weight: int64(math.Round(e.Weight)), delay: e.Delay})
	}
	return c, nil
}

func leaks(mode string, n network.Node) bool {
	switch mode {
	case network.LeakAll:
		return true
	case network.LeakConfigurable:
		return n.Leak
	default:
		return false
	}
}

// Now is the cycle the next Step runs.
func (c *Core) Now() int { return c.now }

func (c *Core) NumOutputs() int { return c.outputs }

// Inject adds charge to input idx in the current cycle.
func (c *Core) Inject(idx int, charge int64) error {
	if idx < 0 || idx >= len(c.inputs) {
		return fmt.Errorf("emulator: input index %d out of range", idx)
	}
	if charge != 0 {
		c.pending[c.now] = append(c.pending[c.now], delivery{to: c.inputs[idx], charge: charge})
	}
	return nil
}

// Step runs the current cycle and returns the output indices that fired,
// ascending.
func (c *Core) Step() []int {
	for _, d := range c.pending[c.now] {
		n := &c.neurons[d.to]
		n.potential = max(n.potential+d.charge, c.minPot)
		if !n.touched {
			n.touched = true
			c.touched = append(c.touched, d.to)
		}
	}
	delete(c.pending, c.now)

	var fired []int
	for _, i := range c.touched {
		n := &c.neurons[i]
		n.touched = false
		if c.crosses(n) {
			n.potential = 0
			for _, s := range n.out {
				at := c.now + 1 + s.delay
				c.pending[at] = append(c.pending[at], delivery{to: s.to, charge: s.weight})
			}
			if n.output >= 0 {
				fired = append(fired, n.output)
			}
		} else if n.leak {
			n.potential = 0
		}
	}
	c.touched = c.touched[:0]
	sort.Ints(fired)
	c.now++
	return fired
}

func (c *Core) crosses(n *neuron) bool {
	p := float64(n.potential)
	if c.inclusive {
		return p >= n.threshold
	}
	return p > n.threshold
}

// Reset clears all activity and rewinds the clock.
func (c *Core) Reset() {
	for i := range c.neurons {
		c.neurons[i].potential = 0
		c.neurons[i].touched = false
	}
	c.touched = c.touched[:0]
	c.pending = make(map[int][]delivery)
	c.now = 0
}
