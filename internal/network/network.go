// Package network models the read-only topology a processor is built from:
// nodes with optional input/output indices, weighted delayed edges, and the
// processor parameters that fix the numeric ranges on the wire.
package network

import (
	"math"
	"sort"

	"github.com/danmuck/spikelink/internal/bits"
	"github.com/pkg/errors"
)

// ErrInvalid marks a topology or parameter set the processor cannot use.
var ErrInvalid = errors.New("network: invalid")

// Leak modes accepted in Params.LeakMode.
const (
	LeakNone         = "none"
	LeakAll          = "all"
	LeakConfigurable = "configurable"
)

// ProcRISP is the only processor kind with a hardware implementation.
const ProcRISP = "risp"

// Params are the processor parameters carried in the network's
// associated data.
type Params struct {
	MinWeight          float64
	MaxWeight          float64
	MaxThreshold       float64
	MinPotential       *float64
	ThresholdInclusive bool
	LeakMode           string
	Discrete           bool
	SpikeValueFactor   float64
	FireLikeRavens     bool
}

type Node struct {
	ID          int
	Name        string
	Threshold   float64
	Leak        bool
	InputIndex  int
	OutputIndex int
}

func (n Node) IsInput() bool  { return n.InputIndex >= 0 }
func (n Node) IsOutput() bool { return n.OutputIndex >= 0 }

type Edge struct {
	From   int
	To     int
	Weight float64
	Delay  int
}

// Network is a topology plus processor parameters. Build it with New and the
// Add methods, or with Parse/Load.
type Network struct {
	Proc   string
	Params Params

	nodes   map[int]*Node
	edges   []Edge
	inputs  []int
	outputs []int
}

// New creates an empty network for processor proc.
func New(proc string, params Params) *Network {
	if params.LeakMode == "" {
		params.LeakMode = LeakNone
	}
	return &Network{
		Proc:   proc,
		Params: params,
		nodes:  make(map[int]*Node),
	}
}

// AddNode adds a node. Input and output indices are assigned by AddInput
// and AddOutput.
func (n *Network) AddNode(node Node) error {
	if _, ok := n.nodes[node.ID]; ok {
		return errors.Wrapf(ErrInvalid, "duplicate node %d", node.ID)
	}
	node.InputIndex = -1
	node.OutputIndex = -1
	n.nodes[node.ID] = &node
	return nil
}

func (n *Network) AddEdge(e Edge) error {
	if _, ok := n.nodes[e.From]; !ok {
		return errors.Wrapf(ErrInvalid, "edge %d->%d: unknown source", e.From, e.To)
	}
	if _, ok := n.nodes[e.To]; !ok {
		return errors.Wrapf(ErrInvalid, "edge %d->%d: unknown target", e.From, e.To)
	}
	if e.Delay < 0 {
		return errors.Wrapf(ErrInvalid, "edge %d->%d: negative delay %d", e.From, e.To, e.Delay)
	}
	for _, have := range n.edges {
		if have.From == e.From && have.To == e.To {
			return errors.Wrapf(ErrInvalid, "duplicate edge %d->%d", e.From, e.To)
		}
	}
	n.edges = append(n.edges, e)
	return nil
}

// AddInput marks node id as the next input and returns its input index.
func (n *Network) AddInput(id int) (int, error) {
	node, ok := n.nodes[id]
	if !ok {
		return -1, errors.Wrapf(ErrInvalid, "input: unknown node %d", id)
	}
	if node.IsInput() {
		return -1, errors.Wrapf(ErrInvalid, "node %d is already input %d", id, node.InputIndex)
	}
	node.InputIndex = len(n.inputs)
	n.inputs = append(n.inputs, id)
	return node.InputIndex, nil
}

// AddOutput marks node id as the next output and returns its output index.
func (n *Network) AddOutput(id int) (int, error) {
	node, ok := n.nodes[id]
	if !ok {
		return -1, errors.Wrapf(ErrInvalid, "output: unknown node %d", id)
	}
	if node.IsOutput() {
		return -1, errors.Wrapf(ErrInvalid, "node %d is already output %d", id, node.OutputIndex)
	}
	node.OutputIndex = len(n.outputs)
	n.outputs = append(n.outputs, id)
	return node.OutputIndex, nil
}

func (n *Network) NumNodes() int   { return len(n.nodes) }
func (n *Network) NumInputs() int  { return len(n.inputs) }
func (n *Network) NumOutputs() int { return len(n.outputs) }

// Node returns a copy of node id.
func (n *Network) Node(id int) (Node, bool) {
	node, ok := n.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// Nodes returns all nodes ordered by id.
func (n *Network) Nodes() []Node {
	out := make([]Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges ordered by (to, from).
func (n *Network) Edges() []Edge {
	out := append([]Edge(nil), n.edges...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].From < out[j].From
	})
	return out
}

// Edge returns the edge from -> to.
func (n *Network) Edge(from, to int) (Edge, bool) {
	for _, e := range n.edges {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// InputNode returns the node id behind input index idx.
func (n *Network) InputNode(idx int) (int, bool) {
	if idx < 0 || idx >= len(n.inputs) {
		return -1, false
	}
	return n.inputs[idx], true
}

// OutputNode returns the node id behind output index idx.
func (n *Network) OutputNode(idx int) (int, bool) {
	if idx < 0 || idx >= len(n.outputs) {
		return -1, false
	}
	return n.outputs[idx], true
}

// SpikeValueFactor scales a real spike value in [-1, 1] to an integer
// charge. It defaults to the maximum weight.
func (n *Network) SpikeValueFactor() (float64, error) {
	svf := n.Params.MaxWeight
	if n.Params.SpikeValueFactor != 0 {
		svf = n.Params.SpikeValueFactor
	}
	if svf < 1.0 {
		return 0, errors.Wrapf(ErrInvalid, "spike value factor %g must be >= 1", svf)
	}
	return svf, nil
}

// MinPotential is the floor of a neuron's potential: the configured
// min_potential, or the negated max threshold.
func (n *Network) MinPotential() (float64, error) {
	if n.Params.MinPotential == nil {
		return -n.Params.MaxThreshold, nil
	}
	if *n.Params.MinPotential > 0 {
		return 0, errors.Wrapf(ErrInvalid, "min potential %g must be <= 0", *n.Params.MinPotential)
	}
	return *n.Params.MinPotential, nil
}

// ChargeWidth is the signed width holding both the weight range and the
// spike value factor. wasteful reports that the factor, not the weights,
// set the width.
func (n *Network) ChargeWidth() (width int, wasteful bool, err error) {
	svf, err := n.SpikeValueFactor()
	if err != nil {
		return 0, false, err
	}
	weightWidth := max(signedWidth(n.Params.MinWeight), signedWidth(n.Params.MaxWeight))
	scalingWidth := signedWidth(svf)
	if scalingWidth > weightWidth {
		return scalingWidth, true, nil
	}
	return weightWidth, false, nil
}

// Validate checks the parts of the network the processor relies on.
func (n *Network) Validate() error {
	if n.Params.MinWeight > n.Params.MaxWeight {
		return errors.Wrapf(ErrInvalid, "weight range [%g, %g] is empty", n.Params.MinWeight, n.Params.MaxWeight)
	}
	switch n.Params.LeakMode {
	case LeakNone, LeakAll, LeakConfigurable:
	default:
		return errors.Wrapf(ErrInvalid, "leak mode %q", n.Params.LeakMode)
	}
	if _, err := n.MinPotential(); err != nil {
		return err
	}
	if _, err := n.SpikeValueFactor(); err != nil {
		return err
	}
	for _, e := range n.edges {
		if e.Weight < n.Params.MinWeight || e.Weight > n.Params.MaxWeight {
			return errors.Wrapf(ErrInvalid, "edge %d->%d weight %g outside [%g, %g]",
				e.From, e.To, e.Weight, n.Params.MinWeight, n.Params.MaxWeight)
		}
	}
	return nil
}

func signedWidth(v float64) int {
	if v < 0 {
		return bits.SignedWidth(int64(math.Floor(v)))
	}
	return bits.SignedWidth(int64(math.Ceil(v)))
}
