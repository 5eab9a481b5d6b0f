// Package testnet builds small networks for tests.
package testnet

import (
	"testing"

	"github.com/danmuck/spikelink/internal/network"
)

// Two-neuron scenario constants: input node 0 relays a full spike to output
// node 1 over one edge.
const (
	InputThreshold  = 7
	OutputThreshold = 10
	Weight          = 4
	Delay           = 2
)

// Params is a discrete risp parameter set with a 4-bit charge.
func Params() network.Params {
	minPot := -15.0
	return network.Params{
		MinWeight:          -8,
		MaxWeight:          7,
		MaxThreshold:       15,
		MinPotential:       &minPot,
		ThresholdInclusive: true,
		LeakMode:           network.LeakNone,
		Discrete:           true,
	}
}

// Simple is the two-neuron network: a full spike on the input each cycle
// fires the output ceil(OutputThreshold/Weight)+Delay cycles after the first.
func Simple(t testing.TB) *network.Network {
	t.Helper()
	net := network.New(network.ProcRISP, Params())
	must(t, net.AddNode(network.Node{ID: 0, Name: "in", Threshold: InputThreshold}))
	must(t, net.AddNode(network.Node{ID: 1, Name: "out", Threshold: OutputThreshold}))
	must(t, net.AddEdge(network.Edge{From: 0, To: 1, Weight: Weight, Delay: Delay}))
	_, err := net.AddInput(0)
	must(t, err)
	_, err = net.AddOutput(1)
	must(t, err)
	return net
}

// Relay has n nodes that are each input i and output i with threshold 1, so
// a positive spike fires its node in the cycle it arrives.
func Relay(t testing.TB, n int) *network.Network {
	t.Helper()
	net := network.New(network.ProcRISP, Params())
	for i := 0; i < n; i++ {
		must(t, net.AddNode(network.Node{ID: 10 + i, Threshold: 1}))
		_, err := net.AddInput(10 + i)
		must(t, err)
		_, err = net.AddOutput(10 + i)
		must(t, err)
	}
	return net
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("testnet: %v", err)
	}
}
