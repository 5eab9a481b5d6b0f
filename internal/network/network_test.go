package network

import (
	"errors"
	"testing"

	"github.com/danmuck/spikelink/internal/testutil/testlog"
)

func TestLoadSimpleNetwork(t *testing.T) {
	testlog.Start(t)
	net, err := Load("testdata/simple.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if net.Proc != ProcRISP {
		t.Fatalf("proc got=%q", net.Proc)
	}
	if net.NumNodes() != 2 || net.NumInputs() != 1 || net.NumOutputs() != 1 {
		t.Fatalf("counts nodes=%d inputs=%d outputs=%d", net.NumNodes(), net.NumInputs(), net.NumOutputs())
	}
	in, _ := net.Node(0)
	if !in.IsInput() || in.InputIndex != 0 || in.Threshold != 7 {
		t.Fatalf("input node got=%+v", in)
	}
	out, _ := net.Node(1)
	if !out.IsOutput() || out.OutputIndex != 0 || out.IsInput() {
		t.Fatalf("output node got=%+v", out)
	}
	e, ok := net.Edge(0, 1)
	if !ok || e.Weight != 4 || e.Delay != 2 {
		t.Fatalf("edge got=%+v ok=%v", e, ok)
	}
	if !net.Params.ThresholdInclusive || !net.Params.Discrete {
		t.Fatalf("params got=%+v", net.Params)
	}
}

func TestChargeWidth(t *testing.T) {
	testlog.Start(t)
	net := New(ProcRISP, Params{MinWeight: -8, MaxWeight: 7, Discrete: true})
	w, wasteful, err := net.ChargeWidth()
	if err != nil || w != 4 || wasteful {
		t.Fatalf("got width=%d wasteful=%v err=%v", w, wasteful, err)
	}

	net.Params.SpikeValueFactor = 100
	w, wasteful, err = net.ChargeWidth()
	if err != nil || w != 8 || !wasteful {
		t.Fatalf("scaled got width=%d wasteful=%v err=%v", w, wasteful, err)
	}

	net.Params.SpikeValueFactor = 0.5
	if _, _, err := net.ChargeWidth(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBuilderRejectsBadTopology(t *testing.T) {
	testlog.Start(t)
	net := New(ProcRISP, Params{MinWeight: -1, MaxWeight: 1})
	if err := net.AddNode(Node{ID: 0}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := net.AddNode(Node{ID: 0}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("duplicate node: %v", err)
	}
	if err := net.AddEdge(Edge{From: 0, To: 9}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("dangling edge: %v", err)
	}
	if _, err := net.AddInput(3); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unknown input: %v", err)
	}
	if _, err := net.AddInput(0); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if _, err := net.AddInput(0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("double input: %v", err)
	}
	if err := net.AddEdge(Edge{From: 0, To: 0, Weight: 5}); err != nil {
		t.Fatalf("self edge: %v", err)
	}
	if err := net.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("weight outside range should fail validation, got %v", err)
	}
}

func TestParseRejectsMissingProperties(t *testing.T) {
	testlog.Start(t)
	_, err := Parse([]byte(`{"Associated_Data":{"proc_params":{"min_weight":-1,"max_weight":1}}}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	_, err = Parse([]byte(`{"Associated_Data":{"proc_params":{}}}`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing weights, got %v", err)
	}
}
