package network

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type fileProperty struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

type fileNode struct {
	ID     int       `json:"id"`
	Name   string    `json:"name,omitempty"`
	Values []float64 `json:"values"`
}

type fileEdge struct {
	From   int       `json:"from"`
	To     int       `json:"to"`
	Values []float64 `json:"values"`
}

type fileParams struct {
	MinWeight          *float64 `json:"min_weight"`
	MaxWeight          *float64 `json:"max_weight"`
	MaxThreshold       *float64 `json:"max_threshold"`
	MinPotential       *float64 `json:"min_potential"`
	ThresholdInclusive *bool    `json:"threshold_inclusive"`
	NonNegativeCharge  *bool    `json:"non_negative_charge"`
	LeakMode           string   `json:"leak_mode"`
	Discrete           *bool    `json:"discrete"`
	SpikeValueFactor   *float64 `json:"spike_value_factor"`
	FireLikeRavens     bool     `json:"fire_like_ravens"`
}

type fileNetwork struct {
	Properties struct {
		NodeProperties []fileProperty `json:"node_properties"`
		EdgeProperties []fileProperty `json:"edge_properties"`
	} `json:"Properties"`
	Nodes          []fileNode `json:"Nodes"`
	Edges          []fileEdge `json:"Edges"`
	Inputs         []int      `json:"Inputs"`
	Outputs        []int      `json:"Outputs"`
	AssociatedData struct {
		ProcParams fileParams `json:"proc_params"`
		Other      struct {
			ProcName string `json:"proc_name"`
		} `json:"other"`
	} `json:"Associated_Data"`
}

// Load reads a network in the neuro JSON interchange format from path.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "network load (%s)", path)
	}
	net, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "network parse (%s)", path)
	}
	return net, nil
}

// Parse decodes a network in the neuro JSON interchange format.
func Parse(data []byte) (*Network, error) {
	var raw fileNetwork
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode network json")
	}

	params, err := raw.AssociatedData.ProcParams.toParams()
	if err != nil {
		return nil, err
	}
	proc := raw.AssociatedData.Other.ProcName
	if proc == "" {
		proc = ProcRISP
	}
	net := New(proc, params)

	thresholdIdx := propertyIndex(raw.Properties.NodeProperties, "Threshold")
	leakIdx := propertyIndex(raw.Properties.NodeProperties, "Leak")
	weightIdx := propertyIndex(raw.Properties.EdgeProperties, "Weight")
	delayIdx := propertyIndex(raw.Properties.EdgeProperties, "Delay")
	if thresholdIdx < 0 {
		return nil, errors.Wrap(ErrInvalid, "missing Threshold node property")
	}
	if weightIdx < 0 || delayIdx < 0 {
		return nil, errors.Wrap(ErrInvalid, "missing Weight or Delay edge property")
	}
	if params.LeakMode == LeakConfigurable && leakIdx < 0 {
		return nil, errors.Wrap(ErrInvalid, "configurable leak without Leak node property")
	}

	for _, fn := range raw.Nodes {
		node := Node{ID: fn.ID, Name: fn.Name}
		if node.Threshold, err = value(fn.Values, thresholdIdx); err != nil {
			return nil, errors.Wrapf(err, "node %d threshold", fn.ID)
		}
		switch params.LeakMode {
		case LeakAll:
			node.Leak = true
		case LeakConfigurable:
			leak, err := value(fn.Values, leakIdx)
			if err != nil {
				return nil, errors.Wrapf(err, "node %d leak", fn.ID)
			}
			node.Leak = leak != 0
		}
		if err := net.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, fe := range raw.Edges {
		e := Edge{From: fe.From, To: fe.To}
		if e.Weight, err = value(fe.Values, weightIdx); err != nil {
			return nil, errors.Wrapf(err, "edge %d->%d weight", fe.From, fe.To)
		}
		delay, err := value(fe.Values, delayIdx)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %d->%d delay", fe.From, fe.To)
		}
		e.Delay = int(delay)
		if err := net.AddEdge(e); err != nil {
			return nil, err
		}
	}
	for _, id := range raw.Inputs {
		if _, err := net.AddInput(id); err != nil {
			return nil, err
		}
	}
	for _, id := range raw.Outputs {
		if _, err := net.AddOutput(id); err != nil {
			return nil, err
		}
	}
	if err := net.Validate(); err != nil {
		return nil, err
	}
	return net, nil
}

func (p fileParams) toParams() (Params, error) {
	if p.MinWeight == nil || p.MaxWeight == nil {
		return Params{}, errors.Wrap(ErrInvalid, "proc_params: min_weight and max_weight are required")
	}
	out := Params{
		MinWeight:          *p.MinWeight,
		MaxWeight:          *p.MaxWeight,
		MinPotential:       p.MinPotential,
		ThresholdInclusive: true,
		LeakMode:           p.LeakMode,
		Discrete:           true,
		FireLikeRavens:     p.FireLikeRavens,
	}
	if p.MaxThreshold != nil {
		out.MaxThreshold = *p.MaxThreshold
	}
	if p.ThresholdInclusive != nil {
		out.ThresholdInclusive = *p.ThresholdInclusive
	}
	if p.Discrete != nil {
		out.Discrete = *p.Discrete
	}
	if p.SpikeValueFactor != nil {
		out.SpikeValueFactor = *p.SpikeValueFactor
	}
	if out.LeakMode == "" {
		out.LeakMode = LeakNone
	}
	if out.MinPotential == nil && p.NonNegativeCharge != nil && *p.NonNegativeCharge {
		log.Warn().Msg("network: non_negative_charge is deprecated; set min_potential to 0 instead")
		zero := 0.0
		out.MinPotential = &zero
	}
	return out, nil
}

func propertyIndex(props []fileProperty, name string) int {
	for _, p := range props {
		if p.Name == name {
			return p.Index
		}
	}
	return -1
}

func value(values []float64, idx int) (float64, error) {
	if idx < 0 || idx >= len(values) {
		return 0, errors.Wrapf(ErrInvalid, "property index %d out of range", idx)
	}
	return values[idx], nil
}
