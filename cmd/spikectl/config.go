package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/spikelink/internal/config"
	"github.com/danmuck/spikelink/internal/processor"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/frame"
	"github.com/danmuck/spikelink/internal/spike"
)

// spikectl run file key mapping to runtime settings.
type fileConfig struct {
	Target   string `toml:"target"`
	Targets  string `toml:"targets"`
	Tool     string `toml:"tool"`
	Device   string `toml:"device"`
	Baud     int    `toml:"baud"`
	IOType   string `toml:"io_type"`
	Network  string `toml:"network"`
	Run      int    `toml:"run"`
	BuildDir string `toml:"build_dir"`

	Processor struct {
		ReadTimeout      string `toml:"read_timeout"`
		DrainQuiet       string `toml:"drain_quiet"`
		BackpressurePoll string `toml:"backpressure_poll"`
		Pacing           bool   `toml:"pacing"`
		ByteAligned      bool   `toml:"byte_aligned"`
		ByteOrder        string `toml:"byte_order"`
		Pad              string `toml:"pad"`
		RunEncoding      string `toml:"run_encoding"`
		SystemBuffer     int    `toml:"system_buffer"`
		MaxRunsAhead     int    `toml:"max_runs_ahead"`
	} `toml:"processor"`

	Server struct {
		Addr        string   `toml:"addr"`
		ID          string   `toml:"id"`
		CORSOrigins []string `toml:"cors_origins"`
	} `toml:"server"`

	Spikes []struct {
		ID    int     `toml:"id"`
		Time  int     `toml:"time"`
		Value float64 `toml:"value"`
	} `toml:"spikes"`
}

// runConfig is everything one spikectl invocation needs.
type runConfig struct {
	Target      string
	TargetsPath string
	Tool        string
	Device      string
	// Baud of zero selects the target's fastest catalogued rate.
	Baud      int
	IO        protocol.IOConfig
	Network   string
	Run       int
	BuildDir  string
	Processor processor.Config

	ServerID    string
	ServerAddr  string
	CORSOrigins []string

	Spikes []spike.Spike
}

func defaultRunConfig() runConfig {
	return runConfig{
		Target:     "sim",
		IO:         protocol.IOConfig{Input: protocol.Dispatch, Output: protocol.Dispatch},
		Run:        100,
		Processor:  processor.DefaultConfig(),
		ServerID:   "spikelink.local",
		ServerAddr: ":9200",
	}
}

// spikectl loader for TOML run files with default overlay.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load run config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runConfig{}, fmt.Errorf("load run config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}
	if meta.IsDefined("targets") {
		cfg.TargetsPath = resolve(path, raw.Targets)
	}
	if meta.IsDefined("tool") {
		cfg.Tool = strings.TrimSpace(raw.Tool)
	}
	if meta.IsDefined("device") {
		cfg.Device = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("baud") {
		if raw.Baud < 0 {
			return runConfig{}, fmt.Errorf("load run config: baud must not be negative")
		}
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("io_type") {
		io, err := protocol.ParseIOType(raw.IOType)
		if err != nil {
			return runConfig{}, fmt.Errorf("load run config: %w", err)
		}
		cfg.IO = io
	}
	if meta.IsDefined("network") {
		cfg.Network = resolve(path, raw.Network)
	}
	if meta.IsDefined("run") {
		cfg.Run = raw.Run
	}
	if meta.IsDefined("build_dir") {
		cfg.BuildDir = resolve(path, raw.BuildDir)
	}

	p := &cfg.Processor
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{key: "read_timeout", raw: raw.Processor.ReadTimeout, dst: &p.ReadTimeout},
		{key: "drain_quiet", raw: raw.Processor.DrainQuiet, dst: &p.DrainQuiet},
		{key: "backpressure_poll", raw: raw.Processor.BackpressurePoll, dst: &p.BackpressurePoll},
	}
	for _, d := range durations {
		if !meta.IsDefined("processor", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v <= 0 {
			return runConfig{}, fmt.Errorf("load run config: processor.%s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}
	if meta.IsDefined("processor", "pacing") {
		p.Pacing = raw.Processor.Pacing
	}
	if meta.IsDefined("processor", "byte_aligned") {
		p.Framing.ByteAligned = raw.Processor.ByteAligned
	}
	if meta.IsDefined("processor", "byte_order") {
		order, err := frame.ParseByteOrder(raw.Processor.ByteOrder)
		if err != nil {
			return runConfig{}, fmt.Errorf("load run config: %w", err)
		}
		p.Framing.Order = order
	}
	if meta.IsDefined("processor", "pad") {
		pad, err := frame.ParsePadPlacement(raw.Processor.Pad)
		if err != nil {
			return runConfig{}, fmt.Errorf("load run config: %w", err)
		}
		p.Framing.Pad = pad
	}
	if meta.IsDefined("processor", "run_encoding") {
		enc, err := protocol.ParseRunEncoding(raw.Processor.RunEncoding)
		if err != nil {
			return runConfig{}, fmt.Errorf("load run config: %w", err)
		}
		p.RunEncoding = enc
	}
	if meta.IsDefined("processor", "system_buffer") {
		p.SystemBuffer = raw.Processor.SystemBuffer
	}
	if meta.IsDefined("processor", "max_runs_ahead") {
		p.MaxRunsAhead = raw.Processor.MaxRunsAhead
	}

	if meta.IsDefined("server", "addr") {
		cfg.ServerAddr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "id") {
		cfg.ServerID = strings.TrimSpace(raw.Server.ID)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.CORSOrigins = raw.Server.CORSOrigins
	}

	for _, s := range raw.Spikes {
		cfg.Spikes = append(cfg.Spikes, spike.Spike{ID: s.ID, Time: s.Time, Value: s.Value})
	}

	if cfg.Run < 0 {
		return runConfig{}, fmt.Errorf("load run config: run must not be negative")
	}
	return cfg, nil
}

// catalogue returns the target catalogue, embedded unless overridden.
func (c runConfig) catalogue() (config.Catalogue, error) {
	if c.TargetsPath != "" {
		return config.LoadTargets(c.TargetsPath)
	}
	return config.DefaultTargets()
}

// resolve makes relative paths in a run file relative to the file.
func resolve(configPath, raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}
