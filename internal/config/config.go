package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FallbackBaud is used when a target lists no baud rates.
const FallbackBaud = 115200

//go:embed targets.toml
var builtinTargets []byte

type TargetFile struct {
	Targets map[string]Target `toml:"targets"`
}

type Target struct {
	Name        string                `toml:"-"`
	ClockHz     float64               `toml:"clock_hz"`
	BaudRates   []int                 `toml:"baud_rates"`
	DefaultTool string                `toml:"default_tool"`
	Tools       map[string]ToolConfig `toml:"tools"`
}

// ToolConfig is one programming backend. Command elements may reference
// ${VAR} build variables.
type ToolConfig struct {
	Part    string            `toml:"part"`
	Command []string          `toml:"command"`
	Dir     string            `toml:"dir"`
	Env     map[string]string `toml:"env"`
}

// DefaultBaud is the fastest catalogued rate, listed last.
func (t Target) DefaultBaud() int {
	if len(t.BaudRates) == 0 {
		return FallbackBaud
	}
	return t.BaudRates[len(t.BaudRates)-1]
}

// Tool resolves name, or the default tool when name is empty.
func (t Target) Tool(name string) (string, ToolConfig, error) {
	if strings.TrimSpace(name) == "" {
		name = t.DefaultTool
	}
	tool, ok := t.Tools[name]
	if !ok {
		return "", ToolConfig{}, fmt.Errorf("target %s has no tool %q", t.Name, name)
	}
	return name, tool, nil
}

// Catalogue is a set of targets by name.
type Catalogue map[string]Target

// DefaultTargets parses the embedded catalogue.
func DefaultTargets() (Catalogue, error) {
	return ParseTargets(builtinTargets)
}

func LoadTargets(path string) (Catalogue, error) {
	var file TargetFile
	if err := loadToml(path, &file); err != nil {
		return nil, err
	}
	return finishTargets(file)
}

func ParseTargets(data []byte) (Catalogue, error) {
	var file TargetFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config parse failed (targets): %w", err)
	}
	return finishTargets(file)
}

func finishTargets(file TargetFile) (Catalogue, error) {
	out := make(Catalogue, len(file.Targets))
	for name, t := range file.Targets {
		t.Name = name
		if err := ValidateTarget(t); err != nil {
			return nil, fmt.Errorf("target[%s] invalid: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// Lookup returns a target by name.
func (c Catalogue) Lookup(name string) (Target, error) {
	t, ok := c[name]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return t, nil
}

func (c Catalogue) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateTarget(t Target) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target missing name")
	}
	if t.ClockHz <= 0 {
		return fmt.Errorf("clock_hz must be positive")
	}
	for i, rate := range t.BaudRates {
		if rate <= 0 {
			return fmt.Errorf("baud_rates[%d] must be positive", i)
		}
		if i > 0 && rate <= t.BaudRates[i-1] {
			return fmt.Errorf("baud_rates must be ascending")
		}
	}
	if strings.TrimSpace(t.DefaultTool) == "" {
		return fmt.Errorf("default_tool is required")
	}
	if _, ok := t.Tools[t.DefaultTool]; !ok {
		return fmt.Errorf("default_tool %q has no [tools.%s] entry", t.DefaultTool, t.DefaultTool)
	}
	return nil
}
