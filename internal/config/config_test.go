package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/spikelink/internal/testutil/testlog"
)

func TestDefaultTargetsParse(t *testing.T) {
	testlog.Start(t)
	cat, err := DefaultTargets()
	if err != nil {
		t.Fatalf("default targets: %v", err)
	}
	basys, err := cat.Lookup("basys3")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if basys.ClockHz != 100e6 {
		t.Fatalf("clock got=%v", basys.ClockHz)
	}
	if got := basys.DefaultBaud(); got != 3000000 {
		t.Fatalf("default baud got=%d want=3000000", got)
	}
	name, tool, err := basys.Tool("")
	if err != nil || name != "vivado" || len(tool.Command) == 0 {
		t.Fatalf("default tool got=%q %+v err=%v", name, tool, err)
	}
	if _, err := cat.Lookup("zynq-missing"); err == nil {
		t.Fatalf("expected unknown target error")
	}
	if _, _, err := basys.Tool("quartus"); err == nil {
		t.Fatalf("expected unknown tool error")
	}
}

func TestDefaultBaudFallback(t *testing.T) {
	testlog.Start(t)
	if got := (Target{}).DefaultBaud(); got != FallbackBaud {
		t.Fatalf("fallback got=%d", got)
	}
}

func TestValidateTarget(t *testing.T) {
	testlog.Start(t)
	good := Target{
		Name:        "x",
		ClockHz:     1e6,
		BaudRates:   []int{9600, 115200},
		DefaultTool: "t",
		Tools:       map[string]ToolConfig{"t": {}},
	}
	if err := ValidateTarget(good); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := []func(Target) Target{
		func(t Target) Target { t.ClockHz = 0; return t },
		func(t Target) Target { t.BaudRates = []int{115200, 9600}; return t },
		func(t Target) Target { t.DefaultTool = ""; return t },
		func(t Target) Target { t.DefaultTool = "missing"; return t },
		func(t Target) Target { t.Name = " "; return t },
	}
	for i, mutate := range bad {
		if err := ValidateTarget(mutate(good)); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestLoadTargetsFromFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "targets.toml")
	data := []byte(`
[targets.bench]
clock_hz = 50e6
baud_rates = [115200]
default_tool = "script"

[targets.bench.tools.script]
command = ["./program.sh", "${TARGET}"]
env = { BOARD = "bench" }
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	bench, err := cat.Lookup("bench")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if bench.Name != "bench" || bench.Tools["script"].Env["BOARD"] != "bench" {
		t.Fatalf("bench got=%+v", bench)
	}
	if _, err := LoadTargets(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestTemplates(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := WriteTemplate(path, "run", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "run", false); err == nil {
		t.Fatalf("expected exists error")
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	targets, err := Template("targets")
	if err != nil {
		t.Fatalf("targets template: %v", err)
	}
	if _, err := ParseTargets([]byte(targets)); err != nil {
		t.Fatalf("targets template does not parse: %v", err)
	}
}
