package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "run":
		return runTemplate, nil
	case "targets":
		return string(builtinTargets), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const runTemplate = `target = "sim"
# targets = "targets.toml"
# tool = "vivado"
device = "/dev/ttyUSB1"
# baud = 3000000
io_type = "DISO"
network = "network.json"
run = 100
# build_dir = "build"

[processor]
read_timeout = "10s"
drain_quiet = "10ms"
backpressure_poll = "100ns"
pacing = true
byte_aligned = true
byte_order = "lsb-first"
pad = "after-prefix"
run_encoding = "count"

[server]
addr = ":9200"
id = "spikelink.local"
cors_origins = ["http://localhost:3000"]

[[spikes]]
id = 0
time = 0
value = 1.0
`
