package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/spikelink/internal/config"
	"github.com/danmuck/spikelink/internal/emulator"
	"github.com/danmuck/spikelink/internal/link"
	"github.com/danmuck/spikelink/internal/network"
	"github.com/danmuck/spikelink/internal/processor"
	"github.com/danmuck/spikelink/internal/program"
	"github.com/danmuck/spikelink/internal/protocol"
	"github.com/danmuck/spikelink/internal/protocol/schema"
	"github.com/danmuck/spikelink/internal/server"
	"github.com/danmuck/spikelink/internal/spike"
	"github.com/rs/zerolog/log"
)

// simDevice selects the in-process emulator instead of a serial device.
const simDevice = "sim"

// commonFlags are shared by every command that talks to a processor.
type commonFlags struct {
	config   string
	target   string
	targets  string
	tool     string
	device   string
	baud     int
	io       string
	network  string
	run      int
	buildDir string
	spikes   spikeList
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "run file (TOML)")
	fs.StringVar(&f.target, "target", "", "target name from the catalogue")
	fs.StringVar(&f.targets, "targets", "", "target catalogue (TOML), embedded catalogue when empty")
	fs.StringVar(&f.tool, "tool", "", "programming tool, the target default when empty")
	fs.StringVar(&f.device, "device", "", "serial device")
	fs.IntVar(&f.baud, "baud", 0, "baud rate, the target's fastest when 0")
	fs.StringVar(&f.io, "io", "", "io type: DIDO|DISO|SIDO|SISO")
	fs.StringVar(&f.network, "network", "", "network JSON")
	fs.IntVar(&f.run, "run", 0, "cycles to run")
	fs.StringVar(&f.buildDir, "build-dir", "", "build directory handed to the programming tool")
	fs.Var(&f.spikes, "spike", "input spike id:time[:value], repeatable")
}

// resolve overlays explicitly set flags on the run file, or on defaults.
func (f *commonFlags) resolve(fs *flag.FlagSet) (runConfig, error) {
	rc := defaultRunConfig()
	if f.config != "" {
		loaded, err := loadRunConfig(f.config)
		if err != nil {
			return runConfig{}, err
		}
		rc = loaded
	}

	var err error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "target":
			rc.Target = f.target
		case "targets":
			rc.TargetsPath = f.targets
		case "tool":
			rc.Tool = f.tool
		case "device":
			rc.Device = f.device
		case "baud":
			rc.Baud = f.baud
		case "io":
			ioType, perr := protocol.ParseIOType(f.io)
			if perr != nil {
				err = perr
				return
			}
			rc.IO = ioType
		case "network":
			rc.Network = f.network
		case "run":
			rc.Run = f.run
		case "build-dir":
			rc.BuildDir = f.buildDir
		case "spike":
			rc.Spikes = append(rc.Spikes, f.spikes...)
		}
	})
	if err != nil {
		return runConfig{}, err
	}
	if rc.Baud < 0 || rc.Run < 0 {
		return runConfig{}, fmt.Errorf("baud and run must not be negative")
	}
	return rc, nil
}

// spikeList collects -spike id:time[:value] flags.
type spikeList []spike.Spike

func (l *spikeList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, len(*l))
	for _, s := range *l {
		parts = append(parts, fmt.Sprintf("%d:%d:%g", s.ID, s.Time, s.Value))
	}
	return strings.Join(parts, ",")
}

func (l *spikeList) Set(v string) error {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("spike %q: want id:time[:value]", v)
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("spike %q: id: %w", v, err)
	}
	at, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("spike %q: time: %w", v, err)
	}
	value := 1.0
	if len(parts) == 3 {
		if value, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return fmt.Errorf("spike %q: value: %w", v, err)
		}
	}
	*l = append(*l, spike.Spike{ID: id, Time: at, Value: value})
	return nil
}

// openProcessor wires a processor to rc's target. The emulator tool serves
// an in-process device over a pipe; other tools program real hardware and
// talk over the serial device.
func openProcessor(ctx context.Context, rc runConfig) (*processor.Processor, func(), error) {
	cat, err := rc.catalogue()
	if err != nil {
		return nil, nil, err
	}
	target, err := cat.Lookup(rc.Target)
	if err != nil {
		return nil, nil, err
	}
	toolName, _, err := target.Tool(rc.Tool)
	if err != nil {
		return nil, nil, err
	}
	baud := rc.Baud
	if baud == 0 {
		baud = target.DefaultBaud()
	}

	cfg := rc.Processor
	cfg.Target = target.Name
	cfg.IO = rc.IO
	cfg.ClockHz = target.ClockHz
	opts := []processor.Option{processor.WithBuildDir(rc.BuildDir)}

	if toolName == "emulator" {
		host, devPort := link.Pipe(baud)
		dev := emulator.NewDevice(devPort, emulator.DefaultOptions())
		sctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- dev.Serve(sctx) }()
		closeFn := func() {
			cancel()
			_ = host.Close()
			if err := <-done; err != nil {
				log.Warn().Err(err).Msg("emulator stopped")
			}
		}
		log.Info().Str("target", target.Name).Int("baud", baud).Msg("using emulator")
		return processor.New(host, dev, cfg, opts...), closeFn, nil
	}

	reg, err := program.FromTarget(target)
	if err != nil {
		return nil, nil, err
	}
	prog, ok := reg.Resolve(toolName)
	if !ok {
		return nil, nil, fmt.Errorf("tool %q of target %s has no command", toolName, target.Name)
	}
	if rc.Device == "" {
		return nil, nil, fmt.Errorf("target %s needs a serial device", target.Name)
	}
	port, err := link.OpenSerial(ctx, link.DefaultSerialConfig(rc.Device, baud))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := port.Close(); err != nil {
			log.Warn().Err(err).Str("device", rc.Device).Msg("close serial port")
		}
	}
	log.Info().Str("target", target.Name).Str("tool", toolName).Str("device", rc.Device).Int("baud", baud).Msg("using serial link")
	return processor.New(port, prog, cfg, opts...), closeFn, nil
}

func cmdRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rc, err := cf.resolve(fs)
	if err != nil {
		return err
	}
	if rc.Network == "" {
		return errors.New("run needs a network (-network or network in the run file)")
	}

	proc, closeFn, err := openProcessor(ctx, rc)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := proc.LoadNetworkFile(ctx, rc.Network); err != nil {
		return err
	}
	if len(rc.Spikes) > 0 {
		if err := proc.ApplySpikes(rc.Spikes...); err != nil {
			return err
		}
	}
	if err := proc.Run(ctx, rc.Run); err != nil {
		return err
	}
	return printOutputs(out, proc)
}

func printOutputs(out io.Writer, proc *processor.Processor) error {
	vectors, err := proc.OutputVectors()
	if err != nil {
		return err
	}
	counts, err := proc.OutputCounts()
	if err != nil {
		return err
	}
	last, err := proc.OutputLastFires()
	if err != nil {
		return err
	}
	in, outClock := proc.Clocks()
	fmt.Fprintf(out, "session %s io=%s input_clock=%d output_clock=%d\n", proc.SessionID(), proc.Schema().IO, in, outClock)
	for i, fires := range vectors {
		fmt.Fprintf(out, "output %d: count=%d last=%d fires=%v\n", i, counts[i], last[i], fires)
	}
	return nil
}

func cmdSchema(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.SetOutput(out)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rc, err := cf.resolve(fs)
	if err != nil {
		return err
	}
	if rc.Network == "" {
		return errors.New("schema needs a network (-network or network in the run file)")
	}
	s, err := compileSchema(rc)
	if err != nil {
		return err
	}
	fmt.Fprint(out, s.Describe())
	return nil
}

// compileSchema builds the protocol for rc without touching hardware.
func compileSchema(rc runConfig) (*schema.Schema, error) {
	net, err := network.Load(rc.Network)
	if err != nil {
		return nil, err
	}
	cat, err := rc.catalogue()
	if err != nil {
		return nil, err
	}
	target, err := cat.Lookup(rc.Target)
	if err != nil {
		return nil, err
	}
	baud := rc.Baud
	if baud == 0 {
		baud = target.DefaultBaud()
	}
	cfg := rc.Processor
	cfg.ClockHz = target.ClockHz
	return schema.Compile(net, rc.IO, cfg.SchemaOptions(baud))
}

func cmdLoop(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("loop", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		device  = fs.String("device", "", "serial device, or sim for an in-process echo")
		target  = fs.String("target", "", "test the target's catalogued rates")
		targets = fs.String("targets", "", "target catalogue (TOML)")
		rates   = fs.String("rates", "", "comma-separated baud rates")
		all     = fs.Bool("all", false, "test every standard rate")
		size    = fs.Int("bytes", 1<<16, "bytes per rate")
		chunk   = fs.Int("chunk", 4096, "bytes per write")
		seed    = fs.Int64("seed", 1, "payload seed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" {
		return errors.New("loop needs -device")
	}

	var list []int
	switch {
	case *rates != "":
		for _, r := range strings.Split(*rates, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(r))
			if err != nil || v <= 0 {
				return fmt.Errorf("invalid baud rate %q", r)
			}
			list = append(list, v)
		}
	case *all:
		list = link.StandardRates
	case *target != "":
		rc := defaultRunConfig()
		rc.TargetsPath = *targets
		cat, err := rc.catalogue()
		if err != nil {
			return err
		}
		t, err := cat.Lookup(*target)
		if err != nil {
			return err
		}
		list = t.BaudRates
	default:
		list = []int{config.FallbackBaud}
	}

	lc := link.LoopbackConfig{Bytes: *size, Chunk: *chunk, Seed: *seed}
	failed := 0
	for _, baud := range list {
		res, err := loopOnce(ctx, *device, baud, lc)
		if err != nil {
			return fmt.Errorf("baud %d: %w", baud, err)
		}
		if !res.Passed {
			failed++
		}
		fmt.Fprintf(out, "baud=%d passed=%t bytes=%d elapsed=%s bitrate=%.0f throughput=%.1f%%\n",
			res.Baud, res.Passed, res.Bytes, res.Elapsed, res.BitRate, res.Throughput*100)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rates failed", failed, len(list))
	}
	return nil
}

func loopOnce(ctx context.Context, device string, baud int, lc link.LoopbackConfig) (link.LoopbackResult, error) {
	if device == simDevice {
		host, far := link.Pipe(baud)
		ectx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- link.Echo(ectx, far) }()
		defer func() {
			cancel()
			_ = host.Close()
			<-done
		}()
		return link.Loopback(ctx, host, lc)
	}
	port, err := link.OpenSerial(ctx, link.DefaultSerialConfig(device, baud))
	if err != nil {
		return link.LoopbackResult{}, err
	}
	defer port.Close()
	return link.Loopback(ctx, port, lc)
}

func cmdServe(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(out)
	var cf commonFlags
	cf.register(fs)
	addr := fs.String("addr", "", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rc, err := cf.resolve(fs)
	if err != nil {
		return err
	}
	if *addr != "" {
		rc.ServerAddr = *addr
	}

	proc, closeFn, err := openProcessor(ctx, rc)
	if err != nil {
		return err
	}
	defer closeFn()
	if rc.Network != "" {
		if err := proc.LoadNetworkFile(ctx, rc.Network); err != nil {
			return err
		}
	}
	return server.New(rc.ServerID, rc.ServerAddr, proc, rc.CORSOrigins).Serve(ctx)
}

func cmdTargets(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("targets", flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("targets", "", "target catalogue (TOML)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rc := defaultRunConfig()
	rc.TargetsPath = *path
	cat, err := rc.catalogue()
	if err != nil {
		return err
	}
	for _, name := range cat.Names() {
		t := cat[name]
		fmt.Fprintf(out, "%s clock_hz=%g default_baud=%d tool=%s\n", name, t.ClockHz, t.DefaultBaud(), t.DefaultTool)
	}
	return nil
}

func cmdInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(out)
	kind := fs.String("kind", "run", "template kind: run|targets")
	output := fs.String("output", "", "output path (spikelink.toml or targets.toml)")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *output
	if path == "" {
		path = "spikelink.toml"
		if *kind == "targets" {
			path = "targets.toml"
		}
	}
	if err := config.WriteTemplate(path, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s template to %s\n", *kind, path)
	return nil
}
