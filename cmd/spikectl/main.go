package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/spikelink/internal/logging"
	"github.com/danmuck/spikelink/internal/observability"
)

const usage = `usage: spikectl <command> [flags]

commands:
  run      load a network, apply spikes, run and print output fires
  schema   print the wire protocol compiled for a network
  loop     measure UART loopback throughput
  serve    expose a processor over HTTP
  targets  list the target catalogue
  init     write a run file or target catalogue template`

var errUsage = errors.New(usage)

func main() {
	logging.ConfigureRuntime()
	observability.InitLogger("spikectl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "spikectl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(ctx, rest, out)
	case "schema":
		return cmdSchema(rest, out)
	case "loop":
		return cmdLoop(ctx, rest, out)
	case "serve":
		return cmdServe(ctx, rest, out)
	case "targets":
		return cmdTargets(rest, out)
	case "init":
		return cmdInit(rest, out)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}
