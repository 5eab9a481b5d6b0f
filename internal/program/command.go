package program

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danmuck/spikelink/internal/tools"
	"github.com/rs/zerolog/log"
)

var ErrEmptyCommand = errors.New("program: empty command")

// CommandProgrammer runs a host command line, e.g. a synthesis and
// programming script, with ${VAR} references expanded from the build.
type CommandProgrammer struct {
	Runner  tools.CommandRunner
	Command []string
	Dir     string
	Env     map[string]string
}

func NewCommandProgrammer(command []string, dir string, env map[string]string) *CommandProgrammer {
	return &CommandProgrammer{Runner: tools.ExecRunner{}, Command: command, Dir: dir, Env: env}
}

// Expand resolves the command line for b. Unknown variables expand to the
// host environment.
func (p *CommandProgrammer) Expand(b Build) []string {
	vars := b.Vars()
	lookup := func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	}
	out := make([]string, len(p.Command))
	for i, arg := range p.Command {
		out[i] = os.Expand(arg, lookup)
	}
	return out
}

func (p *CommandProgrammer) Program(ctx context.Context, b Build) error {
	if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
		return ErrEmptyCommand
	}
	argv := p.Expand(b)
	cmd := tools.Command{Name: argv[0], Args: argv[1:], Dir: os.Expand(p.Dir, func(k string) string { return b.Vars()[k] })}
	cmd.Env = p.env(b)

	log.Info().Str("build", b.String()).Strs("argv", argv).Msg("programming target")
	res, err := p.Runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("program: %s exited %d: %w: %s", argv[0], res.ExitCode, err, tail(res.Stderr, 512))
	}
	log.Debug().Int("stdout_bytes", len(res.Stdout)).Msg("programming finished")
	return nil
}

// env exports the build variables plus the configured extras, sorted for a
// stable command environment.
func (p *CommandProgrammer) env(b Build) []string {
	env := make([]string, 0, len(p.Env)+12)
	for k, v := range b.Vars() {
		env = append(env, "SPIKELINK_"+k+"="+v)
	}
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
