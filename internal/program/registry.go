package program

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/spikelink/internal/config"
)

var (
	ErrProgrammerExists = errors.New("programmer already registered")
	ErrProgrammerNil    = errors.New("programmer is nil")
	ErrInvalidName      = errors.New("invalid programmer name")
)

// Registry stores programming backends by tool name.
type Registry struct {
	items map[string]Programmer
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Programmer)}
}

func (r *Registry) Register(name string, p Programmer) error {
	if p == nil {
		return ErrProgrammerNil
	}
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrProgrammerExists, name)
	}
	r.items[name] = p
	return nil
}

func (r *Registry) Resolve(name string) (Programmer, bool) {
	p, ok := r.items[name]
	return p, ok
}

// Names returns registered names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidName(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(id)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}

// FromTarget registers a CommandProgrammer for every tool of t that has a
// command line.
func FromTarget(t config.Target) (*Registry, error) {
	r := NewRegistry()
	for name, tool := range t.Tools {
		if len(tool.Command) == 0 {
			continue
		}
		if err := r.Register(name, NewCommandProgrammer(tool.Command, tool.Dir, tool.Env)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
