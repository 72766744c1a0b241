package gcode

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/log"
)

// Handler runs one command.
type Handler func(cmd *Command) error

type handler struct {
	fn   Handler
	help string
}

// Executor dispatches parsed commands to registered handlers.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]handler
	logger   *log.Logger
}

// NewExecutor creates an executor with no commands.
func NewExecutor() *Executor {
	return &Executor{
		handlers: make(map[string]handler),
		logger:   log.GetLogger("gcode"),
	}
}

// Register adds a command. Names are matched upper case; registering a
// name twice is an error.
func (e *Executor) Register(name, help string, fn Handler) error {
	name = strings.ToUpper(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[name]; ok {
		return fmt.Errorf("command '%s' already registered", name)
	}
	e.handlers[name] = handler{fn: fn, help: help}
	return nil
}

// Commands returns the registered command names, sorted.
func (e *Executor) Commands() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.handlers))
	for n := range e.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Help returns the help text of a command.
func (e *Executor) Help(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[strings.ToUpper(name)].help
}

// Execute runs cmd with its handler.
func (e *Executor) Execute(cmd *Command) error {
	e.mu.RLock()
	h, ok := e.handlers[cmd.Name]
	e.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrCommandParse, fmt.Sprintf("unknown command '%s'", cmd.Name))
	}
	e.logger.WithField("command", cmd.String()).Debug("executing")
	return h.fn(cmd)
}

// Run parses and executes one line. Blank and comment lines are ignored.
func (e *Executor) Run(line string) error {
	cmd, err := Parse(line)
	if cmd == nil || err != nil {
		return err
	}
	defer cmd.Release()
	return e.Execute(cmd)
}
