// Package gcode parses runtime commands such as SET_PRESSURE_ADVANCE and
// SET_INPUT_SHAPER into typed parameter accessors.
package gcode

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/pool"
)

// Command is one parsed command line.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Parse parses a command line. Blank and comment-only lines return nil.
// Extended commands take KEY=VALUE parameters; classic G-code words such
// as X10 are split into letter and value.
func Parse(line string) (*Command, error) {
	ln := line
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return nil, nil
	}

	cmd := &Command{Name: strings.ToUpper(fields[0]), Args: pool.GetArgsMap(), Raw: line}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			k = strings.ToUpper(strings.TrimSpace(k))
			if k == "" {
				cmd.Release()
				return nil, errors.New(errors.ErrCommandParse,
					fmt.Sprintf("malformed parameter '%s' in '%s'", f, strings.TrimSpace(line)))
			}
			cmd.Args[k] = strings.TrimSpace(v)
			continue
		}
		cmd.Args[strings.ToUpper(f[:1])] = f[1:]
	}
	return cmd, nil
}

// Release returns the argument map to the pool. The command must not be
// used afterwards.
func (c *Command) Release() {
	if c == nil {
		return
	}
	pool.PutArgsMap(c.Args)
	c.Args = nil
}

// Has reports whether the parameter was given.
func (c *Command) Has(name string) bool {
	_, ok := c.Args[name]
	return ok
}

// Get returns a string parameter or def when absent.
func (c *Command) Get(name, def string) string {
	if v, ok := c.Args[name]; ok {
		return v
	}
	return def
}

// Float returns a float parameter or def when absent.
func (c *Command) Float(name string, def float64) (float64, error) {
	v, ok, err := c.OptFloat(name)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// OptFloat returns a float parameter and whether it was present.
func (c *Command) OptFloat(name string) (float64, bool, error) {
	s, ok := c.Args[name]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, errors.CommandInvalidParameterError(c.Name, name, s, "not a finite number")
	}
	return v, true, nil
}

// FloatMin returns a float parameter that must be at least min.
func (c *Command) FloatMin(name string, def, min float64) (float64, error) {
	v, ok, err := c.OptFloat(name)
	if err != nil || !ok {
		return def, err
	}
	if v < min {
		return 0, errors.CommandInvalidParameterError(c.Name, name, c.Args[name],
			fmt.Sprintf("must be at least %v", min))
	}
	return v, nil
}

// String renders the command in canonical form with sorted parameters.
func (c *Command) String() string {
	keys := pool.GetStringSlice()
	defer pool.PutStringSlice(keys)
	for k := range c.Args {
		*keys = append(*keys, k)
	}
	sort.Strings(*keys)
	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	buf.WriteString(c.Name)
	for _, k := range *keys {
		buf.WriteByte(' ')
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(c.Args[k])
	}
	return buf.String()
}
