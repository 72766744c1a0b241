// Package planfile reads a planned motion stream: trapezoidal moves per
// queue, flush points and runtime commands, one record per line.
//
//	# queue print_time accel_t cruise_t decel_t sx sy sz rx ry rz start_v cruise_v accel
//	move toolhead 0.1 0.5 0.5 0.5 0 0 0 1 0 0 0 200 400
//	position extruder 2.0 0 0 12.5
//	flush 1.2
//	SET_PRESSURE_ADVANCE ADVANCE=0.04 SMOOTH_TIME=0.04
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package planfile

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/gcode"
	"klipper-stepgen/pkg/trapq"
)

// Kind is the type of a record.
type Kind int

const (
	KindMove Kind = iota
	KindPosition
	KindFlush
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindPosition:
		return "position"
	case KindFlush:
		return "flush"
	case KindCommand:
		return "command"
	}
	return "unknown"
}

// Move is a trapezoidal move as passed to trapq.Append.
type Move struct {
	PrintTime, AccelT, CruiseT, DecelT float64
	Start, AxesR                       trapq.Coord
	StartV, CruiseV, Accel             float64
}

// EndTime returns the print time at which the move ends.
func (m Move) EndTime() float64 {
	return m.PrintTime + m.AccelT + m.CruiseT + m.DecelT
}

// AppendTo queues the move on tq.
func (m Move) AppendTo(tq *trapq.TrapQ) error {
	return tq.Append(m.PrintTime, m.AccelT, m.CruiseT, m.DecelT,
		m.Start, m.AxesR, m.StartV, m.CruiseV, m.Accel)
}

// Record is one line of the stream.
type Record struct {
	Line  int
	Kind  Kind
	Queue string      // move, position
	Move  Move        // move
	Time  float64     // position, flush
	Pos   trapq.Coord // position
	Cmd   *gcode.Command
}

// Reader reads records from a stream.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{sc: bufio.NewScanner(r)}
}

// Next returns the next record, or io.EOF after the last one. Blank and
// comment lines are skipped.
func (r *Reader) Next() (*Record, error) {
	for r.sc.Scan() {
		r.line++
		line := r.sc.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		rec, err := r.parse(fields, line)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCommandParse,
				fmt.Sprintf("line %d: %v", r.line, err)).SetContext("line", r.line)
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]*Record, error) {
	var recs []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

func (r *Reader) parse(fields []string, line string) (*Record, error) {
	rec := &Record{Line: r.line}
	switch fields[0] {
	case "move":
		if len(fields) != 15 {
			return nil, fmt.Errorf("move takes 14 values, got %d", len(fields)-1)
		}
		v, err := floats(fields[2:])
		if err != nil {
			return nil, err
		}
		rec.Kind, rec.Queue = KindMove, fields[1]
		rec.Move = Move{
			PrintTime: v[0], AccelT: v[1], CruiseT: v[2], DecelT: v[3],
			Start:  trapq.Coord{X: v[4], Y: v[5], Z: v[6]},
			AxesR:  trapq.Coord{X: v[7], Y: v[8], Z: v[9]},
			StartV: v[10], CruiseV: v[11], Accel: v[12],
		}
	case "position":
		if len(fields) != 6 {
			return nil, fmt.Errorf("position takes 5 values, got %d", len(fields)-1)
		}
		v, err := floats(fields[2:])
		if err != nil {
			return nil, err
		}
		rec.Kind, rec.Queue, rec.Time = KindPosition, fields[1], v[0]
		rec.Pos = trapq.Coord{X: v[1], Y: v[2], Z: v[3]}
	case "flush":
		if len(fields) != 2 {
			return nil, fmt.Errorf("flush takes 1 value, got %d", len(fields)-1)
		}
		v, err := floats(fields[1:])
		if err != nil {
			return nil, err
		}
		rec.Kind, rec.Time = KindFlush, v[0]
	default:
		if strings.ToUpper(fields[0]) != fields[0] {
			return nil, fmt.Errorf("unknown record '%s'", fields[0])
		}
		cmd, err := gcode.Parse(line)
		if err != nil {
			return nil, err
		}
		rec.Kind, rec.Cmd = KindCommand, cmd
	}
	return rec, nil
}

func floats(fields []string) ([]float64, error) {
	v := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("invalid number '%s'", f)
		}
		v[i] = x
	}
	return v, nil
}
