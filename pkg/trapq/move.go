// Trapezoidal move segments
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package trapq

import (
	"fmt"
	"strings"
)

// NeverTime is the duration (s) of the stationary tail sentinel.
const NeverTime = 9999999999999999.9

// Axis selects one cartesian component of a Coord.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// Flag returns the AxisFlags bit of the axis.
func (a Axis) Flag() AxisFlags {
	return 1 << uint(a)
}

// ParseAxis converts "x", "y" or "z" (any case) to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis %q", s)
}

// AxisFlags is a set of axes, used to declare which axes move a stepper.
type AxisFlags uint8

const (
	FlagX AxisFlags = 1 << iota
	FlagY
	FlagZ
)

// Has reports whether axis a is in the set.
func (f AxisFlags) Has(a Axis) bool {
	return f&a.Flag() != 0
}

// Coord is a cartesian position or direction vector (mm).
type Coord struct {
	X, Y, Z float64
}

// Get returns the component selected by a.
func (c Coord) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return c.X
	case AxisY:
		return c.Y
	default:
		return c.Z
	}
}

// Set assigns the component selected by a.
func (c *Coord) Set(a Axis, v float64) {
	switch a {
	case AxisX:
		c.X = v
	case AxisY:
		c.Y = v
	default:
		c.Z = v
	}
}

// Move is one constant-acceleration segment of the commanded trajectory.
//
// PrintTime is the absolute start time and MoveTime the duration (s).
// Distance along the move at local time t is (StartV + HalfAccel*t)*t and
// each axis advances by AxesR times that distance.
type Move struct {
	PrintTime float64
	MoveTime  float64
	StartV    float64
	HalfAccel float64
	StartPos  Coord
	AxesR     Coord
}

// EndTime returns the absolute time at which the move finishes.
func (m *Move) EndTime() float64 {
	return m.PrintTime + m.MoveTime
}

// Distance returns the distance travelled at local time t (mm).
func (m *Move) Distance(t float64) float64 {
	return (m.StartV + m.HalfAccel*t) * t
}

// Velocity returns the velocity along the move at local time t (mm/s).
func (m *Move) Velocity(t float64) float64 {
	return m.StartV + 2*m.HalfAccel*t
}

// Coord returns the position at local time t.
func (m *Move) Coord(t float64) Coord {
	d := m.Distance(t)
	return Coord{
		X: m.StartPos.X + m.AxesR.X*d,
		Y: m.StartPos.Y + m.AxesR.Y*d,
		Z: m.StartPos.Z + m.AxesR.Z*d,
	}
}

// AxisPosition returns one component of Coord(t).
func (m *Move) AxisPosition(a Axis, t float64) float64 {
	return m.StartPos.Get(a) + m.AxesR.Get(a)*m.Distance(t)
}

// AxisVelocity returns one component of the velocity vector at local time t.
func (m *Move) AxisVelocity(a Axis, t float64) float64 {
	return m.AxesR.Get(a) * m.Velocity(t)
}

// Stationary reports whether the move holds its start position.
func (m *Move) Stationary() bool {
	return m.StartV == 0 && m.HalfAccel == 0
}
