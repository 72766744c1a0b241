// Package kinematics maps toolhead coordinates to per-stepper positions.
//
// Each stepper owns a Mapper, the scalar position function the step
// solver roots. A Kinematics groups the rails of one printer type and
// inverts the mapping for position reports.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package kinematics

import (
	"klipper-stepgen/pkg/trapq"
)

// Mapper converts a toolhead coordinate to one stepper's position (mm).
type Mapper interface {
	Position(c trapq.Coord) float64
	// ActiveAxes lists the axes whose motion moves this stepper.
	ActiveAxes() trapq.AxisFlags
}

// Linear is a stepper driven by a fixed linear combination of axes:
// position = Coeffs.X*x + Coeffs.Y*y + Coeffs.Z*z.
type Linear struct {
	Coeffs trapq.Coord
}

// Position implements Mapper.
func (l Linear) Position(c trapq.Coord) float64 {
	return l.Coeffs.X*c.X + l.Coeffs.Y*c.Y + l.Coeffs.Z*c.Z
}

// ActiveAxes implements Mapper.
func (l Linear) ActiveAxes() trapq.AxisFlags {
	var f trapq.AxisFlags
	if l.Coeffs.X != 0 {
		f |= trapq.FlagX
	}
	if l.Coeffs.Y != 0 {
		f |= trapq.FlagY
	}
	if l.Coeffs.Z != 0 {
		f |= trapq.FlagZ
	}
	return f
}

// Rail is one stepper of the kinematics.
type Rail struct {
	Name     string
	StepDist float64 // mm per full step event
	Mapper   Mapper
}

// Kinematics is the interface for all kinematic implementations.
type Kinematics interface {
	// Type returns the kinematic type name (e.g., "cartesian", "corexy").
	Type() string

	// Rails returns the steppers in configuration order.
	Rails() []Rail

	// CalcPosition calculates the toolhead position from stepper positions.
	CalcPosition(stepperPositions map[string]float64) trapq.Coord
}

// base holds the rails shared by all implementations.
type base struct {
	kinType string
	rails   []Rail
}

func (b *base) Type() string { return b.kinType }

func (b *base) Rails() []Rail { return b.rails }

// Rail returns the named rail.
func (b *base) Rail(name string) (Rail, bool) {
	for _, r := range b.rails {
		if r.Name == name {
			return r, true
		}
	}
	return Rail{}, false
}

// newLinearBase builds rails for kinematics where every stepper is a
// linear combination of axes.
func newLinearBase(kinType string, stepDist map[string]float64, coeffs map[string]trapq.Coord, order []string) *base {
	b := &base{kinType: kinType}
	for _, name := range order {
		b.rails = append(b.rails, Rail{
			Name:     name,
			StepDist: stepDist[name],
			Mapper:   Linear{Coeffs: coeffs[name]},
		})
	}
	return b
}
