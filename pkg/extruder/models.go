// Pressure advance models
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extruder

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"klipper-stepgen/pkg/errors"
)

// Model adds pressure advance to a smoothed extruder position given the
// smoothed toolhead-synchronised extruder velocity (mm/s).
type Model interface {
	Name() string
	Params() []float64
	Apply(position, velocity float64) float64
}

// Linear pushes Advance seconds worth of velocity ahead of the nominal
// position.
type Linear struct {
	Advance float64
}

func (m Linear) Name() string      { return "linear" }
func (m Linear) Params() []float64 { return []float64{m.Advance} }

func (m Linear) Apply(position, velocity float64) float64 {
	return position + m.Advance*velocity
}

// Tanh is a linear term plus an offset that saturates as tanh of the
// velocity relative to LinearizationVelocity.
type Tanh struct {
	LinearAdvance         float64
	LinearOffset          float64
	LinearizationVelocity float64
}

func (m Tanh) Name() string { return "tanh" }

func (m Tanh) Params() []float64 {
	return []float64{m.LinearAdvance, m.LinearOffset, m.LinearizationVelocity}
}

func (m Tanh) Apply(position, velocity float64) float64 {
	position += m.LinearAdvance * velocity
	if m.LinearOffset != 0 {
		position += m.LinearOffset * math.Tanh(velocity/m.LinearizationVelocity)
	}
	return position
}

// reciprMinDenom keeps 1 + v/LinearizationVelocity away from zero.
const reciprMinDenom = 1e-6

// Reciprocal saturates as 1 - 1/(1 + v/LinearizationVelocity) on the
// signed velocity.
type Reciprocal struct {
	LinearAdvance         float64
	LinearOffset          float64
	LinearizationVelocity float64
}

func (m Reciprocal) Name() string { return "recipr" }

func (m Reciprocal) Params() []float64 {
	return []float64{m.LinearAdvance, m.LinearOffset, m.LinearizationVelocity}
}

func (m Reciprocal) Apply(position, velocity float64) float64 {
	position += m.LinearAdvance * velocity
	if m.LinearOffset != 0 {
		denom := 1 + velocity/m.LinearizationVelocity
		if math.Abs(denom) < reciprMinDenom {
			denom = math.Copysign(reciprMinDenom, denom)
		}
		position += m.LinearOffset * (1 - 1/denom)
	}
	return position
}

// Off returns a model that adds nothing.
func Off() Model { return Linear{} }

// active reports whether m can change the position at all.
func active(m Model) bool {
	switch m := m.(type) {
	case nil:
		return false
	case Linear:
		return m.Advance != 0
	case Tanh:
		return m.LinearAdvance != 0 || m.LinearOffset != 0
	case Reciprocal:
		return m.LinearAdvance != 0 || m.LinearOffset != 0
	}
	return true
}

var modelParams = map[string][]string{
	"linear": {"advance"},
	"tanh":   {"linear_advance", "linear_offset", "linearization_velocity"},
	"recipr": {"linear_advance", "linear_offset", "linearization_velocity"},
}

// ModelNames lists the accepted model names.
func ModelNames() []string {
	names := make([]string, 0, len(modelParams))
	for n := range modelParams {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func canonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "reciprocal" {
		return "recipr"
	}
	return name
}

// NewModel builds a model by name: linear takes the advance (s), tanh and
// recipr take linear_advance (s), linear_offset (mm) and
// linearization_velocity (mm/s).
func NewModel(name string, params ...float64) (Model, error) {
	name = canonicalName(name)
	names, ok := modelParams[name]
	if !ok {
		return nil, errors.PressureAdvanceError(fmt.Sprintf("unknown pressure advance model '%s'", name)).
			SetOption("pressure_advance_model")
	}
	if len(params) != len(names) {
		return nil, errors.PressureAdvanceError(
			fmt.Sprintf("model %s takes %d parameters, got %d", name, len(names), len(params)))
	}
	for i, p := range params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, errors.PressureAdvanceError(fmt.Sprintf("invalid %s %v", names[i], p)).
				SetOption(names[i])
		}
		if p < 0 {
			return nil, errors.PressureAdvanceError(fmt.Sprintf("%s must not be negative", names[i])).
				SetOption(names[i])
		}
	}
	if name == "linear" {
		return Linear{Advance: params[0]}, nil
	}
	if params[2] == 0 {
		return nil, errors.PressureAdvanceError("linearization_velocity must be positive").
			SetOption("linearization_velocity")
	}
	if name == "tanh" {
		return Tanh{params[0], params[1], params[2]}, nil
	}
	return Reciprocal{params[0], params[1], params[2]}, nil
}
