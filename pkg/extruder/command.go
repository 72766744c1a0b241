// SET_PRESSURE_ADVANCE handling
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extruder

import (
	"klipper-stepgen/pkg/gcode"
)

// Settings is a complete pressure advance configuration.
type Settings struct {
	Model      Model
	SmoothTime float64
	TimeOffset float64
}

// Settings returns the current pressure advance configuration.
func (k *Kinematics) Settings() Settings {
	s := k.cur.Load()
	return Settings{Model: s.model, SmoothTime: s.smoothTime, TimeOffset: s.timeOffset}
}

// ParseSetPressureAdvance merges SET_PRESSURE_ADVANCE arguments into cur:
//
//	SET_PRESSURE_ADVANCE [MODEL=linear|tanh|recipr] [ADVANCE=<s>]
//	    [LINEAR_ADVANCE=<s>] [LINEAR_OFFSET=<mm>]
//	    [LINEARIZATION_VELOCITY=<mm/s>] [SMOOTH_TIME=<s>] [TIME_OFFSET=<s>]
//
// Omitted values keep their current setting. ADVANCE and LINEAR_ADVANCE
// both set the linear term; switching to a saturating model requires
// LINEARIZATION_VELOCITY.
func ParseSetPressureAdvance(cmd *gcode.Command, cur Settings) (Settings, error) {
	if cur.Model == nil {
		cur.Model = Off()
	}
	name := canonicalName(cmd.Get("MODEL", cur.Model.Name()))

	// A model switch keeps only the linear term
	var params [3]float64
	if name == canonicalName(cur.Model.Name()) {
		copy(params[:], cur.Model.Params())
	} else if p := cur.Model.Params(); len(p) > 0 {
		params[0] = p[0]
	}
	var err error
	if params[0], err = cmd.FloatMin("ADVANCE", params[0], 0); err != nil {
		return cur, err
	}
	if params[0], err = cmd.FloatMin("LINEAR_ADVANCE", params[0], 0); err != nil {
		return cur, err
	}
	if params[1], err = cmd.FloatMin("LINEAR_OFFSET", params[1], 0); err != nil {
		return cur, err
	}
	if params[2], err = cmd.FloatMin("LINEARIZATION_VELOCITY", params[2], 0); err != nil {
		return cur, err
	}

	next := cur
	n := 3
	if name == "linear" {
		n = 1
	}
	if next.Model, err = NewModel(name, params[:n]...); err != nil {
		return cur, err
	}
	if next.SmoothTime, err = cmd.FloatMin("SMOOTH_TIME", cur.SmoothTime, 0); err != nil {
		return cur, err
	}
	if next.TimeOffset, err = cmd.Float("TIME_OFFSET", cur.TimeOffset); err != nil {
		return cur, err
	}
	return next, nil
}

// HandleSetPressureAdvance applies a SET_PRESSURE_ADVANCE command.
func (k *Kinematics) HandleSetPressureAdvance(cmd *gcode.Command) error {
	s, err := ParseSetPressureAdvance(cmd, k.Settings())
	if err != nil {
		return err
	}
	return k.SetPressureAdvance(s.Model, s.SmoothTime, s.TimeOffset)
}
