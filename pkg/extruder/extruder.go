// Extruder stepper kinematics with pressure advance
//
// The extruder queue carries the filament motion split across the x, y and
// z components of each move, so that it can follow the toolhead shaping
// and smoothing of the matching axis. The stepper position is
//
//	model(sum_a pos_a(t + toffs), sum_a vel_a(t + toffs))
//
// where pos_a and vel_a are the shaped and smoothed component position and
// velocity. Only moves with XY motion (and Z when enabled) contribute to
// the velocity, so retract and prime moves get no advance.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extruder

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/inputshaper"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/trapq"
)

// MaxSmoothTime is the largest pressure advance smoothing window (s).
const MaxSmoothTime = 0.200

var axes = [...]trapq.Axis{trapq.AxisX, trapq.AxisY, trapq.AxisZ}

// Snapshot is one immutable extruder configuration.
type Snapshot struct {
	model      Model
	paActive   bool
	smoothTime float64
	timeOffset float64
	paSmoother *smoother.Smoother
	pulses     [2]inputshaper.Pulses
	smoothers  [3]*smoother.Smoother
	paZ        bool
	window     itersolve.Window
}

// Model returns the pressure advance model.
func (s *Snapshot) Model() Model { return s.model }

// SmoothTime returns the pressure advance smoothing window (s).
func (s *Snapshot) SmoothTime() float64 { return s.smoothTime }

// TimeOffset returns the extruder time offset (s).
func (s *Snapshot) TimeOffset() float64 { return s.timeOffset }

// PressureAdvanceOnZ reports whether Z motion counts towards the advance.
func (s *Snapshot) PressureAdvanceOnZ() bool { return s.paZ }

// Window implements itersolve.Evaluator.
func (s *Snapshot) Window() itersolve.Window { return s.window }

// ActiveAxes implements itersolve.Evaluator.
func (s *Snapshot) ActiveAxes() trapq.AxisFlags {
	return trapq.FlagX | trapq.FlagY | trapq.FlagZ
}

func (s *Snapshot) axisPulses(a trapq.Axis) inputshaper.Pulses {
	if a == trapq.AxisZ {
		return inputshaper.Pulses{}
	}
	return s.pulses[a]
}

// axisSmoother prefers an explicit per-axis smoother over the pressure
// advance smoother.
func (s *Snapshot) axisSmoother(a trapq.Axis) *smoother.Smoother {
	if sm := s.smoothers[a]; sm != nil {
		return sm
	}
	return s.paSmoother
}

// eligible reports whether a move receives pressure advance.
func (s *Snapshot) eligible(m *trapq.Move) bool {
	return m.AxesR.X != 0 || m.AxesR.Y != 0 || (s.paZ && m.AxesR.Z != 0)
}

// CalcPosition implements itersolve.Evaluator.
func (s *Snapshot) CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64) float64 {
	moveTime += s.timeOffset
	pos, vel := 0., 0.
	for _, a := range axes {
		ps, sm := s.axisPulses(a), s.axisSmoother(a)
		pos += inputshaper.ShapedPosition(tq, ref, moveTime, a, ps, sm)
		if s.paActive {
			vel += inputshaper.ShapedVelocity(tq, ref, moveTime, a, ps, sm, s.eligible)
		}
	}
	if !s.paActive {
		return pos
	}
	return s.model.Apply(pos, vel)
}

func (s *Snapshot) updateWindow() {
	var w itersolve.Window
	for _, a := range axes {
		w = w.Union(inputshaper.CombinedWindow(s.axisPulses(a), s.axisSmoother(a)))
	}
	s.window = itersolve.Window{
		PreActive:  math.Max(0, w.PreActive+s.timeOffset),
		PostActive: math.Max(0, w.PostActive-s.timeOffset),
	}
}

// Kinematics is the extruder stepper position function. It implements
// itersolve.Kinematics and inputshaper.Target.
type Kinematics struct {
	name   string
	mu     sync.Mutex
	cur    atomic.Pointer[Snapshot]
	logger *log.Logger
}

// New creates extruder kinematics with pressure advance off.
func New(name string) *Kinematics {
	k := &Kinematics{name: name, logger: log.GetLogger(name)}
	k.cur.Store(&Snapshot{model: Off()})
	return k
}

// Name returns the extruder name.
func (k *Kinematics) Name() string { return k.name }

// Load implements itersolve.Kinematics.
func (k *Kinematics) Load() itersolve.Evaluator { return k.cur.Load() }

// Snapshot returns the current configuration.
func (k *Kinematics) Snapshot() *Snapshot { return k.cur.Load() }

// Window returns the generation window of the current configuration.
func (k *Kinematics) Window() itersolve.Window { return k.cur.Load().window }

func (k *Kinematics) update(fn func(s *Snapshot), onWindow func(w itersolve.Window) *errors.HostError) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	next := *k.cur.Load()
	fn(&next)
	next.updateWindow()
	if err := next.window.Validate(); err != nil {
		return onWindow(next.window).SetSection(k.name).SetContext("window", next.window.String())
	}
	k.cur.Store(&next)
	return nil
}

// SetPressureAdvance installs a model with its smoothing window and time
// offset (s). A nil model turns pressure advance off.
func (k *Kinematics) SetPressureAdvance(model Model, smoothTime, timeOffset float64) error {
	if model == nil {
		model = Off()
	}
	if math.IsNaN(smoothTime) || smoothTime < 0 || smoothTime > MaxSmoothTime {
		return errors.PressureAdvanceError(
			fmt.Sprintf("smooth_time %v must be between 0 and %v", smoothTime, MaxSmoothTime)).
			SetSection(k.name).SetOption("pressure_advance_smooth_time")
	}
	if math.IsNaN(timeOffset) || math.IsInf(timeOffset, 0) {
		return errors.PressureAdvanceError(fmt.Sprintf("invalid time offset %v", timeOffset)).
			SetSection(k.name).SetOption("pressure_advance_time_offset")
	}
	var sm *smoother.Smoother
	if smoothTime > 0 {
		var err error
		if sm, err = smoother.NewTriangular(smoothTime, 0); err != nil {
			return err
		}
	}
	err := k.update(func(s *Snapshot) {
		s.model = model
		s.paActive = active(model)
		s.smoothTime = smoothTime
		s.timeOffset = timeOffset
		s.paSmoother = sm
	}, func(w itersolve.Window) *errors.HostError {
		return errors.PressureAdvanceError(
			fmt.Sprintf("pressure advance window %s exceeds %v s", w, itersolve.MaxWindow))
	})
	if err != nil {
		return err
	}
	k.logger.WithFields(log.Fields{
		"model":       model.Name(),
		"params":      model.Params(),
		"smooth_time": smoothTime,
		"time_offset": timeOffset,
	}).Info("pressure advance configured")
	return nil
}

// SetPressureAdvanceOnZ selects whether Z motion makes a move eligible
// for pressure advance.
func (k *Kinematics) SetPressureAdvanceOnZ(enable bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	next := *k.cur.Load()
	next.paZ = enable
	k.cur.Store(&next)
}

// SetShaperParams implements inputshaper.Target. Only x and y are shaped.
func (k *Kinematics) SetShaperParams(axis trapq.Axis, A, T []float64) error {
	if axis != trapq.AxisX && axis != trapq.AxisY {
		return errors.ShaperError(axis.String(), "extruder shaping is limited to x and y").
			SetSection(k.name)
	}
	ps, err := inputshaper.InitPulses(A, T)
	if err != nil {
		return errors.Wrap(err, errors.ErrShaper, err.Error()).
			SetSection(k.name).SetOption("shaper_" + axis.String())
	}
	return k.update(func(s *Snapshot) {
		s.pulses[axis] = ps
	}, func(w itersolve.Window) *errors.HostError {
		return errors.ShaperError(axis.String(),
			fmt.Sprintf("extruder shaper window %s exceeds %v s", w, itersolve.MaxWindow))
	})
}

// SetSmootherParams replaces the smoother of one axis. A zero smoothTime
// and time offset falls back to the pressure advance smoother.
func (k *Kinematics) SetSmootherParams(axis trapq.Axis, coeffs []float64, smoothTime, timeOffset float64) error {
	if axis != trapq.AxisX && axis != trapq.AxisY && axis != trapq.AxisZ {
		return errors.SmootherError(fmt.Sprintf("invalid smoother axis %s", axis)).SetSection(k.name)
	}
	sm, err := smoother.New(coeffs, smoothTime, timeOffset)
	if err != nil {
		return err
	}
	if smoothTime == 0 && timeOffset == 0 {
		sm = nil
	}
	return k.update(func(s *Snapshot) {
		s.smoothers[axis] = sm
	}, func(w itersolve.Window) *errors.HostError {
		return errors.SmootherError(fmt.Sprintf("extruder smoother window %s on axis %s exceeds %v s",
			w, axis, itersolve.MaxWindow))
	})
}

// GetStatus returns the pressure advance state.
func (k *Kinematics) GetStatus() map[string]interface{} {
	s := k.cur.Load()
	st := map[string]interface{}{
		"pressure_advance_model": s.model.Name(),
		"smooth_time":            s.smoothTime,
		"time_offset":            s.timeOffset,
	}
	switch m := s.model.(type) {
	case Linear:
		st["pressure_advance"] = m.Advance
	case Tanh:
		st["linear_advance"] = m.LinearAdvance
		st["linear_offset"] = m.LinearOffset
		st["linearization_velocity"] = m.LinearizationVelocity
	case Reciprocal:
		st["linear_advance"] = m.LinearAdvance
		st["linear_offset"] = m.LinearOffset
		st["linearization_velocity"] = m.LinearizationVelocity
	}
	return st
}
