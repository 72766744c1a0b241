// Input shaper stepper kinematics
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package inputshaper

import (
	"fmt"
	"sync"
	"sync/atomic"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/trapq"
)

var axes = [...]trapq.Axis{trapq.AxisX, trapq.AxisY, trapq.AxisZ}

// shapedMapper is an immutable snapshot: the toolhead coordinate is
// shaped and smoothed per axis before the stepper mapping is applied.
type shapedMapper struct {
	mapper    kinematics.Mapper
	flags     trapq.AxisFlags
	pulses    [3]Pulses
	smoothers [3]*smoother.Smoother
	window    itersolve.Window
}

func (s *shapedMapper) filtered(a trapq.Axis) bool {
	return s.flags.Has(a) && (s.pulses[a].Len() > 0 || s.smoothers[a] != nil)
}

// CalcPosition implements itersolve.Evaluator.
func (s *shapedMapper) CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64) float64 {
	r, t := tq.Seek(ref, moveTime)
	c := tq.At(r).Coord(t)
	for _, a := range axes {
		if s.filtered(a) {
			c.Set(a, ShapedPosition(tq, ref, moveTime, a, s.pulses[a], s.smoothers[a]))
		}
	}
	return s.mapper.Position(c)
}

// ActiveAxes implements itersolve.Evaluator.
func (s *shapedMapper) ActiveAxes() trapq.AxisFlags { return s.flags }

// Window implements itersolve.Evaluator.
func (s *shapedMapper) Window() itersolve.Window { return s.window }

func (s *shapedMapper) updateWindow() {
	var w itersolve.Window
	for _, a := range axes {
		if s.flags.Has(a) {
			w = w.Union(CombinedWindow(s.pulses[a], s.smoothers[a]))
		}
	}
	s.window = w
}

// Kinematics shapes the toolhead trajectory seen by one stepper. New
// parameters are published as a fresh snapshot; a pass in progress keeps
// the snapshot it loaded.
type Kinematics struct {
	mu  sync.Mutex
	cur atomic.Pointer[shapedMapper]
}

// NewKinematics wraps a stepper mapping with shaping disabled.
func NewKinematics(m kinematics.Mapper) *Kinematics {
	k := &Kinematics{}
	k.cur.Store(&shapedMapper{mapper: m, flags: m.ActiveAxes()})
	return k
}

// Load implements itersolve.Kinematics.
func (k *Kinematics) Load() itersolve.Evaluator {
	return k.cur.Load()
}

// Window returns the generation window of the current snapshot.
func (k *Kinematics) Window() itersolve.Window {
	return k.cur.Load().window
}

// Pulses returns the current pulses of one axis.
func (k *Kinematics) Pulses(axis trapq.Axis) Pulses {
	return k.cur.Load().pulses[axis]
}

// update applies fn to a copy of the snapshot and publishes it if the
// resulting window is supportable.
func (k *Kinematics) update(fn func(s *shapedMapper) error, onWindow func(w itersolve.Window) *errors.HostError) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	next := *k.cur.Load()
	if err := fn(&next); err != nil {
		return err
	}
	next.updateWindow()
	if err := next.window.Validate(); err != nil {
		return onWindow(next.window).SetContext("window", next.window.String())
	}
	k.cur.Store(&next)
	return nil
}

// SetShaperParams replaces the pulses of one axis. Empty A and T disable
// shaping on that axis.
func (k *Kinematics) SetShaperParams(axis trapq.Axis, A, T []float64) error {
	ps, err := InitPulses(A, T)
	if err != nil {
		return errors.Wrap(err, errors.ErrShaper, err.Error()).SetOption("shaper_" + axis.String())
	}
	return k.update(func(s *shapedMapper) error {
		s.pulses[axis] = ps
		return nil
	}, func(w itersolve.Window) *errors.HostError {
		return errors.ShaperError(axis.String(),
			fmt.Sprintf("shaper window %s exceeds %v s", w, itersolve.MaxWindow))
	})
}

// SetSmootherParams replaces the smoother of one axis. A zero smoothTime
// disables smoothing on that axis.
func (k *Kinematics) SetSmootherParams(axis trapq.Axis, coeffs []float64, smoothTime, timeOffset float64) error {
	sm, err := smoother.New(coeffs, smoothTime, timeOffset)
	if err != nil {
		return err
	}
	if smoothTime == 0 && timeOffset == 0 {
		sm = nil
	}
	return k.update(func(s *shapedMapper) error {
		s.smoothers[axis] = sm
		return nil
	}, func(w itersolve.Window) *errors.HostError {
		return errors.SmootherError(fmt.Sprintf("smoother window %s on axis %s exceeds %v s",
			w, axis, itersolve.MaxWindow))
	})
}
