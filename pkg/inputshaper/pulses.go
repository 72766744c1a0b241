// Shaper pulse sequences and shaped evaluation
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package inputshaper

import (
	"fmt"
	"math"
	"sort"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/trapq"
)

// MaxPulses is the largest number of impulses in a shaper.
const MaxPulses = 5

// Pulse is one impulse: the shaped signal at t reads the raw signal at
// t + T with weight A.
type Pulse struct {
	T float64
	A float64
}

// Pulses is an immutable, normalised impulse sequence sorted by T with
// amplitudes summing to 1. The zero value disables shaping.
type Pulses struct {
	p [MaxPulses]Pulse
	n int
}

// InitPulses builds pulses from conventional shaper amplitudes A and
// delays T (impulse i fires T[i] after the first). Offsets are centred on
// the amplitude-weighted mean delay so shaping adds no net time shift.
// Empty input returns the disabled sequence.
func InitPulses(A, T []float64) (Pulses, error) {
	var ps Pulses
	if len(A) != len(T) {
		return ps, errors.New(errors.ErrShaper,
			fmt.Sprintf("mismatched shaper parameters: %d amplitudes, %d delays", len(A), len(T)))
	}
	if len(A) > MaxPulses {
		return ps, errors.New(errors.ErrShaper,
			fmt.Sprintf("too many shaper pulses (%d, max %d)", len(A), MaxPulses))
	}
	sumA, sumAT := 0., 0.
	for i := range A {
		if math.IsNaN(A[i]) || math.IsInf(A[i], 0) || math.IsNaN(T[i]) || math.IsInf(T[i], 0) {
			return ps, errors.New(errors.ErrShaper,
				fmt.Sprintf("invalid shaper pulse %d: A=%v T=%v", i, A[i], T[i]))
		}
		sumA += A[i]
		sumAT += A[i] * T[i]
	}
	if len(A) == 0 {
		return ps, nil
	}
	if !(sumA > 0) {
		return ps, errors.New(errors.ErrShaper,
			fmt.Sprintf("shaper amplitudes sum to %v", sumA))
	}

	invA := 1 / sumA
	tOffs := sumAT * invA
	ps.n = len(A)
	for i := range A {
		ps.p[i] = Pulse{T: tOffs - T[i], A: A[i] * invA}
	}
	sort.SliceStable(ps.p[:ps.n], func(i, j int) bool { return ps.p[i].T < ps.p[j].T })
	return ps, nil
}

// Len returns the number of pulses. Zero means shaping is disabled.
func (ps Pulses) Len() int { return ps.n }

// Pulse returns pulse i in offset order.
func (ps Pulses) Pulse(i int) Pulse { return ps.p[i] }

// AmplitudeSum returns the sum of amplitudes, 1 for enabled pulses.
func (ps Pulses) AmplitudeSum() float64 {
	if ps.n == 0 {
		return 1
	}
	s := 0.
	for _, p := range ps.p[:ps.n] {
		s += p.A
	}
	return s
}

// Window returns how far ahead of and behind the query time the pulses
// read.
func (ps Pulses) Window() itersolve.Window {
	if ps.n == 0 {
		return itersolve.Window{}
	}
	return itersolve.Window{
		PreActive:  math.Max(0, ps.p[ps.n-1].T),
		PostActive: math.Max(0, -ps.p[0].T),
	}
}

// CombinedWindow returns the window of shaping followed by smoothing.
func CombinedWindow(ps Pulses, sm *smoother.Smoother) itersolve.Window {
	w := ps.Window()
	ahead, behind := sm.Window()
	return itersolve.Window{PreActive: w.PreActive + ahead, PostActive: w.PostActive + behind}
}

// ShapedPosition returns the shaped and smoothed position of one axis at
// local time moveTime of the move at ref. A nil smoother reads the raw
// trajectory.
func ShapedPosition(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis, ps Pulses, sm *smoother.Smoother) float64 {
	if ps.n == 0 {
		return sm.Position(tq, ref, moveTime, axis)
	}
	res := 0.
	for _, p := range ps.p[:ps.n] {
		res += p.A * sm.Position(tq, ref, moveTime+p.T, axis)
	}
	return res
}

// ShapedVelocity is the velocity counterpart of ShapedPosition. Moves
// rejected by keep contribute no velocity.
func ShapedVelocity(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis, ps Pulses, sm *smoother.Smoother, keep smoother.MoveFilter) float64 {
	if ps.n == 0 {
		return sm.FilteredVelocity(tq, ref, moveTime, axis, keep)
	}
	res := 0.
	for _, p := range ps.p[:ps.n] {
		res += p.A * sm.FilteredVelocity(tq, ref, moveTime+p.T, axis, keep)
	}
	return res
}
