// Polynomial moving-average smoothing of piecewise-quadratic motion
//
// The smoothed signal at time t is
//
//	smoothed(t) = integral k(s) * raw(t + toffs + s) ds,  s in [-hst, hst]
//
// where raw is an axis position (or velocity) from the move queue and k is
// a symmetric polynomial kernel of unit area. Inside one move raw is a
// quadratic in s, so each move's share of the window integrates in closed
// form; the window is covered by walking across move boundaries.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package smoother

import (
	"fmt"
	"math"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/trapq"
)

// MaxCoeffs is the largest number of kernel coefficients accepted.
const MaxCoeffs = 10

// Smoother is an immutable smoothing kernel with its window and time
// offset. A nil *Smoother or a zero window evaluates the raw signal.
type Smoother struct {
	// right[i] multiplies s^i for s >= 0, left[i] for s < 0 (s in seconds)
	right [MaxCoeffs]float64
	left  [MaxCoeffs]float64
	n     int

	smoothTime float64
	hst        float64
	toffs      float64
}

// New builds a smoother from kernel coefficients in normalised time
// u = s/smoothTime: k(s) = sum coeffs[j] * |u|^j / smoothTime, rescaled to
// unit area. smoothTime is the full window width (s). A zero smoothTime
// disables smoothing and ignores coeffs.
func New(coeffs []float64, smoothTime, timeOffset float64) (*Smoother, error) {
	if math.IsNaN(smoothTime) || math.IsInf(smoothTime, 0) || smoothTime < 0 {
		return nil, errors.SmootherError(fmt.Sprintf("invalid smooth time %v", smoothTime)).
			SetOption("smooth_time")
	}
	if math.IsNaN(timeOffset) || math.IsInf(timeOffset, 0) {
		return nil, errors.SmootherError(fmt.Sprintf("invalid time offset %v", timeOffset)).
			SetOption("time_offset")
	}
	if len(coeffs) > MaxCoeffs {
		return nil, errors.SmootherError(
			fmt.Sprintf("too many kernel coefficients (%d, max %d)", len(coeffs), MaxCoeffs))
	}
	sm := &Smoother{smoothTime: smoothTime, hst: .5 * smoothTime, toffs: timeOffset}
	if smoothTime == 0 {
		return sm, nil
	}
	if len(coeffs) == 0 {
		return nil, errors.SmootherError("no kernel coefficients for a non-zero smoothing window")
	}

	inv := 1. / smoothTime
	scale := inv
	for j, a := range coeffs {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return nil, errors.SmootherError(fmt.Sprintf("invalid kernel coefficient %v", a))
		}
		sm.right[j] = a * scale
		scale *= inv
	}
	sm.n = len(coeffs)

	area := sm.Integral()
	if !(area > 0) {
		return nil, errors.SmootherError(fmt.Sprintf("kernel area %v is not positive", area))
	}
	for j := 0; j < sm.n; j++ {
		sm.right[j] /= area
		sm.left[j] = sm.right[j]
		if j%2 == 1 {
			sm.left[j] = -sm.right[j]
		}
	}
	return sm, nil
}

// NewTriangular builds the classic pressure advance weighting
// (hst - |s|) / hst^2 over a window of smoothTime seconds.
func NewTriangular(smoothTime, timeOffset float64) (*Smoother, error) {
	return New(kernels["triangular"], smoothTime, timeOffset)
}

// SmoothTime returns the full window width (s).
func (sm *Smoother) SmoothTime() float64 {
	if sm == nil {
		return 0
	}
	return sm.smoothTime
}

// HalfWindow returns half the window width (s).
func (sm *Smoother) HalfWindow() float64 {
	if sm == nil {
		return 0
	}
	return sm.hst
}

// TimeOffset returns the evaluation time offset (s).
func (sm *Smoother) TimeOffset() float64 {
	if sm == nil {
		return 0
	}
	return sm.toffs
}

// Window returns how far ahead of and behind the query time the smoother
// reads the raw signal, each clamped at zero.
func (sm *Smoother) Window() (ahead, behind float64) {
	if sm == nil {
		return 0, 0
	}
	return math.Max(0, sm.hst+sm.toffs), math.Max(0, sm.hst-sm.toffs)
}

// Integral returns the closed-form area of the kernel over its window.
// It is 1 for every constructed smoother with a non-zero window.
func (sm *Smoother) Integral() float64 {
	if sm == nil || sm.hst == 0 {
		return 1
	}
	area := 0.
	p := sm.hst
	for j := 0; j < sm.n; j++ {
		area += 2 * sm.right[j] * p / float64(j+1)
		p *= sm.hst
	}
	return area
}

// Kernel evaluates k(s) (1/s units). Outside the window it is 0.
func (sm *Smoother) Kernel(s float64) float64 {
	if sm == nil || sm.hst == 0 || s < -sm.hst || s > sm.hst {
		return 0
	}
	c := &sm.right
	if s < 0 {
		c = &sm.left
	}
	res := 0.
	for j := sm.n - 1; j >= 0; j-- {
		res = res*s + c[j]
	}
	return res
}

// Position returns the smoothed axis position at local time moveTime of
// the move at ref.
func (sm *Smoother) Position(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis) float64 {
	return sm.eval(tq, ref, moveTime, axis, false, nil)
}

// Velocity returns the smoothed axis velocity at local time moveTime of
// the move at ref.
func (sm *Smoother) Velocity(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis) float64 {
	return sm.eval(tq, ref, moveTime, axis, true, nil)
}

// MoveFilter selects the moves that contribute to a filtered velocity.
type MoveFilter func(m *trapq.Move) bool

// FilteredVelocity is Velocity with the moves rejected by keep counted as
// stationary. A nil keep accepts every move.
func (sm *Smoother) FilteredVelocity(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis, keep MoveFilter) float64 {
	return sm.eval(tq, ref, moveTime, axis, true, keep)
}

func (sm *Smoother) eval(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64, axis trapq.Axis, velocity bool, keep MoveFilter) float64 {
	if sm == nil || sm.hst == 0 {
		if sm != nil {
			moveTime += sm.toffs
		}
		ref, moveTime = tq.Seek(ref, moveTime)
		m := tq.At(ref)
		if velocity {
			if keep != nil && !keep(m) {
				return 0
			}
			return m.AxisVelocity(axis, moveTime)
		}
		return m.AxisPosition(axis, moveTime)
	}

	baseline := 0.
	if !velocity {
		baseline = tq.At(ref).StartPos.Get(axis)
	}
	ref, c := tq.Seek(ref, moveTime+sm.toffs)
	hst := sm.hst

	// Move at the window centre; c is the offset of the centre into it
	m := tq.At(ref)
	res := sm.segment(m, axis, baseline, c, math.Max(-hst, -c), math.Min(hst, m.MoveTime-c), velocity, keep)

	// Earlier moves
	pc, pref := c, ref
	for pc < hst {
		pref = tq.Prev(pref)
		pm := tq.At(pref)
		pc += pm.MoveTime
		res += sm.segment(pm, axis, baseline, pc, math.Max(-hst, -pc), pm.MoveTime-pc, velocity, keep)
	}

	// Later moves
	nc, nref, nm := c, ref, m
	for nm.MoveTime-nc < hst {
		nc -= nm.MoveTime
		nref = tq.Next(nref)
		nm = tq.At(nref)
		res += sm.segment(nm, axis, baseline, nc, -nc, math.Min(hst, nm.MoveTime-nc), velocity, keep)
	}
	return res + baseline
}

// segment integrates k(s) * raw(c + s) over s in [lo, hi] for one move,
// where c is the window centre in the move's local time. Positions are
// taken relative to baseline.
func (sm *Smoother) segment(m *trapq.Move, axis trapq.Axis, baseline, c, lo, hi float64, velocity bool, keep MoveFilter) float64 {
	if !(hi > lo) || (keep != nil && !keep(m)) {
		return 0
	}
	r := m.AxesR.Get(axis)
	v := r * m.StartV
	ha := r * m.HalfAccel

	// raw(c+s) = p[0] + p[1]*s + p[2]*s^2
	var p [3]float64
	if velocity {
		p[0] = v + 2*ha*c
		p[1] = 2 * ha
	} else {
		base := m.StartPos.Get(axis) - baseline
		p[0] = base + (v+ha*c)*c
		p[1] = v + 2*ha*c
		p[2] = ha
	}

	res := 0.
	if lo < 0 {
		res += polyIntegral(&sm.left, sm.n, &p, lo, math.Min(hi, 0))
	}
	if hi > 0 {
		res += polyIntegral(&sm.right, sm.n, &p, math.Max(lo, 0), hi)
	}
	return res
}

// polyIntegral integrates (sum k[i] s^i) * (sum p[j] s^j) over [lo, hi].
func polyIntegral(k *[MaxCoeffs]float64, n int, p *[3]float64, lo, hi float64) float64 {
	if !(hi > lo) {
		return 0
	}
	var hiPow, loPow [MaxCoeffs + 3]float64
	hiPow[0], loPow[0] = 1, 1
	for e := 1; e < n+3; e++ {
		hiPow[e] = hiPow[e-1] * hi
		loPow[e] = loPow[e-1] * lo
	}
	res := 0.
	for j := 0; j < 3; j++ {
		if p[j] == 0 {
			continue
		}
		acc := 0.
		for i := 0; i < n; i++ {
			e := i + j + 1
			acc += k[i] * (hiPow[e] - loPow[e]) / float64(e)
		}
		res += p[j] * acc
	}
	return res
}
