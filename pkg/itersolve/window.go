// Step generation windows
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package itersolve

import (
	"fmt"
	"math"
)

// MaxWindow is the longest look-ahead or look-behind (s) a kinematics
// snapshot may request. Moves are retained for this long after each flush.
const MaxWindow = 0.5

// Window describes how far around a move a stepper's position depends on
// the queue. PreActive is the look-ahead (steps may start before a move
// begins) and PostActive the look-behind (steps may continue after it ends).
type Window struct {
	PreActive  float64
	PostActive float64
}

// Span returns the total width of the window.
func (w Window) Span() float64 {
	return w.PreActive + w.PostActive
}

// Union returns the smallest window covering both w and o.
func (w Window) Union(o Window) Window {
	return Window{
		PreActive:  math.Max(w.PreActive, o.PreActive),
		PostActive: math.Max(w.PostActive, o.PostActive),
	}
}

// Validate checks that both sides are finite, non-negative and within
// MaxWindow.
func (w Window) Validate() error {
	for _, v := range [...]float64{w.PreActive, w.PostActive} {
		if math.IsNaN(v) || v < 0 || v > MaxWindow {
			return fmt.Errorf("generation window %.6f/%.6f outside [0, %v]",
				w.PreActive, w.PostActive, MaxWindow)
		}
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("pre=%.6f post=%.6f", w.PreActive, w.PostActive)
}
