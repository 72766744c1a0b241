// Iterative solver for kinematic moves
//
// A stepper's position is a scalar function of time over the move queue.
// Step times are the instants where that function crosses the half-step
// points around the commanded position; they are found per move with a
// secant search that falls back to bisection once a step is bracketed.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package itersolve

import (
	"fmt"
	"math"
	"sync"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/trapq"
)

const (
	// seekTimeReset is the initial search interval (s) after a step or
	// direction change.
	seekTimeReset = 0.0001
	// posTolerance is the distance (mm) accepted as hitting a step point.
	posTolerance = 0.000000001
	// timeTolerance is the bracket width (s) accepted as a step time.
	timeTolerance = 0.000000001
)

// Evaluator is an immutable kinematics snapshot used for one pass.
type Evaluator interface {
	// CalcPosition returns the stepper position at local time moveTime of
	// the move at ref. moveTime may lie outside the move.
	CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, moveTime float64) float64
	// ActiveAxes lists the axes whose motion moves the stepper.
	ActiveAxes() trapq.AxisFlags
	// Window returns the generation window of the snapshot.
	Window() Window
}

// Kinematics publishes evaluator snapshots. Load is called once per pass.
type Kinematics interface {
	Load() Evaluator
}

// StepperKinematics generates the steps of one stepper from a move queue.
type StepperKinematics struct {
	name     string
	kin      Kinematics
	stepDist float64

	mu            sync.Mutex
	tq            *trapq.TrapQ
	consumer      *trapq.Consumer
	commandedPos  float64
	sdir          int
	lastFlushTime float64
	lastMoveTime  float64
}

// New creates the solver state for one stepper.
func New(name string, kin Kinematics, stepDist float64) (*StepperKinematics, error) {
	if kin == nil {
		return nil, errors.ConfigValidationError(name, "kinematics", "no kinematics")
	}
	if !(stepDist > 0) || math.IsInf(stepDist, 0) {
		return nil, errors.ConfigValidationError(name, "rotation_distance",
			fmt.Sprintf("invalid step distance %v", stepDist))
	}
	return &StepperKinematics{name: name, kin: kin, stepDist: stepDist, sdir: 1}, nil
}

// Name returns the stepper name.
func (sk *StepperKinematics) Name() string { return sk.name }

// StepDist returns the distance (mm) of one step.
func (sk *StepperKinematics) StepDist() float64 { return sk.stepDist }

// Kinematics returns the snapshot publisher.
func (sk *StepperKinematics) Kinematics() Kinematics { return sk.kin }

// SetTrapQ attaches the move queue, registering the stepper as a consumer.
// Passing nil detaches it.
func (sk *StepperKinematics) SetTrapQ(tq *trapq.TrapQ) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if sk.consumer != nil {
		sk.consumer.Close()
		sk.consumer = nil
	}
	sk.tq = tq
	if tq != nil {
		sk.consumer = tq.Register(sk.name)
		sk.consumer.SetLowWater(sk.lowWater())
	}
}

// TrapQ returns the attached move queue.
func (sk *StepperKinematics) TrapQ() *trapq.TrapQ {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.tq
}

// SetPosition sets the commanded position to the stepper position of a
// stationary toolhead at pos.
func (sk *StepperKinematics) SetPosition(pos trapq.Coord) {
	ev := sk.kin.Load()
	hold := trapq.New(0, pos)
	p := ev.CalcPosition(hold, trapq.HeadRef, .5*trapq.HeadHold)
	sk.mu.Lock()
	sk.commandedPos = p
	sk.mu.Unlock()
}

// CommandedPos returns the position (mm) after the last generated step.
func (sk *StepperKinematics) CommandedPos() float64 {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.commandedPos
}

// LastFlushTime returns the end of the last generation pass.
func (sk *StepperKinematics) LastFlushTime() float64 {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.lastFlushTime
}

// LowWater returns the earliest time a later pass may query.
func (sk *StepperKinematics) LowWater() float64 {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.lowWater()
}

func (sk *StepperKinematics) lowWater() float64 {
	return sk.lastFlushTime - MaxWindow
}

func checkActive(flags trapq.AxisFlags, m *trapq.Move) bool {
	return (flags.Has(trapq.AxisX) && m.AxesR.X != 0) ||
		(flags.Has(trapq.AxisY) && m.AxesR.Y != 0) ||
		(flags.Has(trapq.AxisZ) && m.AxesR.Z != 0)
}

// CheckActive returns the start time of the first move before flushTime
// that moves this stepper. ok is false when the stepper stays idle up to
// flushTime. The caller holds the queue read lock.
func (sk *StepperKinematics) CheckActive(flushTime float64) (active float64, ok bool, err error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if sk.tq == nil {
		return 0, false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = sk.fatal(r, sk.lastFlushTime)
		}
	}()
	flags := sk.kin.Load().ActiveAxes()
	tq := sk.tq
	ref := tq.Locate(sk.lastFlushTime)
	for {
		m := tq.At(ref)
		if checkActive(flags, m) {
			return m.PrintTime, true, nil
		}
		if flushTime <= m.EndTime() {
			return 0, false, nil
		}
		ref = tq.Next(ref)
	}
}

// GenerateSteps emits every step up to flushTime into sink. The caller
// holds the queue read lock for the whole pass. A query outside the
// retained queue is returned as a fatal error.
func (sk *StepperKinematics) GenerateSteps(flushTime float64, sink StepSink) (err error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if flushTime < sk.lastFlushTime {
		return errors.New(errors.ErrStepGenSequence,
			fmt.Sprintf("stepper '%s': flush time %.6f before last flush %.6f",
				sk.name, flushTime, sk.lastFlushTime)).SetSection(sk.name)
	}
	lastFlushTime := sk.lastFlushTime
	sk.lastFlushTime = flushTime
	if sk.tq == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = sk.fatal(r, lastFlushTime)
			return
		}
		sk.consumer.SetLowWater(sk.lowWater())
	}()

	ev := sk.kin.Load()
	flags := ev.ActiveAxes()
	win := ev.Window()
	tq := sk.tq

	ref := tq.Locate(lastFlushTime)
	forceStepsTime := sk.lastMoveTime + win.PostActive
	skipCount := 0
	for {
		m := tq.At(ref)
		moveStart, moveEnd := m.PrintTime, m.EndTime()
		if checkActive(flags, m) {
			if skipCount > 0 && win.PreActive > 0 {
				// Steps leading up to stepper activity
				absStart := math.Max(moveStart-win.PreActive, math.Max(lastFlushTime, forceStepsTime))
				pref := tq.Prev(ref)
				for skipCount--; skipCount > 0 && tq.At(pref).PrintTime > absStart; skipCount-- {
					pref = tq.Prev(pref)
				}
				for ; pref != ref; pref = tq.Next(pref) {
					if err := sk.genStepsRange(ev, pref, absStart, flushTime, sink); err != nil {
						return err
					}
				}
			}
			if err := sk.genStepsRange(ev, ref, lastFlushTime, flushTime, sink); err != nil {
				return err
			}
			if moveEnd >= flushTime {
				sk.lastMoveTime = flushTime
				return nil
			}
			skipCount = 0
			sk.lastMoveTime = moveEnd
			forceStepsTime = sk.lastMoveTime + win.PostActive
		} else {
			if moveStart < forceStepsTime {
				// Steps just past stepper activity
				absEnd := math.Min(forceStepsTime, flushTime)
				if err := sk.genStepsRange(ev, ref, lastFlushTime, absEnd, sink); err != nil {
					return err
				}
				skipCount = 1
			} else {
				skipCount++
			}
			if flushTime+win.PreActive <= moveEnd {
				return nil
			}
		}
		ref = tq.Next(ref)
	}
}

// fatal converts a panic raised during a pass into a fatal error. A
// retention error without a query time gets passTime, the start of the
// pass that reached the retired move.
func (sk *StepperKinematics) fatal(r interface{}, passTime float64) error {
	if re, ok := r.(*trapq.RetentionError); ok {
		if math.IsNaN(re.Time) {
			re.Time = passTime
		}
		return errors.StepGenFatalError(sk.name,
			errors.Wrap(re, errors.ErrTrapQRetention, re.Error()))
	}
	return errors.StepGenFatalError(sk.name, errors.FromPanic(r))
}

type timePos struct {
	time, position float64
}

// genStepsRange finds the steps of the move at ref between absolute times
// absStart and absEnd, clamped to the move.
func (sk *StepperKinematics) genStepsRange(ev Evaluator, ref trapq.Ref, absStart, absEnd float64, sink StepSink) error {
	tq := sk.tq
	m := tq.At(ref)
	halfStep := .5 * sk.stepDist
	start := math.Max(absStart-m.PrintTime, 0)
	end := math.Min(absEnd-m.PrintTime, m.MoveTime)

	oldGuess := timePos{start, sk.commandedPos}
	guess := oldGuess
	sdir := sk.sdir
	isDirChange, haveBracket, checkOscillate := false, false, false
	target := sk.commandedPos + float64(sdir)*halfStep
	lastTime, lowTime, highTime := start, start, math.Min(start+seekTimeReset, end)
	for {
		// Secant guess from the previous two evaluations
		guessDist := guess.position - target
		ogDist := oldGuess.position - target
		nextTime := (oldGuess.time*guessDist - guess.time*ogDist) / (guessDist - ogDist)
		if !(nextTime > lowTime && nextTime < highTime) {
			if haveBracket {
				nextTime = (lowTime + highTime) * .5
				checkOscillate = false
			} else if guess.time >= end {
				break
			} else {
				// Exponential search forward
				nextTime = highTime
				highTime = math.Min(2*highTime-lastTime, end)
			}
		}

		oldGuess = guess
		guess = timePos{nextTime, ev.CalcPosition(tq, ref, nextTime)}
		guessDist = guess.position - target
		if math.Abs(guessDist) > posTolerance {
			relDist := float64(sdir) * guessDist
			if relDist > 0 {
				// Past the target, so a step is present
				if haveBracket && oldGuess.time <= lowTime {
					if checkOscillate {
						oldGuess = guess
					}
					checkOscillate = true
				}
				highTime = guess.time
				haveBracket = true
			} else if relDist < -(halfStep + halfStep + 0.000000010) {
				// Direction change
				sdir = -sdir
				target += float64(sdir) * 2 * halfStep
				lowTime = lastTime
				highTime = guess.time
				isDirChange, haveBracket = true, true
				continue
			} else {
				lowTime = guess.time
			}
			if !haveBracket || highTime-lowTime > timeTolerance {
				continue
			}
		}

		if err := sink.AppendStep(sdir, m.PrintTime+guess.time); err != nil {
			return err
		}
		target += float64(sdir) * 2 * halfStep
		seekDelta := math.Max(1.5*(guess.time-lastTime), timeTolerance)
		if isDirChange && seekDelta > seekTimeReset {
			seekDelta = seekTimeReset
		}
		lastTime, lowTime = guess.time, guess.time
		highTime = math.Min(guess.time+seekDelta, end)
		isDirChange, haveBracket, checkOscillate = false, false, false
	}
	sk.sdir = sdir
	sk.commandedPos = target - float64(sdir)*halfStep
	return nil
}
