// Step output
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package itersolve

import (
	"fmt"
	"math"

	"klipper-stepgen/pkg/errors"
)

// StepSink receives generated steps in time order. dir is +1 or -1.
type StepSink interface {
	AppendStep(dir int, printTime float64) error
}

// Step is one step event.
type Step struct {
	Dir  int
	Time float64
}

// StepQueue is a StepSink buffering the steps of one stepper. It rejects
// steps that are not strictly later than the previous one.
type StepQueue struct {
	name     string
	steps    []Step
	lastTime float64
	net      int64
	total    int64
}

// NewStepQueue creates a queue with room for capacity steps before it
// grows.
func NewStepQueue(name string, capacity int) *StepQueue {
	return &StepQueue{
		name:     name,
		steps:    make([]Step, 0, capacity),
		lastTime: math.Inf(-1),
	}
}

// AppendStep implements StepSink.
func (q *StepQueue) AppendStep(dir int, printTime float64) error {
	if dir != 1 && dir != -1 {
		return errors.New(errors.ErrStepGenSequence,
			fmt.Sprintf("stepper '%s': invalid step direction %d", q.name, dir)).SetSection(q.name)
	}
	if !(printTime > q.lastTime) || math.IsInf(printTime, 0) {
		return errors.New(errors.ErrStepGenSequence,
			fmt.Sprintf("stepper '%s': step at %.9f not after %.9f", q.name, printTime, q.lastTime)).
			SetSection(q.name).
			SetContext("time", printTime).
			SetContext("last_time", q.lastTime)
	}
	q.steps = append(q.steps, Step{Dir: dir, Time: printTime})
	q.lastTime = printTime
	q.net += int64(dir)
	q.total++
	return nil
}

// Name returns the stepper name.
func (q *StepQueue) Name() string { return q.name }

// Len returns the number of buffered steps.
func (q *StepQueue) Len() int { return len(q.steps) }

// Steps returns the buffered steps. The slice is reused after Drain.
func (q *StepQueue) Steps() []Step { return q.steps }

// Drain hands the buffered steps to fn and empties the buffer. Ordering
// against later steps is still enforced.
func (q *StepQueue) Drain(fn func(Step)) int {
	n := len(q.steps)
	for _, s := range q.steps {
		fn(s)
	}
	q.steps = q.steps[:0]
	return n
}

// NetSteps returns the signed step count since creation.
func (q *StepQueue) NetSteps() int64 { return q.net }

// Total returns the number of steps since creation.
func (q *StepQueue) Total() int64 { return q.total }

// LastTime returns the time of the most recent step.
func (q *StepQueue) LastTime() float64 { return q.lastTime }
