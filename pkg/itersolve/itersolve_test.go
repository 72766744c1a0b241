// Step solver tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package itersolve

import (
	stderrors "errors"
	"math"
	"testing"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/trapq"
)

// mapperEval evaluates a kinematics mapper on the raw trajectory.
type mapperEval struct {
	m kinematics.Mapper
}

func (e mapperEval) CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, t float64) float64 {
	ref, t = tq.Seek(ref, t)
	return e.m.Position(tq.At(ref).Coord(t))
}

func (e mapperEval) ActiveAxes() trapq.AxisFlags { return e.m.ActiveAxes() }

func (e mapperEval) Window() Window { return Window{} }

// lookAheadY weights y(t) and y(t+0.1) equally.
type lookAheadY struct{}

func (lookAheadY) CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, t float64) float64 {
	r0, t0 := tq.Seek(ref, t)
	r1, t1 := tq.Seek(ref, t+0.1)
	return .5*tq.At(r0).Coord(t0).Y + .5*tq.At(r1).Coord(t1).Y
}

func (lookAheadY) ActiveAxes() trapq.AxisFlags { return trapq.FlagY }

func (lookAheadY) Window() Window { return Window{PreActive: 0.1} }

// lookBehindX reads x(t-0.8), further back than any valid window.
type lookBehindX struct{}

func (lookBehindX) CalcPosition(tq *trapq.TrapQ, ref trapq.Ref, t float64) float64 {
	ref, t = tq.Seek(ref, t-0.8)
	return tq.At(ref).Coord(t).X
}

func (lookBehindX) ActiveAxes() trapq.AxisFlags { return trapq.FlagX }

func (lookBehindX) Window() Window { return Window{} }

type static struct{ ev Evaluator }

func (s static) Load() Evaluator { return s.ev }

func newStepper(t *testing.T, ev Evaluator, tq *trapq.TrapQ) *StepperKinematics {
	t.Helper()
	sk, err := New("stepper", static{ev}, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sk.SetTrapQ(tq)
	return sk
}

func generate(t *testing.T, sk *StepperKinematics, flushes ...float64) *StepQueue {
	t.Helper()
	q := NewStepQueue(sk.Name(), 256)
	tq := sk.TrapQ()
	for _, f := range flushes {
		tq.RLock()
		err := sk.GenerateSteps(f, q)
		tq.RUnlock()
		if err != nil {
			t.Fatalf("GenerateSteps(%v): %v", f, err)
		}
	}
	return q
}

// trapezoidQueue holds X 0 -> 150 mm: 0.5s at 200 mm/s^2, 1s at
// 100 mm/s, 0.5s decelerating.
func trapezoidQueue(t *testing.T) *trapq.TrapQ {
	t.Helper()
	tq := trapq.New(16, trapq.Coord{})
	if err := tq.Append(0, 0.5, 1, 0.5, trapq.Coord{}, trapq.Coord{X: 1}, 0, 100, 200); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return tq
}

// trapezoidTime inverts the trapezoid position.
func trapezoidTime(p float64) float64 {
	switch {
	case p <= 25:
		return math.Sqrt(p / 100)
	case p <= 125:
		return 0.5 + (p-25)/100
	}
	return 1.5 + (100-math.Sqrt(10000-400*(p-125)))/200
}

func TestTrapezoidSteps(t *testing.T) {
	tq := trapezoidQueue(t)
	sk := newStepper(t, mapperEval{kinematics.Linear{Coeffs: trapq.Coord{X: 1}}}, tq)
	q := generate(t, sk, 3)

	steps := q.Steps()
	if len(steps) != 150 {
		t.Fatalf("generated %d steps, want 150", len(steps))
	}
	for k, s := range steps {
		if s.Dir != 1 {
			t.Fatalf("step %d has direction %d", k, s.Dir)
		}
		want := trapezoidTime(float64(k) + .5)
		if math.Abs(s.Time-want) > 1e-7 {
			t.Errorf("step %d at %.9f, want %.9f", k, s.Time, want)
		}
	}
	if math.Abs(sk.CommandedPos()-150) > 1e-9 {
		t.Errorf("CommandedPos = %v, want 150", sk.CommandedPos())
	}
	if q.NetSteps() != 150 {
		t.Errorf("NetSteps = %d", q.NetSteps())
	}
}

func TestSplitFlushesMatchSinglePass(t *testing.T) {
	ev := mapperEval{kinematics.Linear{Coeffs: trapq.Coord{X: 1}}}
	whole := generate(t, newStepper(t, ev, trapezoidQueue(t)), 3).Steps()
	split := generate(t, newStepper(t, ev, trapezoidQueue(t)), 0.3, 0.77, 1.2, 1.5, 1.5, 3).Steps()
	if len(whole) != len(split) {
		t.Fatalf("split flushes gave %d steps, single pass %d", len(split), len(whole))
	}
	for i := range whole {
		if whole[i].Dir != split[i].Dir || math.Abs(whole[i].Time-split[i].Time) > 1e-8 {
			t.Errorf("step %d: split %+v, whole %+v", i, split[i], whole[i])
		}
	}
}

func TestDirectionChange(t *testing.T) {
	// Straight pass by a winch anchor: the cable shortens to 10 mm at
	// t=0.5, then lengthens back.
	tq := trapq.New(8, trapq.Coord{})
	if err := tq.Append(0, 0, 1, 0, trapq.Coord{}, trapq.Coord{X: 1}, 100, 100, 0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	cable := kinematics.Cable{Anchor: trapq.Coord{X: 50, Y: 10}}
	sk := newStepper(t, mapperEval{cable}, tq)
	sk.SetPosition(trapq.Coord{})
	l0 := math.Sqrt(2600)
	if math.Abs(sk.CommandedPos()-l0) > 1e-12 {
		t.Fatalf("CommandedPos = %v, want %v", sk.CommandedPos(), l0)
	}

	q := generate(t, sk, 2)
	steps := q.Steps()
	if len(steps) != 82 {
		t.Fatalf("generated %d steps, want 82", len(steps))
	}
	length := func(time float64) float64 {
		x := 100 * time
		return math.Sqrt((x-50)*(x-50) + 100)
	}
	for i, s := range steps {
		wantDir, want := -1, l0-.5-float64(i)
		if i >= 41 {
			wantDir, want = 1, l0-40.5+float64(i-41)
		}
		if s.Dir != wantDir {
			t.Fatalf("step %d direction %d, want %d", i, s.Dir, wantDir)
		}
		if got := length(s.Time); math.Abs(got-want) > 1e-6 {
			t.Errorf("step %d at %.9f: length %.9f, want %.9f", i, s.Time, got, want)
		}
	}
	if steps[40].Time >= 0.5 || steps[41].Time <= 0.5 {
		t.Errorf("turn between %v and %v, want around 0.5", steps[40].Time, steps[41].Time)
	}
	if q.NetSteps() != 0 || math.Abs(sk.CommandedPos()-l0) > 1e-9 {
		t.Errorf("net %d commanded %v", q.NetSteps(), sk.CommandedPos())
	}
}

// xyQueue moves X during [0,1] then Y 0 -> 20 mm at 20 mm/s during [1,2].
func xyQueue(t *testing.T) *trapq.TrapQ {
	t.Helper()
	tq := trapq.New(8, trapq.Coord{})
	if err := tq.Append(0, 0, 1, 0, trapq.Coord{}, trapq.Coord{X: 1}, 10, 10, 0); err != nil {
		t.Fatalf("Append X: %v", err)
	}
	if err := tq.Append(1, 0, 1, 0, trapq.Coord{X: 10}, trapq.Coord{Y: 1}, 20, 20, 0); err != nil {
		t.Fatalf("Append Y: %v", err)
	}
	return tq
}

func lookAheadTimes() []float64 {
	times := []float64{0.95}
	for k := 1; k <= 18; k++ {
		times = append(times, 1+(float64(k)-.5)/20)
	}
	return append(times, 1.95)
}

func TestPreActiveSteps(t *testing.T) {
	want := lookAheadTimes()
	for _, flushes := range [][]float64{{3}, {0.97, 3}, {0.5, 0.92, 1.01, 2.5, 3}} {
		sk := newStepper(t, lookAheadY{}, xyQueue(t))
		steps := generate(t, sk, flushes...).Steps()
		if len(steps) != len(want) {
			t.Fatalf("flushes %v: %d steps, want %d", flushes, len(steps), len(want))
		}
		for i, s := range steps {
			if s.Dir != 1 || math.Abs(s.Time-want[i]) > 1e-8 {
				t.Errorf("flushes %v: step %d = %+v, want time %v", flushes, i, s, want[i])
			}
		}
	}
}

func TestCheckActive(t *testing.T) {
	tq := xyQueue(t)
	sk := newStepper(t, lookAheadY{}, tq)
	tq.RLock()
	defer tq.RUnlock()
	if got, ok, err := sk.CheckActive(0.5); err != nil || ok {
		t.Errorf("CheckActive(0.5) = %v, %v, %v", got, ok, err)
	}
	if got, ok, err := sk.CheckActive(3); err != nil || !ok || got != 1 {
		t.Errorf("CheckActive(3) = %v, %v, %v", got, ok, err)
	}
}

func TestCheckActiveWithoutQueue(t *testing.T) {
	sk, err := New("stepper", static{mapperEval{kinematics.Linear{Coeffs: trapq.Coord{X: 1}}}}, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok, err := sk.CheckActive(1); ok || err != nil {
		t.Errorf("CheckActive without a queue = %v, %v", ok, err)
	}
}

func TestRetiredReferenceGetsPassTime(t *testing.T) {
	sk := newStepper(t, lookBehindX{}, trapezoidQueue(t))
	err := sk.fatal(&trapq.RetentionError{Time: math.NaN(), Retired: true, Ref: 3, RetainedStart: 0.5, RetainedEnd: 2}, 1.25)
	var re *trapq.RetentionError
	if !stderrors.As(err, &re) {
		t.Fatalf("RetentionError not found in %v", err)
	}
	if re.Time != 1.25 || re.Ref != 3 {
		t.Errorf("RetentionError = %+v, want time 1.25 at ref 3", *re)
	}
	if !errors.IsFatal(err) {
		t.Errorf("not fatal: %v", err)
	}
}

func TestRetiredQueryIsFatal(t *testing.T) {
	tq := trapezoidQueue(t)
	sk := newStepper(t, lookBehindX{}, tq)
	generate(t, sk, 1)
	if sk.LowWater() != 0.5 {
		t.Fatalf("LowWater = %v", sk.LowWater())
	}
	if n := tq.Prune(); n != 1 {
		t.Fatalf("Prune = %d, want 1", n)
	}

	tq.RLock()
	err := sk.GenerateSteps(1.5, NewStepQueue("stepper", 16))
	tq.RUnlock()
	if !errors.IsFatal(err) || !errors.Is(err, errors.ErrTrapQRetention) {
		t.Fatalf("expected fatal retention error, got %v", err)
	}
	var re *trapq.RetentionError
	if !stderrors.As(err, &re) || re.RetainedStart != 0.5 {
		t.Errorf("RetentionError not found in %v", err)
	}
}

func TestFlushOrdering(t *testing.T) {
	sk := newStepper(t, mapperEval{kinematics.Linear{Coeffs: trapq.Coord{X: 1}}}, trapezoidQueue(t))
	generate(t, sk, 1)
	if err := sk.GenerateSteps(0.5, NewStepQueue("stepper", 1)); !errors.Is(err, errors.ErrStepGenSequence) {
		t.Errorf("flush into the past: %v", err)
	}
}

func TestNewRejects(t *testing.T) {
	if _, err := New("x", nil, 1); !errors.IsConfig(err) {
		t.Errorf("nil kinematics: %v", err)
	}
	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := New("x", static{lookAheadY{}}, d); !errors.IsConfig(err) {
			t.Errorf("step distance %v: %v", d, err)
		}
	}
}

func TestStepQueue(t *testing.T) {
	q := NewStepQueue("stepper_x", 4)
	if err := q.AppendStep(1, 0.1); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	if err := q.AppendStep(-1, 0.1); !errors.Is(err, errors.ErrStepGenSequence) {
		t.Errorf("repeated time accepted: %v", err)
	}
	if err := q.AppendStep(0, 0.2); err == nil {
		t.Errorf("zero direction accepted")
	}
	if err := q.AppendStep(-1, 0.2); err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	var got []Step
	if n := q.Drain(func(s Step) { got = append(got, s) }); n != 2 || len(got) != 2 {
		t.Fatalf("Drain = %d", n)
	}
	if q.Len() != 0 || q.NetSteps() != 0 || q.Total() != 2 {
		t.Errorf("after drain: len %d net %d total %d", q.Len(), q.NetSteps(), q.Total())
	}
	if err := q.AppendStep(1, 0.15); err == nil {
		t.Errorf("step before drained steps accepted")
	}
}

func TestWindow(t *testing.T) {
	w := Window{PreActive: 0.1, PostActive: 0.02}.Union(Window{PreActive: 0.05, PostActive: 0.2})
	if w.PreActive != 0.1 || w.PostActive != 0.2 || math.Abs(w.Span()-0.3) > 1e-15 {
		t.Errorf("Union = %+v", w)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	for _, bad := range []Window{{PreActive: -1}, {PostActive: MaxWindow + 0.01}, {PreActive: math.NaN()}} {
		if bad.Validate() == nil {
			t.Errorf("Validate(%+v) accepted", bad)
		}
	}
}
