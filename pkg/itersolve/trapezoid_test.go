package itersolve_test

import (
	"testing"

	"klipper-stepgen/pkg/inputshaper"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/trapq"
)

const stepDist = 0.0125 // 40 mm rotation, 16 microsteps

// diagonalQueue accelerates 0 -> 200 mm/s over 50 mm, cruises 100 mm and
// decelerates to 0 over 50 mm, heading 120 mm in X and 160 mm in Y.
func diagonalQueue(t *testing.T) *trapq.TrapQ {
	t.Helper()
	tq := trapq.New(16, trapq.Coord{})
	err := tq.Append(0.1, 0.5, 0.5, 0.5, trapq.Coord{}, trapq.Coord{X: 0.6, Y: 0.8}, 0, 200, 400)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return tq
}

func runAxis(t *testing.T, tq *trapq.TrapQ, kin *inputshaper.Kinematics, flushes ...float64) []itersolve.Step {
	t.Helper()
	sk, err := itersolve.New("stepper", kin, stepDist)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sk.SetTrapQ(tq)
	q := itersolve.NewStepQueue("stepper", 32768)
	for _, ft := range flushes {
		tq.RLock()
		err := sk.GenerateSteps(ft, q)
		tq.RUnlock()
		if err != nil {
			t.Fatalf("GenerateSteps(%v): %v", ft, err)
		}
	}
	return q.Steps()
}

func checkForward(t *testing.T, axis string, steps []itersolve.Step, want int) {
	t.Helper()
	if len(steps) != want {
		t.Fatalf("%s: %d steps, want %d", axis, len(steps), want)
	}
	for i, s := range steps {
		if s.Dir != 1 {
			t.Fatalf("%s: step %d has direction %d", axis, i, s.Dir)
		}
		if i > 0 && s.Time <= steps[i-1].Time {
			t.Fatalf("%s: step %d at %v not after %v", axis, i, s.Time, steps[i-1].Time)
		}
	}
}

func TestTrapezoidStepCount(t *testing.T) {
	for _, axis := range []struct {
		name   string
		coeffs trapq.Coord
		want   int
	}{
		{"x", trapq.Coord{X: 1}, 9600},
		{"y", trapq.Coord{Y: 1}, 12800},
	} {
		kin := inputshaper.NewKinematics(kinematics.Linear{Coeffs: axis.coeffs})
		steps := runAxis(t, diagonalQueue(t), kin, 2.2)
		checkForward(t, axis.name, steps, axis.want)
	}
}

func TestShapedTrapezoidStepCount(t *testing.T) {
	def, err := inputshaper.Lookup("mzv")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	A, T := def.Pulses(40, 0.1)
	biweight, err := smoother.Coefficients("biweight")
	if err != nil {
		t.Fatalf("Coefficients: %v", err)
	}

	tq := diagonalQueue(t)
	var all [][]itersolve.Step
	for _, axis := range []struct {
		name   string
		coeffs trapq.Coord
		smooth bool
		want   int
	}{
		{"x", trapq.Coord{X: 1}, true, 9600},
		{"y", trapq.Coord{Y: 1}, false, 12800},
	} {
		kin := inputshaper.NewKinematics(kinematics.Linear{Coeffs: axis.coeffs})
		for _, a := range []trapq.Axis{trapq.AxisX, trapq.AxisY} {
			if err := kin.SetShaperParams(a, A, T); err != nil {
				t.Fatalf("SetShaperParams: %v", err)
			}
		}
		if axis.smooth {
			if err := kin.SetSmootherParams(trapq.AxisX, biweight, 0.04, 0); err != nil {
				t.Fatalf("SetSmootherParams: %v", err)
			}
		}
		steps := runAxis(t, tq, kin, 0.37, 0.9, 1.45, 2.2)
		checkForward(t, axis.name, steps, axis.want)
		all = append(all, steps)
	}
	if total := len(all[0]) + len(all[1]); total != 22400 {
		t.Errorf("total steps = %d, want 22400", total)
	}
}
