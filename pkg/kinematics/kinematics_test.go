package kinematics

import (
	"math"
	"testing"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/trapq"
)

func stepDists(names ...string) map[string]float64 {
	m := make(map[string]float64)
	for _, n := range names {
		m[n] = 0.0125
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	p := trapq.Coord{X: 12.5, Y: -3.25, Z: 7}
	cart := stepDists("stepper_x", "stepper_y", "stepper_z")
	tests := []struct {
		name string
		kin  Kinematics
	}{
		{"cartesian", NewCartesianKinematics(cart)},
		{"corexy", NewCoreXYKinematics(cart)},
		{"corexz", NewCoreXZKinematics(cart)},
		{"hybrid_corexy", NewHybridCoreXYKinematics(cart)},
		{"hybrid_corexz", NewHybridCoreXZKinematics(cart)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kin.Type() != tt.name {
				t.Errorf("Type = %q", tt.kin.Type())
			}
			pos := make(map[string]float64)
			for _, r := range tt.kin.Rails() {
				pos[r.Name] = r.Mapper.Position(p)
			}
			got := tt.kin.CalcPosition(pos)
			if math.Abs(got.X-p.X) > 1e-12 || math.Abs(got.Y-p.Y) > 1e-12 || math.Abs(got.Z-p.Z) > 1e-12 {
				t.Errorf("CalcPosition = %+v, want %+v", got, p)
			}
		})
	}
}

func TestCoreXYMapping(t *testing.T) {
	k := NewCoreXYKinematics(stepDists("stepper_x", "stepper_y", "stepper_z"))
	a, _ := k.Rail("stepper_x")
	b, _ := k.Rail("stepper_y")
	p := trapq.Coord{X: 10, Y: 4}
	if got := a.Mapper.Position(p); got != 14 {
		t.Errorf("A = %v, want 14", got)
	}
	if got := b.Mapper.Position(p); got != 6 {
		t.Errorf("B = %v, want 6", got)
	}
	if f := a.Mapper.ActiveAxes(); !f.Has(trapq.AxisX) || !f.Has(trapq.AxisY) || f.Has(trapq.AxisZ) {
		t.Errorf("A active axes = %b", f)
	}
}

func TestWinchRoundTrip(t *testing.T) {
	anchors := []trapq.Coord{{X: 0, Y: 0, Z: 0}, {X: 100, Y: 0, Z: 0}, {X: 0, Y: 100, Z: 0}}
	k, err := NewWinchKinematics(anchors, stepDists("stepper_a", "stepper_b", "stepper_c"))
	if err != nil {
		t.Fatalf("NewWinchKinematics: %v", err)
	}
	p := trapq.Coord{X: 30, Y: 40, Z: 50}
	pos := make(map[string]float64)
	for _, r := range k.Rails() {
		pos[r.Name] = r.Mapper.Position(p)
	}
	if math.Abs(pos["stepper_a"]-math.Sqrt(30*30+40*40+50*50)) > 1e-12 {
		t.Errorf("stepper_a = %v", pos["stepper_a"])
	}
	got := k.CalcPosition(pos)
	if math.Abs(got.X-p.X) > 1e-9 || math.Abs(got.Y-p.Y) > 1e-9 || math.Abs(got.Z-p.Z) > 1e-9 {
		t.Errorf("CalcPosition = %+v, want %+v", got, p)
	}
	if _, err := NewWinchKinematics(anchors[:2], nil); err == nil {
		t.Errorf("two anchors accepted")
	}
}

func TestNewFromConfig(t *testing.T) {
	k, err := NewFromConfig(Config{Type: " CoreXY ", StepDist: stepDists("stepper_x", "stepper_y", "stepper_z")})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if k.Type() != "corexy" || len(k.Rails()) != 3 {
		t.Errorf("got %s with %d rails", k.Type(), len(k.Rails()))
	}

	_, err = NewFromConfig(Config{Type: "delta"})
	if !errors.IsConfig(err) {
		t.Errorf("unsupported type: %v", err)
	}

	_, err = NewFromConfig(Config{Type: "cartesian", StepDist: stepDists("stepper_x", "stepper_y")})
	if !errors.IsConfig(err) {
		t.Errorf("missing stepper_z step distance: %v", err)
	}

	_, err = NewFromConfig(Config{Type: "winch", StepDist: stepDists("stepper_a")})
	if !errors.IsConfig(err) {
		t.Errorf("winch without anchors: %v", err)
	}
}

func TestSupportedTypes(t *testing.T) {
	types := SupportedTypes()
	if len(types) != 6 || types[0] != "cartesian" {
		t.Errorf("SupportedTypes = %v", types)
	}
	if !IsSupported("winch") || IsSupported("polar") {
		t.Errorf("IsSupported wrong")
	}
}
