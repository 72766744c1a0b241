// Winch kinematics for cable-driven robots.
// Each stepper winds a cable running from the toolhead to a fixed anchor,
// so its position is the cable length.
package kinematics

import (
	"fmt"
	"math"

	"klipper-stepgen/pkg/trapq"
)

// Cable maps a coordinate to its distance from an anchor point.
type Cable struct {
	Anchor trapq.Coord
}

// Position implements Mapper.
func (c Cable) Position(p trapq.Coord) float64 {
	dx, dy, dz := p.X-c.Anchor.X, p.Y-c.Anchor.Y, p.Z-c.Anchor.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ActiveAxes implements Mapper.
func (c Cable) ActiveAxes() trapq.AxisFlags {
	return trapq.FlagX | trapq.FlagY | trapq.FlagZ
}

// WinchKinematics implements kinematics for cable winch robots.
type WinchKinematics struct {
	*base
	anchors []trapq.Coord
}

// WinchRailName returns the stepper name for anchor i (stepper_a, ...).
func WinchRailName(i int) string {
	return fmt.Sprintf("stepper_%c", 'a'+i)
}

// NewWinchKinematics creates winch kinematics; stepper_a uses anchors[0]
// and so on.
func NewWinchKinematics(anchors []trapq.Coord, stepDist map[string]float64) (*WinchKinematics, error) {
	if len(anchors) < 3 {
		return nil, fmt.Errorf("winch kinematics requires at least 3 anchors, got %d", len(anchors))
	}
	wk := &WinchKinematics{base: &base{kinType: "winch"}, anchors: anchors}
	for i, a := range anchors {
		name := WinchRailName(i)
		wk.rails = append(wk.rails, Rail{Name: name, StepDist: stepDist[name], Mapper: Cable{Anchor: a}})
	}
	return wk, nil
}

// CalcPosition trilaterates the toolhead from the first three cable
// lengths.
func (wk *WinchKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	var d [3]float64
	for i := range d {
		d[i] = stepperPositions[WinchRailName(i)]
	}
	return trilaterate(wk.anchors[0], wk.anchors[1], wk.anchors[2], d)
}

func sub(a, b trapq.Coord) trapq.Coord { return trapq.Coord{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }

func dot(a, b trapq.Coord) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }

func scale(a trapq.Coord, s float64) trapq.Coord { return trapq.Coord{X: a.X * s, Y: a.Y * s, Z: a.Z * s} }

func cross(a, b trapq.Coord) trapq.Coord {
	return trapq.Coord{X: a.Y*b.Z - a.Z*b.Y, Y: a.Z*b.X - a.X*b.Z, Z: a.X*b.Y - a.Y*b.X}
}

// trilaterate finds the point at distances d from p1, p2, p3, choosing
// the solution on the +ez side of the anchor plane.
func trilaterate(p1, p2, p3 trapq.Coord, d [3]float64) trapq.Coord {
	ex := sub(p2, p1)
	dist := math.Sqrt(dot(ex, ex))
	if dist == 0 {
		return p1
	}
	ex = scale(ex, 1/dist)
	p13 := sub(p3, p1)
	i := dot(ex, p13)
	ey := sub(p13, scale(ex, i))
	j := math.Sqrt(dot(ey, ey))
	if j == 0 {
		return p1
	}
	ey = scale(ey, 1/j)
	ez := cross(ex, ey)

	x := (d[0]*d[0] - d[1]*d[1] + dist*dist) / (2 * dist)
	y := (d[0]*d[0] - d[2]*d[2] + i*i + j*j - 2*i*x) / (2 * j)
	z := 0.
	if z2 := d[0]*d[0] - x*x - y*y; z2 > 0 {
		z = math.Sqrt(z2)
	}
	return trapq.Coord{
		X: p1.X + x*ex.X + y*ey.X + z*ez.X,
		Y: p1.Y + x*ex.Y + y*ey.Y + z*ez.Y,
		Z: p1.Z + x*ex.Z + y*ey.Z + z*ez.Z,
	}
}
