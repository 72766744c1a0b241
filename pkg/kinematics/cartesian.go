// Cartesian kinematics: each stepper drives one axis.
package kinematics

import "klipper-stepgen/pkg/trapq"

// CartesianKinematics implements standard cartesian kinematics.
type CartesianKinematics struct {
	*base
}

var cartesianOrder = []string{"stepper_x", "stepper_y", "stepper_z"}

// NewCartesianKinematics creates cartesian kinematics from per-stepper
// step distances.
func NewCartesianKinematics(stepDist map[string]float64) *CartesianKinematics {
	return &CartesianKinematics{newLinearBase("cartesian", stepDist, map[string]trapq.Coord{
		"stepper_x": {X: 1},
		"stepper_y": {Y: 1},
		"stepper_z": {Z: 1},
	}, cartesianOrder)}
}

// CalcPosition maps stepper positions directly onto the axes.
func (ck *CartesianKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	return trapq.Coord{
		X: stepperPositions["stepper_x"],
		Y: stepperPositions["stepper_y"],
		Z: stepperPositions["stepper_z"],
	}
}
