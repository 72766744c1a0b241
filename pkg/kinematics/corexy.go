// CoreXY and CoreXZ kinematics.
package kinematics

import "klipper-stepgen/pkg/trapq"

// CoreXYKinematics implements CoreXY kinematics.
//   - stepper_x (A) = X + Y
//   - stepper_y (B) = X - Y
//   - stepper_z = Z
type CoreXYKinematics struct {
	*base
}

// NewCoreXYKinematics creates CoreXY kinematics.
func NewCoreXYKinematics(stepDist map[string]float64) *CoreXYKinematics {
	return &CoreXYKinematics{newLinearBase("corexy", stepDist, map[string]trapq.Coord{
		"stepper_x": {X: 1, Y: 1},
		"stepper_y": {X: 1, Y: -1},
		"stepper_z": {Z: 1},
	}, cartesianOrder)}
}

// CalcPosition inverts the A/B combination: X = (A+B)/2, Y = (A-B)/2.
func (ck *CoreXYKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	a, b := stepperPositions["stepper_x"], stepperPositions["stepper_y"]
	return trapq.Coord{X: 0.5 * (a + b), Y: 0.5 * (a - b), Z: stepperPositions["stepper_z"]}
}

// CoreXZKinematics implements CoreXZ kinematics.
//   - stepper_x = X + Z
//   - stepper_y = Y
//   - stepper_z = X - Z
type CoreXZKinematics struct {
	*base
}

// NewCoreXZKinematics creates CoreXZ kinematics.
func NewCoreXZKinematics(stepDist map[string]float64) *CoreXZKinematics {
	return &CoreXZKinematics{newLinearBase("corexz", stepDist, map[string]trapq.Coord{
		"stepper_x": {X: 1, Z: 1},
		"stepper_y": {Y: 1},
		"stepper_z": {X: 1, Z: -1},
	}, cartesianOrder)}
}

// CalcPosition inverts the X/Z combination.
func (ck *CoreXZKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	a, c := stepperPositions["stepper_x"], stepperPositions["stepper_z"]
	return trapq.Coord{X: 0.5 * (a + c), Y: stepperPositions["stepper_y"], Z: 0.5 * (a - c)}
}

// HybridCoreXYKinematics implements hybrid CoreXY (Markforged) kinematics:
// stepper_x = X - Y with direct Y and Z.
type HybridCoreXYKinematics struct {
	*base
}

// NewHybridCoreXYKinematics creates hybrid CoreXY kinematics.
func NewHybridCoreXYKinematics(stepDist map[string]float64) *HybridCoreXYKinematics {
	return &HybridCoreXYKinematics{newLinearBase("hybrid_corexy", stepDist, map[string]trapq.Coord{
		"stepper_x": {X: 1, Y: -1},
		"stepper_y": {Y: 1},
		"stepper_z": {Z: 1},
	}, cartesianOrder)}
}

// CalcPosition returns X = stepper_x + stepper_y.
func (hk *HybridCoreXYKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	y := stepperPositions["stepper_y"]
	return trapq.Coord{X: stepperPositions["stepper_x"] + y, Y: y, Z: stepperPositions["stepper_z"]}
}

// HybridCoreXZKinematics implements hybrid CoreXZ kinematics:
// stepper_x = X - Z with direct Y and Z.
type HybridCoreXZKinematics struct {
	*base
}

// NewHybridCoreXZKinematics creates hybrid CoreXZ kinematics.
func NewHybridCoreXZKinematics(stepDist map[string]float64) *HybridCoreXZKinematics {
	return &HybridCoreXZKinematics{newLinearBase("hybrid_corexz", stepDist, map[string]trapq.Coord{
		"stepper_x": {X: 1, Z: -1},
		"stepper_y": {Y: 1},
		"stepper_z": {Z: 1},
	}, cartesianOrder)}
}

// CalcPosition returns X = stepper_x + stepper_z.
func (hk *HybridCoreXZKinematics) CalcPosition(stepperPositions map[string]float64) trapq.Coord {
	z := stepperPositions["stepper_z"]
	return trapq.Coord{X: stepperPositions["stepper_x"] + z, Y: stepperPositions["stepper_y"], Z: z}
}
