// Factory functions for creating kinematics instances from configuration.
package kinematics

import (
	"fmt"
	"sort"
	"strings"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/trapq"
)

// Config represents the configuration needed to create a kinematics instance.
type Config struct {
	Type     string             // "cartesian", "corexy", "corexz", ...
	StepDist map[string]float64 // step distance per stepper section name
	Anchors  []trapq.Coord      // winch only
}

type constructor func(cfg Config) (Kinematics, error)

var constructors = map[string]constructor{
	"cartesian": func(cfg Config) (Kinematics, error) {
		return NewCartesianKinematics(cfg.StepDist), nil
	},
	"corexy": func(cfg Config) (Kinematics, error) {
		return NewCoreXYKinematics(cfg.StepDist), nil
	},
	"corexz": func(cfg Config) (Kinematics, error) {
		return NewCoreXZKinematics(cfg.StepDist), nil
	},
	"hybrid_corexy": func(cfg Config) (Kinematics, error) {
		return NewHybridCoreXYKinematics(cfg.StepDist), nil
	},
	"hybrid_corexz": func(cfg Config) (Kinematics, error) {
		return NewHybridCoreXZKinematics(cfg.StepDist), nil
	},
	"winch": func(cfg Config) (Kinematics, error) {
		return NewWinchKinematics(cfg.Anchors, cfg.StepDist)
	},
}

// NewFromConfig creates a kinematics instance and checks that every rail
// has a positive step distance.
func NewFromConfig(cfg Config) (Kinematics, error) {
	kinType := strings.ToLower(strings.TrimSpace(cfg.Type))
	ctor, ok := constructors[kinType]
	if !ok {
		return nil, errors.ConfigValidationError("printer", "kinematics",
			fmt.Sprintf("unsupported kinematics type '%s' (supported: %s)",
				cfg.Type, strings.Join(SupportedTypes(), ", ")))
	}
	k, err := ctor(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, err.Error()).
			SetSection("printer").SetOption("kinematics")
	}
	for _, r := range k.Rails() {
		if !(r.StepDist > 0) {
			return nil, errors.ConfigValidationError(r.Name, "rotation_distance",
				"missing or non-positive step distance")
		}
	}
	return k, nil
}

// IsSupported returns true if the given kinematic type is supported.
func IsSupported(kinType string) bool {
	_, ok := constructors[strings.ToLower(strings.TrimSpace(kinType))]
	return ok
}

// SupportedTypes returns a sorted list of supported kinematic types.
func SupportedTypes() []string {
	types := make([]string, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
