// Step generation settings from printer.cfg
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"klipper-stepgen/pkg/extruder"
	"klipper-stepgen/pkg/inputshaper"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/smoother"
	"klipper-stepgen/pkg/trapq"
)

// StepperConfig is the motion part of a [stepper_*] or [extruder] section.
type StepperConfig struct {
	Name                 string
	RotationDistance     float64
	Microsteps           int
	FullStepsPerRotation int
}

// StepDist returns the distance (mm) moved per step.
func (s StepperConfig) StepDist() float64 {
	return s.RotationDistance / float64(s.FullStepsPerRotation*s.Microsteps)
}

// ExtruderConfig holds the [extruder] stepper and pressure advance.
type ExtruderConfig struct {
	Stepper    StepperConfig
	Model      extruder.Model
	SmoothTime float64
	TimeOffset float64
	AdvanceOnZ bool
}

// SmootherConfig holds the [smoother] section. A zero smooth time leaves
// the axis unsmoothed.
type SmootherConfig struct {
	Type       string
	SmoothTime [3]float64 // x, y, z
}

// Enabled reports whether any axis is smoothed.
func (s *SmootherConfig) Enabled() bool {
	return s != nil && s.Type != "none" &&
		(s.SmoothTime[0] > 0 || s.SmoothTime[1] > 0 || s.SmoothTime[2] > 0)
}

// StepGen is everything step generation needs from the config. Optional
// sections that are absent leave their field nil.
type StepGen struct {
	Kinematics  kinematics.Config
	Steppers    []StepperConfig
	Extruder    *ExtruderConfig
	InputShaper *inputshaper.Config
	Smoother    *SmootherConfig
}

// LoadStepGen reads and validates the step generation sections. Every
// value is checked here so that no bad parameter reaches a running pass.
func LoadStepGen(c *Config) (*StepGen, error) {
	printer, err := c.GetSection("printer")
	if err != nil {
		return nil, err
	}
	kinType, err := printer.GetChoice("kinematics", kinematics.SupportedTypes())
	if err != nil {
		return nil, err
	}

	sg := &StepGen{Kinematics: kinematics.Config{Type: kinType, StepDist: make(map[string]float64)}}
	for _, name := range c.GetPrefixSectionNames("stepper_") {
		sec, _ := c.GetSection(name)
		st, err := loadStepper(sec)
		if err != nil {
			return nil, err
		}
		if kinType == "winch" {
			var anchor trapq.Coord
			for _, a := range [...]trapq.Axis{trapq.AxisX, trapq.AxisY, trapq.AxisZ} {
				v, err := sec.GetFloat("anchor_" + a.String())
				if err != nil {
					return nil, err
				}
				anchor.Set(a, v)
			}
			sg.Kinematics.Anchors = append(sg.Kinematics.Anchors, anchor)
		}
		sg.Steppers = append(sg.Steppers, st)
		sg.Kinematics.StepDist[name] = st.StepDist()
	}
	if _, err := kinematics.NewFromConfig(sg.Kinematics); err != nil {
		return nil, WrapError("printer", "kinematics", err)
	}

	if sec := c.GetSectionOptional("extruder"); sec != nil {
		if sg.Extruder, err = loadExtruder(sec); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("input_shaper"); sec != nil {
		if sg.InputShaper, err = loadInputShaper(sec); err != nil {
			return nil, err
		}
	}
	if sec := c.GetSectionOptional("smoother"); sec != nil {
		if sg.Smoother, err = loadSmoother(sec); err != nil {
			return nil, err
		}
	}
	return sg, nil
}

func loadStepper(sec *Section) (StepperConfig, error) {
	st := StepperConfig{Name: sec.GetName()}
	var err error
	if st.RotationDistance, err = sec.GetFloatWithBounds("rotation_distance",
		FloatBounds{Above: Float(0)}); err != nil {
		return st, err
	}
	if st.Microsteps, err = sec.GetIntWithBounds("microsteps", 1); err != nil {
		return st, err
	}
	if st.FullStepsPerRotation, err = sec.GetIntWithBounds("full_steps_per_rotation", 1, 200); err != nil {
		return st, err
	}
	if st.FullStepsPerRotation%4 != 0 {
		return st, NewConfigError(sec.GetName(), "full_steps_per_rotation", "must be a multiple of 4")
	}
	return st, nil
}

func loadExtruder(sec *Section) (*ExtruderConfig, error) {
	st, err := loadStepper(sec)
	if err != nil {
		return nil, err
	}
	ec := &ExtruderConfig{Stepper: st}
	name, err := sec.GetChoice("pressure_advance_model", extruder.ModelNames(), "linear")
	if err != nil {
		return nil, err
	}
	nonNeg := FloatBounds{MinVal: Float(0)}
	var params []float64
	if name == "linear" {
		pa, err := sec.GetFloatWithBounds("pressure_advance", nonNeg, 0)
		if err != nil {
			return nil, err
		}
		params = []float64{pa}
	} else {
		la, err := sec.GetFloatWithBounds("linear_advance", nonNeg, 0)
		if err != nil {
			return nil, err
		}
		lo, err := sec.GetFloatWithBounds("linear_offset", nonNeg, 0)
		if err != nil {
			return nil, err
		}
		lv, err := sec.GetFloatWithBounds("linearization_velocity", FloatBounds{Above: Float(0)})
		if err != nil {
			return nil, err
		}
		params = []float64{la, lo, lv}
	}
	if ec.Model, err = extruder.NewModel(name, params...); err != nil {
		return nil, WrapError(sec.GetName(), "pressure_advance_model", err)
	}
	if ec.SmoothTime, err = sec.GetFloatWithBounds("pressure_advance_smooth_time",
		FloatBounds{MinVal: Float(0), MaxVal: Float(extruder.MaxSmoothTime)}, 0.040); err != nil {
		return nil, err
	}
	if ec.TimeOffset, err = sec.GetFloat("pressure_advance_time_offset", 0); err != nil {
		return nil, err
	}
	if ec.AdvanceOnZ, err = sec.GetBool("pressure_advance_on_z", false); err != nil {
		return nil, err
	}
	return ec, nil
}

func loadInputShaper(sec *Section) (*inputshaper.Config, error) {
	cfg := inputshaper.DefaultConfig()
	types := inputshaper.Types()
	def, err := sec.GetChoice("shaper_type", types, cfg.ShaperTypeX)
	if err != nil {
		return nil, err
	}
	freq := FloatBounds{MinVal: Float(0)}
	damping := FloatBounds{MinVal: Float(0), Below: Float(1)}
	for _, a := range []struct {
		suffix  string
		typ     *string
		freq    *float64
		damping *float64
	}{
		{"x", &cfg.ShaperTypeX, &cfg.ShaperFreqX, &cfg.DampingRatioX},
		{"y", &cfg.ShaperTypeY, &cfg.ShaperFreqY, &cfg.DampingRatioY},
	} {
		if *a.typ, err = sec.GetChoice("shaper_type_"+a.suffix, types, def); err != nil {
			return nil, err
		}
		if *a.freq, err = sec.GetFloatWithBounds("shaper_freq_"+a.suffix, freq, 0); err != nil {
			return nil, err
		}
		if *a.damping, err = sec.GetFloatWithBounds("damping_ratio_"+a.suffix, damping,
			inputshaper.DefaultDampingRatio); err != nil {
			return nil, err
		}
	}
	// Builds the shapers once to check the damping limits of each type
	if _, err := inputshaper.NewInputShaper(cfg); err != nil {
		return nil, WrapError(sec.GetName(), "shaper_type", err)
	}
	return &cfg, nil
}

func loadSmoother(sec *Section) (*SmootherConfig, error) {
	sc := &SmootherConfig{}
	var err error
	if sc.Type, err = sec.GetChoice("smoother_type", append([]string{"none"}, smoother.Names()...), "none"); err != nil {
		return nil, err
	}
	for i, a := range [...]trapq.Axis{trapq.AxisX, trapq.AxisY, trapq.AxisZ} {
		option := "smooth_time_" + a.String()
		if sc.SmoothTime[i], err = sec.GetFloatWithBounds(option, FloatBounds{MinVal: Float(0)}, 0); err != nil {
			return nil, err
		}
		if sc.Type == "none" || sc.SmoothTime[i] == 0 {
			continue
		}
		if _, err := smoother.NewNamed(sc.Type, sc.SmoothTime[i], 0); err != nil {
			return nil, WrapError(sec.GetName(), option, err)
		}
	}
	return sc, nil
}
