// Input shaper configuration and runtime control
//
// Copyright (C) 2019-2020  Kevin O'Connor <kevin@koconnor.net>
// Copyright (C) 2020-2025  Dmitry Butyugin <dmbutyugin@google.com>
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package inputshaper

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/gcode"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/trapq"
)

// InputShaperParams holds the configuration parameters for one axis shaper.
type InputShaperParams struct {
	Axis         trapq.Axis
	ShaperType   ShaperType
	DampingRatio float64
	ShaperFreq   float64
}

// NewInputShaperParams creates validated shaper parameters. An empty type
// selects mzv; a zero frequency disables shaping.
func NewInputShaperParams(axis trapq.Axis, shaperType string, dampingRatio, shaperFreq float64) (*InputShaperParams, error) {
	p := &InputShaperParams{Axis: axis, ShaperType: ShaperMZV, DampingRatio: DefaultDampingRatio}
	if err := p.Update(&shaperType, &dampingRatio, &shaperFreq); err != nil {
		return nil, err
	}
	return p, nil
}

// Update validates and applies command values. Nil values keep the
// current setting. On error p is unchanged.
func (p *InputShaperParams) Update(shaperType *string, dampingRatio, shaperFreq *float64) error {
	next := *p
	axis := p.Axis.String()
	if shaperType != nil && *shaperType != "" {
		d, err := Lookup(*shaperType)
		if err != nil {
			return errors.Wrap(err, errors.ErrShaper, err.Error()).SetOption("shaper_type_" + axis)
		}
		next.ShaperType = d.Type
	}
	if dampingRatio != nil {
		next.DampingRatio = *dampingRatio
	}
	if shaperFreq != nil {
		next.ShaperFreq = *shaperFreq
	}

	d, _ := Lookup(string(next.ShaperType))
	if math.IsNaN(next.DampingRatio) || next.DampingRatio < 0 || next.DampingRatio > d.MaxDampingRatio {
		return errors.ShaperError(axis, fmt.Sprintf("damping ratio %.3f outside [0, %.2f] for shaper %s on axis %s",
			next.DampingRatio, d.MaxDampingRatio, next.ShaperType, strings.ToUpper(axis)))
	}
	if math.IsNaN(next.ShaperFreq) || math.IsInf(next.ShaperFreq, 0) || next.ShaperFreq < 0 {
		return errors.ShaperError(axis, fmt.Sprintf("invalid shaper frequency %v on axis %s",
			next.ShaperFreq, strings.ToUpper(axis)))
	}
	*p = next
	return nil
}

// GetShaper returns the unnormalised amplitudes and delays, empty when
// the frequency is zero.
func (p *InputShaperParams) GetShaper() (A, T []float64) {
	if p.ShaperFreq == 0 {
		return nil, nil
	}
	d, err := Lookup(string(p.ShaperType))
	if err != nil {
		return nil, nil
	}
	return d.Pulses(p.ShaperFreq, p.DampingRatio)
}

// GetStatus returns status information about this shaper.
func (p *InputShaperParams) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"shaper_type":   string(p.ShaperType),
		"shaper_freq":   fmt.Sprintf("%.3f", p.ShaperFreq),
		"damping_ratio": fmt.Sprintf("%.6f", p.DampingRatio),
	}
}

// AxisInputShaper manages input shaping for a single axis.
type AxisInputShaper struct {
	Params   *InputShaperParams
	A, T     []float64
	disabled bool
}

// NewAxisInputShaper creates an axis input shaper.
func NewAxisInputShaper(axis trapq.Axis, shaperType string, dampingRatio, shaperFreq float64) (*AxisInputShaper, error) {
	params, err := NewInputShaperParams(axis, shaperType, dampingRatio, shaperFreq)
	if err != nil {
		return nil, err
	}
	s := &AxisInputShaper{Params: params}
	s.A, s.T = params.GetShaper()
	return s, nil
}

// Axis returns the shaped axis.
func (s *AxisInputShaper) Axis() trapq.Axis { return s.Params.Axis }

// GetName returns the shaper name.
func (s *AxisInputShaper) GetName() string {
	return "shaper_" + s.Params.Axis.String()
}

// GetShaper returns the coefficients to apply, empty while disabled.
func (s *AxisInputShaper) GetShaper() (A, T []float64) {
	if s.disabled {
		return nil, nil
	}
	return s.A, s.T
}

// Update updates the shaper from command parameters.
func (s *AxisInputShaper) Update(shaperType *string, dampingRatio, shaperFreq *float64) error {
	if err := s.Params.Update(shaperType, dampingRatio, shaperFreq); err != nil {
		return err
	}
	s.A, s.T = s.Params.GetShaper()
	s.disabled = false
	return nil
}

// IsEnabled returns true if shaping is active.
func (s *AxisInputShaper) IsEnabled() bool {
	return !s.disabled && len(s.A) > 0
}

// DisableShaping disables shaping, keeping the parameters. The next
// successful Update enables it again.
func (s *AxisInputShaper) DisableShaping() { s.disabled = true }

// GetStatus returns status information.
func (s *AxisInputShaper) GetStatus() map[string]interface{} {
	return s.Params.GetStatus()
}

// Target receives shaper parameters. Toolhead and extruder stepper
// kinematics both implement it.
type Target interface {
	SetShaperParams(axis trapq.Axis, A, T []float64) error
}

// Config holds the [input_shaper] section values.
type Config struct {
	ShaperTypeX   string
	ShaperTypeY   string
	ShaperFreqX   float64
	ShaperFreqY   float64
	DampingRatioX float64
	DampingRatioY float64
}

// DefaultConfig returns mzv shapers with shaping disabled.
func DefaultConfig() Config {
	return Config{
		ShaperTypeX:   string(ShaperMZV),
		ShaperTypeY:   string(ShaperMZV),
		DampingRatioX: DefaultDampingRatio,
		DampingRatioY: DefaultDampingRatio,
	}
}

// InputShaper manages the X and Y shapers and pushes them to every
// registered stepper.
type InputShaper struct {
	mu      sync.Mutex
	shapers []*AxisInputShaper
	targets []Target
	logger  *log.Logger
}

// NewInputShaper creates an input shaper from config.
func NewInputShaper(cfg Config) (*InputShaper, error) {
	x, err := NewAxisInputShaper(trapq.AxisX, cfg.ShaperTypeX, cfg.DampingRatioX, cfg.ShaperFreqX)
	if err != nil {
		return nil, err
	}
	y, err := NewAxisInputShaper(trapq.AxisY, cfg.ShaperTypeY, cfg.DampingRatioY, cfg.ShaperFreqY)
	if err != nil {
		return nil, err
	}
	return &InputShaper{
		shapers: []*AxisInputShaper{x, y},
		logger:  log.GetLogger("input_shaper"),
	}, nil
}

// GetShapers returns all axis shapers.
func (is *InputShaper) GetShapers() []*AxisInputShaper {
	return is.shapers
}

// AddTarget registers a stepper to receive shaper parameters.
func (is *InputShaper) AddTarget(t Target) {
	is.mu.Lock()
	defer is.mu.Unlock()
	is.targets = append(is.targets, t)
}

// Apply pushes the current parameters to every target. A shaper that
// some target rejects is disabled everywhere and reported.
func (is *InputShaper) Apply() error {
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.apply()
}

func (is *InputShaper) apply() error {
	var failed []string
	var firstErr error
	for _, s := range is.shapers {
		A, T := s.GetShaper()
		for _, t := range is.targets {
			if err := t.SetShaperParams(s.Axis(), A, T); err != nil {
				s.DisableShaping()
				for _, t := range is.targets {
					_ = t.SetShaperParams(s.Axis(), nil, nil)
				}
				failed = append(failed, s.GetName())
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	if len(failed) > 0 {
		return errors.Wrap(firstErr, errors.ErrShaper,
			fmt.Sprintf("failed to configure shaper(s) %s with given parameters", strings.Join(failed, ", ")))
	}
	for _, s := range is.shapers {
		A, _ := s.GetShaper()
		is.logger.WithFields(log.Fields{
			"axis":   s.Axis().String(),
			"type":   string(s.Params.ShaperType),
			"freq":   s.Params.ShaperFreq,
			"pulses": len(A),
		}).Info("shaper configured")
	}
	return nil
}

// SetInputShaper handles SET_INPUT_SHAPER. Parameters are validated for
// both axes before any is applied.
func (is *InputShaper) SetInputShaper(cmd *gcode.Command) error {
	is.mu.Lock()
	defer is.mu.Unlock()

	type update struct {
		shaperType            *string
		dampingRatio, shaperF *float64
	}
	updates := make([]update, len(is.shapers))
	for i, s := range is.shapers {
		axis := strings.ToUpper(s.Axis().String())
		var u update
		if cmd.Has("SHAPER_TYPE") {
			v := cmd.Get("SHAPER_TYPE", "")
			u.shaperType = &v
		}
		if cmd.Has("SHAPER_TYPE_" + axis) {
			v := cmd.Get("SHAPER_TYPE_"+axis, "")
			u.shaperType = &v
		}
		for name, dst := range map[string]**float64{
			"DAMPING_RATIO_" + axis: &u.dampingRatio,
			"SHAPER_FREQ_" + axis:   &u.shaperF,
		} {
			v, ok, err := cmd.OptFloat(name)
			if err != nil {
				return err
			}
			if ok {
				*dst = &v
			}
		}
		// Validate on a copy so a bad value leaves both axes untouched
		trial := *s.Params
		if err := trial.Update(u.shaperType, u.dampingRatio, u.shaperF); err != nil {
			return err
		}
		updates[i] = u
	}
	for i, s := range is.shapers {
		u := updates[i]
		if err := s.Update(u.shaperType, u.dampingRatio, u.shaperF); err != nil {
			return err
		}
	}
	return is.apply()
}

// GetStatus returns status for all shapers.
func (is *InputShaper) GetStatus() map[string]interface{} {
	is.mu.Lock()
	defer is.mu.Unlock()
	result := make(map[string]interface{})
	for _, s := range is.shapers {
		for k, v := range s.GetStatus() {
			result[k+"_"+s.Axis().String()] = v
		}
	}
	return result
}

// Report formats the current settings as the command response.
func (is *InputShaper) Report() string {
	is.mu.Lock()
	defer is.mu.Unlock()
	var parts []string
	for _, s := range is.shapers {
		p := s.Params
		axis := p.Axis.String()
		parts = append(parts, fmt.Sprintf("shaper_type_%s:%s shaper_freq_%s:%.3f damping_ratio_%s:%.6f",
			axis, p.ShaperType, axis, p.ShaperFreq, axis, p.DampingRatio))
	}
	return strings.Join(parts, " ")
}
