// Input shaper definitions
//
// Copyright (C) 2020-2021  Dmitry Butyugin <dmbutyugin@google.com>
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package inputshaper

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"klipper-stepgen/pkg/errors"
)

const (
	ShaperVibrationReduction = 20.0
	DefaultDampingRatio      = 0.1
)

// ShaperType names an input shaper algorithm.
type ShaperType string

const (
	ShaperZV      ShaperType = "zv"
	ShaperMZV     ShaperType = "mzv"
	ShaperZVD     ShaperType = "zvd"
	ShaperEI      ShaperType = "ei"
	Shaper2HumpEI ShaperType = "2hump_ei"
	Shaper3HumpEI ShaperType = "3hump_ei"
)

// Definition describes one shaper algorithm. Pulses returns the
// unnormalised amplitudes and delays for a frequency and damping ratio.
type Definition struct {
	Type            ShaperType
	MaxDampingRatio float64
	Pulses          func(shaperFreq, dampingRatio float64) (A, T []float64)
}

var definitions = map[ShaperType]Definition{
	ShaperZV:      {ShaperZV, 0.99, zvPulses},
	ShaperMZV:     {ShaperMZV, 0.99, mzvPulses},
	ShaperZVD:     {ShaperZVD, 0.99, zvdPulses},
	ShaperEI:      {ShaperEI, 0.4, eiPulses},
	Shaper2HumpEI: {Shaper2HumpEI, 0.3, twoHumpEI.pulses},
	Shaper3HumpEI: {Shaper3HumpEI, 0.2, threeHumpEI.pulses},
}

// Lookup returns the definition of a shaper type (case-insensitive).
func Lookup(name string) (Definition, error) {
	d, ok := definitions[ShaperType(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Definition{}, errors.New(errors.ErrShaper,
			fmt.Sprintf("unsupported shaper type '%s' (supported: %s)", name, strings.Join(Types(), ", ")))
	}
	return d, nil
}

// Types lists the supported shaper types.
func Types() []string {
	names := make([]string, 0, len(definitions))
	for t := range definitions {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// dampedPeriod returns the damped oscillation period and the decay factor
// K = exp(-scale*zeta*pi/sqrt(1-zeta^2)).
func dampedPeriod(shaperFreq, dampingRatio, scale float64) (td, k float64) {
	df := math.Sqrt(1 - dampingRatio*dampingRatio)
	return 1 / (shaperFreq * df), math.Exp(-scale * dampingRatio * math.Pi / df)
}

func zvPulses(shaperFreq, dampingRatio float64) (A, T []float64) {
	td, k := dampedPeriod(shaperFreq, dampingRatio, 1)
	return []float64{1, k}, []float64{0, .5 * td}
}

func zvdPulses(shaperFreq, dampingRatio float64) (A, T []float64) {
	td, k := dampedPeriod(shaperFreq, dampingRatio, 1)
	return []float64{1, 2 * k, k * k}, []float64{0, .5 * td, td}
}

func mzvPulses(shaperFreq, dampingRatio float64) (A, T []float64) {
	td, k := dampedPeriod(shaperFreq, dampingRatio, .75)
	a1 := 1 - 1/math.Sqrt2
	return []float64{a1, (math.Sqrt2 - 1) * k, a1 * k * k},
		[]float64{0, .375 * td, .75 * td}
}

func eiPulses(shaperFreq, dampingRatio float64) (A, T []float64) {
	vtol := 1 / ShaperVibrationReduction
	td, _ := dampedPeriod(shaperFreq, dampingRatio, 1)
	dr := dampingRatio

	a1 := (0.24968 + 0.24961*vtol) + ((0.80008+1.23328*vtol)+
		(0.49599+3.17316*vtol)*dr)*dr
	a3 := (0.25149 + 0.21474*vtol) + ((-0.83249+1.41498*vtol)+
		(0.85181-4.90094*vtol)*dr)*dr
	t2 := 0.4999 + (((0.46159+8.57843*vtol)*vtol)+
		(((4.26169-108.644*vtol)*vtol)+
			((1.75601+336.989*vtol)*vtol)*dr)*dr)*dr

	return []float64{a1, 1 - a1 - a3, a3}, []float64{0, t2 * td, td}
}

// expansion holds per-pulse polynomials in the damping ratio for the
// delay (in periods) and the amplitude.
type expansion struct {
	t, a [][4]float64
}

func (e expansion) pulses(shaperFreq, dampingRatio float64) (A, T []float64) {
	tau := 1 / shaperFreq
	A = make([]float64, len(e.a))
	T = make([]float64, len(e.t))
	for i := range e.a {
		var u, v float64
		for j := 3; j >= 0; j-- {
			u = u*dampingRatio + e.t[i][j]
			v = v*dampingRatio + e.a[i][j]
		}
		T[i], A[i] = u*tau, v
	}
	return A, T
}

var twoHumpEI = expansion{
	t: [][4]float64{
		{0, 0, 0, 0},
		{0.49890, 0.16270, -0.54262, 6.16180},
		{0.99748, 0.18382, -1.58270, 8.17120},
		{1.49920, -0.09297, -0.28338, 1.85710},
	},
	a: [][4]float64{
		{0.16054, 0.76699, 2.26560, -1.22750},
		{0.33911, 0.45081, -2.58080, 1.73650},
		{0.34089, -0.61533, -0.68765, 0.42261},
		{0.15997, -0.60246, 1.00280, -0.93145},
	},
}

var threeHumpEI = expansion{
	t: [][4]float64{
		{0, 0, 0, 0},
		{0.49974, 0.23834, 0.44559, 12.4720},
		{0.99849, 0.29808, -2.36460, 23.3990},
		{1.49870, 0.10306, -2.01390, 17.0320},
		{1.99960, -0.28231, 0.61536, 5.40450},
	},
	a: [][4]float64{
		{0.11275, 0.76632, 3.29160, -1.44380},
		{0.23698, 0.61164, -2.57850, 4.85220},
		{0.30008, -0.19062, -2.14560, 0.13744},
		{0.23775, -0.73297, 0.46885, -2.08650},
		{0.11244, -0.45439, 0.96382, -1.46000},
	},
}
