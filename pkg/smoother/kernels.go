// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package smoother

import (
	"fmt"
	"sort"
	"strings"

	"klipper-stepgen/pkg/errors"
)

// Built-in kernels, coefficients of |u|^j with u = s/smoothTime.
var kernels = map[string][]float64{
	"box":          {1},
	"triangular":   {2, -4},
	"epanechnikov": {1.5, 0, -6},
	"biweight":     {15. / 8., 0, -15, 0, 30},
}

// Coefficients returns a copy of the named built-in kernel.
func Coefficients(name string) ([]float64, error) {
	c, ok := kernels[strings.ToLower(name)]
	if !ok {
		return nil, errors.SmootherError(fmt.Sprintf("unknown smoother type '%s'", name)).
			SetOption("smoother_type")
	}
	return append([]float64(nil), c...), nil
}

// Names lists the built-in kernels.
func Names() []string {
	names := make([]string, 0, len(kernels))
	for n := range kernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewNamed builds a smoother from a built-in kernel.
func NewNamed(name string, smoothTime, timeOffset float64) (*Smoother, error) {
	c, err := Coefficients(name)
	if err != nil {
		return nil, err
	}
	return New(c, smoothTime, timeOffset)
}
