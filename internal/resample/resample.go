// Copyright (C) 2026 The obsmgr authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package resample samples pixel grids at fractional coordinates during
// registration. Nearest neighbor returns the stored value; the polynomial
// kernels fit a local Lagrange window and evaluate it at the fractional
// position.
package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/astrolith/obsmgr/internal/pixel"
)

// ErrOutOfImage signals a sample position whose kernel window falls outside
// the valid image bounds. Callers substitute NoData for the sample.
var ErrOutOfImage = errors.New("sample position out of image")

// NoData is the sentinel callers record for samples outside the source
// image. Files written by earlier releases use the same value.
const NoData = -9999

// Interpolation selects the resampling kernel
type Interpolation int

const (
	NearestNeighbor Interpolation = iota
	Bilinear
	Bicubic
)

// interpDeg is the base polynomial degree parameter. The label-to-degree
// mapping is inverted relative to common usage: the bilinear label fits
// degree interpDeg-1, the bicubic label degree interpDeg-2. Stacks produced
// by earlier releases depend on this mapping, so it stays.
const interpDeg = 3

var interpolationNames = map[Interpolation]string{
	NearestNeighbor: "nearestNeighbor",
	Bilinear:        "bilinear",
	Bicubic:         "bicubic",
}

func (i Interpolation) String() string { return interpolationNames[i] }

// ParseInterpolation maps a config or header value to an Interpolation
func ParseInterpolation(s string) (Interpolation, error) {
	for i,name:=range interpolationNames {
		if name==s { return i, nil }
	}
	return 0, fmt.Errorf("unknown interpolation method %q", s)
}

// degree returns the polynomial degree for the kernel, 0 for nearest neighbor
func (i Interpolation) degree() int {
	switch i {
	case Bilinear: return interpDeg-1
	case Bicubic:  return interpDeg-2
	}
	return 0
}

// Sample interpolates the grid at the fractional position (x, y).
// Returns ErrOutOfImage if the kernel window is not fully inside the grid.
func Sample(g *pixel.Grid, x, y float64, method Interpolation) (float64, error) {
	if method==NearestNeighbor {
		xi, yi:=int32(math.Round(x)), int32(math.Round(y))
		if !g.Inside(xi, yi) { return 0, ErrOutOfImage }
		return float64(g.At(xi, yi)), nil
	}

	deg:=method.degree()
	n:=deg+1
	x0:=int(math.Floor(x))-deg/2
	y0:=int(math.Floor(y))-deg/2
	if x0<0 || y0<0 || x0+n>int(g.Width) || y0+n>int(g.Height) {
		return 0, ErrOutOfImage
	}

	// Lagrange interpolation, separable: along x for each window row,
	// then along y over the row results
	rows:=make([]float64, n)
	col:=make([]float64, n)
	for j:=0; j<n; j++ {
		for i:=0; i<n; i++ {
			col[i]=float64(g.At(int32(x0+i), int32(y0+j)))
		}
		rows[j]=lagrange(col, float64(x0), x)
	}
	return lagrange(rows, float64(y0), y), nil
}

// lagrange evaluates the Lagrange polynomial through the points
// (start, ys[0]), (start+1, ys[1]), ... at position t
func lagrange(ys []float64, start, t float64) float64 {
	sum:=float64(0)
	for i,yi:=range ys {
		xi:=start+float64(i)
		weight:=float64(1)
		for j:=range ys {
			if j==i { continue }
			xj:=start+float64(j)
			weight*=(t-xj)/(xi-xj)
		}
		sum+=yi*weight
	}
	return sum
}

// Distance returns the resampling distance from the fractional position to
// the nearest integer pixel, used as a quality weight when averaging
func Distance(x, y float64) float64 {
	dx:=x-math.Round(x)
	dy:=y-math.Round(y)
	return math.Sqrt(dx*dx+dy*dy)
}
