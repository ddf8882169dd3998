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

package stats

import (
	"fmt"
	"math"

	"github.com/astrolith/obsmgr/internal/qsort"
)

// Basic statistics for a pixel plane or a gathered sample
type Basic struct {
	Min    float32
	Mean   float32
	Max    float32
	StdDev float32
	Sum    float64
}

func (s *Basic) String() string {
	return fmt.Sprintf("Min %.6g mean %.6g max %.6g stddev %.4g", s.Min, s.Mean, s.Max, s.StdDev)
}

// Calculates min, mean, max, standard deviation and sum in a single pass
func CalcBasic(data []float32) (s *Basic) {
	s=&Basic{Min: float32(math.MaxFloat32), Max: float32(-math.MaxFloat32)}
	if len(data)==0 { s.Min, s.Max=0, 0; return s }
	for _,d:=range data {
		if d<s.Min { s.Min=d }
		if d>s.Max { s.Max=d }
		s.Sum+=float64(d)
	}
	s.Mean=float32(s.Sum/float64(len(data)))
	variance:=float64(0)
	for _,d:=range data {
		diff:=float64(d-s.Mean)
		variance+=diff*diff
	}
	s.StdDev=float32(math.Sqrt(variance/float64(len(data))))
	return s
}

// Returns the mean and standard deviation of the given data
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	sum:=float32(0)
	for _,x:=range xs { sum+=x }
	mean=sum/float32(len(xs))

	variance:=float32(0)
	for _,x:=range xs {
		diff:=x-mean
		variance+=diff*diff
	}
	return mean, float32(math.Sqrt(float64(variance/float32(len(xs)))))
}

// Returns the median and the median absolute deviation, normalized to the
// Gaussian standard deviation equivalent. Partially reorders the data.
func MedianMAD(xs []float32) (median, mad float32) {
	median=qsort.QSelectMedianFloat32(xs)
	ads:=make([]float32, len(xs))
	for i,x:=range xs {
		ad:=x-median
		if ad<0 { ad=-ad }
		ads[i]=ad
	}
	return median, qsort.QSelectMedianFloat32(ads)*1.4826
}

// Simple linear regression y = slope*x + intercept over the given samples
func LinearRegression(xs, ys []float32) (slope, intercept, xmean, xstddev, ymean, ystddev float32) {
	xmean, xstddev=MeanStdDev(xs)
	ymean, ystddev=MeanStdDev(ys)

	covar:=float32(0)
	for i,x:=range xs {
		covar+=(x-xmean)*(ys[i]-ymean)
	}
	covar/=float32(len(xs))

	slope=covar/(xstddev*xstddev)
	intercept=ymean-slope*xmean
	return slope, intercept, xmean, xstddev, ymean, ystddev
}

// Linear regression with a fixed slope: fits only the intercept
func LinearRegressionFixedSlope(xs, ys []float32, slope float32) (intercept float32) {
	sum:=float32(0)
	for i,x:=range xs {
		sum+=ys[i]-slope*x
	}
	return sum/float32(len(xs))
}
