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
	"math"
	"testing"
)

func almostEqual(a, b, eps float32) bool {
	d:=a-b
	if d<0 { d=-d }
	return d<=eps
}

func TestCalcBasic(t *testing.T) {
	s:=CalcBasic([]float32{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Min!=2 { t.Errorf("min: got %g expected 2", s.Min) }
	if s.Max!=9 { t.Errorf("max: got %g expected 9", s.Max) }
	if s.Mean!=5 { t.Errorf("mean: got %g expected 5", s.Mean) }
	if !almostEqual(s.StdDev, 2, 1e-6) { t.Errorf("stddev: got %g expected 2", s.StdDev) }
	if s.Sum!=40 { t.Errorf("sum: got %g expected 40", s.Sum) }
}

func TestMedianMAD(t *testing.T) {
	median, mad:=MedianMAD([]float32{1, 1, 2, 2, 4, 6, 9})
	if median!=2 { t.Errorf("median: got %g expected 2", median) }
	if !almostEqual(mad, 1*1.4826, 1e-4) { t.Errorf("mad: got %g expected %g", mad, 1.4826) }
}

func TestLinearRegression(t *testing.T) {
	xs:=[]float32{1, 2, 3, 4, 5}
	ys:=make([]float32, len(xs))
	for i,x:=range xs { ys[i]=3*x+7 }
	slope, intercept, _, _, _, _:=LinearRegression(xs, ys)
	if !almostEqual(slope, 3, 1e-4) { t.Errorf("slope: got %g expected 3", slope) }
	if !almostEqual(intercept, 7, 1e-3) { t.Errorf("intercept: got %g expected 7", intercept) }
}

func TestLinearRegressionFixedSlope(t *testing.T) {
	xs:=[]float32{1, 2, 3, 4}
	ys:=[]float32{2.5, 3.5, 4.5, 5.5}
	intercept:=LinearRegressionFixedSlope(xs, ys, 1)
	if !almostEqual(intercept, 1.5, 1e-5) { t.Errorf("intercept: got %g expected 1.5", intercept) }

	// noisy samples still average out to the true intercept
	ysn:=[]float32{2.4, 3.6, 4.4, 5.6}
	intercept=LinearRegressionFixedSlope(xsCopy(xs), ysn, 1)
	if !almostEqual(intercept, 1.5, 1e-5) { t.Errorf("noisy intercept: got %g expected 1.5", intercept) }
}

func xsCopy(xs []float32) []float32 {
	c:=make([]float32, len(xs))
	copy(c, xs)
	return c
}

func TestMeanStdDev(t *testing.T) {
	mean, stdDev:=MeanStdDev([]float32{10, 10, 10, 10})
	if mean!=10 || stdDev!=0 { t.Errorf("got mean %g stddev %g", mean, stdDev) }

	mean, stdDev=MeanStdDev([]float32{1, 3})
	if mean!=2 { t.Errorf("mean: got %g expected 2", mean) }
	if math.Abs(float64(stdDev)-1)>1e-6 { t.Errorf("stddev: got %g expected 1", stdDev) }
}
