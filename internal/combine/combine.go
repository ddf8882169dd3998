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

// Package combine reduces N same-signature frames to one master frame with
// a selectable per-pixel statistic. Used for master darks and flats, and
// reused by the registration engine for its per-pixel sample reduction.
package combine

import (
	"fmt"
	"math"

	"github.com/astrolith/obsmgr/internal/pixel"
	"github.com/astrolith/obsmgr/internal/qsort"
	"github.com/astrolith/obsmgr/internal/stats"
)

// Method selects the per-pixel combination statistic
type Method int

const (
	Median Method = iota
	MeanAverage
	Maximum
	KappaSigma
)

// DefaultKappa is the clipping width for KappaSigma when none is configured
const DefaultKappa = 3.0

var methodNames = map[Method]string{
	Median:      "median",
	MeanAverage: "meanAverage",
	Maximum:     "maximum",
	KappaSigma:  "kappaSigma",
}

func (m Method) String() string { return methodNames[m] }

// ParseMethod maps a config or header value to a Method
func ParseMethod(s string) (Method, error) {
	for m,name:=range methodNames {
		if name==s { return m, nil }
	}
	return 0, fmt.Errorf("unknown combination method %q", s)
}

// Samples reduces one pixel's gathered samples with the given statistic.
// Partially reorders the slice for Median and KappaSigma.
func Samples(values []float32, method Method, kappa float32) float32 {
	switch method {
	case Median:
		return qsort.QSelectMedianFloat32(values)
	case MeanAverage:
		sum:=float32(0)
		for _,v:=range values { sum+=v }
		return sum/float32(len(values))
	case Maximum:
		max:=values[0]
		for _,v:=range values[1:] {
			if v>max { max=v }
		}
		return max
	case KappaSigma:
		return kappaSigmaClip(values, kappa)
	}
	return 0
}

// kappaSigmaClip iteratively drops samples further than kappa robust
// standard deviations from the median, then averages the survivors. The
// median/MAD location estimate keeps a single hot frame among few samples
// clippable, which a mean/stddev estimate cannot do.
func kappaSigmaClip(values []float32, kappa float32) float32 {
	if kappa<=0 { kappa=DefaultKappa }
	kept:=values
	for len(kept)>1 {
		median, sigma:=stats.MedianMAD(kept)
		if sigma==0 {
			// over half the samples sit exactly on the median
			return median
		}
		next:=kept[:0]
		for _,v:=range kept {
			d:=v-median
			if d<0 { d=-d }
			if d<=kappa*sigma { next=append(next, v) }
		}
		if len(next)==len(kept) {
			mean,_:=stats.MeanStdDev(next)
			return mean
		}
		kept=next
	}
	return kept[0]
}

// FlatScales returns the per-frame scale factors used when combining flats
// with varying total flux: each frame is scaled by the ratio of the mean
// frame sum to its own sum, so all frames contribute at equal weight
func FlatScales(planes []*pixel.Grid) []float32 {
	sums:=make([]float64, len(planes))
	total:=float64(0)
	for i,g:=range planes {
		sums[i]=float64(g.Sum())
		total+=sums[i]
	}
	mean:=total/float64(len(planes))
	scales:=make([]float32, len(planes))
	for i,s:=range sums {
		if s==0 { scales[i]=1; continue }
		scales[i]=float32(mean/s)
	}
	return scales
}

// Planes combines the matching plane of every input frame into one master
// plane. scales holds an optional per-frame multiplier (flat scaling), nil
// for none. The result is rounded to nearest and clamped to the bit depth.
func Planes(planes []*pixel.Grid, method Method, kappa float32, scales []float32) (*pixel.Grid, error) {
	if len(planes)==0 { return nil, fmt.Errorf("no planes to combine") }
	first:=planes[0]
	for _,g:=range planes[1:] {
		if !pixel.SameShape(first, g) {
			return nil, fmt.Errorf("mismatched plane shapes %dx%d vs %dx%d", first.Width, first.Height, g.Width, g.Height)
		}
	}
	if scales!=nil && len(scales)!=len(planes) {
		return nil, fmt.Errorf("got %d scale factors for %d planes", len(scales), len(planes))
	}

	out:=pixel.NewGrid(first.Width, first.Height, first.Depth)
	out.Bzero=first.Bzero
	max:=first.Depth.MaxValue()

	values:=make([]float32, len(planes))
	for i:=range out.Data {
		for p,g:=range planes {
			v:=float32(g.Data[i])
			if scales!=nil { v*=scales[p] }
			values[p]=v
		}
		c:=int32(math.Round(float64(Samples(values, method, kappa))))
		out.Data[i]=pixel.Clamp(c, max)
	}
	return out, nil
}

// DarkFactor returns the scale applied to the master dark when subtracting
// it from a combined frame: N when the combination summed n frames before
// the statistic, 1 otherwise
func DarkFactor(summed bool, n int32) int32 {
	if summed && n>1 { return n }
	return 1
}
