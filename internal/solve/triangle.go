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

package solve

import (
	"math"
)

// triangle is a canonically ordered triple of 2-D points: A-B is the longest
// side, and A is the vertex closer to C. Side returns the normalized side
// ratios against the longest side.
type triangle struct {
	ax, ay, bx, by, cx, cy float64
	longest                float64 // |A-B|
	r2, r3                 float64 // |A-C|/longest, |B-C|/longest with r2>=r3
	orientation            float64 // angle of B-A, degrees
	ia, ib, ic             int     // vertex indices in the caller's point list
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx, dy:=x2-x1, y2-y1
	return math.Sqrt(dx*dx+dy*dy)
}

// newTriangle builds the canonical triangle over three indexed points
func newTriangle(xs, ys []float64, i, j, k int) triangle {
	dij:=dist(xs[i], ys[i], xs[j], ys[j])
	djk:=dist(xs[j], ys[j], xs[k], ys[k])
	dik:=dist(xs[i], ys[i], xs[k], ys[k])

	// pick A,B as the endpoints of the longest side, C the remaining vertex
	var a, b, c int
	switch {
	case dij>=djk && dij>=dik:
		a, b, c=i, j, k
	case djk>=dij && djk>=dik:
		a, b, c=j, k, i
	default:
		a, b, c=i, k, j
	}
	// A is the endpoint closer to C
	if dist(xs[a], ys[a], xs[c], ys[c])>dist(xs[b], ys[b], xs[c], ys[c]) {
		a, b=b, a
	}

	t:=triangle{
		ax: xs[a], ay: ys[a], bx: xs[b], by: ys[b], cx: xs[c], cy: ys[c],
		ia: a, ib: b, ic: c,
	}
	t.longest=dist(t.ax, t.ay, t.bx, t.by)
	if t.longest>0 {
		t.r2=dist(t.ax, t.ay, t.cx, t.cy)/t.longest
		t.r3=dist(t.bx, t.by, t.cx, t.cy)/t.longest
	}
	t.orientation=math.Atan2(t.by-t.ay, t.bx-t.ax)*180/math.Pi
	return t
}

// angleDiff returns the wrapped difference a-b in (-180, 180]
func angleDiff(a, b float64) float64 {
	d:=math.Mod(a-b, 360)
	if d> 180 { d-=360 }
	if d<=-180 { d+=360 }
	return d
}

// matchState carries the running consistency statistics across accepted
// triangles: the mean orientation offset and mean scale ratio between
// source and catalog geometry
type matchState struct {
	count      int
	sumOffset  float64
	sumScale   float64
}

func (m *matchState) meanOffset() float64 { return m.sumOffset/float64(m.count) }
func (m *matchState) meanScale() float64  { return m.sumScale/float64(m.count) }

func (m *matchState) accept(offset, scale float64) {
	m.count++
	m.sumOffset+=offset
	m.sumScale+=scale
}

func (m *matchState) retract(offset, scale float64) {
	m.count--
	m.sumOffset-=offset
	m.sumScale-=scale
}

// matches reports whether the catalog triangle cat is consistent with the
// source triangle src: side ratios within tolNorm, orientation offset
// within 90 degrees and, once triangles were accepted, within 5 degrees of
// the running mean offset; scale ratio within 20% of the running mean.
// Returns the offset and scale for state bookkeeping on acceptance.
func (m *matchState) matches(src, cat triangle, tolNorm float64) (offset, scale float64, ok bool) {
	if src.longest==0 || cat.longest==0 { return 0, 0, false }
	if math.Abs(src.r2-cat.r2)>tolNorm || math.Abs(src.r3-cat.r3)>tolNorm {
		return 0, 0, false
	}
	offset=angleDiff(cat.orientation, src.orientation)
	if math.Abs(offset)>90 { return 0, 0, false }
	if m.count>0 && math.Abs(angleDiff(offset, m.meanOffset()))>5 {
		return 0, 0, false
	}
	scale=cat.longest/src.longest
	if scale>maxScaleRatio || scale<1/maxScaleRatio { return 0, 0, false }
	if m.count>0 {
		if r:=scale/m.meanScale(); r<0.8 || r>1.2 { return 0, 0, false }
	}
	return offset, scale, true
}

// maxScaleRatio bounds the absolute scale mismatch between a source and a
// catalog triangle before any running mean is established
const maxScaleRatio = 2.5
