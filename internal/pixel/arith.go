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

package pixel

import (
	"math"
)

// Add returns the elementwise sum of two equal-shaped grids
func Add(a, b *Grid) *Grid {
	res:=NewGrid(a.Width, a.Height, a.Depth)
	res.Bzero=a.Bzero
	for i,v:=range a.Data {
		res.Data[i]=v+b.Data[i]
	}
	return res
}

// Subtract computes a - b*factor per pixel. The subtraction is applied only
// where a > b*factor, or where a is already negative; elsewhere the result
// is forced to 0 rather than driving a non-negative pixel negative. A result
// below -halfRange for the depth gets a full range added back, undoing a
// presumed two's-complement wrap.
//
// This is a clamp-to-zero-or-unwrap heuristic, not a precise two's-complement
// subtraction. Calibration files produced by earlier releases depend on the
// exact behavior, so it is kept bit for bit.
func Subtract(a, b *Grid, factor int32) *Grid {
	halfRange:=a.Depth.HalfRange()
	fullRange:=a.Depth.FullRange()
	res:=NewGrid(a.Width, a.Height, a.Depth)
	res.Bzero=a.Bzero
	for i,v:=range a.Data {
		bf:=b.Data[i]*factor
		r:=int32(0)
		if v>bf || v<0 {
			r=v-bf
			if r< -halfRange {
				r+=fullRange
			}
		}
		res.Data[i]=r
	}
	return res
}

// Multiply scales each pixel by the given factor, dividing by 1/scalar with
// round-to-nearest so that Multiply(Multiply(g,k), 1/k) returns the original
// grid to within one count
func Multiply(a *Grid, scalar float64) *Grid {
	div:=1.0/scalar
	res:=NewGrid(a.Width, a.Height, a.Depth)
	res.Bzero=a.Bzero
	for i,v:=range a.Data {
		res.Data[i]=int32(math.Round(float64(v)/div))
	}
	return res
}

// Average returns the elementwise mean of the given equal-shaped grids,
// with round-to-nearest
func Average(grids []*Grid) *Grid {
	res:=NewGrid(grids[0].Width, grids[0].Height, grids[0].Depth)
	res.Bzero=grids[0].Bzero
	n:=float64(len(grids))
	for i:=range res.Data {
		sum:=int64(0)
		for _,g:=range grids {
			sum+=int64(g.Data[i])
		}
		res.Data[i]=int32(math.Round(float64(sum)/n))
	}
	return res
}

// Clamp limits v to [0, max] for stacking output
func Clamp(v, max int32) int32 {
	if v<0 { return 0 }
	if v>max { return max }
	return v
}
