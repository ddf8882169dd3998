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

// Bayer subplane indices for an RGGB color filter array
const (
	BayerR  = 0
	BayerG1 = 1
	BayerG2 = 2
	BayerB  = 3
	NumBayerPlanes = 4
)

// SplitBayer extracts the four interleaved RGGB subplanes from a raw sensor
// grid via stride-2 sampling. Each result is an independent half-resolution
// plane. Odd trailing rows and columns are dropped.
func SplitBayer(g *Grid) [NumBayerPlanes]*Grid {
	w, h:=g.Width&^1, g.Height&^1
	var planes [NumBayerPlanes]*Grid
	offX:=[NumBayerPlanes]int32{0, 1, 0, 1}
	offY:=[NumBayerPlanes]int32{0, 0, 1, 1}
	for p:=0; p<NumBayerPlanes; p++ {
		plane:=NewGrid(w>>1, h>>1, g.Depth)
		plane.Bzero=g.Bzero
		for y:=int32(0); y<h; y+=2 {
			for x:=int32(0); x<w; x+=2 {
				plane.Set(x>>1, y>>1, g.At(x+offX[p], y+offY[p]))
			}
		}
		planes[p]=plane
	}
	return planes
}

// MergeBayer reassembles four RGGB subplanes into one raw grid, the inverse
// of SplitBayer
func MergeBayer(planes [NumBayerPlanes]*Grid) *Grid {
	w, h:=planes[0].Width<<1, planes[0].Height<<1
	g:=NewGrid(w, h, planes[0].Depth)
	g.Bzero=planes[0].Bzero
	offX:=[NumBayerPlanes]int32{0, 1, 0, 1}
	offY:=[NumBayerPlanes]int32{0, 0, 1, 1}
	for p:=0; p<NumBayerPlanes; p++ {
		plane:=planes[p]
		for y:=int32(0); y<plane.Height; y++ {
			for x:=int32(0); x<plane.Width; x++ {
				g.Set(x<<1+offX[p], y<<1+offY[p], plane.At(x, y))
			}
		}
	}
	return g
}
