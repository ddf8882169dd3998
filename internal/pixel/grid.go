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

// Bit depth of a pixel grid. 8-bit planes hold processed RGB data,
// 16-bit planes hold raw sensor data.
type Depth int

const (
	Depth8  Depth = 8
	Depth16 Depth = 16
)

// HalfRange returns half the representable range for the depth
func (d Depth) HalfRange() int32 {
	if d==Depth8 { return 128 }
	return 32768
}

// FullRange returns the full representable range for the depth
func (d Depth) FullRange() int32 {
	if d==Depth8 { return 256 }
	return 65536
}

// MaxValue returns the stacking clamp limit for the depth
func (d Depth) MaxValue() int32 {
	if d==Depth8 { return 255 }
	return 32767
}

// A single plane of integer pixel intensities, row major. Stored widened to
// int32 with an explicit depth tag, instead of interchangeable byte/short
// planes behind a dynamic cast. Bzero is the zero offset used to represent
// signed data in an unsigned range on disk.
type Grid struct {
	Width  int32
	Height int32
	Depth  Depth
	Bzero  int32
	Data   []int32
}

// Creates a grid of the given dimensions with zeroed data
func NewGrid(width, height int32, depth Depth) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Depth:  depth,
		Data:   make([]int32, width*height),
	}
}

// Creates a deep copy of the grid
func (g *Grid) Clone() *Grid {
	c:=NewGrid(g.Width, g.Height, g.Depth)
	c.Bzero=g.Bzero
	copy(c.Data, g.Data)
	return c
}

// At returns the pixel value at (x,y). Bounds are the caller's responsibility
func (g *Grid) At(x, y int32) int32 {
	return g.Data[y*g.Width+x]
}

// Set stores the pixel value at (x,y). Bounds are the caller's responsibility
func (g *Grid) Set(x, y, v int32) {
	g.Data[y*g.Width+x]=v
}

// Inside reports whether (x,y) lies within the grid
func (g *Grid) Inside(x, y int32) bool {
	return x>=0 && x<g.Width && y>=0 && y<g.Height
}

// Sum returns the total flux of the plane, for flat scaling
func (g *Grid) Sum() int64 {
	sum:=int64(0)
	for _,v:=range g.Data { sum+=int64(v) }
	return sum
}

// SameShape reports whether two grids have identical dimensions and depth
func SameShape(a, b *Grid) bool {
	return a.Width==b.Width && a.Height==b.Height && a.Depth==b.Depth
}
