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

package extract

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"

	"github.com/astrolith/obsmgr/internal/pixel"
	"github.com/astrolith/obsmgr/internal/stats"
)

// Native is the built-in source extractor: robust background estimate from
// a random pixel sample, thresholding at sigma robust standard deviations
// above background, local-maximum seeds grown into connected blobs, and a
// flux-weighted centroid per blob.
type Native struct {
	MaxSources int // cap on reported sources, brightest first; 0 means 100
	growRadius int32
}

const backgroundSamples = 8192

func (n *Native) Extract(g *pixel.Grid, minArea int, sigma float32) (string, error) {
	if minArea<1 { minArea=1 }
	if sigma<=0 { return "", fmt.Errorf("invalid detection sigma %g", sigma) }
	maxSources:=n.MaxSources
	if maxSources<=0 { maxSources=100 }
	growRadius:=n.growRadius
	if growRadius<=0 { growRadius=16 }

	background, noise:=estimateBackground(g)
	if noise==0 { noise=1 }
	threshold:=background+float32(sigma)*noise

	visited:=make([]bool, len(g.Data))
	var srcs []Source
	for y:=int32(1); y<g.Height-1; y++ {
		for x:=int32(1); x<g.Width-1; x++ {
			i:=y*g.Width+x
			if visited[i] { continue }
			v:=float32(g.Data[i])
			if v<threshold || !localMax(g, x, y) { continue }
			src, area:=growBlob(g, x, y, threshold, background, growRadius, visited)
			if area<minArea { continue }
			srcs=append(srcs, src)
		}
	}

	ByFluxDesc(srcs)
	if len(srcs)>maxSources { srcs=srcs[:maxSources] }
	return RenderReport(srcs), nil
}

// estimateBackground samples random pixels and returns the robust location
// and scale of the sky level
func estimateBackground(g *pixel.Grid) (background, noise float32) {
	count:=backgroundSamples
	if count>len(g.Data) { count=len(g.Data) }
	samples:=make([]float32, count)
	if count==len(g.Data) {
		for i,v:=range g.Data { samples[i]=float32(v) }
	} else {
		rng:=fastrand.RNG{}
		rng.Seed(uint32(len(g.Data)))
		for i:=range samples {
			samples[i]=float32(g.Data[rng.Uint32n(uint32(len(g.Data)))])
		}
	}
	return stats.MedianMAD(samples)
}

// localMax reports whether (x,y) is the brightest pixel of its 3x3
// neighborhood, ties resolved towards the top-left occurrence
func localMax(g *pixel.Grid, x, y int32) bool {
	v:=g.At(x, y)
	for dy:=int32(-1); dy<=1; dy++ {
		for dx:=int32(-1); dx<=1; dx++ {
			if dx==0 && dy==0 { continue }
			w:=g.At(x+dx, y+dy)
			if w>v { return false }
			if w==v && (dy<0 || (dy==0 && dx<0)) { return false }
		}
	}
	return true
}

// growBlob walks the above-threshold pixels connected to the seed within
// growRadius, marking them visited, and returns the flux-weighted centroid,
// total background-subtracted flux and roundness classifier
func growBlob(g *pixel.Grid, seedX, seedY int32, threshold, background float32, growRadius int32, visited []bool) (Source, int) {
	type point struct{ x, y int32 }
	queue:=[]point{{seedX, seedY}}
	visited[seedY*g.Width+seedX]=true

	area:=0
	flux, sumX, sumY:=float64(0), float64(0), float64(0)
	peak:=float64(0)

	for len(queue)>0 {
		p:=queue[0]
		queue=queue[1:]
		w:=float64(float32(g.At(p.x, p.y))-background)
		if w<=0 { w=0 }
		area++
		flux+=w
		sumX+=w*float64(p.x)
		sumY+=w*float64(p.y)
		if w>peak { peak=w }

		for _,d:=range []point{{1,0},{-1,0},{0,1},{0,-1}} {
			nx, ny:=p.x+d.x, p.y+d.y
			if !g.Inside(nx, ny) { continue }
			if nx<seedX-growRadius || nx>seedX+growRadius || ny<seedY-growRadius || ny>seedY+growRadius { continue }
			i:=ny*g.Width+nx
			if visited[i] { continue }
			if float32(g.Data[i])<threshold { continue }
			visited[i]=true
			queue=append(queue, point{nx, ny})
		}
	}
	if flux==0 {
		return Source{X: float64(seedX), Y: float64(seedY)}, area
	}

	cx, cy:=sumX/flux, sumY/flux
	// roundness approximated from the concentration of flux in the peak
	// relative to the blob size
	concentration:=peak*float64(area)/flux
	class:=1.0/(1.0+math.Abs(math.Log(concentration)))
	return Source{X: cx, Y: cy, Flux: flux, Class: class}, area
}
