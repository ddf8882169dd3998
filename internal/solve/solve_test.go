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
	"context"
	"io"
	"math"
	"testing"

	"github.com/astrolith/obsmgr/internal/catalog"
	"github.com/astrolith/obsmgr/internal/extract"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pixel"
	"github.com/astrolith/obsmgr/internal/wcs"
)

func TestTriangleCanonicalOrder(t *testing.T) {
	xs:=[]float64{0, 100, 30}
	ys:=[]float64{0, 0, 60}
	tri:=newTriangle(xs, ys, 0, 1, 2)
	if tri.longest!=100 { t.Errorf("longest: got %g expected 100", tri.longest) }
	if tri.r2<tri.r3 { t.Errorf("r2 %g < r3 %g", tri.r2, tri.r3) }
	// same triangle with permuted indices must canonicalize identically
	tri2:=newTriangle(xs, ys, 2, 0, 1)
	if tri.r2!=tri2.r2 || tri.r3!=tri2.r3 || tri.orientation!=tri2.orientation {
		t.Errorf("permutation changed canonical form: %+v vs %+v", tri, tri2)
	}
}

// Scaled copies within 2.5x must match, 3.0x must not
func TestMatchScaleTolerance(t *testing.T) {
	xs:=[]float64{0, 100, 30}
	ys:=[]float64{0, 0, 60}
	src:=newTriangle(xs, ys, 0, 1, 2)
	tolNorm:=3.0/src.longest

	for _,k:=range []float64{1.0, 1.7, 2.5} {
		cxs:=[]float64{0, 100*k, 30*k}
		cys:=[]float64{0, 0, 60*k}
		cat:=newTriangle(cxs, cys, 0, 1, 2)
		state:=matchState{}
		if _,_,ok:=state.matches(src, cat, tolNorm); !ok {
			t.Errorf("scale %gx: expected accept", k)
		}
	}

	cxs:=[]float64{0, 300, 90}
	cys:=[]float64{0, 0, 180}
	cat:=newTriangle(cxs, cys, 0, 1, 2)
	state:=matchState{}
	if _,_,ok:=state.matches(src, cat, tolNorm); ok {
		t.Errorf("scale 3.0x: expected reject")
	}
}

func TestMatchOrientationTolerance(t *testing.T) {
	xs:=[]float64{0, 100, 30}
	ys:=[]float64{0, 0, 60}
	src:=newTriangle(xs, ys, 0, 1, 2)
	tolNorm:=3.0/src.longest

	rot:=func(deg float64) ([]float64, []float64) {
		rad:=deg*math.Pi/180
		cxs:=make([]float64, 3)
		cys:=make([]float64, 3)
		for i:=range xs {
			cxs[i]=xs[i]*math.Cos(rad)-ys[i]*math.Sin(rad)
			cys[i]=xs[i]*math.Sin(rad)+ys[i]*math.Cos(rad)
		}
		return cxs, cys
	}

	cxs, cys:=rot(45)
	state:=matchState{}
	if _,_,ok:=state.matches(src, newTriangle(cxs, cys, 0, 1, 2), tolNorm); !ok {
		t.Errorf("45 degrees: expected accept")
	}

	cxs, cys=rot(120)
	if _,_,ok:=state.matches(src, newTriangle(cxs, cys, 0, 1, 2), tolNorm); ok {
		t.Errorf("120 degrees: expected reject")
	}

	// a prior accepted triangle pins the running mean offset
	state=matchState{}
	state.accept(10, 1)
	cxs, cys=rot(10)
	if _,_,ok:=state.matches(src, newTriangle(cxs, cys, 0, 1, 2), tolNorm); !ok {
		t.Errorf("10 degrees near mean offset 10: expected accept")
	}
	cxs, cys=rot(30)
	if _,_,ok:=state.matches(src, newTriangle(cxs, cys, 0, 1, 2), tolNorm); ok {
		t.Errorf("30 degrees against mean offset 10: expected reject")
	}
}

// truthPlate is the plate solution the synthetic fields below are built on
func truthPlate() *wcs.Plate {
	p:=&wcs.Plate{}
	s:=2.5/3600
	p.A, p.E=-s, s
	p.RefX, p.RefY=256, 256
	p.RefRA, p.RefDec=120, 45
	p.Derive()
	return p
}

func syntheticPairs(px, py []float64) []pair {
	p:=truthPlate()
	pairs:=make([]pair, len(px))
	for i:=range px {
		ra, dec:=p.PixelToSky(px[i], py[i])
		xi, eta, _:=wcs.Project(ra, dec, p.RefRA, p.RefDec)
		pairs[i]=pair{
			srcIdx: i, star: catalog.Star{ID: int32(i), RA: ra, Dec: dec, Magnitude: 10},
			x: px[i], y: py[i],
			xi: xi*180/math.Pi, eta: eta*180/math.Pi,
		}
	}
	return pairs
}

// One gross RA outlier among 5 pairs must be dropped, and only it
func TestPlateFitOutlierRejection(t *testing.T) {
	pairs:=syntheticPairs(
		[]float64{100, 400, 100, 400, 250},
		[]float64{100, 100, 400, 400, 250},
	)
	pairs[2].xi+=0.05 // gross RA offset

	coef, kept, err:=fitPlateRobust(pairs, 256, 256)
	if err!=nil { t.Fatalf("fit: %s", err) }
	if len(kept)!=4 { t.Fatalf("kept %d pairs expected 4", len(kept)) }
	for _,p:=range kept {
		if p.srcIdx==2 { t.Errorf("outlier pair survived the fit") }
	}
	s:=2.5/3600
	if math.Abs(coef[0]+s)>s*0.01 || math.Abs(coef[4]-s)>s*0.01 {
		t.Errorf("fit drifted: A %g E %g expected -+%g", coef[0], coef[4], s)
	}
}

func TestZeroPoint(t *testing.T) {
	pairs:=syntheticPairs(
		[]float64{100, 400, 100, 400, 250},
		[]float64{100, 100, 400, 400, 250},
	)
	fluxes:=make(map[int]float64)
	for i:=range pairs {
		// mag = 20 - 2.5*log10(flux)
		fluxes[i]=math.Pow(10, (20-pairs[i].star.Magnitude)/2.5)
	}
	zp, ok:=fitZeroPoint(pairs, fluxes, 0)
	if !ok { t.Fatalf("no zero point") }
	if math.Abs(zp-20)>1e-3 { t.Errorf("got %g expected 20", zp) }
}

func TestZeroPointDropsWorst(t *testing.T) {
	pairs:=syntheticPairs(
		[]float64{100, 400, 100, 400, 250},
		[]float64{100, 100, 400, 400, 250},
	)
	fluxes:=make(map[int]float64)
	for i:=range pairs {
		fluxes[i]=math.Pow(10, (20-pairs[i].star.Magnitude)/2.5)
	}
	pairs[1].star.Magnitude+=2 // badly wrong catalog magnitude

	zp, ok:=fitZeroPoint(pairs, fluxes, 0)
	if !ok { t.Fatalf("no zero point") }
	if math.Abs(zp-20)>1e-2 { t.Errorf("got %g expected 20 after dropping the bad star", zp) }
}

func TestZeroPointVariableExcluded(t *testing.T) {
	pairs:=syntheticPairs([]float64{100, 400}, []float64{100, 100})
	pairs[0].star.Variable=true
	fluxes:=map[int]float64{0: 1e4, 1: 1e4}
	zp, ok:=fitZeroPoint(pairs, fluxes, 0)
	if !ok { t.Fatalf("no zero point") }
	// single usable star fallback
	want:=pairs[1].star.Magnitude+2.5*math.Log10(1e4)
	if math.Abs(zp-want)>1e-6 { t.Errorf("got %g expected %g", zp, want) }
}

// synthField builds matched sources and catalog stars from the truth plate
func synthField(positions [][2]float64) ([]extract.Source, []catalog.Star) {
	p:=truthPlate()
	srcs:=make([]extract.Source, len(positions))
	stars:=make([]catalog.Star, len(positions))
	for i,pos:=range positions {
		ra, dec:=p.PixelToSky(pos[0], pos[1])
		flux:=1e5/float64(i+1)
		srcs[i]=extract.Source{X: pos[0], Y: pos[1], Flux: flux, Class: 0.9}
		stars[i]=catalog.Star{
			ID: int32(i+1), X: pos[0], Y: pos[1],
			RA: ra, Dec: dec,
			Magnitude: 20-2.5*math.Log10(flux),
			Name: "star",
		}
	}
	return srcs, stars
}

func TestMatchEndToEnd(t *testing.T) {
	srcs, stars:=synthField([][2]float64{
		{100, 120}, {420, 80}, {200, 400}, {350, 300}, {80, 300}, {256, 200},
	})
	s:=NewSolver(io.Discard)
	res, err:=s.Match(srcs, stars, 2.5, 256, 256, 120, 45, 0)
	if err!=nil { t.Fatalf("match: %s", err) }
	if res.Matched<4 { t.Errorf("matched %d expected at least 4", res.Matched) }
	if math.Abs(res.Plate.Scale-2.5)>0.05 {
		t.Errorf("scale: got %g expected 2.5", res.Plate.Scale)
	}
	if math.Abs(res.Plate.Orientation)>1 {
		t.Errorf("orientation: got %g expected 0", res.Plate.Orientation)
	}

	// the fitted transform reproduces the synthetic geometry
	ra, dec:=res.Plate.PixelToSky(srcs[0].X, srcs[0].Y)
	if wcs.AngularDistance(ra, dec, stars[0].RA, stars[0].Dec)*3600>1 {
		t.Errorf("fitted position off by more than 1 arcsec")
	}
	if !res.HasZero || math.Abs(res.ZeroPoint-20)>0.05 {
		t.Errorf("zero point: got %g expected 20", res.ZeroPoint)
	}
}

func TestMatchInsufficientSources(t *testing.T) {
	srcs, stars:=synthField([][2]float64{{100, 120}, {420, 80}, {200, 400}})
	s:=NewSolver(io.Discard)
	if _,err:=s.Match(srcs[:2], stars, 2.5, 256, 256, 120, 45, 0); err==nil {
		t.Errorf("expected error with 2 sources")
	}
}

type panicExtractor struct{}

func (panicExtractor) Extract(g *pixel.Grid, minArea int, sigma float32) (string, error) {
	panic("boom")
}

type emptyCatalog struct{}

func (emptyCatalog) Search(ctx context.Context, q catalog.Query) ([]catalog.Star, error) {
	return nil, nil
}
func (emptyCatalog) Close() error { return nil }

func TestSolveFrameRecoversPanic(t *testing.T) {
	frame:=fitsio.NewFrame([]*pixel.Grid{pixel.NewGrid(8, 8, pixel.Depth8)}, nil)
	before:=len(frame.Header.Cards)

	s:=NewSolver(io.Discard)
	solved:=s.SolveFrame(context.Background(), frame, panicExtractor{}, emptyCatalog{}, catalog.Query{
		RA: 120, Dec: 45, FieldDeg: 1, Width: 8, Height: 8, ScaleArcsec: 2.5, LimitMag: 15, MaxStars: 10,
	})
	if solved { t.Errorf("expected solve failure") }
	if len(frame.Header.Cards)!=before { t.Errorf("header modified on failed solve") }
	if frame.Solved() { t.Errorf("frame marked solved") }
}
