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

// Package solve computes astrometric solutions: triangles formed from the
// brightest detected sources are matched against catalog triangles by
// normalized side ratios and orientation, accumulated identifications are
// validated with trial plate fits, and the surviving pairs yield a linear
// plate solution plus a photometric zero point.
package solve

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/astrolith/obsmgr/internal/catalog"
	"github.com/astrolith/obsmgr/internal/extract"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/wcs"
)

// Detection provenance keys written to a solved frame's header
const (
	KeyDetMinArea = "DET_AREA"
	KeyDetSigma   = "DET_SIG"
	KeyDetClass   = "DET_CLAS"
	KeyDetMaxSrc  = "DET_MAXS"
	KeyZeroPoint  = "ZEROPT"
)

// Options configures one solve operation
type Options struct {
	SeeingArcsec   float64 // seeing assumption for the match tolerance
	MinPixelTol    float64 // pixel floor for the match tolerance
	MaxPasses      int     // full passes over the source list
	MinSources     int     // identified sources required to fit
	MinArea        int     // detection: minimum blob area
	Sigma          float32 // detection: threshold in background sigmas
	ClassThreshold float64 // detection: minimum roundness class
	MaxSources     int     // detection: cap on sources used
}

// DefaultOptions returns the standard solver configuration
func DefaultOptions() Options {
	return Options{
		SeeingArcsec:   5,
		MinPixelTol:    3,
		MaxPasses:      10,
		MinSources:     4,
		MinArea:        5,
		Sigma:          10,
		ClassThreshold: 0.2,
		MaxSources:     50,
	}
}

// Result of a successful solve
type Result struct {
	Plate     *wcs.Plate
	ZeroPoint float64
	HasZero   bool
	Matched   int
	Rows      []fitsio.SourceRow
}

// Solver matches detected sources against a reference catalog
type Solver struct {
	Log  io.Writer
	Opts Options
}

func NewSolver(logWriter io.Writer) *Solver {
	return &Solver{Log: logWriter, Opts: DefaultOptions()}
}

// Tolerance returns the match tolerance in pixels for the given pixel
// scale: the seeing assumption converted to pixels, floored at MinPixelTol
func (s *Solver) Tolerance(scaleArcsec float64) float64 {
	tol:=s.Opts.SeeingArcsec/scaleArcsec
	if tol<s.Opts.MinPixelTol { tol=s.Opts.MinPixelTol }
	return tol
}

// acceptedTri records one accepted triangle for bounded rollback: its
// contribution to the running statistics and the source identifications
// it introduced
type acceptedTri struct {
	offset, scale float64
	added         []int
}

// Match runs the triangle identification over sources (brightest first)
// and catalog stars, then fits the plate solution and zero point.
// saturationFlux excludes saturated sources from the zero point, 0 for none.
func (s *Solver) Match(srcs []extract.Source, stars []catalog.Star, scaleArcsec, refX, refY, refRA, refDec, saturationFlux float64) (*Result, error) {
	if len(srcs)<3 || len(stars)<3 {
		return nil, fmt.Errorf("need at least 3 sources and 3 catalog stars, got %d and %d", len(srcs), len(stars))
	}
	tolPx:=s.Tolerance(scaleArcsec)
	tolDeg:=tolPx*scaleArcsec/3600

	srcX:=make([]float64, len(srcs))
	srcY:=make([]float64, len(srcs))
	for i,src:=range srcs {
		srcX[i], srcY[i]=src.X, src.Y
	}
	catX:=make([]float64, len(stars))
	catY:=make([]float64, len(stars))
	for i,st:=range stars {
		catX[i], catY[i]=st.X, st.Y
	}

	// standard coordinates of every catalog star, for trial and final fits
	catXi:=make([]float64, len(stars))
	catEta:=make([]float64, len(stars))
	for i,st:=range stars {
		xi, eta, err:=wcs.Project(st.RA, st.Dec, refRA, refDec)
		if err!=nil {
			return nil, fmt.Errorf("catalog star %s beyond the tangent plane: %w", st.Name, err)
		}
		catXi[i], catEta[i]=xi*180/math.Pi, eta*180/math.Pi
	}

	identified:=make(map[int]int) // source index -> star index
	claimed:=make(map[int]int)    // star index -> source index
	state:=matchState{}
	var accepted []acceptedTri

	pairsOf:=func() []pair {
		ps:=make([]pair, 0, len(identified))
		for si,ci:=range identified {
			ps=append(ps, pair{
				srcIdx: si, star: stars[ci],
				x: srcX[si], y: srcY[si],
				xi: catXi[ci], eta: catEta[ci],
			})
		}
		return ps
	}
	discardAll:=func() {
		identified=make(map[int]int)
		claimed=make(map[int]int)
		state=matchState{}
		accepted=nil
	}
	rollbackNewest:=func() {
		last:=accepted[len(accepted)-1]
		accepted=accepted[:len(accepted)-1]
		state.retract(last.offset, last.scale)
		for _,si:=range last.added {
			delete(claimed, identified[si])
			delete(identified, si)
		}
	}

	for pass:=0; pass<s.Opts.MaxPasses; pass++ {
		progress:=false

		var unid []int
		for i:=range srcs {
			if _,ok:=identified[i]; !ok { unid=append(unid, i) }
		}
		for t:=0; t+2<len(unid); t++ {
			i, j, k:=unid[t], unid[t+1], unid[t+2]
			if _,ok:=identified[i]; ok { continue }
			if _,ok:=identified[j]; ok { continue }
			if _,ok:=identified[k]; ok { continue }
			srcTri:=newTriangle(srcX, srcY, i, j, k)
			if srcTri.longest==0 { continue }
			tolNorm:=tolPx/srcTri.longest

			// require a unique consistent catalog triangle
			var match triangle
			var mOffset, mScale float64
			found:=0
			for a:=0; a<len(stars) && found<2; a++ {
				for b:=a+1; b<len(stars) && found<2; b++ {
					for c:=b+1; c<len(stars) && found<2; c++ {
						catTri:=newTriangle(catX, catY, a, b, c)
						offset, scale, ok:=state.matches(srcTri, catTri, tolNorm)
						if !ok { continue }
						if conflicts(srcTri, catTri, identified, claimed) { continue }
						match, mOffset, mScale=catTri, offset, scale
						found++
					}
				}
			}
			if found!=1 { continue }

			tri:=acceptedTri{offset: mOffset, scale: mScale}
			for _,v:=range [][2]int{{srcTri.ia, match.ia}, {srcTri.ib, match.ib}, {srcTri.ic, match.ic}} {
				if _,ok:=identified[v[0]]; ok { continue }
				identified[v[0]]=v[1]
				claimed[v[1]]=v[0]
				tri.added=append(tri.added, v[0])
			}
			state.accept(mOffset, mScale)
			accepted=append(accepted, tri)
			progress=true

			// validate accumulated identities with a trial plate fit
			if len(accepted)>=2 {
				ps:=pairsOf()
				coef, err:=fitPlate(ps, refX, refY)
				if err!=nil || maxResidual(ps, coef, refX, refY)>tolDeg {
					if len(accepted)<=2 {
						discardAll()
					} else {
						rollbackNewest()
					}
				}
			}
		}
		if !progress { break }
	}

	minSources:=s.Opts.MinSources
	if minSources<minFitPoints { minSources=minFitPoints }
	if len(identified)<minSources {
		return nil, fmt.Errorf("only %d sources identified, need %d", len(identified), minSources)
	}

	coef, kept, err:=fitPlateRobust(pairsOf(), refX, refY)
	if err!=nil { return nil, err }
	coef=polishPlate(kept, coef, refX, refY)

	plate:=&wcs.Plate{
		A: coef[0], B: coef[1], C: coef[2],
		D: coef[3], E: coef[4], F: coef[5],
		RefX: refX, RefY: refY, RefRA: refRA, RefDec: refDec,
	}
	plate.Derive()

	fluxes:=make(map[int]float64, len(srcs))
	for i,src:=range srcs { fluxes[i]=src.Flux }
	zp, hasZero:=fitZeroPoint(kept, fluxes, saturationFlux)

	res:=&Result{Plate: plate, ZeroPoint: zp, HasZero: hasZero, Matched: len(kept)}
	matchedStar:=make(map[int]catalog.Star, len(kept))
	for _,p:=range kept { matchedStar[p.srcIdx]=p.star }
	for i,src:=range srcs {
		row:=fitsio.SourceRow{X: src.X, Y: src.Y, Flux: src.Flux, CatalogID: -1}
		if hasZero && src.Flux>0 {
			row.Magnitude=zp-2.5*math.Log10(src.Flux)
		}
		if st,ok:=matchedStar[i]; ok {
			row.CatalogID=st.ID
			row.Name=st.Name
		}
		res.Rows=append(res.Rows, row)
	}
	return res, nil
}

// conflicts reports whether accepting the catalog triangle would contradict
// an existing identification of any of the three source vertices or claim a
// star already assigned to a different source
func conflicts(src, cat triangle, identified map[int]int, claimed map[int]int) bool {
	for _,v:=range [][2]int{{src.ia, cat.ia}, {src.ib, cat.ib}, {src.ic, cat.ic}} {
		if ci,ok:=identified[v[0]]; ok && ci!=v[1] { return true }
		if si,ok:=claimed[v[1]]; ok && si!=v[0] { return true }
	}
	return false
}

// Annotate writes a solve result into a frame header: the plate solution,
// the zero point and the detection provenance
func (s *Solver) Annotate(h *fitsio.Header, res *Result) {
	res.Plate.ToHeader(h)
	if res.HasZero {
		h.Set(KeyZeroPoint, res.ZeroPoint, "photometric zero point")
	}
	h.Set(KeyDetMinArea, int32(s.Opts.MinArea), "detection min area")
	h.Set(KeyDetSigma, float64(s.Opts.Sigma), "detection sigma")
	h.Set(KeyDetClass, s.Opts.ClassThreshold, "detection class threshold")
	h.Set(KeyDetMaxSrc, int32(s.Opts.MaxSources), "detection source cap")
}

// SolveFrame runs the full best-effort solve for a frame: extract sources,
// query the catalog, match and fit, annotate the header and write the
// source table sidecar. Any failure, including a panic in the numeric
// code, leaves the header unmodified and is reported on the log only.
func (s *Solver) SolveFrame(ctx context.Context, frame *fitsio.Frame, extractor extract.Extractor, cat catalog.Catalog, q catalog.Query) (solved bool) {
	defer func() {
		if r:=recover(); r!=nil {
			fmt.Fprintf(s.Log, "solve: recovered from panic: %v\n", r)
			solved=false
		}
	}()
	if frame.Solved() { return true }
	if len(frame.Grids)==0 {
		fmt.Fprintf(s.Log, "solve: %s has no pixel data\n", frame.FileName)
		return false
	}

	report, err:=extractor.Extract(frame.Grids[0], s.Opts.MinArea, s.Opts.Sigma)
	if err!=nil {
		fmt.Fprintf(s.Log, "solve: extraction failed: %s\n", err)
		return false
	}
	srcs, err:=extract.ParseReport(report)
	if err!=nil {
		fmt.Fprintf(s.Log, "solve: bad extraction report: %s\n", err)
		return false
	}
	filtered:=srcs[:0]
	for _,src:=range srcs {
		if src.Class>=s.Opts.ClassThreshold { filtered=append(filtered, src) }
	}
	srcs=filtered
	extract.ByFluxDesc(srcs)
	if s.Opts.MaxSources>0 && len(srcs)>s.Opts.MaxSources {
		srcs=srcs[:s.Opts.MaxSources]
	}

	stars, err:=cat.Search(ctx, q)
	if err!=nil {
		fmt.Fprintf(s.Log, "solve: catalog query failed: %s\n", err)
		return false
	}

	saturation:=frame.Header.Float(fitsio.KeyMaxADU, 0)
	res, err:=s.Match(srcs, stars, q.ScaleArcsec, float64(q.Width)/2, float64(q.Height)/2, q.RA, q.Dec, saturation)
	if err!=nil {
		fmt.Fprintf(s.Log, "solve: %s: %s\n", frame.FileName, err)
		return false
	}

	s.Annotate(frame.Header, res)
	if frame.FileName!="" {
		if err:=fitsio.WriteSourceTable(frame.FileName, res.Rows); err!=nil {
			fmt.Fprintf(s.Log, "solve: writing source table: %s\n", err)
		}
	}
	fmt.Fprintf(s.Log, "solve: %s: %d sources matched, scale %.3f\"/px orientation %.2f\n",
		frame.FileName, res.Matched, res.Plate.Scale, res.Plate.Orientation)
	return true
}
