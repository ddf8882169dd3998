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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/astrolith/obsmgr/internal/catalog"
	"github.com/astrolith/obsmgr/internal/stats"
)

// minFitPoints is the floor for plate fitting: outlier rejection never
// drops below this many matched pairs
const minFitPoints = 4

// resEps is the residual, in degrees, below which a fit error counts as
// numeric noise rather than a rejectable outlier
const resEps = 1e-9

// A matched pair: a detected source and its catalog identity, with the
// catalog position projected to tangent-plane coordinates in degrees
type pair struct {
	srcIdx  int
	star    catalog.Star
	x, y    float64 // source pixel position
	xi, eta float64 // catalog standard coordinates, degrees
}

// fitPlate solves the six linear plate constants from the matched pairs by
// least squares:
//
//	xi  = A*(x-refX) + B*(y-refY) + C
//	eta = D*(x-refX) + E*(y-refY) + F
func fitPlate(pairs []pair, refX, refY float64) (coef [6]float64, err error) {
	if len(pairs)<3 {
		return coef, fmt.Errorf("plate fit needs 3 pairs, got %d", len(pairs))
	}
	n:=len(pairs)
	m:=mat.NewDense(n, 3, nil)
	rhs:=mat.NewDense(n, 2, nil)
	for i,p:=range pairs {
		m.SetRow(i, []float64{p.x-refX, p.y-refY, 1})
		rhs.Set(i, 0, p.xi)
		rhs.Set(i, 1, p.eta)
	}
	var sol mat.Dense
	if err:=sol.Solve(m, rhs); err!=nil {
		return coef, fmt.Errorf("plate fit is singular: %w", err)
	}
	coef=[6]float64{
		sol.At(0, 0), sol.At(1, 0), sol.At(2, 0),
		sol.At(0, 1), sol.At(1, 1), sol.At(2, 1),
	}
	return coef, nil
}

// residuals returns the per-pair absolute fit errors in xi and eta, degrees
func residuals(pairs []pair, coef [6]float64, refX, refY float64) (dxi, deta []float64) {
	dxi=make([]float64, len(pairs))
	deta=make([]float64, len(pairs))
	for i,p:=range pairs {
		dx, dy:=p.x-refX, p.y-refY
		dxi[i]=math.Abs(coef[0]*dx+coef[1]*dy+coef[2]-p.xi)
		deta[i]=math.Abs(coef[3]*dx+coef[4]*dy+coef[5]-p.eta)
	}
	return dxi, deta
}

// maxResidual returns the worst pair's combined residual in degrees
func maxResidual(pairs []pair, coef [6]float64, refX, refY float64) float64 {
	dxi, deta:=residuals(pairs, coef, refX, refY)
	worst:=float64(0)
	for i:=range dxi {
		r:=math.Sqrt(dxi[i]*dxi[i]+deta[i]*deta[i])
		if r>worst { worst=r }
	}
	return worst
}

// fitPlateRobust fits the plate constants with iterative outlier rejection:
// the pair contributing over 30% of the total residual in either axis is
// dropped and the fit repeated, never going below minFitPoints pairs.
// Returns the surviving pairs alongside the fit.
func fitPlateRobust(pairs []pair, refX, refY float64) ([6]float64, []pair, error) {
	kept:=make([]pair, len(pairs))
	copy(kept, pairs)
	for {
		coef, err:=fitPlate(kept, refX, refY)
		if err!=nil { return coef, kept, err }
		if len(kept)<=minFitPoints { return coef, kept, nil }

		dxi, deta:=residuals(kept, coef, refX, refY)
		totalXi, totalEta:=float64(0), float64(0)
		for i:=range dxi {
			totalXi+=dxi[i]
			totalEta+=deta[i]
		}
		worst, drop:=-1, false
		worstShare:=float64(0)
		for i:=range dxi {
			var share float64
			if totalXi>0 { share=dxi[i]/totalXi }
			if totalEta>0 && deta[i]/totalEta>share { share=deta[i]/totalEta }
			if share>worstShare { worstShare, worst=share, i }
		}
		drop=worstShare>0.3
		if drop && dxi[worst]<resEps && deta[worst]<resEps {
			// numeric noise on an essentially perfect fit
			drop=false
		}
		if !drop || worst<0 { return coef, kept, nil }
		kept=append(kept[:worst], kept[worst+1:]...)
	}
}

// polishPlate refines the linear solution with a derivative-free simplex
// minimization of the summed squared residuals. Falls back to the input
// coefficients if the minimizer fails to improve.
func polishPlate(pairs []pair, coef [6]float64, refX, refY float64) [6]float64 {
	objective:=func(x []float64) float64 {
		var c [6]float64
		copy(c[:], x)
		dxi, deta:=residuals(pairs, c, refX, refY)
		sum:=float64(0)
		for i:=range dxi {
			sum+=dxi[i]*dxi[i]+deta[i]*deta[i]
		}
		return sum
	}
	problem:=optimize.Problem{Func: objective}
	result, err:=optimize.Minimize(problem, coef[:], nil, &optimize.NelderMead{})
	if err!=nil || result==nil || result.F>=objective(coef[:]) {
		return coef
	}
	var polished [6]float64
	copy(polished[:], result.X)
	return polished
}

// fitZeroPoint derives the photometric zero point from matched, non-variable,
// unsaturated stars: mag = zp - 2.5*log10(flux), fitting only the intercept
// on the assumption of ideal detector linearity. The worst-fitting star is
// dropped iteratively while its error exceeds 3 times the mean of the
// others' errors. With fewer than two usable stars, falls back to a single
// star's catalog magnitude; with none, reports no zero point.
func fitZeroPoint(pairs []pair, fluxes map[int]float64, saturationFlux float64) (zp float64, ok bool) {
	var xs, ys []float32
	for _,p:=range pairs {
		if p.star.Variable { continue }
		flux:=fluxes[p.srcIdx]
		if flux<=0 { continue }
		if saturationFlux>0 && flux>=saturationFlux { continue }
		xs=append(xs, float32(math.Log10(flux)))
		ys=append(ys, float32(p.star.Magnitude))
	}
	if len(xs)==0 { return 0, false }
	if len(xs)==1 {
		return float64(ys[0])+2.5*float64(xs[0]), true
	}

	for {
		intercept:=stats.LinearRegressionFixedSlope(xs, ys, -2.5)
		if len(xs)==2 { return float64(intercept), true }

		errs:=make([]float64, len(xs))
		total:=float64(0)
		worst, worstErr:=0, float64(0)
		for i:=range xs {
			e:=math.Abs(float64(ys[i]-(intercept-2.5*xs[i])))
			errs[i]=e
			total+=e
			if e>worstErr { worstErr, worst=e, i }
		}
		meanOthers:=(total-worstErr)/float64(len(xs)-1)
		if meanOthers<=0 || worstErr<=3*meanOthers {
			return float64(intercept), true
		}
		xs=append(xs[:worst], xs[worst+1:]...)
		ys=append(ys[:worst], ys[worst+1:]...)
	}
}
