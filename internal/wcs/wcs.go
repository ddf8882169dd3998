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

// Package wcs holds the astrometric solution of a frame: a six-constant
// linear plate model between pixel coordinates and gnomonic standard
// coordinates around a tangent point, plus derived pixel scale and
// orientation. Solutions travel in the FITS header under the PLATE_A..J
// and CRVAL keys.
package wcs

import (
	"fmt"
	"math"

	"github.com/astrolith/obsmgr/internal/fitsio"
)

// Plate is a frame's astrometric solution. The linear constants map pixel
// coordinates to standard coordinates xi, eta in degrees on the tangent
// plane at (RefRA, RefDec):
//
//	xi  = A*(x-RefX) + B*(y-RefY) + C
//	eta = D*(x-RefX) + E*(y-RefY) + F
type Plate struct {
	A, B, C, D, E, F float64

	RefX, RefY   float64 // reference pixel
	RefRA, RefDec float64 // tangent point, degrees

	Scale       float64 // pixel scale, arcsec per pixel
	Orientation float64 // position angle of north, degrees
}

const degToRad = math.Pi/180
const radToDeg = 180/math.Pi

// Derive fills in the pixel scale and orientation from the linear constants
func (p *Plate) Derive() {
	p.Scale=3600*math.Sqrt(math.Abs(p.A*p.E-p.B*p.D))
	p.Orientation=math.Atan2(p.B, p.E)*radToDeg
}

// PixelToSky maps a pixel coordinate to RA and Dec in degrees
func (p *Plate) PixelToSky(x, y float64) (ra, dec float64) {
	xi :=(p.A*(x-p.RefX)+p.B*(y-p.RefY)+p.C)*degToRad
	eta:=(p.D*(x-p.RefX)+p.E*(y-p.RefY)+p.F)*degToRad
	return deproject(xi, eta, p.RefRA, p.RefDec)
}

// SkyToPixel maps RA and Dec in degrees to a pixel coordinate.
// Returns an error if the point is on the far side of the tangent plane
// or the plate constants are degenerate.
func (p *Plate) SkyToPixel(ra, dec float64) (x, y float64, err error) {
	xi, eta, err:=Project(ra, dec, p.RefRA, p.RefDec)
	if err!=nil { return 0, 0, err }
	xi*=radToDeg
	eta*=radToDeg

	det:=p.A*p.E-p.B*p.D
	if det==0 { return 0, 0, fmt.Errorf("degenerate plate constants") }
	dx:=( p.E*(xi-p.C)-p.B*(eta-p.F))/det
	dy:=(-p.D*(xi-p.C)+p.A*(eta-p.F))/det
	return p.RefX+dx, p.RefY+dy, nil
}

// Project maps RA and Dec onto gnomonic standard coordinates xi, eta in
// radians at the tangent point (ra0, dec0), all angles in degrees
func Project(ra, dec, ra0, dec0 float64) (xi, eta float64, err error) {
	raR, decR:=ra*degToRad, dec*degToRad
	ra0R, dec0R:=ra0*degToRad, dec0*degToRad

	cosC:=math.Sin(dec0R)*math.Sin(decR)+math.Cos(dec0R)*math.Cos(decR)*math.Cos(raR-ra0R)
	if cosC<=0 {
		return 0, 0, fmt.Errorf("point RA %.4f Dec %.4f beyond tangent plane at RA %.4f Dec %.4f", ra, dec, ra0, dec0)
	}
	xi =math.Cos(decR)*math.Sin(raR-ra0R)/cosC
	eta=(math.Cos(dec0R)*math.Sin(decR)-math.Sin(dec0R)*math.Cos(decR)*math.Cos(raR-ra0R))/cosC
	return xi, eta, nil
}

// deproject inverts Project: standard coordinates in radians back to RA
// and Dec in degrees
func deproject(xi, eta, ra0, dec0 float64) (ra, dec float64) {
	ra0R, dec0R:=ra0*degToRad, dec0*degToRad

	den:=math.Cos(dec0R)-eta*math.Sin(dec0R)
	ra=ra0R+math.Atan2(xi, den)
	dec=math.Atan2((math.Sin(dec0R)+eta*math.Cos(dec0R))*math.Cos(ra-ra0R), den)

	ra*=radToDeg
	if ra<0 { ra+=360 }
	if ra>=360 { ra-=360 }
	return ra, dec*radToDeg
}

// AngularDistance returns the great-circle distance between two sky
// positions, all angles in degrees
func AngularDistance(ra1, dec1, ra2, dec2 float64) float64 {
	d1, d2:=dec1*degToRad, dec2*degToRad
	dra:=(ra2-ra1)*degToRad
	cosD:=math.Sin(d1)*math.Sin(d2)+math.Cos(d1)*math.Cos(d2)*math.Cos(dra)
	if cosD>1 { cosD=1 }
	if cosD< -1 { cosD=-1 }
	return math.Acos(cosD)*radToDeg
}

// ToHeader stores the solution in a FITS header: CRVAL1/2 carry the tangent
// point and mark the frame solved, PLATE_A..F the linear constants, and
// PLATE_G..J the reference pixel, scale and orientation
func (p *Plate) ToHeader(h *fitsio.Header) {
	h.Set(fitsio.KeyCrval1, p.RefRA, "tangent point RA, degrees")
	h.Set(fitsio.KeyCrval2, p.RefDec, "tangent point Dec, degrees")
	values:=[]float64{p.A, p.B, p.C, p.D, p.E, p.F, p.RefX, p.RefY, p.Scale, p.Orientation}
	comments:=[]string{
		"plate constant", "plate constant", "plate constant",
		"plate constant", "plate constant", "plate constant",
		"reference pixel x", "reference pixel y",
		"pixel scale, arcsec/px", "orientation, degrees",
	}
	for i,key:=range fitsio.PlateKeys {
		h.Set(key, values[i], comments[i])
	}
}

// FromHeader reads a solution back from a FITS header. Returns an error
// if the frame carries no solution.
func FromHeader(h *fitsio.Header) (*Plate, error) {
	if !h.Has(fitsio.KeyCrval1) {
		return nil, fmt.Errorf("frame is not solved")
	}
	p:=&Plate{
		RefRA:  h.Float(fitsio.KeyCrval1, 0),
		RefDec: h.Float(fitsio.KeyCrval2, 0),
	}
	values:=make([]float64, len(fitsio.PlateKeys))
	for i,key:=range fitsio.PlateKeys {
		if !h.Has(key) { return nil, fmt.Errorf("missing header key %s", key) }
		values[i]=h.Float(key, 0)
	}
	p.A, p.B, p.C, p.D, p.E, p.F=values[0], values[1], values[2], values[3], values[4], values[5]
	p.RefX, p.RefY=values[6], values[7]
	p.Scale, p.Orientation=values[8], values[9]
	return p, nil
}

// Default returns the nominal solution used when no frame in a batch is
// solved: tangent point at the commanded mount position, north up, and
// the configured nominal pixel scale
func Default(raDeg, decDeg, refX, refY, scaleArcsec float64) *Plate {
	s:=scaleArcsec/3600
	p:=&Plate{
		A: -s, E: s,
		RefX: refX, RefY: refY,
		RefRA: raDeg, RefDec: decDeg,
	}
	p.Derive()
	return p
}
