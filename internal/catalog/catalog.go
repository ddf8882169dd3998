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

// Package catalog serves the reference stars the astrometric solver matches
// against: a field query against a local star database, with predicted pixel
// positions computed from the commanded pointing and nominal camera geometry.
package catalog

import (
	"context"
	"math"

	"github.com/astrolith/obsmgr/internal/wcs"
)

// A reference star inside the queried field. X and Y are the predicted
// pixel position under the nominal pointing; RA, Dec and Magnitude come
// from the database.
type Star struct {
	ID        int32
	X         float64
	Y         float64
	Magnitude float64
	RA        float64
	Dec       float64
	Variable  bool
	Spectral  string
	Name      string
}

// Query describes the field to fetch reference stars for
type Query struct {
	RA, Dec         float64 // commanded pointing, degrees
	FieldDeg        float64 // field of view diagonal, degrees
	Width, Height   int32   // sensor dimensions, pixels
	ScaleArcsec     float64 // nominal pixel scale
	OrientationDeg  float64 // nominal camera orientation
	LimitMag        float64 // faintest magnitude to return
	MaxStars        int     // cap on returned stars, brightest first
	PointingErrDeg  float64 // camera-telescope pointing error
	CenteringErrDeg float64 // expected mount centering error
}

// Radius returns the search radius: half the field, inflated by the larger
// of the pointing and centering errors
func (q *Query) Radius() float64 {
	err:=q.PointingErrDeg
	if q.CenteringErrDeg>err { err=q.CenteringErrDeg }
	return q.FieldDeg/2+err
}

// Plate returns the nominal pixel-to-sky transform implied by the query:
// tangent point at the commanded pointing, reference pixel at the sensor
// center, nominal scale and orientation
func (q *Query) Plate() *wcs.Plate {
	s:=q.ScaleArcsec/3600
	rad:=q.OrientationDeg*math.Pi/180
	p:=&wcs.Plate{
		A: -s*math.Cos(rad), B: s*math.Sin(rad),
		D: s*math.Sin(rad), E: s*math.Cos(rad),
		RefX: float64(q.Width)/2, RefY: float64(q.Height)/2,
		RefRA: q.RA, RefDec: q.Dec,
	}
	p.Derive()
	return p
}

// Catalog fetches reference stars for one solve operation
type Catalog interface {
	Search(ctx context.Context, q Query) ([]Star, error)
	Close() error
}
