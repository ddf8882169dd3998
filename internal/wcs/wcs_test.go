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

package wcs

import (
	"math"
	"testing"

	"github.com/astrolith/obsmgr/internal/fitsio"
)

func testPlate() *Plate {
	p:=Default(83.822, -5.391, 512, 384, 2.5)
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	ra0, dec0:=120.0, 45.0
	for _,c:=range []struct{ ra, dec float64 }{
		{120, 45}, {121, 45.5}, {119.2, 44.1}, {120.8, 46.3},
	} {
		xi, eta, err:=Project(c.ra, c.dec, ra0, dec0)
		if err!=nil { t.Fatalf("project %g %g: %s", c.ra, c.dec, err) }
		ra, dec:=deproject(xi, eta, ra0, dec0)
		if math.Abs(ra-c.ra)>1e-9 || math.Abs(dec-c.dec)>1e-9 {
			t.Errorf("round trip %g %g gave %g %g", c.ra, c.dec, ra, dec)
		}
	}
}

func TestProjectFarSide(t *testing.T) {
	if _,_,err:=Project(300, -45, 120, 45); err==nil {
		t.Errorf("expected error for point beyond tangent plane")
	}
}

func TestPixelSkyRoundTrip(t *testing.T) {
	p:=testPlate()
	for _,c:=range []struct{ x, y float64 }{
		{512, 384}, {0, 0}, {1023, 767}, {100.5, 700.25},
	} {
		ra, dec:=p.PixelToSky(c.x, c.y)
		x, y, err:=p.SkyToPixel(ra, dec)
		if err!=nil { t.Fatalf("sky to pixel: %s", err) }
		if math.Abs(x-c.x)>1e-6 || math.Abs(y-c.y)>1e-6 {
			t.Errorf("round trip %g %g gave %g %g", c.x, c.y, x, y)
		}
	}
}

func TestRefPixelMapsToTangentPoint(t *testing.T) {
	p:=testPlate()
	ra, dec:=p.PixelToSky(p.RefX, p.RefY)
	if math.Abs(ra-p.RefRA)>1e-9 || math.Abs(dec-p.RefDec)>1e-9 {
		t.Errorf("reference pixel maps to %g %g, expected %g %g", ra, dec, p.RefRA, p.RefDec)
	}
}

func TestDerive(t *testing.T) {
	p:=testPlate()
	if math.Abs(p.Scale-2.5)>1e-9 {
		t.Errorf("scale: got %g expected 2.5", p.Scale)
	}
	if math.Abs(p.Orientation)>1e-9 {
		t.Errorf("orientation: got %g expected 0", p.Orientation)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	p:=testPlate()
	p.B, p.D=1e-5, -2e-5
	p.C, p.F=3e-4, -4e-4
	p.Derive()

	h:=fitsio.NewHeader()
	p.ToHeader(h)
	if !h.Has(fitsio.KeyCrval1) { t.Fatalf("CRVAL1 missing after encode") }

	p2, err:=FromHeader(h)
	if err!=nil { t.Fatalf("decode: %s", err) }
	if *p2!=*p { t.Errorf("round trip: got %+v expected %+v", p2, p) }
}

func TestFromHeaderUnsolved(t *testing.T) {
	if _,err:=FromHeader(fitsio.NewHeader()); err==nil {
		t.Errorf("expected error for unsolved header")
	}
}

func TestAngularDistance(t *testing.T) {
	if d:=AngularDistance(0, 0, 0, 1); math.Abs(d-1)>1e-9 {
		t.Errorf("got %g expected 1", d)
	}
	if d:=AngularDistance(10, 89, 190, 89); math.Abs(d-2)>1e-9 {
		t.Errorf("pole crossing: got %g expected 2", d)
	}
}
