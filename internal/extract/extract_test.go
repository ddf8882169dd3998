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
	"math"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/astrolith/obsmgr/internal/pixel"
)

func TestParseReport(t *testing.T) {
	report:="# x y flux class\n10.5 20.25 1500.0 0.95\n\n300 40 90.5 0.10\n"
	srcs, err:=ParseReport(report)
	if err!=nil { t.Fatalf("parse: %s", err) }
	if len(srcs)!=2 { t.Fatalf("got %d sources expected 2", len(srcs)) }
	if srcs[0].X!=10.5 || srcs[0].Y!=20.25 || srcs[0].Flux!=1500 || srcs[0].Class!=0.95 {
		t.Errorf("source 0: got %+v", srcs[0])
	}
	if srcs[1].X!=300 || srcs[1].Flux!=90.5 {
		t.Errorf("source 1: got %+v", srcs[1])
	}
}

func TestParseReportErrors(t *testing.T) {
	if _,err:=ParseReport("1 2 3\n"); err==nil { t.Errorf("expected column count error") }
	if _,err:=ParseReport("1 2 three 4\n"); err==nil { t.Errorf("expected parse error") }
}

func TestRenderParseRoundTrip(t *testing.T) {
	srcs:=[]Source{{X: 1.5, Y: 2.25, Flux: 100, Class: 0.9}, {X: 7, Y: 8, Flux: 50.5, Class: 0.25}}
	got, err:=ParseReport(RenderReport(srcs))
	if err!=nil { t.Fatalf("parse: %s", err) }
	if len(got)!=2 { t.Fatalf("got %d sources", len(got)) }
	for i,s:=range srcs {
		if math.Abs(got[i].X-s.X)>1e-3 || math.Abs(got[i].Flux-s.Flux)>0.1 {
			t.Errorf("source %d: got %+v expected %+v", i, got[i], s)
		}
	}
}

// addStar stamps a small gaussian-ish profile at (x,y)
func addStar(g *pixel.Grid, x, y int32, peak int32) {
	for dy:=int32(-2); dy<=2; dy++ {
		for dx:=int32(-2); dx<=2; dx++ {
			if !g.Inside(x+dx, y+dy) { continue }
			r2:=float64(dx*dx+dy*dy)
			v:=int32(float64(peak)*math.Exp(-r2/2))
			g.Set(x+dx, y+dy, g.At(x+dx, y+dy)+v)
		}
	}
}

func TestNativeExtract(t *testing.T) {
	g:=pixel.NewGrid(128, 128, pixel.Depth16)
	rng:=fastrand.RNG{}
	rng.Seed(7)
	for i:=range g.Data { g.Data[i]=100+int32(rng.Uint32n(5)) }

	positions:=[]struct{ x, y int32 }{{30, 40}, {90, 25}, {64, 100}}
	for _,p:=range positions {
		addStar(g, p.x, p.y, 2000)
	}

	e:=&Native{}
	report, err:=e.Extract(g, 3, 10)
	if err!=nil { t.Fatalf("extract: %s", err) }
	srcs, err:=ParseReport(report)
	if err!=nil { t.Fatalf("parse: %s", err) }
	if len(srcs)!=3 { t.Fatalf("got %d sources expected 3:\n%s", len(srcs), report) }

	for _,p:=range positions {
		found:=false
		for _,s:=range srcs {
			if math.Abs(s.X-float64(p.x))<1 && math.Abs(s.Y-float64(p.y))<1 {
				found=true
				break
			}
		}
		if !found { t.Errorf("star at %d,%d not detected", p.x, p.y) }
	}
}

func TestNativeBrightestFirst(t *testing.T) {
	g:=pixel.NewGrid(64, 64, pixel.Depth16)
	for i:=range g.Data { g.Data[i]=50 }
	addStar(g, 16, 16, 500)
	addStar(g, 48, 48, 5000)

	e:=&Native{}
	report, err:=e.Extract(g, 3, 5)
	if err!=nil { t.Fatalf("extract: %s", err) }
	srcs, err:=ParseReport(report)
	if err!=nil { t.Fatalf("parse: %s", err) }
	if len(srcs)!=2 { t.Fatalf("got %d sources expected 2:\n%s", len(srcs), report) }
	if srcs[0].Flux<srcs[1].Flux { t.Errorf("sources not ordered brightest first") }
	if math.Abs(srcs[0].X-48)>1 { t.Errorf("brightest at %g,%g expected 48,48", srcs[0].X, srcs[0].Y) }
}

func TestNativeInvalidSigma(t *testing.T) {
	e:=&Native{}
	if _,err:=e.Extract(pixel.NewGrid(8, 8, pixel.Depth8), 1, 0); err==nil {
		t.Errorf("expected error for sigma 0")
	}
}
