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

// Package register aligns and combines frames on a common sky grid: every
// output pixel is mapped through each input frame's own astrometric
// solution, sampled with the configured interpolation, and the surviving
// samples reduced by summation (stack) or a selectable statistic weighted
// by resampling distance (average).
package register

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/astrolith/obsmgr/internal/combine"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pixel"
	"github.com/astrolith/obsmgr/internal/resample"
	"github.com/astrolith/obsmgr/internal/wcs"
)

// AverageMethod selects the reduction for the average stage
type AverageMethod int

const (
	ClosestPoint AverageMethod = iota
	Ponderation
	UseCombineMethod
)

var averageNames = map[AverageMethod]string{
	ClosestPoint:     "closestPoint",
	Ponderation:      "ponderation",
	UseCombineMethod: "useCombineMethod",
}

func (m AverageMethod) String() string { return averageNames[m] }

// ParseAverageMethod maps a config or header value to an AverageMethod
func ParseAverageMethod(s string) (AverageMethod, error) {
	for m,name:=range averageNames {
		if name==s { return m, nil }
	}
	return 0, fmt.Errorf("unknown average method %q", s)
}

// DrizzleFactors are the accepted output-resolution scalings
var DrizzleFactors = []float64{0.5, 1, 2, 3}

// ValidDrizzle reports whether z is an accepted drizzle factor
func ValidDrizzle(z float64) bool {
	for _,f:=range DrizzleFactors {
		if f==z { return true }
	}
	return false
}

// ponderationEps keeps the distance weight 1/(d+eps) finite for samples
// landing exactly on an integer pixel
const ponderationEps = 1e-6

// Header keys annotating how a stacked or averaged frame was produced
const (
	KeyCombineMethod = "CMBMETH"
	KeyAverageMethod = "AVGMETH"
	KeyInterpMethod  = "INTMETH"
	KeyDrizzle       = "DRIZZLE"
)

// Options configures one stack or average operation
type Options struct {
	Interpolation resample.Interpolation
	Average       AverageMethod
	Combine       combine.Method
	Kappa         float32
	Drizzle       float64
}

// Progress is invoked after each fully resolved output column
type Progress func(column, total int32)

// ErrMixedWCS aborts an operation whose inputs mix solved and unsolved
// frames: the fallback to a shared default solution applies only when no
// input is solved
var ErrMixedWCS = fmt.Errorf("inputs mix solved and unsolved frames, cannot register")

// sample is one input frame's contribution to an output pixel
type sample struct {
	value float64
	dist  float64
}

// framePlates resolves the transform for every input frame: each frame's
// own solution when all are solved, the shared default when none are
func framePlates(frames []*fitsio.Frame, def *wcs.Plate) ([]*wcs.Plate, error) {
	solved:=0
	for _,f:=range frames {
		if f.Solved() { solved++ }
	}
	if solved>0 && solved<len(frames) {
		return nil, ErrMixedWCS
	}
	plates:=make([]*wcs.Plate, len(frames))
	if solved==0 {
		if def==nil { return nil, fmt.Errorf("no frame is solved and no default transform given") }
		for i:=range plates { plates[i]=def }
		return plates, nil
	}
	for i,f:=range frames {
		p, err:=wcs.FromHeader(f.Header)
		if err!=nil { return nil, fmt.Errorf("%s: %w", f.FileName, err) }
		plates[i]=p
	}
	return plates, nil
}

// DefaultPlate derives the shared fallback transform from a frame header:
// tangent point at the commanded pointing, reference pixel at the image
// center, pixel scale from the field of view
func DefaultPlate(h *fitsio.Header) (*wcs.Plate, error) {
	w:=h.Int(fitsio.KeyNaxis1, 0)
	hh:=h.Int(fitsio.KeyNaxis2, 0)
	field:=h.Float(fitsio.KeyField, 0)
	if w<=0 || hh<=0 || field<=0 {
		return nil, fmt.Errorf("header lacks NAXIS1/NAXIS2/FIELD for a default transform")
	}
	scale:=field/float64(w)*3600
	return wcs.Default(h.Float(fitsio.KeyRA, 0), h.Float(fitsio.KeyDec, 0),
		float64(w)/2, float64(hh)/2, scale), nil
}

// registerPlanes runs the column-major registration loop over one plane of
// every input frame. subSample scales input pixel coordinates, 1 for full
// resolution planes and 2 for Bayer subplanes.
func registerPlanes(planes []*pixel.Grid, plates []*wcs.Plate, outPlate *wcs.Plate,
	outW, outH int32, z float64, subSample float64, opts Options, depth pixel.Depth,
	reduce func([]sample) float64, progress Progress) *pixel.Grid {

	out:=pixel.NewGrid(outW, outH, depth)
	max:=depth.MaxValue()
	samples:=make([]sample, 0, len(planes))

	for x:=int32(0); x<outW; x++ {
		for y:=int32(0); y<outH; y++ {
			// output pixel to full-resolution source coordinate: undo the
			// drizzle scaling, and for Bayer subplanes the stride-2 sampling
			ra, dec:=outPlate.PixelToSky(float64(x)*subSample/z, float64(y)*subSample/z)
			samples=samples[:0]
			for i,g:=range planes {
				sx, sy, err:=plates[i].SkyToPixel(ra, dec)
				if err!=nil { continue }
				sx/=subSample
				sy/=subSample
				v, err:=resample.Sample(g, sx, sy, opts.Interpolation)
				if err!=nil {
					// out of the source image, drop the sample
					continue
				}
				samples=append(samples, sample{value: v, dist: resample.Distance(sx, sy)})
			}
			if len(samples)==0 { continue }
			out.Set(x, y, pixel.Clamp(int32(math.Round(reduce(samples))), max))
		}
		if progress!=nil { progress(x+1, outW) }
	}
	return out
}

// stackReduce sums all samples
func stackReduce(samples []sample) float64 {
	sum:=float64(0)
	for _,s:=range samples { sum+=s.value }
	return sum
}

// averageReduce builds the reduction for the configured average method
func averageReduce(opts Options) func([]sample) float64 {
	switch opts.Average {
	case ClosestPoint:
		return func(samples []sample) float64 {
			best:=samples[0]
			for _,s:=range samples[1:] {
				if s.dist<best.dist { best=s }
			}
			return best.value
		}
	case Ponderation:
		return func(samples []sample) float64 {
			sum, wsum:=float64(0), float64(0)
			for _,s:=range samples {
				w:=1/(s.dist+ponderationEps)
				sum+=s.value*w
				wsum+=w
			}
			return sum/wsum
		}
	default:
		values:=make([]float32, 0, 16)
		return func(samples []sample) float64 {
			values=values[:0]
			for _,s:=range samples { values=append(values, float32(s.value)) }
			return float64(combine.Samples(values, opts.Combine, opts.Kappa))
		}
	}
}

// Stack registers the input frames and sums them per output pixel, clamped
// to the bit depth. The output header lists every constituent filename so
// later runs can exclude already consumed frames.
func Stack(frames []*fitsio.Frame, opts Options, def *wcs.Plate, progress Progress, logWriter io.Writer) (*fitsio.Frame, error) {
	out, err:=run(frames, opts, def, stackReduce, progress, logWriter)
	if err!=nil { return nil, err }
	out.Header.Set(fitsio.KeyImgID, fitsio.IDStacked.String(), "")
	out.Header.Set(fitsio.KeyStacked, true, "")
	out.Header.SetFileList(fitsio.StackedKey, constituents(frames))
	return out, nil
}

// Average registers the input frames and reduces them with the configured
// average method
func Average(frames []*fitsio.Frame, opts Options, def *wcs.Plate, progress Progress, logWriter io.Writer) (*fitsio.Frame, error) {
	out, err:=run(frames, opts, def, averageReduce(opts), progress, logWriter)
	if err!=nil { return nil, err }
	out.Header.Set(fitsio.KeyImgID, fitsio.IDAveraged.String(), "")
	out.Header.Set(fitsio.KeyAveraged, true, "")
	out.Header.SetFileList(fitsio.AveragedKey, constituents(frames))
	return out, nil
}

// constituents returns the base names of the input files for the output
// header's file list. Base names keep every card within the 80-character
// FITS limit; full paths get silently clipped on write, which would break
// the consumed-file matching on later runs. Output names are timestamped
// and unique per directory, so the base name identifies the frame.
func constituents(frames []*fitsio.Frame) []string {
	files:=make([]string, len(frames))
	for i,f:=range frames { files[i]=filepath.Base(f.FileName) }
	return files
}

func run(frames []*fitsio.Frame, opts Options, def *wcs.Plate,
	reduce func([]sample) float64, progress Progress, logWriter io.Writer) (*fitsio.Frame, error) {

	if len(frames)==0 { return nil, fmt.Errorf("no frames to register") }
	z:=opts.Drizzle
	if z==0 { z=1 }
	if !ValidDrizzle(z) { return nil, fmt.Errorf("invalid drizzle factor %g", z) }

	first:=frames[0]
	for _,f:=range frames {
		if len(f.Grids)==0 { return nil, fmt.Errorf("%s has no pixel data", f.FileName) }
		if !pixel.SameShape(first.Grids[0], f.Grids[0]) {
			return nil, fmt.Errorf("%s does not match the batch dimensions", f.FileName)
		}
	}
	plates, err:=framePlates(frames, def)
	if err!=nil { return nil, err }
	outPlate:=plates[0]

	inW, inH:=first.Grids[0].Width, first.Grids[0].Height
	outW:=int32(math.Round(float64(inW)*z))
	outH:=int32(math.Round(float64(inH)*z))
	depth:=first.Grids[0].Depth

	raw:=first.Raw() && len(first.Grids)==1
	var outGrids []*pixel.Grid
	if raw {
		outGrids=runBayer(frames, plates, outPlate, outW, outH, z, opts, depth, reduce, progress)
	} else {
		nPlanes:=len(first.Grids)
		outGrids=make([]*pixel.Grid, nPlanes)
		for p:=0; p<nPlanes; p++ {
			planes:=make([]*pixel.Grid, len(frames))
			for i,f:=range frames { planes[i]=f.Grids[p] }
			var prog Progress
			if p==0 { prog=progress }
			outGrids[p]=registerPlanes(planes, plates, outPlate, outW, outH, z, 1, opts, depth, reduce, prog)
		}
	}

	header:=first.Header.Clone()
	header.Delete(fitsio.KeyImgID)
	header.Set(fitsio.KeyNaxis1, outGrids[0].Width, "")
	header.Set(fitsio.KeyNaxis2, outGrids[0].Height, "")
	header.Set(KeyCombineMethod, opts.Combine.String(), "")
	header.Set(KeyAverageMethod, opts.Average.String(), "")
	header.Set(KeyInterpMethod, opts.Interpolation.String(), "")
	header.Set(KeyDrizzle, z, "")
	if first.Solved() {
		// Bayer subplanes are half resolution, so the stored transform
		// scales by z/2 rather than z
		eff:=z
		if raw { eff=z/2 }
		outDrizzlePlate:=*outPlate
		outDrizzlePlate.RefX*=eff
		outDrizzlePlate.RefY*=eff
		outDrizzlePlate.A/=eff
		outDrizzlePlate.B/=eff
		outDrizzlePlate.D/=eff
		outDrizzlePlate.E/=eff
		outDrizzlePlate.Derive()
		outDrizzlePlate.ToHeader(header)
	}

	fmt.Fprintf(logWriter, "registered %d frames into %dx%d, %d planes\n",
		len(frames), outGrids[0].Width, outGrids[0].Height, len(outGrids))
	return fitsio.NewFrame(outGrids, header), nil
}

// runBayer registers raw sensor frames as four parallel half-resolution
// subplane stacks and recombines the two green planes by averaging
func runBayer(frames []*fitsio.Frame, plates []*wcs.Plate, outPlate *wcs.Plate,
	outW, outH int32, z float64, opts Options, depth pixel.Depth,
	reduce func([]sample) float64, progress Progress) []*pixel.Grid {

	subW, subH:=outW/2, outH/2
	subPlanes:=make([][]*pixel.Grid, pixel.NumBayerPlanes)
	for i:=range frames {
		planes:=pixel.SplitBayer(frames[i].Grids[0])
		for p,g:=range planes {
			if subPlanes[p]==nil { subPlanes[p]=make([]*pixel.Grid, len(frames)) }
			subPlanes[p][i]=g
		}
	}
	out:=make([]*pixel.Grid, pixel.NumBayerPlanes)
	for p:=0; p<pixel.NumBayerPlanes; p++ {
		var prog Progress
		if p==0 { prog=progress }
		out[p]=registerPlanes(subPlanes[p], plates, outPlate, subW, subH, z, 2, opts, depth, reduce, prog)
	}
	// both green planes carry the average of the pair
	g:=pixel.Average([]*pixel.Grid{out[pixel.BayerG1], out[pixel.BayerG2]})
	out[pixel.BayerG1]=g
	out[pixel.BayerG2]=g.Clone()
	return out
}

// Consumed collects the filenames recorded in the constituent lists of
// previously produced output headers: the idempotence set a new run must
// exclude
func Consumed(headers []*fitsio.Header, keyFunc func(int) string) map[string]bool {
	used:=make(map[string]bool)
	for _,h:=range headers {
		for _,f:=range h.FileList(keyFunc) {
			used[f]=true
		}
	}
	return used
}
