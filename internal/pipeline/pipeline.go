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

// Package pipeline orchestrates the reduction of incoming frames: master
// dark and flat creation, calibration, astrometric solving, stacking and
// averaging, dispatched per image id on a single background worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astrolith/obsmgr/internal/catalog"
	"github.com/astrolith/obsmgr/internal/combine"
	"github.com/astrolith/obsmgr/internal/device"
	"github.com/astrolith/obsmgr/internal/extract"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pixel"
	"github.com/astrolith/obsmgr/internal/register"
	"github.com/astrolith/obsmgr/internal/solve"
	"github.com/astrolith/obsmgr/internal/wcs"
)

// Per-camera subdirectories of the observation directory
const (
	DirDark     = "dark"
	DirFlat     = "flat"
	DirOn       = "on"
	DirReduced  = "reduced"
	DirStacked  = "stacked"
	DirAveraged = "averaged"
)

var subDirs = []string{DirDark, DirFlat, DirOn, DirReduced, DirStacked, DirAveraged}

// MasterPrefix marks combined calibration frames inside dark/ and flat/
const MasterPrefix = "super_"

// Status of one frame's trip through the pipeline
type Status int

const (
	StatusOK         Status = 0
	StatusNotReduced Status = 1
)

// ErrNoMaster reports a missing master calibration frame for a signature.
// The offending frame is skipped and the batch continues.
var ErrNoMaster = errors.New("no master calibration frame for signature")

// Pipeline drives the reduction stages. All methods must run on the single
// pipeline worker; none are safe for concurrent invocation.
type Pipeline struct {
	Log       io.Writer
	Config    *Config
	Catalog   catalog.Catalog
	Extractor extract.Extractor
	Solver    *solve.Solver
	Clock     device.Clock

	// DomeSync, when set, gates on-source frames on the dome reaching the
	// commanded azimuth. Commanded via the control surface.
	DomeSync *device.AzimuthSync
}

// New builds a pipeline over the given validated configuration. The star
// catalog is opened when configured; solving degrades to a no-op without it.
func New(cfg *Config, logWriter io.Writer) (*Pipeline, error) {
	p:=&Pipeline{
		Log:       logWriter,
		Config:    cfg,
		Extractor: &extract.Native{MaxSources: cfg.SolveMaxSources},
		Solver:    solve.NewSolver(logWriter),
		Clock:     device.RealClock{},
	}
	p.Solver.Opts.MinArea=cfg.SolveMinArea
	p.Solver.Opts.Sigma=cfg.SolveSigma
	p.Solver.Opts.ClassThreshold=cfg.SolveClassThreshold
	p.Solver.Opts.MaxSources=cfg.SolveMaxSources

	if cfg.CatalogPath!="" {
		cat, err:=catalog.Open(cfg.CatalogPath)
		if err!=nil { return nil, fmt.Errorf("opening star catalog: %w", err) }
		p.Catalog=cat
	}
	return p, nil
}

// Close releases the catalog
func (p *Pipeline) Close() error {
	if p.Catalog!=nil { return p.Catalog.Close() }
	return nil
}

// CameraDir returns a camera's observation subdirectory
func (p *Pipeline) CameraDir(camera, sub string) string {
	return filepath.Join(p.Config.WorkDir, camera, sub)
}

// EnsureDirs creates the per-camera directory layout
func (p *Pipeline) EnsureDirs(camera string) error {
	for _,sub:=range subDirs {
		if err:=os.MkdirAll(p.CameraDir(camera, sub), 0755); err!=nil {
			return err
		}
	}
	return nil
}

// Signature keys master calibration frames: ISO, exposure time and RAW
// flag together identify the dark or flat a raw frame needs
func Signature(h *fitsio.Header) string {
	exposure:=h.Float(fitsio.KeyBulbTime, h.Float(fitsio.KeyTime, 0))
	expStr:=strings.ReplaceAll(fmt.Sprintf("%g", exposure), ".", "p")
	raw:=0
	if h.Bool(fitsio.KeyRaw, false) { raw=1 }
	return fmt.Sprintf("%d_%s_%d", h.Int(fitsio.KeyISO, 0), expStr, raw)
}

// MasterPath returns the filename convention for a master frame
func (p *Pipeline) MasterPath(camera, sub, signature string) string {
	return filepath.Join(p.CameraDir(camera, sub), MasterPrefix+signature+".fits")
}

// timestampedPath generates a fresh output filename from the current
// timestamp, regenerating until no file with that name exists. Safe only
// under the single-writer assumption.
func (p *Pipeline) timestampedPath(dir string) string {
	for {
		path:=filepath.Join(dir, fmt.Sprintf("%d.fits", p.Clock.Now().UnixMilli()))
		if _,err:=os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
	}
}

// dirFor maps an image id to the directory its frames are stored in
func dirFor(id fitsio.ImageID) string {
	switch id {
	case fitsio.IDDark:      return DirDark
	case fitsio.IDFlat:      return DirFlat
	case fitsio.IDReducedOn: return DirReduced
	case fitsio.IDStacked:   return DirStacked
	case fitsio.IDAveraged:  return DirAveraged
	default:                 return DirOn
	}
}

// Save stores a frame under its image id directory with a timestamp name
func (p *Pipeline) Save(camera string, frame *fitsio.Frame) (string, error) {
	id, err:=frame.ID()
	if err!=nil { return "", err }
	path:=p.timestampedPath(p.CameraDir(camera, dirFor(id)))
	if err:=frame.WriteFile(path); err!=nil { return "", err }
	return path, nil
}

// Process dispatches one frame through its pipeline stages, strictly in
// order, and returns the resulting status. Calibration gaps skip the frame
// with StatusNotReduced; hard errors are returned for the batch loop to
// report.
func (p *Pipeline) Process(ctx context.Context, camera string, frame *fitsio.Frame) (Status, error) {
	if err:=p.EnsureDirs(camera); err!=nil { return StatusNotReduced, err }
	id, err:=frame.ID()
	if err!=nil { return StatusNotReduced, err }

	switch id {
	case fitsio.IDDark, fitsio.IDFlat, fitsio.IDTest, fitsio.IDAveraged:
		_, err:=p.Save(camera, frame)
		return StatusOK, err

	case fitsio.IDOnSource:
		p.pollDomeSync(frame)
		if _,err:=p.Save(camera, frame); err!=nil { return StatusNotReduced, err }
		reduced, err:=p.Reduce(camera, frame)
		if err!=nil {
			if errors.Is(err, ErrNoMaster) {
				fmt.Fprintf(p.Log, "%s: %s, skipping\n", frame.FileName, err)
				return StatusNotReduced, nil
			}
			return StatusNotReduced, err
		}
		path, err:=p.Save(camera, reduced)
		if err!=nil { return StatusNotReduced, err }
		reduced.FileName=path
		p.SolveReduced(ctx, camera, reduced)
		if err:=reduced.WriteFile(path); err!=nil { return StatusNotReduced, err }
		return StatusOK, nil

	case fitsio.IDReducedOn:
		if _,err:=p.Save(camera, frame); err!=nil { return StatusNotReduced, err }
		_, err:=p.StackCamera(camera)
		return StatusOK, err

	case fitsio.IDStacked:
		if _,err:=p.Save(camera, frame); err!=nil { return StatusNotReduced, err }
		_, err:=p.AverageCamera(camera)
		return StatusOK, err
	}
	return StatusNotReduced, fmt.Errorf("unhandled image id %s", id)
}

// pollDomeSync feeds the frame's reported mount azimuth into a commanded
// dome synchronization. A timeout is logged and the frame proceeds
// unsynchronized; processing never blocks on the dome.
func (p *Pipeline) pollDomeSync(frame *fitsio.Frame) {
	if p.DomeSync==nil { return }
	az:=frame.Header.Float(fitsio.KeyMount, 0)
	switch p.DomeSync.Poll(az) {
	case device.SyncDone:
		fmt.Fprintf(p.Log, "dome azimuth synchronized at %.1f\n", az)
		p.DomeSync=nil
	case device.SyncTimedOut:
		fmt.Fprintf(p.Log, "ERROR! dome azimuth sync to %.1f timed out, continuing unsynchronized\n", p.DomeSync.Target)
		p.DomeSync=nil
	}
}

// ProcessBatch runs a batch of frames through Process, reporting each hard
// error as an ERROR! log line and continuing with the next frame
func (p *Pipeline) ProcessBatch(ctx context.Context, camera string, frames []*fitsio.Frame) (failed int) {
	for _,frame:=range frames {
		err:=func() (err error) {
			defer func() {
				if r:=recover(); r!=nil { err=fmt.Errorf("%v", r) }
			}()
			_, err=p.Process(ctx, camera, frame)
			return err
		}()
		if err!=nil {
			fmt.Fprintf(p.Log, "ERROR! %s\n", err)
			failed++
		}
	}
	return failed
}

// Reduce calibrates an on-source frame: master dark subtraction and, when
// configured, division by the normalized master flat. Returns ErrNoMaster
// when the required master dark cannot be found or built.
func (p *Pipeline) Reduce(camera string, frame *fitsio.Frame) (*fitsio.Frame, error) {
	dark, err:=p.MasterDark(camera, frame.Header)
	if err!=nil { return nil, err }

	grids:=make([]*pixel.Grid, len(frame.Grids))
	for i,g:=range frame.Grids {
		dg:=dark.Grids[0]
		if i<len(dark.Grids) { dg=dark.Grids[i] }
		grids[i]=pixel.Subtract(g, dg, combine.DarkFactor(false, 1))
	}

	if p.Config.FlatDivide {
		flat, err:=p.MasterFlat(camera, frame.Header)
		if err!=nil {
			fmt.Fprintf(p.Log, "%s: %s, reducing without flat\n", frame.FileName, err)
		} else {
			for i,g:=range grids {
				fg:=flat.Grids[0]
				if i<len(flat.Grids) { fg=flat.Grids[i] }
				grids[i]=flatDivide(g, fg)
			}
		}
	}

	header:=frame.Header.Clone()
	header.Set(fitsio.KeyImgID, fitsio.IDReducedOn.String(), "")
	return fitsio.NewFrame(grids, header), nil
}

// flatDivide scales each pixel by the mean of the flat over the local flat
// value, the usual flat-field normalization
func flatDivide(g, flat *pixel.Grid) *pixel.Grid {
	mean:=float64(flat.Sum())/float64(len(flat.Data))
	out:=pixel.NewGrid(g.Width, g.Height, g.Depth)
	out.Bzero=g.Bzero
	max:=g.Depth.MaxValue()
	for i,v:=range g.Data {
		f:=flat.Data[i]
		if f<=0 { out.Data[i]=v; continue }
		out.Data[i]=pixel.Clamp(int32(float64(v)*mean/float64(f)+0.5), max)
	}
	return out
}

// SolveReduced runs the best-effort astrometric solve for a reduced frame.
// Missing catalog or missing pointing data degrade to a log line; the frame
// proceeds without a solution.
func (p *Pipeline) SolveReduced(ctx context.Context, camera string, frame *fitsio.Frame) {
	if p.Catalog==nil {
		fmt.Fprintf(p.Log, "%s: no star catalog configured, skipping solve\n", frame.FileName)
		return
	}
	cam, err:=p.Config.CameraByName(camera)
	if err!=nil {
		fmt.Fprintf(p.Log, "%s: %s, skipping solve\n", frame.FileName, err)
		return
	}
	h:=frame.Header
	q:=catalog.Query{
		RA:              h.Float(fitsio.KeyRA, 0),
		Dec:             h.Float(fitsio.KeyDec, 0),
		FieldDeg:        h.Float(fitsio.KeyField, 0),
		Width:           h.Int(fitsio.KeyNaxis1, frame.Grids[0].Width),
		Height:          h.Int(fitsio.KeyNaxis2, frame.Grids[0].Height),
		ScaleArcsec:     cam.ScaleArcsec,
		LimitMag:        cam.LimitMag,
		MaxStars:        cam.MaxStars,
		PointingErrDeg:  cam.PointingErrDeg,
		CenteringErrDeg: cam.CenteringErrDeg,
	}
	if q.FieldDeg<=0 {
		fmt.Fprintf(p.Log, "%s: header lacks FIELD, skipping solve\n", frame.FileName)
		return
	}
	p.Solver.SolveFrame(ctx, frame, p.Extractor, p.Catalog, q)
}

// MasterDark returns the master dark for the frame signature, building it
// lazily from the stored dark frames the first time it is needed
func (p *Pipeline) MasterDark(camera string, h *fitsio.Header) (*fitsio.Frame, error) {
	return p.master(camera, DirDark, Signature(h), false)
}

// MasterFlat returns the master flat for the frame signature, building it
// lazily with flat scaling and master dark subtraction
func (p *Pipeline) MasterFlat(camera string, h *fitsio.Header) (*fitsio.Frame, error) {
	return p.master(camera, DirFlat, Signature(h), true)
}

func (p *Pipeline) master(camera, sub, signature string, isFlat bool) (*fitsio.Frame, error) {
	path:=p.MasterPath(camera, sub, signature)
	if _,err:=os.Stat(path); err==nil {
		return fitsio.ReadFrame(path)
	}

	files, err:=p.listFrames(camera, sub)
	if err!=nil { return nil, err }
	var batch []*fitsio.Frame
	for _,f:=range files {
		h, err:=fitsio.ReadHeader(f)
		if err!=nil {
			fmt.Fprintf(p.Log, "%s: unreadable header: %s\n", f, err)
			continue
		}
		if Signature(h)!=signature { continue }
		frame, err:=fitsio.ReadFrame(f)
		if err!=nil { return nil, err }
		batch=append(batch, frame)
	}
	if len(batch)==0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoMaster, sub, signature)
	}

	method,_:=combine.ParseMethod(p.Config.Combine)
	nPlanes:=len(batch[0].Grids)
	grids:=make([]*pixel.Grid, nPlanes)
	for plane:=0; plane<nPlanes; plane++ {
		planes:=make([]*pixel.Grid, len(batch))
		for i,f:=range batch { planes[i]=f.Grids[plane] }
		var scales []float32
		if isFlat { scales=combine.FlatScales(planes) }
		g, err:=combine.Planes(planes, method, p.Config.Kappa, scales)
		if err!=nil { return nil, err }
		grids[plane]=g
	}

	header:=batch[0].Header.Clone()
	master:=fitsio.NewFrame(grids, header)

	if isFlat {
		dark, err:=p.MasterDark(camera, header)
		if err!=nil {
			return nil, fmt.Errorf("building master flat: %w", err)
		}
		factor:=combine.DarkFactor(false, int32(len(batch)))
		for i,g:=range master.Grids {
			dg:=dark.Grids[0]
			if i<len(dark.Grids) { dg=dark.Grids[i] }
			master.Grids[i]=pixel.Subtract(g, dg, factor)
		}
	}

	fmt.Fprintf(p.Log, "combined %d %s frames into %s\n", len(batch), sub, filepath.Base(path))
	if err:=master.WriteFile(path); err!=nil { return nil, err }
	return master, nil
}

// Frames returns the sorted .fits files of a camera subdirectory,
// excluding master frames
func (p *Pipeline) Frames(camera, sub string) ([]string, error) {
	return p.listFrames(camera, sub)
}

func (p *Pipeline) listFrames(camera, sub string) ([]string, error) {
	entries, err:=os.ReadDir(p.CameraDir(camera, sub))
	if err!=nil {
		if errors.Is(err, fs.ErrNotExist) { return nil, nil }
		return nil, err
	}
	var files []string
	for _,e:=range entries {
		name:=e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".fits") { continue }
		if strings.HasPrefix(name, MasterPrefix) { continue }
		files=append(files, filepath.Join(p.CameraDir(camera, sub), name))
	}
	sort.Strings(files)
	return files, nil
}

// StackCamera stacks the reduced frames not yet consumed by a previous
// stack run. Re-running on an unchanged directory is a no-op.
func (p *Pipeline) StackCamera(camera string) (string, error) {
	batch, err:=p.unconsumed(camera, DirReduced, DirStacked, fitsio.StackedKey)
	if err!=nil { return "", err }
	if len(batch)==0 {
		fmt.Fprintf(p.Log, "%s: no new reduced frames to stack\n", camera)
		return "", nil
	}
	return p.registerBatch(camera, batch, DirStacked, register.Stack)
}

// AverageCamera averages the stacked frames not yet consumed by a previous
// average run
func (p *Pipeline) AverageCamera(camera string) (string, error) {
	batch, err:=p.unconsumed(camera, DirStacked, DirAveraged, fitsio.AveragedKey)
	if err!=nil { return "", err }
	if len(batch)==0 {
		fmt.Fprintf(p.Log, "%s: no new stacked frames to average\n", camera)
		return "", nil
	}
	return p.registerBatch(camera, batch, DirAveraged, register.Average)
}

type registerFunc func([]*fitsio.Frame, register.Options, *wcs.Plate, register.Progress, io.Writer) (*fitsio.Frame, error)

func (p *Pipeline) registerBatch(camera string, batch []*fitsio.Frame, outSub string, reg registerFunc) (string, error) {
	var def *wcs.Plate
	if !batch[0].Solved() {
		d, err:=register.DefaultPlate(batch[0].Header)
		if err==nil { def=d }
	}
	progress:=func(column, total int32) {
		if column==total || column%64==0 {
			fmt.Fprintf(p.Log, "%s: column %d/%d\n", outSub, column, total)
		}
	}
	out, err:=reg(batch, p.Config.RegisterOptions(), def, progress, p.Log)
	if err!=nil { return "", err }

	path:=p.timestampedPath(p.CameraDir(camera, outSub))
	if err:=out.WriteFile(path); err!=nil { return "", err }
	p.preview(path, out.Grids[0])
	fmt.Fprintf(p.Log, "%s: wrote %s from %d frames\n", camera, path, len(batch))
	return path, nil
}

// preview writes the configured export files next to a registered output:
// a JPEG preview in mono or false color, and optionally a full-range
// 16-bit TIFF
func (p *Pipeline) preview(path string, g *pixel.Grid) {
	if p.Config.JPEGQuality>0 && p.Config.PreviewFormat!=PreviewNone {
		jpg:=strings.TrimSuffix(path, ".fits")+".jpg"
		var err error
		if p.Config.PreviewFormat==PreviewFalseColor {
			err=fitsio.WriteFalseColorJPG(jpg, g, p.Config.JPEGQuality)
		} else {
			err=fitsio.WriteMonoJPG(jpg, g, p.Config.JPEGQuality)
		}
		if err!=nil {
			fmt.Fprintf(p.Log, "%s: preview failed: %s\n", path, err)
		}
	}
	if p.Config.TIFFExport {
		tif:=strings.TrimSuffix(path, ".fits")+".tiff"
		if err:=fitsio.WriteTIFF16(tif, g); err!=nil {
			fmt.Fprintf(p.Log, "%s: TIFF export failed: %s\n", path, err)
		}
	}
}

// unconsumed loads the frames of inSub that no previous output in outSub
// lists as a constituent, so re-runs never double-count a frame
func (p *Pipeline) unconsumed(camera, inSub, outSub string, keyFunc func(int) string) ([]*fitsio.Frame, error) {
	outFiles, err:=p.listFrames(camera, outSub)
	if err!=nil { return nil, err }
	var outHeaders []*fitsio.Header
	for _,f:=range outFiles {
		h, err:=fitsio.ReadHeader(f)
		if err!=nil {
			fmt.Fprintf(p.Log, "%s: unreadable header: %s\n", f, err)
			continue
		}
		outHeaders=append(outHeaders, h)
	}
	used:=register.Consumed(outHeaders, keyFunc)

	inFiles, err:=p.listFrames(camera, inSub)
	if err!=nil { return nil, err }
	var batch []*fitsio.Frame
	for _,f:=range inFiles {
		if used[f] || used[filepath.Base(f)] { continue }
		frame, err:=fitsio.ReadFrame(f)
		if err!=nil {
			fmt.Fprintf(p.Log, "%s: unreadable frame: %s\n", f, err)
			continue
		}
		batch=append(batch, frame)
	}
	return batch, nil
}
