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

package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrolith/obsmgr/internal/device"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pixel"
)

func testPipelineLog(t *testing.T, logWriter io.Writer) *Pipeline {
	t.Helper()
	cfg:=DefaultConfig()
	cfg.WorkDir=t.TempDir()
	cfg.JPEGQuality=0
	if err:=cfg.Validate(); err!=nil { t.Fatalf("config: %s", err) }
	p, err:=New(cfg, logWriter)
	if err!=nil { t.Fatalf("new: %s", err) }
	t.Cleanup(func() { p.Close() })
	return p
}

func testPipeline(t *testing.T) *Pipeline {
	return testPipelineLog(t, io.Discard)
}

// testFrame builds an 8-bit frame with uniform pixel values and the headers
// every pipeline stage needs
func testFrame(id fitsio.ImageID, w, h, value int32) *fitsio.Frame {
	g:=pixel.NewGrid(w, h, pixel.Depth8)
	for i:=range g.Data { g.Data[i]=value }
	hd:=fitsio.NewHeader()
	hd.Set(fitsio.KeyImgID, id.String(), "")
	hd.Set(fitsio.KeyISO, int32(800), "")
	hd.Set(fitsio.KeyTime, 10.0, "")
	hd.Set(fitsio.KeyRaw, false, "")
	hd.Set(fitsio.KeyField, 0.5, "")
	hd.Set(fitsio.KeyRA, 120.0, "")
	hd.Set(fitsio.KeyDec, 45.0, "")
	return fitsio.NewFrame([]*pixel.Grid{g}, hd)
}

func TestSignature(t *testing.T) {
	f:=testFrame(fitsio.IDDark, 4, 4, 0)
	if got:=Signature(f.Header); got!="800_10_0" {
		t.Errorf("got %q expected 800_10_0", got)
	}
	f.Header.Set(fitsio.KeyBulbTime, 120.5, "")
	f.Header.Set(fitsio.KeyRaw, true, "")
	if got:=Signature(f.Header); got!="800_120p5_1" {
		t.Errorf("got %q expected 800_120p5_1", got)
	}
}

// Offering an on-source frame with no dark ever combined must skip the
// reduction with status 1 and must not raise
func TestMissingMasterDark(t *testing.T) {
	p:=testPipeline(t)
	status, err:=p.Process(context.Background(), "cam1", testFrame(fitsio.IDOnSource, 16, 16, 100))
	if err!=nil { t.Fatalf("process: %s", err) }
	if status!=StatusNotReduced { t.Errorf("got status %d expected %d", status, StatusNotReduced) }

	reduced, err:=p.listFrames("cam1", DirReduced)
	if err!=nil { t.Fatalf("list: %s", err) }
	if len(reduced)!=0 { t.Errorf("reduced/ has %d files expected 0", len(reduced)) }
	// the raw frame itself is kept
	on, err:=p.listFrames("cam1", DirOn)
	if err!=nil { t.Fatalf("list: %s", err) }
	if len(on)!=1 { t.Errorf("on/ has %d files expected 1", len(on)) }
}

func TestReduceWithMasterDark(t *testing.T) {
	p:=testPipeline(t)
	ctx:=context.Background()

	for i:=0; i<3; i++ {
		if _,err:=p.Process(ctx, "cam1", testFrame(fitsio.IDDark, 16, 16, 20)); err!=nil {
			t.Fatalf("dark %d: %s", i, err)
		}
	}
	status, err:=p.Process(ctx, "cam1", testFrame(fitsio.IDOnSource, 16, 16, 100))
	if err!=nil { t.Fatalf("process: %s", err) }
	if status!=StatusOK { t.Fatalf("got status %d expected 0", status) }

	// master created lazily under the filename convention
	master:=p.MasterPath("cam1", DirDark, "800_10_0")
	if _,err:=os.Stat(master); err!=nil { t.Errorf("master dark not written: %s", err) }

	files, err:=p.listFrames("cam1", DirReduced)
	if err!=nil { t.Fatalf("list: %s", err) }
	if len(files)!=1 { t.Fatalf("reduced/ has %d files expected 1", len(files)) }
	frame, err:=fitsio.ReadFrame(files[0])
	if err!=nil { t.Fatalf("read: %s", err) }
	if v:=frame.Grids[0].At(8, 8); v!=80 {
		t.Errorf("reduced pixel: got %d expected 80", v)
	}
	if id,_:=frame.ID(); id!=fitsio.IDReducedOn {
		t.Errorf("image id %s expected reduced-on", id)
	}
}

func TestMasterReused(t *testing.T) {
	p:=testPipeline(t)
	ctx:=context.Background()
	if _,err:=p.Process(ctx, "cam1", testFrame(fitsio.IDDark, 16, 16, 20)); err!=nil {
		t.Fatalf("dark: %s", err)
	}
	if _,err:=p.MasterDark("cam1", testFrame(fitsio.IDOnSource, 16, 16, 0).Header); err!=nil {
		t.Fatalf("first master: %s", err)
	}
	// a second lookup must read the cached file, not rebuild
	before, _:=os.Stat(p.MasterPath("cam1", DirDark, "800_10_0"))
	if _,err:=p.MasterDark("cam1", testFrame(fitsio.IDOnSource, 16, 16, 0).Header); err!=nil {
		t.Fatalf("second master: %s", err)
	}
	after, _:=os.Stat(p.MasterPath("cam1", DirDark, "800_10_0"))
	if !after.ModTime().Equal(before.ModTime()) { t.Errorf("master rebuilt on second lookup") }
}

// Re-running the stack on an unchanged directory must produce no new output
func TestStackIdempotence(t *testing.T) {
	p:=testPipeline(t)
	ctx:=context.Background()

	if _,err:=p.Process(ctx, "cam1", testFrame(fitsio.IDReducedOn, 32, 32, 50)); err!=nil {
		t.Fatalf("reduced 1: %s", err)
	}
	stacked, err:=p.listFrames("cam1", DirStacked)
	if err!=nil { t.Fatalf("list: %s", err) }
	if len(stacked)!=1 { t.Fatalf("stacked/ has %d files expected 1", len(stacked)) }

	// unchanged directory: no-op
	out, err:=p.StackCamera("cam1")
	if err!=nil { t.Fatalf("restack: %s", err) }
	if out!="" { t.Errorf("restack produced %s, expected no output", out) }
	stacked, _=p.listFrames("cam1", DirStacked)
	if len(stacked)!=1 { t.Errorf("stacked/ has %d files expected 1 after restack", len(stacked)) }

	// a new reduced frame stacks again, excluding the consumed one
	if _,err:=p.Process(ctx, "cam1", testFrame(fitsio.IDReducedOn, 32, 32, 70)); err!=nil {
		t.Fatalf("reduced 2: %s", err)
	}
	stacked, _=p.listFrames("cam1", DirStacked)
	if len(stacked)!=2 { t.Errorf("stacked/ has %d files expected 2", len(stacked)) }

	last, err:=fitsio.ReadFrame(stacked[len(stacked)-1])
	if err!=nil { t.Fatalf("read: %s", err) }
	if files:=last.Header.FileList(fitsio.StackedKey); len(files)!=1 {
		t.Errorf("second stack consumed %d frames expected 1", len(files))
	}
}

func TestAverageStage(t *testing.T) {
	p:=testPipeline(t)
	ctx:=context.Background()
	if _,err:=p.Process(ctx, "cam1", testFrame(fitsio.IDStacked, 32, 32, 60)); err!=nil {
		t.Fatalf("stacked: %s", err)
	}
	files, err:=p.listFrames("cam1", DirAveraged)
	if err!=nil { t.Fatalf("list: %s", err) }
	if len(files)!=1 { t.Fatalf("averaged/ has %d files expected 1", len(files)) }
	frame, err:=fitsio.ReadFrame(files[0])
	if err!=nil { t.Fatalf("read: %s", err) }
	if v:=frame.Grids[0].At(16, 16); v<59 || v>61 {
		t.Errorf("averaged pixel: got %d expected 60 within 1", v)
	}
}

func TestProcessBatchContinuesOnError(t *testing.T) {
	p:=testPipeline(t)
	bad:=testFrame(fitsio.IDDark, 8, 8, 0)
	bad.Header.Set(fitsio.KeyImgID, "bogus", "")
	good:=testFrame(fitsio.IDDark, 8, 8, 10)

	failed:=p.ProcessBatch(context.Background(), "cam1", []*fitsio.Frame{bad, good})
	if failed!=1 { t.Errorf("got %d failures expected 1", failed) }
	files, _:=p.listFrames("cam1", DirDark)
	if len(files)!=1 { t.Errorf("dark/ has %d files expected 1", len(files)) }
}

// stepClock is a manually advanced device.Clock
type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestDomeSyncTimeoutContinues(t *testing.T) {
	var log bytes.Buffer
	p:=testPipelineLog(t, &log)
	clk:=&stepClock{now: time.Now()}
	p.DomeSync=device.NewAzimuthSync(180, 1, clk)
	clk.now=clk.now.Add(device.SyncDeadline+time.Second)

	frame:=testFrame(fitsio.IDOnSource, 16, 16, 100)
	frame.Header.Set(fitsio.KeyMount, 90.0, "")
	if _,err:=p.Process(context.Background(), "cam1", frame); err!=nil {
		t.Fatalf("process: %s", err)
	}
	if p.DomeSync!=nil { t.Errorf("sync not cleared after timeout") }
	if !strings.Contains(log.String(), "ERROR! dome azimuth sync") {
		t.Errorf("timeout not logged: %q", log.String())
	}
	// the frame itself was still taken in
	on, _:=p.listFrames("cam1", DirOn)
	if len(on)!=1 { t.Errorf("on/ has %d files expected 1", len(on)) }
}

func TestDomeSyncReached(t *testing.T) {
	var log bytes.Buffer
	p:=testPipelineLog(t, &log)
	p.DomeSync=device.NewAzimuthSync(90, 1, &stepClock{now: time.Now()})

	frame:=testFrame(fitsio.IDOnSource, 16, 16, 100)
	frame.Header.Set(fitsio.KeyMount, 90.2, "")
	if _,err:=p.Process(context.Background(), "cam1", frame); err!=nil {
		t.Fatalf("process: %s", err)
	}
	if p.DomeSync!=nil { t.Errorf("sync not cleared after reaching target") }
	if !strings.Contains(log.String(), "dome azimuth synchronized") {
		t.Errorf("sync not logged: %q", log.String())
	}
}

func TestPreviewExports(t *testing.T) {
	p:=testPipeline(t)
	p.Config.JPEGQuality=90
	p.Config.PreviewFormat=PreviewFalseColor
	p.Config.TIFFExport=true

	if _,err:=p.Process(context.Background(), "cam1", testFrame(fitsio.IDReducedOn, 32, 32, 50)); err!=nil {
		t.Fatalf("process: %s", err)
	}
	stacked, err:=p.listFrames("cam1", DirStacked)
	if err!=nil || len(stacked)!=1 { t.Fatalf("stacked: %v %s", stacked, err) }
	base:=strings.TrimSuffix(stacked[0], ".fits")
	if _,err:=os.Stat(base+".jpg"); err!=nil { t.Errorf("false-color preview missing: %s", err) }
	if _,err:=os.Stat(base+".tiff"); err!=nil { t.Errorf("TIFF export missing: %s", err) }
}

func TestWorkerFIFO(t *testing.T) {
	w:=NewWorker(16)
	defer w.Close()

	var order []int
	for i:=0; i<5; i++ {
		i:=i
		if err:=w.Enqueue(func() { order=append(order, i) }); err!=nil {
			t.Fatalf("enqueue %d: %s", i, err)
		}
	}
	if err:=w.Sync(func() {}); err!=nil { t.Fatalf("sync: %s", err) }
	for i,v:=range order {
		if v!=i { t.Fatalf("order %v not FIFO", order) }
	}
}

func TestWorkerQueueFull(t *testing.T) {
	w:=NewWorker(1)
	defer w.Close()
	started:=make(chan struct{})
	block:=make(chan struct{})
	w.Enqueue(func() { close(started); <-block })
	<-started
	if err:=w.Enqueue(func() {}); err!=nil { t.Fatalf("enqueue into free slot: %s", err) }
	err:=w.Enqueue(func() {})
	close(block)
	if err==nil { t.Errorf("expected queue full error") }
}

func TestConfigValidation(t *testing.T) {
	cfg:=DefaultConfig()
	if err:=cfg.Validate(); err==nil { t.Errorf("expected missing workDir error") }

	cfg.WorkDir=t.TempDir()
	if err:=cfg.Validate(); err!=nil { t.Errorf("valid config rejected: %s", err) }

	cfg.Cameras=[]Camera{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	if err:=cfg.Validate(); err==nil { t.Errorf("expected too many cameras error") }
	cfg.Cameras=nil

	cfg.Combine="bogus"
	if err:=cfg.Validate(); err==nil { t.Errorf("expected bad combine method error") }
	cfg.Combine=DefaultConfig().Combine

	cfg.Drizzle=1.5
	if err:=cfg.Validate(); err==nil { t.Errorf("expected bad drizzle error") }
	cfg.Drizzle=1

	cfg.PreviewFormat="sepia"
	if err:=cfg.Validate(); err==nil { t.Errorf("expected bad preview format error") }
}

func TestLoadConfig(t *testing.T) {
	dir:=t.TempDir()
	path:=filepath.Join(dir, "obsmgr.yaml")
	content:="workDir: "+dir+"\ncombineMethod: median\ndrizzle: 2\ncameras:\n  - name: cam1\n    scaleArcsec: 2.5\n"
	if err:=os.WriteFile(path, []byte(content), 0644); err!=nil { t.Fatalf("write: %s", err) }

	cfg, err:=LoadConfig(path)
	if err!=nil { t.Fatalf("load: %s", err) }
	if cfg.Combine!="median" || cfg.Drizzle!=2 { t.Errorf("got %+v", cfg) }
	if len(cfg.Cameras)!=1 || cfg.Cameras[0].ScaleArcsec!=2.5 { t.Errorf("cameras: %+v", cfg.Cameras) }
	// defaults fill the rest
	if cfg.Average!=DefaultConfig().Average { t.Errorf("average default lost") }
}

func TestWatcherSetup(t *testing.T) {
	p:=testPipeline(t)
	w:=NewWorker(4)
	defer w.Close()
	watcher, err:=NewWatcher(p, w, "cam1")
	if err!=nil { t.Fatalf("watcher: %s", err) }
	defer watcher.Close()
	if _,err:=os.Stat(p.CameraDir("cam1", DirIncoming)); err!=nil {
		t.Errorf("incoming dir not created: %s", err)
	}
}
