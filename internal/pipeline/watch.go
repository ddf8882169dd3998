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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/astrolith/obsmgr/internal/fitsio"
)

// DirIncoming is where device collaborators drop raw frames for the
// watcher to pick up
const DirIncoming = "incoming"

// Watcher feeds frames dropped into a camera's incoming directory onto the
// pipeline worker, in arrival order
type Watcher struct {
	fsw    *fsnotify.Watcher
	pipe   *Pipeline
	worker *Worker
	camera string
}

// NewWatcher starts watching the camera's incoming directory, creating it
// if necessary
func NewWatcher(p *Pipeline, worker *Worker, camera string) (*Watcher, error) {
	dir:=p.CameraDir(camera, DirIncoming)
	if err:=os.MkdirAll(dir, 0755); err!=nil { return nil, err }
	fsw, err:=fsnotify.NewWatcher()
	if err!=nil { return nil, err }
	if err:=fsw.Add(dir); err!=nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, pipe: p, worker: worker, camera: camera}, nil
}

// Run dispatches incoming files until the context is cancelled or the
// watcher is closed
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok:=<-w.fsw.Events:
			if !ok { return }
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) { continue }
			name:=event.Name
			if !strings.HasSuffix(strings.ToLower(name), ".fits") { continue }
			if err:=w.worker.Enqueue(func() { w.ingest(ctx, name) }); err!=nil {
				fmt.Fprintf(w.pipe.Log, "ERROR! %s: %s\n", name, err)
			}
		case err, ok:=<-w.fsw.Errors:
			if !ok { return }
			fmt.Fprintf(w.pipe.Log, "ERROR! watching %s: %s\n", w.camera, err)
		}
	}
}

// ingest reads a dropped frame, removes it from the incoming directory and
// runs it through the pipeline
func (w *Watcher) ingest(ctx context.Context, path string) {
	frame, err:=fitsio.ReadFrame(path)
	if err!=nil {
		fmt.Fprintf(w.pipe.Log, "ERROR! %s: %s\n", path, err)
		return
	}
	if _,err:=w.pipe.Process(ctx, w.camera, frame); err!=nil {
		fmt.Fprintf(w.pipe.Log, "ERROR! %s: %s\n", path, err)
		return
	}
	if err:=os.Remove(path); err!=nil {
		fmt.Fprintf(w.pipe.Log, "%s: cannot remove ingested file: %s\n", filepath.Base(path), err)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error { return w.fsw.Close() }
