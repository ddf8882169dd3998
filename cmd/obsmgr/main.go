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

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pipeline"
	"github.com/astrolith/obsmgr/internal/rest"
)

const version = "0.1.0"

var totalMiBs=memory.TotalMemory()/1024/1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var config = flag.String("config", "obsmgr.yaml", "read configuration from `file`")
var camera = flag.String("camera", "", "operate on the given camera, default: first configured camera")
var logF   = flag.String("log", "", "log output to `file` in addition to stdout")
var addr   = flag.String("addr", ":8080", "HTTP listen address for the serve command")
var queue  = flag.Int("queue", 64, "pipeline request queue capacity")

func main() {
	start:=time.Now()
	flag.Usage=func(){
		fmt.Fprintf(os.Stdout, `Obsmgr Copyright (c) 2026 The obsmgr authors
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (reduce|stack|average|serve|watch|legal|version) (img0.fits ... imgn.fits)

Commands:
  reduce  Run the given frames through the reduction pipeline
  solve   Solve the given reduced frames astrometrically, in place
  stack   Stack reduced frames not consumed by an earlier stack
  average Average stacked frames not consumed by an earlier average
  serve   Start the HTTP API and the incoming directory watchers
  watch   Watch the incoming directories without the HTTP API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logWriter, logClose, err:=teeLog(*logF)
	if err!=nil {
		fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logF, err)
		os.Exit(1)
	}
	defer logClose()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	switch args[0] {
	case "legal":
		fmt.Fprintf(logWriter, "%s\n", legal)
		return
	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		return
	case "help", "?":
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "Running on %s with %d physical, %d logical cores and %d MiB of memory\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, totalMiBs)

	cfg, err:=pipeline.LoadConfig(*config)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error loading configuration: %s\n", err.Error())
		os.Exit(-1)
	}
	pipe, err:=pipeline.New(cfg, logWriter)
	if err!=nil {
		fmt.Fprintf(logWriter, "Error opening pipeline: %s\n", err.Error())
		os.Exit(-1)
	}
	defer pipe.Close()

	worker:=pipeline.NewWorker(*queue)
	defer worker.Close()

	cam:=*camera
	if cam=="" && len(cfg.Cameras)>0 { cam=cfg.Cameras[0].Name }

	switch args[0] {
	case "reduce":
		files, err:=globFiles(args[1:])
		if err!=nil {
			fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
			os.Exit(-1)
		}
		cmdReduce(pipe, worker, cam, files, logWriter)

	case "solve":
		files, err:=globFiles(args[1:])
		if err!=nil {
			fmt.Fprintf(logWriter, "Error globbing filenames: %s\n", err.Error())
			os.Exit(-1)
		}
		cmdSolve(pipe, worker, cam, files, logWriter)

	case "stack":
		cmdRegister(pipe, worker, cam, logWriter, (*pipeline.Pipeline).StackCamera)

	case "average":
		cmdRegister(pipe, worker, cam, logWriter, (*pipeline.Pipeline).AverageCamera)

	case "serve":
		ctx, cancel:=watchAll(pipe, worker, cfg, logWriter)
		defer cancel()
		srv:=rest.NewServer(pipe, worker)
		if err:=srv.Serve(*addr); err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		}
		<-ctx.Done()

	case "watch":
		ctx, cancel:=watchAll(pipe, worker, cfg, logWriter)
		defer cancel()
		<-ctx.Done()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed:=time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not write memory profile: %s\n", err)
		}
	}
}

// teeLog returns a writer to stdout and, when fileName is set, also to the
// given file
func teeLog(fileName string) (io.Writer, func(), error) {
	if fileName=="" { return os.Stdout, func(){}, nil }
	f, err:=os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err!=nil { return nil, nil, err }
	buf:=bufio.NewWriter(f)
	closeFn:=func() {
		buf.Flush()
		f.Close()
	}
	return io.MultiWriter(os.Stdout, buf), closeFn, nil
}

// globFiles expands the filename patterns given on the command line
func globFiles(patterns []string) ([]string, error) {
	var files []string
	for _,p:=range patterns {
		matches, err:=filepath.Glob(p)
		if err!=nil { return nil, err }
		if len(matches)==0 {
			return nil, fmt.Errorf("%s matches no files", p)
		}
		files=append(files, matches...)
	}
	return files, nil
}

func cmdReduce(pipe *pipeline.Pipeline, worker *pipeline.Worker, cam string, files []string, logWriter io.Writer) {
	var frames []*fitsio.Frame
	for _,f:=range files {
		frame, err:=fitsio.ReadFrame(f)
		if err!=nil {
			fmt.Fprintf(logWriter, "ERROR! %s: %s\n", f, err.Error())
			continue
		}
		frames=append(frames, frame)
	}
	fmt.Fprintf(logWriter, "Reducing %d frames for camera %s\n", len(frames), cam)
	err:=worker.Sync(func() {
		if failed:=pipe.ProcessBatch(context.Background(), cam, frames); failed>0 {
			fmt.Fprintf(logWriter, "%d of %d frames failed\n", failed, len(frames))
		}
	})
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
}

func cmdSolve(pipe *pipeline.Pipeline, worker *pipeline.Worker, cam string, files []string, logWriter io.Writer) {
	err:=worker.Sync(func() {
		for _,f:=range files {
			frame, err:=fitsio.ReadFrame(f)
			if err!=nil {
				fmt.Fprintf(logWriter, "ERROR! %s: %s\n", f, err.Error())
				continue
			}
			pipe.SolveReduced(context.Background(), cam, frame)
			if err:=frame.WriteFile(f); err!=nil {
				fmt.Fprintf(logWriter, "ERROR! %s: %s\n", f, err.Error())
			}
		}
	})
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
}

func cmdRegister(pipe *pipeline.Pipeline, worker *pipeline.Worker, cam string, logWriter io.Writer, run func(*pipeline.Pipeline, string) (string, error)) {
	err:=worker.Sync(func() {
		path, err:=run(pipe, cam)
		if err!=nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			return
		}
		if path!="" {
			fmt.Fprintf(logWriter, "Wrote %s\n", path)
		}
	})
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
}

// watchAll starts a directory watcher per configured camera and cancels on
// SIGINT or SIGTERM
func watchAll(pipe *pipeline.Pipeline, worker *pipeline.Worker, cfg *pipeline.Config, logWriter io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel:=signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	for _,cam:=range cfg.Cameras {
		w, err:=pipeline.NewWatcher(pipe, worker, cam.Name)
		if err!=nil {
			fmt.Fprintf(logWriter, "ERROR! watching %s: %s\n", cam.Name, err.Error())
			continue
		}
		fmt.Fprintf(logWriter, "Watching %s\n", pipe.CameraDir(cam.Name, pipeline.DirIncoming))
		go func() {
			defer w.Close()
			w.Run(ctx)
		}()
	}
	return ctx, cancel
}
