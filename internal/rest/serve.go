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

// Package rest exposes the pipeline over HTTP. Every request that touches
// frames or configuration runs on the single pipeline worker; handlers only
// marshal arguments and wait.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/astrolith/obsmgr/internal/device"
	"github.com/astrolith/obsmgr/internal/fitsio"
	"github.com/astrolith/obsmgr/internal/pipeline"
)

// Server binds the HTTP surface to a pipeline and its worker
type Server struct {
	Pipe   *pipeline.Pipeline
	Worker *pipeline.Worker
}

func NewServer(pipe *pipeline.Pipeline, worker *pipeline.Worker) *Server {
	return &Server{Pipe: pipe, Worker: worker}
}

// Router builds the gin engine with all API routes
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",    getPing)
			v1.GET ("/config",  s.getConfig)
			v1.POST("/config",  s.postConfig)
			v1.GET ("/status",  s.getStatus)
			v1.POST("/process", s.postProcess)
			v1.POST("/stack",   s.postStack)
			v1.POST("/average", s.postAverage)
			v1.GET ("/domesync", s.getDomeSync)
			v1.POST("/domesync", s.postDomeSync)
		}
	}
	return r
}

// Serve listens on the given address until the listener fails
func (s *Server) Serve(addr string) error {
	return s.Router().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func (s *Server) getConfig(c *gin.Context) {
	var cfg pipeline.Config
	err:=s.Worker.Sync(func() { cfg=*s.Pipe.Config })
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, &cfg)
}

// postConfig replaces the configuration as a whole. The swap happens on the
// worker so no reduction ever sees a half-updated configuration.
func (s *Server) postConfig(c *gin.Context) {
	var cfg pipeline.Config
	if err:=c.ShouldBind(&cfg); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if err:=cfg.Validate(); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	err:=s.Worker.Sync(func() { *s.Pipe.Config=cfg })
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, &cfg)
}

func (s *Server) getStatus(c *gin.Context) {
	type cameraStatus struct {
		Name   string         `json:"name"`
		Frames map[string]int `json:"frames"`
	}
	var cams []cameraStatus
	err:=s.Worker.Sync(func() {
		for _,cam:=range s.Pipe.Config.Cameras {
			st:=cameraStatus{Name: cam.Name, Frames: map[string]int{}}
			for _,sub:=range []string{
				pipeline.DirDark, pipeline.DirFlat, pipeline.DirOn,
				pipeline.DirReduced, pipeline.DirStacked, pipeline.DirAveraged,
			} {
				files, err:=s.Pipe.Frames(cam.Name, sub)
				if err!=nil { continue }
				st.Frames[sub]=len(files)
			}
			cams=append(cams, st)
		}
	})
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cams})
}

type postDomeSyncArgs struct {
	Target    float64 `json:"target"`
	Tolerance float64 `json:"tolerance"`
}

// postDomeSync commands a dome azimuth synchronization; the pipeline polls
// it before each on-source frame
func (s *Server) postDomeSync(c *gin.Context) {
	var args postDomeSyncArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if args.Tolerance<=0 { args.Tolerance=1 }
	err:=s.Worker.Sync(func() {
		s.Pipe.DomeSync=device.NewAzimuthSync(args.Target, args.Tolerance, s.Pipe.Clock)
	})
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": device.SyncPending.String()})
}

func (s *Server) getDomeSync(c *gin.Context) {
	state:="none"
	var remaining float64
	err:=s.Worker.Sync(func() {
		if s.Pipe.DomeSync!=nil {
			state=s.Pipe.DomeSync.State().String()
			remaining=s.Pipe.DomeSync.Remaining().Seconds()
		}
	})
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state, "remainingSeconds": remaining})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postProcessArgs struct {
	Camera string   `json:"camera"`
	Files  []string `json:"files"`
}

// postProcess runs stored frames through the full pipeline, streaming the
// log back as plain text
func (s *Server) postProcess(c *gin.Context) {
	logWriter := c.Writer
	var args postProcessArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	var frames []*fitsio.Frame
	for _,f:=range args.Files {
		frame, err:=fitsio.ReadFrame(f)
		if err!=nil {
			fmt.Fprintf(logWriter, "ERROR! %s: %s\n", f, err.Error())
			continue
		}
		frames=append(frames, frame)
	}

	err:=s.Worker.Sync(func() {
		prev:=s.Pipe.Log
		s.Pipe.Log=io.MultiWriter(prev, logWriter)
		defer func() { s.Pipe.Log=prev }()
		if failed:=s.Pipe.ProcessBatch(c.Request.Context(), args.Camera, frames); failed>0 {
			fmt.Fprintf(logWriter, "%d of %d frames failed\n", failed, len(frames))
		}
	})
	if err!=nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

type postRegisterArgs struct {
	Camera string `json:"camera"`
}

func (s *Server) postStack(c *gin.Context) {
	s.register(c, (*pipeline.Pipeline).StackCamera)
}

func (s *Server) postAverage(c *gin.Context) {
	s.register(c, (*pipeline.Pipeline).AverageCamera)
}

func (s *Server) register(c *gin.Context, run func(*pipeline.Pipeline, string) (string, error)) {
	var args postRegisterArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	var path string
	var runErr error
	err:=s.Worker.Sync(func() { path, runErr=run(s.Pipe, args.Camera) })
	if err!=nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error() } )
		return
	}
	if runErr!=nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": runErr.Error() } )
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": path})
}
