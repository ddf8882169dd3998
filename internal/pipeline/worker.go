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
	"fmt"
	"sync"
)

// Worker is the single background goroutine that drains the FIFO queue of
// pipeline requests. All grid and header mutation happens on it; nothing in
// the pipeline is safe for concurrent invocation, and the queue is the only
// synchronization. Stages of one frame run to completion before the next
// queued request starts.
type Worker struct {
	jobs    chan func()
	once    sync.Once
	done    chan struct{}
}

// NewWorker starts the worker with the given queue capacity
func NewWorker(capacity int) *Worker {
	w:=&Worker{
		jobs: make(chan func(), capacity),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for job:=range w.jobs {
		job()
	}
}

// Enqueue appends a request to the queue. Returns an error when the queue
// is full rather than blocking the caller: device and UI callers must stay
// responsive even when the pipeline is behind.
func (w *Worker) Enqueue(job func()) error {
	select {
	case w.jobs<-job:
		return nil
	default:
		return fmt.Errorf("pipeline queue is full")
	}
}

// Sync enqueues a job and waits for it to complete, blocking the caller
// until every previously queued request has drained
func (w *Worker) Sync(job func()) error {
	ch:=make(chan struct{})
	if err:=w.Enqueue(func() { job(); close(ch) }); err!=nil {
		return err
	}
	<-ch
	return nil
}

// Close stops accepting requests and waits for the queue to drain
func (w *Worker) Close() {
	w.once.Do(func() { close(w.jobs) })
	<-w.done
}
