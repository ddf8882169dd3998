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

// Package device holds the synchronization primitives the pipeline needs
// from observatory hardware. Device protocol drivers live elsewhere; what
// matters here is waiting for an external device to reach a commanded
// state, bounded by a wall-clock deadline, without blocking on real time
// in tests.
package device

import (
	"math"
	"time"
)

// SyncDeadline bounds how long the pipeline polls for an external device
// to reach its commanded state before giving up
const SyncDeadline = 10*time.Minute

// Clock abstracts wall-clock time so synchronization deadlines are
// testable without sleeping
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// SyncState is the lifecycle of one synchronization wait
type SyncState int

const (
	SyncPending SyncState = iota
	SyncDone
	SyncTimedOut
	SyncCancelled
)

var syncNames = map[SyncState]string{
	SyncPending:   "pending",
	SyncDone:      "done",
	SyncTimedOut:  "timedOut",
	SyncCancelled: "cancelled",
}

func (s SyncState) String() string { return syncNames[s] }

// AzimuthSync waits for the dome azimuth to match the telescope azimuth.
// The orchestrator polls it with the current reading; the state machine
// carries the deadline, so one poll loop serves tests with a fake clock
// and production with the real one. Not safe for concurrent use; the
// single pipeline worker owns it.
type AzimuthSync struct {
	Target    float64 // commanded azimuth, degrees
	Tolerance float64 // acceptable mismatch, degrees

	clock    Clock
	deadline time.Time
	state    SyncState
}

// NewAzimuthSync starts a synchronization wait for the given target
// azimuth. A nil clock selects the real one.
func NewAzimuthSync(target, tolerance float64, clock Clock) *AzimuthSync {
	if clock==nil { clock=RealClock{} }
	return &AzimuthSync{
		Target:    target,
		Tolerance: tolerance,
		clock:     clock,
		deadline:  clock.Now().Add(SyncDeadline),
		state:     SyncPending,
	}
}

// Poll feeds the current azimuth reading into the state machine and
// returns the resulting state. Once the sync leaves SyncPending, further
// polls do not change it.
func (s *AzimuthSync) Poll(currentAz float64) SyncState {
	if s.state!=SyncPending { return s.state }
	if azimuthDiff(currentAz, s.Target)<=s.Tolerance {
		s.state=SyncDone
	} else if s.clock.Now().After(s.deadline) {
		s.state=SyncTimedOut
	}
	return s.state
}

// Cancel aborts a pending sync
func (s *AzimuthSync) Cancel() {
	if s.state==SyncPending { s.state=SyncCancelled }
}

func (s *AzimuthSync) State() SyncState { return s.state }

// Remaining returns the time left before the deadline, 0 when expired
func (s *AzimuthSync) Remaining() time.Duration {
	d:=s.deadline.Sub(s.clock.Now())
	if d<0 { return 0 }
	return d
}

// azimuthDiff returns the absolute angular difference of two azimuths,
// wrapped to [0, 180]
func azimuthDiff(a, b float64) float64 {
	d:=math.Mod(math.Abs(a-b), 360)
	if d>180 { d=360-d }
	return d
}
