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

package device

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time            { return c.now }
func (c *fakeClock) advance(d time.Duration)   { c.now=c.now.Add(d) }

func TestSyncReachesTarget(t *testing.T) {
	clock:=&fakeClock{now: time.Unix(1000, 0)}
	s:=NewAzimuthSync(180, 2, clock)

	if got:=s.Poll(90); got!=SyncPending { t.Fatalf("got %s expected pending", got) }
	clock.advance(time.Minute)
	if got:=s.Poll(179); got!=SyncDone { t.Fatalf("got %s expected done", got) }
	// terminal state sticks
	if got:=s.Poll(0); got!=SyncDone { t.Errorf("got %s after done", got) }
}

func TestSyncTimesOutAfterTenMinutes(t *testing.T) {
	clock:=&fakeClock{now: time.Unix(1000, 0)}
	s:=NewAzimuthSync(180, 2, clock)

	clock.advance(9*time.Minute)
	if got:=s.Poll(90); got!=SyncPending { t.Fatalf("got %s expected pending at 9 minutes", got) }
	clock.advance(61*time.Second)
	if got:=s.Poll(90); got!=SyncTimedOut { t.Fatalf("got %s expected timeout", got) }
	// a late correct reading does not resurrect the sync
	if got:=s.Poll(180); got!=SyncTimedOut { t.Errorf("got %s after timeout", got) }
}

func TestSyncCancel(t *testing.T) {
	clock:=&fakeClock{now: time.Unix(1000, 0)}
	s:=NewAzimuthSync(180, 2, clock)
	s.Cancel()
	if got:=s.State(); got!=SyncCancelled { t.Fatalf("got %s expected cancelled", got) }
	if got:=s.Poll(180); got!=SyncCancelled { t.Errorf("got %s after cancel", got) }
}

func TestSyncWraparound(t *testing.T) {
	clock:=&fakeClock{now: time.Unix(1000, 0)}
	s:=NewAzimuthSync(359, 2, clock)
	if got:=s.Poll(1); got!=SyncDone { t.Errorf("got %s, 359 vs 1 is within 2 degrees", got) }
}

func TestRemaining(t *testing.T) {
	clock:=&fakeClock{now: time.Unix(1000, 0)}
	s:=NewAzimuthSync(180, 2, clock)
	if got:=s.Remaining(); got!=SyncDeadline { t.Errorf("got %s expected %s", got, SyncDeadline) }
	clock.advance(11*time.Minute)
	if got:=s.Remaining(); got!=0 { t.Errorf("got %s expected 0", got) }
}
