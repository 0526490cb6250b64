// frame-classifier - classify live camera preview frames on device
//  Copyright (C) 2021, The Cacophony Project
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
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package admission decides whether an arriving frame may be processed.
// At most one frame is in flight at a time and frames that arrive while
// one is being processed are dropped rather than queued, so results are
// always for the freshest frame the worker could take.
package admission

import "sync/atomic"

type State int32

const (
	Idle State = iota
	Busy
)

func (s State) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// Limiter can refuse a frame that would otherwise be admitted.
type Limiter interface {
	Allow() bool
}

type Stats struct {
	Admitted  uint64
	Dropped   uint64
	Throttled uint64
}

// Controller is safe to use from multiple goroutines. Writes made by the
// goroutine that wins TryAdmit are visible to the goroutine that later
// observes the frame, and writes made before Done are visible to the next
// winner of TryAdmit.
type Controller struct {
	state     int32
	limiter   Limiter
	admitted  uint64
	dropped   uint64
	throttled uint64
}

// New returns an idle controller. limiter may be nil.
func New(limiter Limiter) *Controller {
	return &Controller{limiter: limiter}
}

// TryAdmit moves the controller from Idle to Busy and reports whether it
// did. The caller owns the frame slot until it calls Done.
func (c *Controller) TryAdmit() bool {
	if !atomic.CompareAndSwapInt32(&c.state, int32(Idle), int32(Busy)) {
		atomic.AddUint64(&c.dropped, 1)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		atomic.StoreInt32(&c.state, int32(Idle))
		atomic.AddUint64(&c.throttled, 1)
		return false
	}
	atomic.AddUint64(&c.admitted, 1)
	return true
}

// Done marks the controller ready for the next frame. Calling it while
// idle has no effect.
func (c *Controller) Done() {
	atomic.StoreInt32(&c.state, int32(Idle))
}

func (c *Controller) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Controller) Stats() Stats {
	return Stats{
		Admitted:  atomic.LoadUint64(&c.admitted),
		Dropped:   atomic.LoadUint64(&c.dropped),
		Throttled: atomic.LoadUint64(&c.throttled),
	}
}
