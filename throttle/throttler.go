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

package throttle

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

func NewThrottler(config *ThrottlerConfig, listener ThrottledEventListener) *Throttler {
	return NewThrottlerWithClock(config, listener, new(realClock))
}

func NewThrottlerWithClock(
	config *ThrottlerConfig,
	listener ThrottledEventListener,
	clock ratelimit.Clock,
) *Throttler {
	if listener == nil {
		listener = new(nullListener)
	}
	t := &Throttler{listener: listener}
	if config.ApplyThrottling {
		// The token bucket tracks the number of *frames* available for
		// classification.
		t.bucket = ratelimit.NewBucketWithRateAndClock(config.MaxRate, config.Burst, clock)
	}
	return t
}

// Throttler limits how often frames are handed to the classifier. Preview
// frames arrive far faster than they change, so classifying every one that
// the worker could keep up with mostly burns power on near identical
// results.
type Throttler struct {
	listener  ThrottledEventListener
	bucket    *ratelimit.Bucket
	throttled bool
	// notifying is 1 while a listener call is still running.
	notifying int32
}

type ThrottledEventListener interface {
	WhenThrottled()
}

type nullListener struct{}

func (lis *nullListener) WhenThrottled() {}

// Allow takes a token for one frame. The listener is told once each time
// throttling starts rather than for every refused frame. The listener runs on
// its own goroutine so Allow never waits for it. Allow must only be called
// from a single goroutine.
func (throttler *Throttler) Allow() bool {
	if throttler.bucket == nil {
		return true
	}
	if throttler.bucket.TakeAvailable(1) > 0 {
		if throttler.throttled {
			log.Print("classification resumed after throttling")
			throttler.throttled = false
		}
		return true
	}
	if !throttler.throttled {
		log.Print("classification throttled")
		throttler.throttled = true
		throttler.notify()
	}
	return false
}

// notify calls the listener in the background. A run that starts while the
// previous notification is still in flight is not reported again.
func (throttler *Throttler) notify() {
	if !atomic.CompareAndSwapInt32(&throttler.notifying, 0, 1) {
		log.Print("previous throttle notification still pending, skipping")
		return
	}
	go func() {
		defer atomic.StoreInt32(&throttler.notifying, 0)
		throttler.listener.WhenThrottled()
	}()
}

// Available returns the number of frames that could be classified now.
func (throttler *Throttler) Available() int64 {
	if throttler.bucket == nil {
		return -1
	}
	return throttler.bucket.Available()
}

// realClock implements ratelimit.Clock in terms of standard time functions.
type realClock struct{}

// Now implements Clock.Now by calling time.Now.
func (realClock) Now() time.Time {
	return time.Now()
}

// Now implements Clock.Sleep by calling time.Sleep.
func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
