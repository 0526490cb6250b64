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

package admission

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstAdmitsOne(t *testing.T) {
	c := New(nil)

	admitted := 0
	for i := 0; i < 10; i++ {
		if c.TryAdmit() {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, Busy, c.State())
	assert.Equal(t, Stats{Admitted: 1, Dropped: 9}, c.Stats())

	c.Done()
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.TryAdmit())
}

func TestConcurrentBurstAdmitsOne(t *testing.T) {
	c := New(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAdmit() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, uint64(49), c.Stats().Dropped)
}

func TestDoneIsIdempotent(t *testing.T) {
	c := New(nil)
	c.Done()
	assert.Equal(t, Idle, c.State())

	assert.True(t, c.TryAdmit())
	c.Done()
	c.Done()
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.TryAdmit())
}

func process(c *Controller, work func() error) (err error) {
	defer c.Done()
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("recovered")
		}
	}()
	return work()
}

func TestDoneOnEveryExitPath(t *testing.T) {
	c := New(nil)

	assert.True(t, c.TryAdmit())
	assert.Error(t, process(c, func() error { return errors.New("inference failed") }))
	assert.Equal(t, Idle, c.State())

	assert.True(t, c.TryAdmit())
	assert.Error(t, process(c, func() error { panic("boom") }))
	assert.Equal(t, Idle, c.State())

	assert.True(t, c.TryAdmit())
}

type fakeLimiter struct {
	allow bool
	calls int
}

func (l *fakeLimiter) Allow() bool {
	l.calls++
	return l.allow
}

func TestLimiterRefusal(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	c := New(limiter)

	assert.False(t, c.TryAdmit())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, Stats{Throttled: 1}, c.Stats())

	limiter.allow = true
	assert.True(t, c.TryAdmit())

	// A busy controller does not consult the limiter.
	assert.False(t, c.TryAdmit())
	assert.Equal(t, 2, limiter.calls)
	assert.Equal(t, Stats{Admitted: 1, Dropped: 1, Throttled: 1}, c.Stats())
}
