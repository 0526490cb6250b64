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

package main

import (
	"log"
	"time"

	"github.com/TheCacophonyProject/frame-classifier/pipeline"
)

const heartbeatCheckInterval = time.Minute

type eventQueuer func(eventType string, details map[string]interface{}) error

// HeartBeat queues an event with the pipeline counters at a fixed interval
// so a device that has stopped classifying can be noticed.
type HeartBeat struct {
	interval  time.Duration
	nextEvent time.Time
	stats     func() pipeline.Stats
	queue     eventQueuer
}

func NewHeartBeat(interval time.Duration, now time.Time, stats func() pipeline.Stats, queue eventQueuer) *HeartBeat {
	return &HeartBeat{
		interval:  interval,
		nextEvent: now,
		stats:     stats,
		queue:     queue,
	}
}

// Check sends a heartbeat if one is due. Missed heartbeats aren't caught up.
func (h *HeartBeat) Check(now time.Time) error {
	if now.Before(h.nextEvent) {
		return nil
	}
	h.nextEvent = now.Add(h.interval)
	return h.sendEvent()
}

func (h *HeartBeat) Run(quit <-chan struct{}) {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()
	for {
		if err := h.Check(time.Now()); err != nil {
			log.Printf("failed to send heartbeat: %v", err)
		}
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}

func (h *HeartBeat) sendEvent() error {
	stats := h.stats()
	log.Printf("sending heartbeat, next at %v", h.nextEvent.Format(time.RFC3339))
	return h.queue("classifier-heartbeat", map[string]interface{}{
		"nextHeartBeat": h.nextEvent.Format(time.RFC3339),
		"classifier":    stats.Classifier,
		"session":       stats.SessionID,
		"admitted":      stats.Admission.Admitted,
		"dropped":       stats.Admission.Dropped,
		"throttled":     stats.Admission.Throttled,
		"published":     stats.Published,
		"failed":        stats.Failed,
	})
}
