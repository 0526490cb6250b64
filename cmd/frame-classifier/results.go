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
	"sync"

	"github.com/TheCacophonyProject/frame-classifier/pipeline"
)

// resultStore keeps the most recent classification so it can be read over
// D-Bus. Changes in the top label are logged.
type resultStore struct {
	mu       sync.Mutex
	latest   pipeline.Result
	count    int
	topLabel string
}

func newResultStore() *resultStore {
	return &resultStore{}
}

func (s *resultStore) Publish(r pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	s.count++

	label := ""
	if len(r.Recognitions) > 0 {
		label = r.Recognitions[0].Label
	}
	if label != s.topLabel {
		s.topLabel = label
		if label == "" {
			log.Print("nothing recognised")
		} else {
			log.Printf("now seeing %s (classified in %v)", r.Recognitions[0], r.FrameInfo.Latency)
		}
	}
}

// Latest returns the last result and how many results have been published.
func (s *resultStore) Latest() (pipeline.Result, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.count
}
