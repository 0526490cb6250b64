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
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/headers"
	"github.com/TheCacophonyProject/frame-classifier/pipeline"
)

const busyRetryDelay = time.Millisecond

type PlaybackResults struct {
	frameCount      int
	classifiedCount int
	// topLabels counts how often each label was the best match.
	topLabels map[string]int
	latency   time.Duration
}

func (r PlaybackResults) String() string {
	labels := make([]string, 0, len(r.topLabels))
	for label := range r.topLabels {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if r.topLabels[labels[i]] != r.topLabels[labels[j]] {
			return r.topLabels[labels[i]] > r.topLabels[labels[j]]
		}
		return labels[i] < labels[j]
	})
	var sb strings.Builder
	fmt.Fprintf(&sb, "Classified: %d/%d frames", r.classifiedCount, r.frameCount)
	if r.classifiedCount > 0 {
		fmt.Fprintf(&sb, " Mean latency: %v", r.latency/time.Duration(r.classifiedCount))
	}
	for _, label := range labels {
		fmt.Fprintf(&sb, "\n\t%-24s %d", label, r.topLabels[label])
	}
	return sb.String()
}

// PlaybackTester runs every frame of a recording through a pipeline, waiting
// for each frame to finish before sending the next.
type PlaybackTester struct {
	conf    pipeline.Config
	factory classifier.Factory
}

func NewPlaybackTester(conf pipeline.Config, factory classifier.Factory) *PlaybackTester {
	return &PlaybackTester{conf: conf, factory: factory}
}

func (pt *PlaybackTester) TestFile(filename string) (*PlaybackResults, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pt.Test(f)
}

func (pt *PlaybackTester) Test(r io.Reader) (*PlaybackResults, error) {
	results := &PlaybackResults{topLabels: make(map[string]int)}
	sink := pipeline.ResultSinkFunc(func(res pipeline.Result) {
		results.classifiedCount++
		results.latency += res.FrameInfo.Latency
		if len(res.Recognitions) > 0 {
			results.topLabels[res.Recognitions[0].Label]++
		}
	})

	o := pipeline.New(pt.conf, pt.factory, sink)
	if err := o.Start(); err != nil {
		o.Close()
		return nil, err
	}
	defer o.Close()

	reader := bufio.NewReader(r)
	header, err := headers.ReadFrameHeader(reader)
	if err != nil {
		return nil, err
	}
	format, err := header.YUVFormat()
	if err != nil {
		return nil, err
	}
	if err := o.SetGeometry(header.Geometry()); err != nil {
		return nil, err
	}

	ySize, uvSize := header.PlaneSizes()
	buf := make([]byte, header.FrameSize())
	released := make(chan struct{}, 1)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		results.frameCount++

		for {
			frame := newFrame(format, buf, ySize, uvSize, header.Strides(), func() { released <- struct{}{} })
			accepted := o.Deliver(frame)
			<-released
			if accepted {
				break
			}
			// The worker hasn't cleared the previous frame yet.
			time.Sleep(busyRetryDelay)
		}
	}
	// Each result was published before its frame was released.
	log.Printf("pipeline stats: %+v", o.Stats())
	return results, nil
}
