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

package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
	"github.com/TheCacophonyProject/frame-classifier/recognition"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

// Frame is a capture buffer on loan from the capture device. The pipeline
// calls Release exactly once when it no longer needs the planes, after
// which the capture device may reuse them.
type Frame struct {
	Format  yuv.Format
	Planes  [][]byte
	Strides framebuffer.Strides

	release  func()
	released int32
	arrived  time.Time
}

// NewSemiPlanarFrame wraps an NV21 buffer. release may be nil.
func NewSemiPlanarFrame(data []byte, release func()) *Frame {
	return &Frame{
		Format:  yuv.SemiPlanar,
		Planes:  [][]byte{data},
		release: release,
	}
}

// NewPlanarFrame wraps three strided planes. release may be nil.
func NewPlanarFrame(y, u, v []byte, strides framebuffer.Strides, release func()) *Frame {
	return &Frame{
		Format:  yuv.Planar,
		Planes:  [][]byte{y, u, v},
		Strides: strides,
		release: release,
	}
}

// Release hands the buffer back to the capture device. Only the first call
// has any effect.
func (f *Frame) Release() {
	if !atomic.CompareAndSwapInt32(&f.released, 0, 1) {
		return
	}
	if f.release != nil {
		f.release()
	}
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return atomic.LoadInt32(&f.released) == 1
}

// FrameInfo describes the frame a Result was produced from.
type FrameInfo struct {
	Width       int
	Height      int
	CropSize    int
	InputWidth  int
	InputHeight int
	Orientation int
	// Latency is how long the classifier took.
	Latency   time.Duration
	SessionID string
}

type Result struct {
	Recognitions []recognition.Recognition
	FrameInfo    FrameInfo
}

// ResultSink receives the results of each classified frame. Publish is
// called from the pipeline worker and should not block for long.
type ResultSink interface {
	Publish(Result)
}

// ResultSinkFunc adapts a function to a ResultSink.
type ResultSinkFunc func(Result)

func (f ResultSinkFunc) Publish(r Result) {
	f(r)
}
