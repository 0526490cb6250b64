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
	"io"
	"log"

	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
	"github.com/TheCacophonyProject/frame-classifier/headers"
	"github.com/TheCacophonyProject/frame-classifier/pipeline"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

const defaultFPS = 15

type frameSink interface {
	SetGeometry(framebuffer.Geometry) error
	Deliver(*pipeline.Frame) bool
}

// bufferPool holds the capture buffers. A buffer is lent to the pipeline
// with each frame and comes back when the frame is released.
type bufferPool struct {
	free chan []byte
}

func newBufferPool(count, size int) *bufferPool {
	p := &bufferPool{free: make(chan []byte, count)}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

func (p *bufferPool) get() ([]byte, bool) {
	select {
	case buf := <-p.free:
		return buf, true
	default:
		return nil, false
	}
}

func (p *bufferPool) put(buf []byte) {
	p.free <- buf
}

type connStats struct {
	frames    int
	delivered int
	// noBuffer counts frames read while every buffer was on loan.
	noBuffer int
}

// readFrames reads a frame header and then frames from r until it fails,
// offering each frame to sink.
func readFrames(r io.Reader, sink frameSink, bufferCount int) (connStats, error) {
	var stats connStats
	reader := bufio.NewReader(r)
	header, err := headers.ReadFrameHeader(reader)
	if err != nil {
		return stats, err
	}
	format, err := header.YUVFormat()
	if err != nil {
		return stats, err
	}
	log.Printf("camera: %s %s, %dx%d %s rotated %d at %d fps",
		header.Brand, header.Model, header.Width, header.Height, format, header.Rotation, header.FPS)

	if err := sink.SetGeometry(header.Geometry()); err != nil {
		return stats, err
	}

	fps := header.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	logIntervalFirstMin := 15 * fps
	logInterval := 60 * 5 * fps

	size := header.FrameSize()
	pool := newBufferPool(bufferCount, size)
	scratch := make([]byte, size)
	ySize, uvSize := header.PlaneSizes()
	strides := header.Strides()

	for {
		buf, ok := pool.get()
		if !ok {
			buf = scratch
		}
		if _, err := io.ReadFull(reader, buf); err != nil {
			if ok {
				pool.put(buf)
			}
			return stats, err
		}
		stats.frames++

		if stats.frames%logIntervalFirstMin == 0 &&
			stats.frames <= 60*fps || stats.frames%logInterval == 0 {
			log.Printf("%d frames for this connection", stats.frames)
		}

		if !ok {
			stats.noBuffer++
			continue
		}
		frame := newFrame(format, buf, ySize, uvSize, strides, func() { pool.put(buf) })
		if sink.Deliver(frame) {
			stats.delivered++
		}
	}
}

func newFrame(format yuv.Format, buf []byte, ySize, uvSize int, strides framebuffer.Strides, release func()) *pipeline.Frame {
	if format == yuv.Planar {
		return pipeline.NewPlanarFrame(
			buf[:ySize],
			buf[ySize:ySize+uvSize],
			buf[ySize+uvSize:ySize+2*uvSize],
			strides,
			release,
		)
	}
	return pipeline.NewSemiPlanarFrame(buf, release)
}
