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
	"errors"
	"io"
	"os"

	"github.com/TheCacophonyProject/frame-classifier/capturesize"
	"github.com/TheCacophonyProject/frame-classifier/headers"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

type frameSource interface {
	Header() headers.FrameHeader
	// NextFrame fills buf, which is Header().FrameSize() bytes long.
	NextFrame(buf []byte) error
	Close() error
}

// patternSource generates NV21 frames with a bright bar sweeping across
// a dark background.
type patternSource struct {
	header headers.FrameHeader
	frame  int
}

func newPatternSource(size capturesize.Size, conf *Config) *patternSource {
	return &patternSource{
		header: headers.FrameHeader{
			Width:    size.Width,
			Height:   size.Height,
			Rotation: conf.Rotation,
			Format:   yuv.SemiPlanar.String(),
			FPS:      conf.FPS,
			Brand:    conf.Brand,
			Model:    conf.Model,
		},
	}
}

func (s *patternSource) Header() headers.FrameHeader {
	return s.header
}

func (s *patternSource) NextFrame(buf []byte) error {
	w, h := s.header.Width, s.header.Height
	if len(buf) < yuv.SemiPlanarByteSize(w, h) {
		return yuv.ErrShortBuffer
	}
	barWidth := w / 8
	if barWidth < 1 {
		barWidth = 1
	}
	barStart := (s.frame * 4) % w
	for j := 0; j < h; j++ {
		row := buf[j*w : (j+1)*w]
		for i := range row {
			if (i-barStart+w)%w < barWidth {
				row[i] = 235
			} else {
				row[i] = 16
			}
		}
	}
	// Neutral chroma apart from a tint that cycles every 256 frames.
	chroma := buf[w*h : yuv.SemiPlanarByteSize(w, h)]
	tint := byte(s.frame)
	for i := 0; i < len(chroma); i += 2 {
		chroma[i] = 128
		chroma[i+1] = tint
	}
	s.frame++
	return nil
}

func (s *patternSource) Close() error {
	return nil
}

// recordingSource replays a recording file, starting again from the first
// frame when it reaches the end.
type recordingSource struct {
	file   *os.File
	reader *bufio.Reader
	header headers.FrameHeader
}

func newRecordingSource(filename string) (*recordingSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	s := &recordingSource{file: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *recordingSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.reader = bufio.NewReader(s.file)
	h, err := headers.ReadFrameHeader(s.reader)
	if err != nil {
		return err
	}
	s.header = *h
	return nil
}

func (s *recordingSource) Header() headers.FrameHeader {
	return s.header
}

func (s *recordingSource) NextFrame(buf []byte) error {
	_, err := io.ReadFull(s.reader, buf)
	if err != io.EOF {
		return err
	}
	if err := s.rewind(); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		if err == io.EOF {
			return errors.New("recording has no frames")
		}
		return err
	}
	return nil
}

func (s *recordingSource) Close() error {
	return s.file.Close()
}
