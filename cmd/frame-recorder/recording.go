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
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/frame-classifier/headers"
)

const writeBufferSize = 8 * 1024 * 1024

// recordingWriter writes frames into recording files, each starting with
// the frame header so it can be replayed on its own.
type recordingWriter struct {
	outDir    string
	header    headers.FrameHeader
	maxFrames int
	now       func() time.Time

	file     *bufferedFile
	frames   int
	sequence int
	written  []string
}

func newRecordingWriter(conf *Config, header headers.FrameHeader) *recordingWriter {
	return &recordingWriter{
		outDir:    conf.OutputDir,
		header:    header,
		maxFrames: conf.MaxFrames,
		now:       time.Now,
	}
}

func (w *recordingWriter) WriteFrame(frame []byte) error {
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	if _, err := w.file.Write(frame); err != nil {
		return err
	}
	w.frames++
	if w.maxFrames > 0 && w.frames >= w.maxFrames {
		return w.Close()
	}
	return nil
}

func (w *recordingWriter) open() error {
	name := nextFileName(w.outDir, w.now(), w.sequence)
	w.sequence++
	f, err := newBufferedFile(name, writeBufferSize)
	if err != nil {
		return err
	}
	log.Println("writing to", name)
	if err := w.header.Write(f); err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.frames = 0
	return nil
}

// Close finishes the current recording, if any.
func (w *recordingWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	log.Printf("%d frames written to %s", w.frames, f.Name())
	w.written = append(w.written, f.Name())
	return f.Close()
}

func nextFileName(outDir string, t time.Time, sequence int) string {
	name := fmt.Sprintf("%s_%03d.yuv", t.Format("2006_01_02T15_04_05"), sequence)
	return filepath.Join(outDir, name)
}
