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
	"os"
)

// bufferedFile batches frame writes so a slow SD card doesn't stall the
// socket reader on every frame.
type bufferedFile struct {
	name string
	f    *os.File
	w    *bufio.Writer
}

func newBufferedFile(filename string, bufSize int) (*bufferedFile, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &bufferedFile{
		name: filename,
		f:    f,
		w:    bufio.NewWriterSize(f, bufSize),
	}, nil
}

func (bf *bufferedFile) Name() string {
	return bf.name
}

func (bf *bufferedFile) Write(p []byte) (int, error) {
	return bf.w.Write(p)
}

// Close flushes and closes the file. The file is closed even if the flush
// fails.
func (bf *bufferedFile) Close() error {
	flushErr := bf.w.Flush()
	closeErr := bf.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
