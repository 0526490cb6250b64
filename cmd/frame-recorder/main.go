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
	"net"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/frame-classifier/headers"
)

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/cacophony/frame-recorder.yaml"
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("running version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	if err := os.MkdirAll(conf.OutputDir, 0755); err != nil {
		return err
	}

	for {
		// Set up listener for frames sent by the capture process.
		os.Remove(conf.FrameInput)
		listener, err := net.Listen("unix", conf.FrameInput)
		if err != nil {
			return err
		}
		log.Print("waiting for camera connection")

		conn, err := acceptCamera(listener)
		if err != nil {
			log.Printf("socket accept failed: %v", err)
			continue
		}

		err = handleConn(conn, conf)
		conn.Close()
		log.Printf("camera connection ended with: %v", err)
	}
}

// handleConn reads frames on this goroutine and writes them on another so
// the socket keeps draining while a file is flushed.
func handleConn(conn io.Reader, conf *Config) error {
	reader := bufio.NewReader(conn)
	header, err := headers.ReadFrameHeader(reader)
	if err != nil {
		return err
	}
	log.Printf("connection from %s %s (%dx%d@%dfps)", header.Brand, header.Model, header.Width, header.Height, header.FPS)

	writeFrames := make(chan []byte, conf.InFlight)
	spentFrames := make(chan []byte, conf.InFlight)
	for i := 0; i < conf.InFlight; i++ {
		spentFrames <- make([]byte, header.FrameSize())
	}
	failed := make(chan struct{})
	errc := make(chan error, 1)
	go writer(newRecordingWriter(conf, *header), writeFrames, spentFrames, failed, errc)

	fps := header.FPS
	if fps <= 0 {
		fps = 1
	}
	frameLogIntervalFirstMin := 15 * fps
	frameLogInterval := 60 * 5 * fps

	totalFrames := 0
	count := 0
	t0 := time.Now()
	for {
		var frame []byte
		select {
		case frame = <-spentFrames:
		case <-failed:
			close(writeFrames)
			return <-errc
		}
		if _, err := io.ReadFull(reader, frame); err != nil {
			close(writeFrames)
			if werr := <-errc; werr != nil {
				return werr
			}
			return err
		}
		totalFrames++

		count++
		if count == 100 {
			t1 := time.Now()
			log.Printf("%.1f Hz", float64(count)/t1.Sub(t0).Seconds())
			t0 = t1
			count = 0
		}

		if totalFrames%frameLogIntervalFirstMin == 0 &&
			totalFrames <= 60*fps || totalFrames%frameLogInterval == 0 {
			log.Printf("%d frames for this connection", totalFrames)
		}

		writeFrames <- frame
	}
}

// writer saves frames until inFrames is closed and then reports the first
// error. failed is closed as soon as a write fails.
func writer(w *recordingWriter, inFrames <-chan []byte, outFrames chan<- []byte, failed chan<- struct{}, errc chan<- error) {
	var err error
	for frame := range inFrames {
		if err == nil {
			if err = w.WriteFrame(frame); err != nil {
				close(failed)
			}
		}
		outFrames <- frame
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	errc <- err
}

func logConfig(conf *Config) {
	log.Printf("frame input: %s", conf.FrameInput)
	log.Printf("output dir: %s", conf.OutputDir)
	log.Printf("max frames per file: %d", conf.MaxFrames)
}

// acceptCamera waits for one capture connection. The listener is always
// closed so only one connection is served at a time.
func acceptCamera(listener net.Listener) (net.Conn, error) {
	defer listener.Close()
	return listener.Accept()
}
