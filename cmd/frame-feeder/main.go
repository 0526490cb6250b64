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
	"io"
	"log"
	"net"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"

	"github.com/TheCacophonyProject/frame-classifier/capturesize"
)

const reconnectDelay = 5 * time.Second

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Frames     int    `arg:"-n,--frames" help:"stop after sending this many frames on a connection"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/cacophony/frame-feeder.yaml"
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

	log.Printf("version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	source, err := openSource(conf)
	if err != nil {
		return err
	}
	defer source.Close()

	svc, err := startService()
	if err != nil {
		return err
	}
	svc.setHeader(source.Header())

	daemon.SdNotify(false, "READY=1")

	for {
		err := runFeed(conf, source, args.Frames, svc)
		if err == nil {
			return nil
		}
		log.Printf("frame feed ended with: %v", err)
		time.Sleep(reconnectDelay)
	}
}

func openSource(conf *Config) (frameSource, error) {
	if conf.Recording != "" {
		log.Printf("replaying %s", conf.Recording)
		return newRecordingSource(conf.Recording)
	}

	sizes, err := conf.Sizes()
	if err != nil {
		return nil, err
	}
	desired, err := conf.Desired()
	if err != nil {
		return nil, err
	}
	size, err := capturesize.DefaultNegotiator().Choose(sizes, desired)
	if err != nil {
		return nil, err
	}
	log.Printf("capture size: %s", size)
	return newPatternSource(size, conf), nil
}

func runFeed(conf *Config, source frameSource, count int, svc *feederService) error {
	log.Print("dialing frame output socket")
	conn, err := net.Dial("unix", conf.FrameOutput)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second / time.Duration(conf.FPS))
	defer ticker.Stop()

	log.Print("sending frames")
	return sendFrames(conn, source, count, ticker.C, svc.frameSent)
}

// sendFrames writes the source header and then one frame per tick. A count
// of 0 sends frames until writing fails.
func sendFrames(w io.Writer, source frameSource, count int, tick <-chan time.Time, sent func()) error {
	header := source.Header()
	if err := header.Write(w); err != nil {
		return err
	}

	framesPerSdNotify := 5 * header.FPS
	if framesPerSdNotify < 1 {
		framesPerSdNotify = 1
	}
	buf := make([]byte, header.FrameSize())
	notifyCount := 0
	for n := 0; count == 0 || n < count; n++ {
		<-tick
		if err := source.NextFrame(buf); err != nil {
			return err
		}

		if notifyCount++; notifyCount >= framesPerSdNotify {
			daemon.SdNotify(false, "WATCHDOG=1")
			notifyCount = 0
		}

		if _, err := w.Write(buf); err != nil {
			return err
		}
		if sent != nil {
			sent()
		}
	}
	return nil
}

func logConfig(conf *Config) {
	log.Printf("frame output: %s", conf.FrameOutput)
	log.Printf("supported sizes: %v", conf.SupportedSizes)
	log.Printf("desired size: %s", conf.DesiredSize)
	log.Printf("rotation: %d", conf.Rotation)
	log.Printf("fps: %d", conf.FPS)
}
