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
	"net"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"

	"github.com/TheCacophonyProject/frame-classifier/classifier/opencv"
	"github.com/TheCacophonyProject/frame-classifier/pipeline"
	"github.com/TheCacophonyProject/frame-classifier/throttle"
)

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
	TestFile   string `arg:"-f,--testfile" help:"run a frame recording through the classifier and show the results"`
	Verbose    bool   `arg:"-v,--verbose" help:"make logging more verbose"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/cacophony/frame-classifier.yaml"
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

	if args.TestFile != "" {
		pipelineConf := conf.Pipeline
		if !args.Verbose {
			pipelineConf.ErrorLogInterval = time.Hour
		}
		results, err := NewPlaybackTester(pipelineConf, opencv.Factory).TestFile(args.TestFile)
		if err != nil {
			return err
		}
		log.Print(results)
		return nil
	}

	results := newResultStore()
	throttler := throttle.NewThrottler(&conf.Throttler, throttle.ThrottledEventRecorder{})
	orchestrator := pipeline.New(conf.Pipeline, opencv.Factory, results,
		pipeline.WithLimiter(throttler),
		pipeline.WithWatchdog(petWatchdog),
	)
	defer orchestrator.Close()

	if err := orchestrator.Start(); err != nil {
		log.Printf("failed to create classifier: %v", err)
		reportClassifierError(err)
	}

	log.Println("starting d-bus service")
	if err := startService(orchestrator, results, conf.Pipeline.Classifier); err != nil {
		return err
	}

	if conf.HeartbeatInterval > 0 {
		heartbeat := NewHeartBeat(conf.HeartbeatInterval, time.Now(), orchestrator.Stats, throttle.QueueEvent)
		go heartbeat.Run(make(chan struct{}))
	}

	daemon.SdNotify(false, "READY=1")

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

		log.Print("new camera connection, reading frames")
		stats, err := readFrames(conn, orchestrator, conf.CaptureBuffers)
		conn.Close()
		log.Printf("camera connection ended with: %v", err)
		log.Printf("%d frames read, %d delivered, %d without a free buffer",
			stats.frames, stats.delivered, stats.noBuffer)
	}
}

func petWatchdog() {
	daemon.SdNotify(false, "WATCHDOG=1")
}

func reportClassifierError(err error) {
	details := map[string]interface{}{"error": err.Error()}
	if err := throttle.QueueEvent("classifier-error", details); err != nil {
		log.Printf("could not record classifier error event: %v", err)
	}
}

func logConfig(conf *Config) {
	log.Printf("frame input: %s", conf.FrameInput)
	log.Printf("capture buffers: %d", conf.CaptureBuffers)
	log.Printf("classifier: %s", conf.Pipeline.Classifier)
	log.Printf("model: %s", conf.Pipeline.Classifier.ModelPath())
	log.Printf("labels: %s", conf.Pipeline.Classifier.LabelsPath())
	log.Printf("watchdog every %d frames", conf.Pipeline.WatchdogFrames)
	log.Printf("throttler: %+v", conf.Throttler)
	if conf.HeartbeatInterval > 0 {
		log.Printf("heartbeat every %v", conf.HeartbeatInterval)
	}
}

// acceptCamera waits for one capture connection. The listener is always
// closed so only one connection is served at a time.
func acceptCamera(listener net.Listener) (net.Conn, error) {
	defer listener.Close()
	return listener.Accept()
}
