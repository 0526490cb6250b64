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

	arg "github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/classifierclient"
)

var version = "<not set>"

type Args struct {
	Command string `arg:"positional,required" help:"recognitions, info, stats, classifier or set"`
	Model   string `arg:"-m,--model" help:"model for set"`
	Device  string `arg:"-d,--device" help:"device for set"`
	Threads int    `arg:"--threads" help:"thread count for set"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	arg.MustParse(&args)
	return args
}

func main() {
	log.SetFlags(0)
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()
	switch args.Command {
	case "recognitions":
		recs, err := classifierclient.Recognitions()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("nothing recognised")
		}
		for _, r := range recs {
			fmt.Println(r)
		}
	case "info":
		info, err := classifierclient.FrameInfo()
		if err != nil {
			return err
		}
		fmt.Print(classifierclient.FormatVariants(info))
	case "stats":
		stats, err := classifierclient.Stats()
		if err != nil {
			return err
		}
		fmt.Print(classifierclient.FormatVariants(stats))
	case "classifier":
		s, err := classifierclient.Classifier()
		if err != nil {
			return err
		}
		fmt.Printf("model: %s\ndevice: %s\nthreads: %d\n", s.Model, s.Device, s.Threads)
	case "set":
		settings, err := settingsFromArgs(args)
		if err != nil {
			return err
		}
		return classifierclient.SetClassifier(settings)
	default:
		return fmt.Errorf("unknown command %q", args.Command)
	}
	return nil
}

// settingsFromArgs checks the requested settings locally so typos are
// reported before anything is sent.
func settingsFromArgs(args Args) (classifierclient.ClassifierSettings, error) {
	var s classifierclient.ClassifierSettings
	if args.Model != "" {
		if _, err := classifier.ParseModel(args.Model); err != nil {
			return s, err
		}
	}
	if args.Device != "" {
		if _, err := classifier.ParseDevice(args.Device); err != nil {
			return s, err
		}
	}
	if args.Threads != 0 && (args.Threads < classifier.MinThreads || args.Threads > classifier.MaxThreads) {
		return s, fmt.Errorf("threads must be between %d and %d", classifier.MinThreads, classifier.MaxThreads)
	}
	if args.Model == "" && args.Device == "" && args.Threads == 0 {
		return s, fmt.Errorf("set needs at least one of --model, --device or --threads")
	}
	s.Model = args.Model
	s.Device = args.Device
	s.Threads = int32(args.Threads)
	return s, nil
}
