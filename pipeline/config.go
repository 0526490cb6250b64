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
	"errors"
	"time"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
)

type Config struct {
	Classifier classifier.Config `yaml:"classifier"`
	// WatchdogFrames is how many frames are handled between calls to the
	// watchdog function.
	WatchdogFrames int `yaml:"watchdog-frames"`
	// ErrorLogInterval is the minimum time between repeats of the same
	// per frame error message.
	ErrorLogInterval time.Duration `yaml:"error-log-interval"`
}

func DefaultConfig() Config {
	return Config{
		Classifier:       classifier.DefaultConfig(),
		WatchdogFrames:   30,
		ErrorLogInterval: 10 * time.Second,
	}
}

// Validate checks the pipeline settings. The classifier settings are
// checked when the classifier is created so that a bad classifier leaves
// the pipeline running.
func (conf *Config) Validate() error {
	if conf.WatchdogFrames < 1 {
		return errors.New("watchdog-frames must be at least 1")
	}
	if conf.ErrorLogInterval < 0 {
		return errors.New("error-log-interval can't be negative")
	}
	return nil
}
