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
	"errors"
	"io/ioutil"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/frame-classifier/pipeline"
	"github.com/TheCacophonyProject/frame-classifier/throttle"
)

type Config struct {
	FrameInput string `yaml:"frame-input"`
	// CaptureBuffers is the number of frame buffers lent to the pipeline
	// by the socket reader.
	CaptureBuffers    int                      `yaml:"capture-buffers"`
	HeartbeatInterval time.Duration            `yaml:"heartbeat-interval"`
	Pipeline          pipeline.Config          `yaml:"pipeline"`
	Throttler         throttle.ThrottlerConfig `yaml:"throttler"`
}

var defaultConfig = Config{
	FrameInput:        "/var/run/camera-frames",
	CaptureBuffers:    3,
	HeartbeatInterval: 3 * time.Hour,
	Pipeline:          pipeline.DefaultConfig(),
	Throttler:         throttle.DefaultThrottlerConfig(),
}

func (conf *Config) Validate() error {
	if conf.FrameInput == "" {
		return errors.New("frame-input must be set")
	}
	if conf.CaptureBuffers < 2 {
		return errors.New("capture-buffers must be at least 2")
	}
	if conf.HeartbeatInterval < 0 {
		return errors.New("heartbeat-interval can't be negative")
	}
	if err := conf.Pipeline.Validate(); err != nil {
		return err
	}
	if err := conf.Throttler.Validate(); err != nil {
		return err
	}
	return nil
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
