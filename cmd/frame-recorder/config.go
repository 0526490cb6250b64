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

	yaml "gopkg.in/yaml.v2"
)

type Config struct {
	FrameInput string `yaml:"frame-input"`
	OutputDir  string `yaml:"output-dir"`
	// MaxFrames starts a new recording after this many frames. 0 keeps
	// one recording per connection.
	MaxFrames int `yaml:"max-frames"`
	// InFlight is how many frames may be queued for the file writer.
	InFlight int `yaml:"in-flight"`
}

var defaultConfig = Config{
	FrameInput: "/var/run/camera-record",
	OutputDir:  "/var/spool/camera-frames",
	MaxFrames:  900,
	InFlight:   64,
}

func (conf *Config) Validate() error {
	if conf.FrameInput == "" {
		return errors.New("frame-input must be set")
	}
	if conf.OutputDir == "" {
		return errors.New("output-dir must be set")
	}
	if conf.MaxFrames < 0 {
		return errors.New("max-frames can't be negative")
	}
	if conf.InFlight < 1 {
		return errors.New("in-flight must be at least 1")
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
