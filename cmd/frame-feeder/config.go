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
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/frame-classifier/capturesize"
	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
)

type Config struct {
	FrameOutput string `yaml:"frame-output"`
	// SupportedSizes are the preview sizes the camera offers, as WxH.
	SupportedSizes []string `yaml:"supported-sizes"`
	DesiredSize    string   `yaml:"desired-size"`
	Rotation       int      `yaml:"rotation"`
	FPS            int      `yaml:"fps"`
	Brand          string   `yaml:"brand"`
	Model          string   `yaml:"model"`
	// Recording replays frames from a file instead of generating a test
	// pattern. The recording sets the frame size.
	Recording string `yaml:"recording"`
}

var defaultConfig = Config{
	FrameOutput:    "/var/run/camera-frames",
	SupportedSizes: []string{"1920x1080", "1280x720", "800x600", "640x480", "320x240"},
	DesiredSize:    "640x480",
	Rotation:       90,
	FPS:            15,
	Brand:          "cacophony",
	Model:          "frame-feeder",
}

// Sizes returns the parsed supported sizes.
func (conf *Config) Sizes() ([]capturesize.Size, error) {
	sizes := make([]capturesize.Size, 0, len(conf.SupportedSizes))
	for _, s := range conf.SupportedSizes {
		size, err := capturesize.ParseSize(s)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func (conf *Config) Desired() (capturesize.Size, error) {
	return capturesize.ParseSize(conf.DesiredSize)
}

func (conf *Config) Validate() error {
	if conf.FrameOutput == "" {
		return errors.New("frame-output must be set")
	}
	if conf.FPS < 1 {
		return errors.New("fps must be at least 1")
	}
	if _, err := conf.Sizes(); err != nil {
		return fmt.Errorf("supported-sizes: %v", err)
	}
	if _, err := conf.Desired(); err != nil {
		return fmt.Errorf("desired-size: %v", err)
	}
	g := framebuffer.Geometry{Width: 1, Height: 1, Rotation: conf.Rotation}
	return g.Validate()
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
