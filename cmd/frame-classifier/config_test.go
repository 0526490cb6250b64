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
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/pipeline"
	"github.com/TheCacophonyProject/frame-classifier/throttle"
)

func TestAllDefaults(t *testing.T) {
	conf, err := ParseConfig([]byte(""))
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, Config{
		FrameInput:        "/var/run/camera-frames",
		CaptureBuffers:    3,
		HeartbeatInterval: 3 * time.Hour,
		Pipeline: pipeline.Config{
			Classifier: classifier.Config{
				Model:      classifier.QuantizedEfficientNet,
				Device:     classifier.CPU,
				Threads:    1,
				ModelDir:   "/var/lib/frame-classifier/models",
				LabelsFile: "labels.txt",
			},
			WatchdogFrames:   30,
			ErrorLogInterval: 10 * time.Second,
		},
		Throttler: throttle.ThrottlerConfig{
			ApplyThrottling: true,
			MaxRate:         5,
			Burst:           10,
		},
	}, *conf)
}

func TestAllProgramDefaultsMatchDefaultYamlFile(t *testing.T) {
	configDefaults, err := ParseConfig([]byte(""))
	require.NoError(t, err)

	var configYAML Config
	require.NoError(t, yaml.UnmarshalStrict(GetDefaultConfig(), &configYAML))

	assert.Equal(t, configDefaults, &configYAML)
}

func TestAllSet(t *testing.T) {
	config := []byte(`
frame-input: "/some/sock"
capture-buffers: 5
heartbeat-interval: 30m
pipeline:
    watchdog-frames: 12
    error-log-interval: 1m
    classifier:
        model: float-mobilenet
        device: gpu
        threads: 4
        model-dir: /some/models
        labels-file: names.txt
throttler:
    apply-throttling: false
    max-rate: 0.5
    burst: 2
`)

	conf, err := ParseConfig(config)
	require.NoError(t, err)

	assert.Equal(t, Config{
		FrameInput:        "/some/sock",
		CaptureBuffers:    5,
		HeartbeatInterval: 30 * time.Minute,
		Pipeline: pipeline.Config{
			Classifier: classifier.Config{
				Model:      classifier.FloatMobileNet,
				Device:     classifier.GPU,
				Threads:    4,
				ModelDir:   "/some/models",
				LabelsFile: "names.txt",
			},
			WatchdogFrames:   12,
			ErrorLogInterval: time.Minute,
		},
		Throttler: throttle.ThrottlerConfig{
			ApplyThrottling: false,
			MaxRate:         0.5,
			Burst:           2,
		},
	}, *conf)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"capture-buffers: 1":                     "capture-buffers must be at least 2",
		"frame-input: \"\"":                      "frame-input must be set",
		"heartbeat-interval: -1s":                "heartbeat-interval can't be negative",
		"pipeline:\n  watchdog-frames: 0":        "watchdog-frames must be at least 1",
		"throttler:\n  max-rate: 0":              "max-rate must be greater than zero",
		"pipeline:\n  classifier:\n    model: x": `unknown model "x"`,
	}
	for config, msg := range cases {
		t.Run(config, func(t *testing.T) {
			conf, err := ParseConfig([]byte(config))
			assert.Nil(t, conf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), msg)
		})
	}
}

// Classifier settings are checked when the classifier is created so a
// config the device can't run still loads.
func TestUnsupportedClassifierStillParses(t *testing.T) {
	conf, err := ParseConfig([]byte(`
pipeline:
  classifier:
    model: quantized-mobilenet
    device: gpu
`))
	require.NoError(t, err)
	assert.True(t, errors.Is(conf.Pipeline.Classifier.Validate(), classifier.ErrUnsupportedConfiguration))
}

func GetDefaultConfig() []byte {
	dir := GetBaseDir()
	configFile := strings.Replace(dir, filepath.Join("cmd", "frame-classifier"), filepath.Join("_release", "frame-classifier.yaml"), 1)
	buf, err := ioutil.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	return buf
}

func GetBaseDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		panic(fmt.Errorf("Could not find the base dir where sample files are"))
	}

	dir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		panic(err)
	}

	return dir
}
