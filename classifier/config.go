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

package classifier

import (
	"fmt"
	"path/filepath"
)

const (
	MinThreads = 1
	MaxThreads = 9
)

type Config struct {
	Model      Model  `yaml:"model"`
	Device     Device `yaml:"device"`
	Threads    int    `yaml:"threads"`
	ModelDir   string `yaml:"model-dir"`
	LabelsFile string `yaml:"labels-file"`
}

func DefaultConfig() Config {
	return Config{
		Model:      QuantizedEfficientNet,
		Device:     CPU,
		Threads:    1,
		ModelDir:   "/var/lib/frame-classifier/models",
		LabelsFile: "labels.txt",
	}
}

func (conf *Config) Validate() error {
	if conf.Threads < MinThreads || conf.Threads > MaxThreads {
		return fmt.Errorf("threads must be between %d and %d, got %d", MinThreads, MaxThreads, conf.Threads)
	}
	if conf.Device == GPU && conf.Model.Quantized() {
		return fmt.Errorf("%w: %s model cannot run on the GPU", ErrUnsupportedConfiguration, conf.Model.DisplayName())
	}
	return nil
}

// ModelPath is the full path of the model file.
func (conf *Config) ModelPath() string {
	return filepath.Join(conf.ModelDir, conf.Model.Path())
}

// LabelsPath is the full path of the labels file. Relative names are
// resolved against the model directory.
func (conf *Config) LabelsPath() string {
	if filepath.IsAbs(conf.LabelsFile) {
		return conf.LabelsFile
	}
	return filepath.Join(conf.ModelDir, conf.LabelsFile)
}

func (conf Config) String() string {
	return fmt.Sprintf("%s on %s with %d threads", conf.Model.DisplayName(), conf.Device.DisplayName(), conf.Threads)
}
