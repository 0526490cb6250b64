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

package throttle

import "errors"

type ThrottlerConfig struct {
	ApplyThrottling bool `yaml:"apply-throttling"`
	// MaxRate is the sustained number of frames per second that may be
	// classified.
	MaxRate float64 `yaml:"max-rate"`
	// Burst is how many frames can be classified back to back after an
	// idle period.
	Burst int64 `yaml:"burst"`
}

func DefaultThrottlerConfig() ThrottlerConfig {
	return ThrottlerConfig{
		ApplyThrottling: true,
		MaxRate:         5,
		Burst:           10,
	}
}

func (conf *ThrottlerConfig) Validate() error {
	if !conf.ApplyThrottling {
		return nil
	}
	if conf.MaxRate <= 0 {
		return errors.New("max-rate must be greater than zero")
	}
	if conf.Burst < 1 {
		return errors.New("burst must be at least 1")
	}
	return nil
}
