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
	"strings"
)

// UnknownVariantError is returned when a model or device name is not
// recognised.
type UnknownVariantError struct {
	Kind  string
	Value string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

type Model int

const (
	FloatMobileNet Model = iota
	QuantizedMobileNet
	FloatEfficientNet
	QuantizedEfficientNet
)

type modelInfo struct {
	id        string
	name      string
	file      string
	quantized bool
}

var models = map[Model]modelInfo{
	FloatMobileNet:        {"float-mobilenet", "Float Mobile Net", "mobilenet_v1_1.0_224.tflite", false},
	QuantizedMobileNet:    {"quantized-mobilenet", "Quantized Mobile Net", "mobilenet_v1_1.0_224_quant.tflite", true},
	FloatEfficientNet:     {"float-efficientnet", "Float Efficient Net", "efficientnet-lite0-fp32.tflite", false},
	QuantizedEfficientNet: {"quantized-efficientnet", "Quantized Efficient Net", "efficientnet-lite0-int8.tflite", true},
}

// ParseModel accepts either a display name such as "Quantized Efficient
// Net" or an identifier such as "quantized-efficientnet".
func ParseModel(s string) (Model, error) {
	s = strings.TrimSpace(s)
	for m, info := range models {
		if s == info.id || s == info.name {
			return m, nil
		}
	}
	return 0, &UnknownVariantError{Kind: "model", Value: s}
}

// String returns the model identifier used in configuration.
func (m Model) String() string {
	if info, ok := models[m]; ok {
		return info.id
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// DisplayName returns the human readable model name.
func (m Model) DisplayName() string {
	return models[m].name
}

// Path is the model file name relative to the model directory.
func (m Model) Path() string {
	return models[m].file
}

// Quantized reports whether the model uses 8 bit weights and outputs.
func (m Model) Quantized() bool {
	return models[m].quantized
}

func (m Model) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

func (m *Model) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseModel(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Device selects where inference runs.
type Device int

const (
	CPU Device = iota
	GPU
	// Accelerator is a dedicated neural network accelerator.
	Accelerator
)

var deviceNames = map[Device][]string{
	CPU:         {"cpu", "CPU"},
	GPU:         {"gpu", "GPU"},
	Accelerator: {"accelerator", "NN API"},
}

func ParseDevice(s string) (Device, error) {
	s = strings.TrimSpace(s)
	for d, names := range deviceNames {
		for _, name := range names {
			if s == name {
				return d, nil
			}
		}
	}
	return 0, &UnknownVariantError{Kind: "device", Value: s}
}

func (d Device) String() string {
	if names, ok := deviceNames[d]; ok {
		return names[0]
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

func (d Device) DisplayName() string {
	return deviceNames[d][1]
}

func (d Device) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Device) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDevice(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
