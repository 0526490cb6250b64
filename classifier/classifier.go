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

// Package classifier defines the boundary between the frame pipeline and
// the image classifier that labels each frame.
package classifier

import (
	"errors"
	"fmt"
	"image"

	"github.com/TheCacophonyProject/frame-classifier/recognition"
)

var (
	// ErrModelLoad is returned when a model or its labels cannot be loaded.
	ErrModelLoad = errors.New("could not load model")
	// ErrUnsupportedConfiguration is returned for option combinations the
	// classifier cannot run with, such as a quantized model on the GPU.
	ErrUnsupportedConfiguration = errors.New("unsupported classifier configuration")
	// ErrInference is returned when classifying a single frame fails.
	ErrInference = errors.New("inference failed")
)

// Classifier labels ARGB frames. Implementations are only ever used from
// one goroutine at a time.
type Classifier interface {
	// Classify returns at most recognition.MaxResults recognitions ordered
	// by confidence, highest first.
	Classify(img Image) ([]recognition.Recognition, error)
	// InputSize is the size of image the underlying model consumes.
	InputSize() (width, height int)
	// Close releases the model. Closing twice is not an error.
	Close() error
}

// Factory creates a classifier for a configuration.
type Factory func(Config) (Classifier, error)

// Image is a packed 0xAARRGGBB frame in row-major order. Orientation is
// the clockwise rotation in degrees needed to display the frame upright.
type Image struct {
	Pixels      []uint32
	Width       int
	Height      int
	Orientation int
}

// CenterCrop returns the largest square centred in the image.
func (img Image) CenterCrop() image.Rectangle {
	size := img.Width
	if img.Height < size {
		size = img.Height
	}
	return image.Rect(
		(img.Width-size)/2,
		(img.Height-size)/2,
		(img.Width+size)/2,
		(img.Height+size)/2,
	)
}

// CropSize is the edge length of CenterCrop.
func (img Image) CropSize() int {
	return img.CenterCrop().Dx()
}

func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}
	if len(img.Pixels) < img.Width*img.Height {
		return fmt.Errorf("image has %d pixels, need %d", len(img.Pixels), img.Width*img.Height)
	}
	return nil
}
