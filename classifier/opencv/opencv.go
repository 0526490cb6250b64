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

// Package opencv runs image classification models with the OpenCV dnn
// module.
package opencv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"log"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/recognition"
)

// All the supported models take a 224x224 RGB input.
const inputSize = 224

// Classifier is a classifier.Classifier backed by a gocv.Net.
type Classifier struct {
	net       gocv.Net
	labels    []string
	quantized bool
	inputSize image.Point
	bgra      []byte
	closed    bool
}

// Factory satisfies classifier.Factory.
func Factory(conf classifier.Config) (classifier.Classifier, error) {
	return New(conf)
}

func New(conf classifier.Config) (*Classifier, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	labels, err := LoadLabels(conf.LabelsPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrModelLoad, err)
	}

	modelPath := conf.ModelPath()
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrModelLoad, err)
	}
	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: could not read %s", classifier.ErrModelLoad, modelPath)
	}

	backend, target := deviceTarget(conf.Device)
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: %v", classifier.ErrUnsupportedConfiguration, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: %v", classifier.ErrUnsupportedConfiguration, err)
	}

	log.Printf("loaded %s (%d labels)", conf, len(labels))
	return &Classifier{
		net:       net,
		labels:    labels,
		quantized: conf.Model.Quantized(),
		inputSize: image.Pt(inputSize, inputSize),
	}, nil
}

func deviceTarget(d classifier.Device) (gocv.NetBackendType, gocv.NetTargetType) {
	switch d {
	case classifier.GPU:
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	case classifier.Accelerator:
		return gocv.NetBackendOpenVINO, gocv.NetTargetVPU
	default:
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
}

// LoadLabels reads one label per line, ignoring blank lines.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		label := strings.TrimSpace(scanner.Text())
		if label != "" {
			labels = append(labels, label)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels in %s", path)
	}
	return labels, nil
}

func (c *Classifier) InputSize() (int, int) {
	return c.inputSize.X, c.inputSize.Y
}

func (c *Classifier) Classify(img classifier.Image) ([]recognition.Recognition, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: classifier closed", classifier.ErrInference)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrInference, err)
	}

	c.bgra = packBGRA(c.bgra, img.Pixels[:img.Width*img.Height])
	frame, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC4, c.bgra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrInference, err)
	}
	defer frame.Close()

	crop := frame.Region(img.CenterCrop())
	defer crop.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(crop, &bgr, gocv.ColorBGRAToBGR)

	if flag, ok := rotation(img.Orientation); ok {
		rotated := gocv.NewMat()
		defer rotated.Close()
		gocv.Rotate(bgr, &rotated, flag)
		bgr, rotated = rotated, bgr
	}

	scale, mean := 1.0/127.5, gocv.NewScalar(127.5, 127.5, 127.5, 0)
	if c.quantized {
		scale, mean = 1.0, gocv.NewScalar(0, 0, 0, 0)
	}
	blob := gocv.BlobFromImage(bgr, scale, c.inputSize, mean, true, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	probs, err := c.probabilities(output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", classifier.ErrInference, err)
	}
	if len(probs) != len(c.labels) {
		return nil, fmt.Errorf("%w: model has %d outputs but there are %d labels",
			classifier.ErrInference, len(probs), len(c.labels))
	}

	scores := make(map[string]float32, len(probs))
	for i, p := range probs {
		scores[c.labels[i]] = p
	}
	return recognition.TopKFromScores(scores, recognition.MaxResults), nil
}

// probabilities reads the output tensor, dequantizing 8 bit outputs.
func (c *Classifier) probabilities(output gocv.Mat) ([]float32, error) {
	if output.Type() == gocv.MatTypeCV8U {
		raw, err := output.DataPtrUint8()
		if err != nil {
			return nil, err
		}
		probs := make([]float32, len(raw))
		for i, v := range raw {
			probs[i] = float32(v) / 255
		}
		return probs, nil
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	probs := make([]float32, len(data))
	copy(probs, data)
	if c.quantized {
		for i := range probs {
			probs[i] /= 255
		}
	}
	return probs, nil
}

func (c *Classifier) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.net.Close()
}

// packBGRA lays out 0xAARRGGBB pixels as the B,G,R,A bytes of an 8 bit
// four channel Mat, reusing buf when it is large enough.
func packBGRA(buf []byte, pixels []uint32) []byte {
	n := len(pixels) * 4
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	for i, px := range pixels {
		binary.LittleEndian.PutUint32(buf[i*4:], px)
	}
	return buf
}

// rotation maps a clockwise orientation in degrees onto the rotation that
// brings the frame upright.
func rotation(orientation int) (gocv.RotateFlag, bool) {
	switch (orientation / 90) % 4 {
	case 1:
		return gocv.Rotate90Clockwise, true
	case 2:
		return gocv.Rotate180Clockwise, true
	case 3:
		return gocv.Rotate90CounterClockwise, true
	}
	return 0, false
}
