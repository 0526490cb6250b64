// frame-classifier - classify live camera preview frames on device
//  Copyright (C) 2020, The Cacophony Project
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

package headers

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v1"

	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

// FrameHeader describes the frames a capture process is about to send.
// It is sent once per connection as a YAML block terminated by a blank
// line.
type FrameHeader struct {
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	Rotation      int    `yaml:"rotation"`
	Format        string `yaml:"format"`
	YRowStride    int    `yaml:"y-row-stride,omitempty"`
	UVRowStride   int    `yaml:"uv-row-stride,omitempty"`
	UVPixelStride int    `yaml:"uv-pixel-stride,omitempty"`
	FPS           int    `yaml:"fps"`
	Brand         string `yaml:"brand,omitempty"`
	Model         string `yaml:"model,omitempty"`
}

// Geometry returns the capture geometry of the frames.
func (h *FrameHeader) Geometry() framebuffer.Geometry {
	return framebuffer.Geometry{
		Width:    h.Width,
		Height:   h.Height,
		Rotation: h.Rotation,
	}
}

// Strides returns the plane layout for planar frames.
func (h *FrameHeader) Strides() framebuffer.Strides {
	return framebuffer.Strides{
		YRow:    h.YRowStride,
		UVRow:   h.UVRowStride,
		UVPixel: h.UVPixelStride,
	}
}

func (h *FrameHeader) YUVFormat() (yuv.Format, error) {
	return yuv.ParseFormat(h.Format)
}

// PlaneSizes returns how many bytes of each plane are sent per frame.
// Semi-planar frames are sent as a single buffer so uv is zero.
func (h *FrameHeader) PlaneSizes() (y, uv int) {
	format, err := h.YUVFormat()
	if err != nil {
		return 0, 0
	}
	if format == yuv.SemiPlanar {
		return yuv.SemiPlanarByteSize(h.Width, h.Height), 0
	}
	chromaRows := (h.Height + 1) / 2
	return h.YRowStride * h.Height, h.UVRowStride * chromaRows
}

// FrameSize returns the number of bytes in each frame.
func (h *FrameHeader) FrameSize() int {
	y, uv := h.PlaneSizes()
	return y + 2*uv
}

// Validate checks the header describes frames that can be converted.
func (h *FrameHeader) Validate() error {
	if err := h.Geometry().Validate(); err != nil {
		return err
	}
	format, err := h.YUVFormat()
	if err != nil {
		return err
	}
	if format == yuv.Planar {
		if h.YRowStride < h.Width {
			return fmt.Errorf("y row stride %d less than width %d", h.YRowStride, h.Width)
		}
		if h.UVPixelStride != 1 && h.UVPixelStride != 2 {
			return fmt.Errorf("unsupported uv pixel stride %d", h.UVPixelStride)
		}
		if minStride := (h.Width + 1) / 2 * h.UVPixelStride; h.UVRowStride < minStride {
			return fmt.Errorf("uv row stride %d less than %d", h.UVRowStride, minStride)
		}
	}
	if h.FPS < 0 {
		return fmt.Errorf("invalid fps %d", h.FPS)
	}
	return nil
}

// fillDefaults sets tightly packed strides when they were not given.
func (h *FrameHeader) fillDefaults() {
	if h.Format == "" {
		h.Format = yuv.SemiPlanar.String()
	}
	if h.YRowStride == 0 {
		h.YRowStride = h.Width
	}
	if h.UVPixelStride == 0 {
		h.UVPixelStride = 1
	}
	if h.UVRowStride == 0 {
		h.UVRowStride = (h.Width + 1) / 2 * h.UVPixelStride
	}
}

// ReadFrameHeader reads a header sent by a capture process.
func ReadFrameHeader(reader *bufio.Reader) (*FrameHeader, error) {
	var buf bytes.Buffer
	for {
		line, err := reader.ReadString(byte('\n'))
		if err != nil {
			return nil, err
		}
		if strings.Trim(line, " \r") == "\n" {
			break
		}
		buf.WriteString(line)
	}
	h := new(FrameHeader)
	if err := yaml.Unmarshal(buf.Bytes(), h); err != nil {
		return nil, err
	}
	h.fillDefaults()
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame header: %v", err)
	}
	return h, nil
}

// Write sends the header followed by the terminating blank line.
func (h *FrameHeader) Write(w io.Writer) error {
	out, err := yaml.Marshal(h)
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}
