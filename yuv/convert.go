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

// Package yuv converts YUV 4:2:0 camera preview data into packed 32 bit
// ARGB pixels using integer arithmetic only.
package yuv

import (
	"errors"
	"fmt"
)

// This value is 2^18 - 1 and is used to clamp the RGB values before their
// ranges are normalised to eight bits.
const maxChannelValue = 262143

// ErrShortBuffer is returned when a plane or the output is too small for the
// requested geometry and strides.
var ErrShortBuffer = errors.New("buffer too small for frame")

// Format describes how the chroma samples of a frame are laid out.
type Format int

const (
	// SemiPlanar is NV21: a full Y plane followed by interleaved V,U pairs.
	SemiPlanar Format = iota
	// Planar is three separate Y, U and V planes with their own strides.
	Planar
)

func (f Format) String() string {
	switch f {
	case SemiPlanar:
		return "semi-planar"
	case Planar:
		return "planar"
	default:
		return "unknown"
	}
}

// ParseFormat converts the name used in frame headers into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "semi-planar", "nv21":
		return SemiPlanar, nil
	case "planar", "yuv420":
		return Planar, nil
	}
	return 0, fmt.Errorf("unknown yuv format %q", s)
}

// SemiPlanarByteSize returns the number of bytes in a semi-planar frame of
// the given dimensions. Odd dimensions are rounded up for the chroma plane
// as each 2x2 block takes one V and one U byte.
func SemiPlanarByteSize(width, height int) int {
	ySize := width * height
	uvSize := (width + 1) / 2 * ((height + 1) / 2) * 2
	return ySize + uvSize
}

// PlanarByteSizes returns the minimum number of bytes the Y plane and each
// chroma plane must hold for a strided planar frame.
func PlanarByteSizes(width, height, yRowStride, uvRowStride, uvPixelStride int) (ySize, uvSize int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	ySize = (height-1)*yRowStride + width
	uvSize = ((height-1)>>1)*uvRowStride + ((width-1)>>1)*uvPixelStride + 1
	return ySize, uvSize
}

// ConvertSemiPlanarToARGB converts an NV21 frame into out, one packed pixel
// per output pixel in row-major order. The chroma pair is only read on even
// columns and reused for the odd column that follows.
func ConvertSemiPlanarToARGB(input []byte, width, height int, out []uint32) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if need := SemiPlanarByteSize(width, height); len(input) < need {
		return fmt.Errorf("semi-planar input has %d bytes, need %d: %w", len(input), need, ErrShortBuffer)
	}
	frameSize := width * height
	if len(out) < frameSize {
		return fmt.Errorf("output has %d pixels, need %d: %w", len(out), frameSize, ErrShortBuffer)
	}

	uvRowBytes := (width + 1) / 2 * 2
	yp := 0
	for j := 0; j < height; j++ {
		uvp := frameSize + (j>>1)*uvRowBytes
		var u, v int
		for i := 0; i < width; i++ {
			y := int(input[yp])
			if i&1 == 0 {
				v = int(input[uvp])
				u = int(input[uvp+1])
				uvp += 2
			}
			out[yp] = YUVToARGB(y, u, v)
			yp++
		}
	}
	return nil
}

// ConvertPlanarToARGB converts three separately strided planes into out.
// The U and V planes share uvRowStride and uvPixelStride; a pixel stride of
// 2 covers chroma planes that are views into one interleaved buffer.
func ConvertPlanarToARGB(
	yData, uData, vData []byte,
	width, height int,
	yRowStride, uvRowStride, uvPixelStride int,
	out []uint32,
) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if yRowStride < width {
		return fmt.Errorf("y row stride %d is less than width %d", yRowStride, width)
	}
	if uvPixelStride < 1 || uvRowStride < 1 {
		return fmt.Errorf("invalid chroma strides row=%d pixel=%d", uvRowStride, uvPixelStride)
	}
	ySize, uvSize := PlanarByteSizes(width, height, yRowStride, uvRowStride, uvPixelStride)
	if len(yData) < ySize {
		return fmt.Errorf("y plane has %d bytes, need %d: %w", len(yData), ySize, ErrShortBuffer)
	}
	if len(uData) < uvSize || len(vData) < uvSize {
		return fmt.Errorf("chroma planes have %d/%d bytes, need %d: %w", len(uData), len(vData), uvSize, ErrShortBuffer)
	}
	if len(out) < width*height {
		return fmt.Errorf("output has %d pixels, need %d: %w", len(out), width*height, ErrShortBuffer)
	}

	yp := 0
	for j := 0; j < height; j++ {
		pY := yRowStride * j
		pUV := uvRowStride * (j >> 1)
		for i := 0; i < width; i++ {
			uvOffset := pUV + (i>>1)*uvPixelStride
			out[yp] = YUVToARGB(int(yData[pY+i]), int(uData[uvOffset]), int(vData[uvOffset]))
			yp++
		}
	}
	return nil
}

// YUVToARGB converts a single sample triple into an opaque packed pixel.
// The matrix is evaluated in fixed point (scaled by 1024) and must stay bit
// for bit identical as downstream consumers compare pixel values.
func YUVToARGB(y, u, v int) uint32 {
	u -= 128
	v -= 128

	y1192 := 1192 * y
	r := clamp(y1192 + 1634*v)
	g := clamp(y1192 - 833*v - 400*u)
	b := clamp(y1192 + 2066*u)

	return 0xff000000 |
		uint32((r<<6)&0xff0000) |
		uint32((g>>2)&0xff00) |
		uint32((b>>10)&0xff)
}

func clamp(c int) int {
	if c > maxChannelValue {
		return maxChannelValue
	}
	if c < 0 {
		return 0
	}
	return c
}
