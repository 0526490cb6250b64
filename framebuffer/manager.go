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

package framebuffer

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

// ErrPlaneNotFilled is returned when a plane is read before it was filled
// for the current frame.
var ErrPlaneNotFilled = errors.New("plane not filled for this frame")

// Plane identifies one of the three capture planes.
type Plane int

const (
	Y Plane = iota
	U
	V
	numPlanes
)

func (p Plane) String() string {
	switch p {
	case Y:
		return "Y"
	case U:
		return "U"
	case V:
		return "V"
	}
	return fmt.Sprintf("Plane(%d)", int(p))
}

// Geometry is the size and sensor rotation of a capture session.
type Geometry struct {
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Rotation int `yaml:"rotation"`
}

// Validate checks the size is positive and the rotation is a right angle.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", g.Width, g.Height)
	}
	switch g.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("invalid rotation %d", g.Rotation)
	}
	return nil
}

// Pixels returns the number of pixels in a frame.
func (g Geometry) Pixels() int {
	return g.Width * g.Height
}

// Strides describes the layout of planar frames.
type Strides struct {
	YRow    int
	UVRow   int
	UVPixel int
}

// Manager owns the reusable plane and RGB buffers for the frames of a
// capture session. It is not safe for concurrent use; the pipeline worker
// is its only user.
type Manager struct {
	geom        Geometry
	planes      [numPlanes][]byte
	filled      [numPlanes]bool
	rgb         []uint32
	allocations int
}

func New() *Manager {
	return &Manager{}
}

// SetGeometry switches to a new capture size. The RGB buffer is resized to
// exactly one pixel per frame pixel, reusing its backing array when it is
// big enough, and any plane contents are invalidated.
func (m *Manager) SetGeometry(g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if g == m.geom {
		return nil
	}
	m.geom = g
	n := g.Pixels()
	if cap(m.rgb) < n {
		m.rgb = make([]uint32, n)
		m.allocations++
	} else {
		m.rgb = m.rgb[:n]
	}
	m.BeginFrame()
	return nil
}

func (m *Manager) Geometry() Geometry {
	return m.geom
}

// BeginFrame marks every plane as unfilled.
func (m *Manager) BeginFrame() {
	for i := range m.filled {
		m.filled[i] = false
	}
}

// FillPlane copies src into the buffer for p, growing it if needed.
func (m *Manager) FillPlane(p Plane, src []byte) {
	buf := m.planes[p]
	if cap(buf) < len(src) {
		buf = make([]byte, len(src))
		m.allocations++
	}
	buf = buf[:len(src)]
	copy(buf, src)
	m.planes[p] = buf
	m.filled[p] = true
}

// Plane returns the contents of p for the current frame.
func (m *Manager) Plane(p Plane) ([]byte, error) {
	if p < 0 || p >= numPlanes {
		return nil, fmt.Errorf("unknown plane %d", int(p))
	}
	if !m.filled[p] {
		return nil, fmt.Errorf("%s: %w", p, ErrPlaneNotFilled)
	}
	return m.planes[p], nil
}

// ConvertSemiPlanar converts a semi-planar frame held in the Y plane.
func (m *Manager) ConvertSemiPlanar() ([]uint32, error) {
	if err := m.checkGeometry(); err != nil {
		return nil, err
	}
	data, err := m.Plane(Y)
	if err != nil {
		return nil, err
	}
	if err := yuv.ConvertSemiPlanarToARGB(data, m.geom.Width, m.geom.Height, m.rgb); err != nil {
		return nil, err
	}
	return m.rgb, nil
}

// ConvertPlanar converts a frame held in the three planes.
func (m *Manager) ConvertPlanar(s Strides) ([]uint32, error) {
	if err := m.checkGeometry(); err != nil {
		return nil, err
	}
	var data [numPlanes][]byte
	for p := Y; p < numPlanes; p++ {
		b, err := m.Plane(p)
		if err != nil {
			return nil, err
		}
		data[p] = b
	}
	err := yuv.ConvertPlanarToARGB(
		data[Y], data[U], data[V],
		m.geom.Width, m.geom.Height,
		s.YRow, s.UVRow, s.UVPixel,
		m.rgb)
	if err != nil {
		return nil, err
	}
	return m.rgb, nil
}

// RGB returns the output buffer of the most recent conversion.
func (m *Manager) RGB() []uint32 {
	return m.rgb
}

// Allocations reports how many times a backing buffer has been allocated.
func (m *Manager) Allocations() int {
	return m.allocations
}

func (m *Manager) checkGeometry() error {
	if m.geom.Pixels() == 0 {
		return errors.New("no frame geometry set")
	}
	return nil
}
