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

// Package capturesize picks a preview size from those a camera supports.
package capturesize

import (
	"errors"
	"fmt"
	"log"
	"strings"
)

// MinimumPreviewSize is the smallest edge a chosen preview may have unless
// nothing that large is offered.
const MinimumPreviewSize = 320

var ErrNoCandidates = errors.New("no candidate sizes")

type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Area is computed in 64 bits so large sizes cannot overflow.
func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize reads a size written as WIDTHxHEIGHT.
func ParseSize(s string) (Size, error) {
	var size Size
	if _, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &size.Width, &size.Height); err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %v", s, err)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	return size, nil
}

type Negotiator struct {
	MinSize int
}

func DefaultNegotiator() Negotiator {
	return Negotiator{MinSize: MinimumPreviewSize}
}

// Choose returns the candidate matching desired exactly if there is one.
// Otherwise it returns the smallest candidate whose edges are both at least
// max(MinSize, min(desired width, desired height)), and if none are that big
// it falls back to the first candidate.
func (n Negotiator) Choose(choices []Size, desired Size) (Size, error) {
	if len(choices) == 0 {
		return Size{}, ErrNoCandidates
	}

	minSize := desired.Width
	if desired.Height < minSize {
		minSize = desired.Height
	}
	if n.MinSize > minSize {
		minSize = n.MinSize
	}

	exactFound := false
	var bigEnough, tooSmall []Size
	for _, option := range choices {
		if option == desired {
			exactFound = true
		}
		if option.Width >= minSize && option.Height >= minSize {
			bigEnough = append(bigEnough, option)
		} else {
			tooSmall = append(tooSmall, option)
		}
	}

	log.Printf("desired size: %s, min size: %dx%d", desired, minSize, minSize)
	log.Printf("valid preview sizes: [%s]", joinSizes(bigEnough))
	log.Printf("rejected preview sizes: [%s]", joinSizes(tooSmall))

	if exactFound {
		log.Printf("exact size match found")
		return desired, nil
	}

	if len(bigEnough) > 0 {
		chosen := bigEnough[0]
		for _, option := range bigEnough[1:] {
			if option.Area() < chosen.Area() {
				chosen = option
			}
		}
		log.Printf("chosen size: %s", chosen)
		return chosen, nil
	}

	log.Printf("couldn't find any suitable preview size")
	return choices[0], nil
}

func joinSizes(sizes []Size) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}
