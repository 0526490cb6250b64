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
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/frame-classifier/recognition"
)

// Scorer returns a probability for every label the model knows.
type Scorer func(Image) (map[string]float32, error)

// ScoreClassifier turns a Scorer into a Classifier by keeping the best
// recognition.MaxResults labels.
type ScoreClassifier struct {
	score  Scorer
	width  int
	height int
	closed bool
}

func NewScoreClassifier(score Scorer, inputWidth, inputHeight int) *ScoreClassifier {
	return &ScoreClassifier{
		score:  score,
		width:  inputWidth,
		height: inputHeight,
	}
}

func (c *ScoreClassifier) Classify(img Image) ([]recognition.Recognition, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: classifier closed", ErrInference)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	scores, err := c.score(img)
	if err != nil {
		if errors.Is(err, ErrInference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return recognition.TopKFromScores(scores, recognition.MaxResults), nil
}

func (c *ScoreClassifier) InputSize() (int, int) {
	return c.width, c.height
}

func (c *ScoreClassifier) Close() error {
	c.closed = true
	return nil
}
