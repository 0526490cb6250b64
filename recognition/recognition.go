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

package recognition

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/emirpasic/gods/queues/priorityqueue"
)

// MaxResults is the number of recognitions published per frame.
const MaxResults = 3

// Recognition is one labelled result for a frame. Location is only set by
// classifiers that localise what they find.
type Recognition struct {
	ID         string
	Label      string
	Confidence float32
	Location   *image.Rectangle
}

func (r Recognition) String() string {
	var parts []string
	if r.ID != "" {
		parts = append(parts, "["+r.ID+"]")
	}
	if r.Label != "" {
		parts = append(parts, r.Label)
	}
	parts = append(parts, fmt.Sprintf("(%.1f%%)", r.Confidence*100))
	if r.Location != nil {
		parts = append(parts, r.Location.String())
	}
	return strings.Join(parts, " ")
}

type ranked struct {
	rec Recognition
	seq int
}

// byConfidence orders the highest confidence first and falls back to the
// order items were added so equal scores keep their input order.
func byConfidence(a, b interface{}) int {
	ra := a.(ranked)
	rb := b.(ranked)
	switch {
	case ra.rec.Confidence > rb.rec.Confidence:
		return -1
	case ra.rec.Confidence < rb.rec.Confidence:
		return 1
	}
	return ra.seq - rb.seq
}

// TopK returns at most k recognitions with the highest confidence, highest
// first. A k of zero or less returns nothing.
func TopK(recs []Recognition, k int) []Recognition {
	if k <= 0 || len(recs) == 0 {
		return nil
	}
	queue := priorityqueue.NewWith(byConfidence)
	for i, rec := range recs {
		queue.Enqueue(ranked{rec: rec, seq: i})
	}

	if k > len(recs) {
		k = len(recs)
	}
	out := make([]Recognition, 0, k)
	for len(out) < k {
		v, ok := queue.Dequeue()
		if !ok {
			break
		}
		out = append(out, v.(ranked).rec)
	}
	return out
}

// TopKFromScores ranks a label to score map. Labels are considered in
// ascending order so that equal scores are ordered alphabetically. Each
// recognition uses its label as its ID.
func TopKFromScores(scores map[string]float32, k int) []Recognition {
	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	recs := make([]Recognition, len(labels))
	for i, label := range labels {
		recs[i] = Recognition{
			ID:         label,
			Label:      label,
			Confidence: scores[label],
		}
	}
	return TopK(recs, k)
}
