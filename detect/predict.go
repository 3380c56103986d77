// autofocus - pick the sharpest fiber end-face images during a stage sweep
//  Copyright (C) 2026, The Fiberend Project
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

package detect

import "math"

// PredictMissing fills detector misses in a row of evenly spaced
// end-faces. The pitch comes from the gaps between neighbouring boxes, so
// boxes are only inserted into empty slots between confirmed detections.
// Slots still missing after that are extrapolated past the ends of the
// row, towards whichever side of the frame has more room.
//
// A gap is taken as a single pitch unless the rest of the row would then
// not fit inside frameWidth, in which case it is split into as few equal
// pitches as make the row fit. frameWidth <= 0 means the frame edges are
// unknown.
//
// Boxes starting less than half a box width after their left neighbour
// are duplicates and dropped. With at least two boxes the result always
// holds exactly expected boxes; extras are trimmed from the right.
func PredictMissing(boxes []Box, expected int, frameWidth float64) []Box {
	out := append([]Box(nil), boxes...)
	SortByX0(out)
	out = dropDuplicates(out)

	n := len(out)
	if expected <= 0 || n < 2 && n < expected {
		return out
	}
	if n >= expected {
		return out[:expected]
	}

	pitch, slots, ok := rowPitch(out, expected, frameWidth)
	if !ok {
		return spreadOverSpan(out, expected)
	}

	predicted := make([]Box, 0, expected)
	for i := 0; i < n-1; i++ {
		predicted = append(predicted, out[i])
		for s := 1; s < slots[i]; s++ {
			predicted = append(predicted, lerp(out[i], out[i+1], float64(s)/float64(slots[i])))
		}
	}
	predicted = append(predicted, out[n-1])

	for len(predicted) < expected {
		first, last := predicted[0], predicted[len(predicted)-1]
		right := math.Inf(1)
		if frameWidth > 0 {
			right = frameWidth - last.X1
		}
		if first.X0 > right {
			predicted = append([]Box{first.Offset(-pitch, 0)}, predicted...)
		} else {
			predicted = append(predicted, last.Offset(pitch, 0))
		}
	}
	return predicted
}

func dropDuplicates(boxes []Box) []Box {
	if len(boxes) < 2 {
		return boxes
	}
	half := meanWidth(boxes) / 2
	out := boxes[:1]
	for _, b := range boxes[1:] {
		if b.X0-out[len(out)-1].X0 >= half && b.X0 > out[len(out)-1].X0 {
			out = append(out, b)
		}
	}
	return out
}

func meanWidth(boxes []Box) float64 {
	var sum float64
	for _, b := range boxes {
		sum += b.X1 - b.X0
	}
	return sum / float64(len(boxes))
}

// rowPitch estimates the spacing between neighbouring end-faces and how
// many pitches each observed gap spans. The smallest gap is split into
// per pitches, trying per = 1 first and going no finer than one box
// width. ok is false when every split needs more slots than the row has.
func rowPitch(boxes []Box, expected int, frameWidth float64) (float64, []int, bool) {
	n := len(boxes)
	gaps := make([]float64, n-1)
	minGap := math.Inf(1)
	for i := range gaps {
		gaps[i] = boxes[i+1].X0 - boxes[i].X0
		minGap = math.Min(minGap, gaps[i])
	}
	span := boxes[n-1].X0 - boxes[0].X0

	maxPer := int(math.Floor(minGap/meanWidth(boxes) + 1e-9))
	if maxPer < 1 {
		maxPer = 1
	}
	var (
		best      []int
		bestPitch float64
	)
	for per := 1; per <= maxPer; per++ {
		unit := minGap / float64(per)
		slots := make([]int, len(gaps))
		total := 0
		for i, g := range gaps {
			slots[i] = int(math.Max(1, math.Round(g/unit)))
			total += slots[i]
		}
		if total > expected-1 {
			break
		}
		pitch := span / float64(total)
		best, bestPitch = slots, pitch
		if rowFits(boxes[0], boxes[n-1], pitch, expected-1-total, frameWidth) {
			break
		}
	}
	return bestPitch, best, best != nil
}

// rowFits reports whether missing more boxes at pitch fit between the
// ends of the row and the frame edges.
func rowFits(first, last Box, pitch float64, missing int, frameWidth float64) bool {
	if frameWidth <= 0 || missing == 0 {
		return true
	}
	left := math.Floor(first.X0/pitch + 1e-9)
	right := math.Floor((frameWidth-last.X1)/pitch + 1e-9)
	return int(left+right) >= missing
}

// spreadOverSpan treats the outer boxes as the ends of the row and places
// every box on one of expected evenly spaced slots between them. Empty
// slots are interpolated from their nearest confirmed neighbours.
func spreadOverSpan(boxes []Box, expected int) []Box {
	n := len(boxes)
	pitch := (boxes[n-1].X0 - boxes[0].X0) / float64(expected-1)
	slots := make([]int, expected)
	for i := range slots {
		slots[i] = -1
	}
	for i, b := range boxes {
		s := int(math.Round((b.X0 - boxes[0].X0) / pitch))
		if s >= expected {
			s = expected - 1
		}
		if slots[s] < 0 {
			slots[s] = i
		}
	}

	predicted := make([]Box, 0, expected)
	for s := range slots {
		if slots[s] >= 0 {
			predicted = append(predicted, boxes[slots[s]])
			continue
		}
		left, right := s-1, s+1
		for slots[left] < 0 {
			left--
		}
		for slots[right] < 0 {
			right++
		}
		t := float64(s-left) / float64(right-left)
		predicted = append(predicted, lerp(boxes[slots[left]], boxes[slots[right]], t))
	}
	return predicted
}
