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

// XWindow is the horizontal range the centred row of end-faces is allowed
// to occupy. It is set by a pixel adjustment pass.
type XWindow struct {
	Min float64
	Max float64
}

// ExpandAll expands every box by margin, clamped to the frame.
func ExpandAll(boxes []Box, margin float64, w, h int) []Box {
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Expand(margin, w, h)
	}
	return out
}

// FilterSize drops boxes narrower or shorter than the target size less
// tolerance.
func FilterSize(boxes []Box, targetX, targetY, tolerance float64) []Box {
	out := boxes[:0:0]
	for _, b := range boxes {
		if b.Width() < targetX-tolerance || b.Height() < targetY-tolerance {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FilterEdge drops boxes touching the border of a w x h frame.
func FilterEdge(boxes []Box, w, h int) []Box {
	out := boxes[:0:0]
	for _, b := range boxes {
		if b.TouchesEdge(w, h) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FilterWindow drops boxes that fall outside win by more than tolerance
// times their own width. A nil window keeps everything.
func FilterWindow(boxes []Box, win *XWindow, tolerance float64) []Box {
	if win == nil {
		return boxes
	}
	out := boxes[:0:0]
	for _, b := range boxes {
		slack := b.Width() * tolerance
		if b.X0 < win.Min-slack || b.X1 > win.Max+slack {
			continue
		}
		out = append(out, b)
	}
	return out
}
