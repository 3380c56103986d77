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

import (
	"image"
	"math"
	"sort"
)

// Box is a detected end-face in frame pixel coordinates. X1 >= X0 and Y1 >= Y0.
type Box struct {
	X0 float64
	Y0 float64
	X1 float64
	Y1 float64
}

func NewBox(x0, y0, x1, y1 float64) Box {
	return Box{
		X0: math.Min(x0, x1),
		Y0: math.Min(y0, y1),
		X1: math.Max(x0, x1),
		Y1: math.Max(y0, y1),
	}
}

func (b Box) Width() float64 {
	return b.X1 - b.X0
}

func (b Box) Height() float64 {
	return b.Y1 - b.Y0
}

func (b Box) CenterX() float64 {
	return (b.X0 + b.X1) / 2
}

func (b Box) CenterY() float64 {
	return (b.Y0 + b.Y1) / 2
}

// Valid reports whether the box covers a non-degenerate area.
func (b Box) Valid() bool {
	return b.X1 > b.X0 && b.Y1 > b.Y0
}

// Buffer grows the box around its centre so that its width and height
// become factor times the original size.
func (b Box) Buffer(factor float64) Box {
	dx := b.Width() * (factor - 1) / 2
	dy := b.Height() * (factor - 1) / 2
	return Box{
		X0: b.X0 - dx,
		Y0: b.Y0 - dy,
		X1: b.X1 + dx,
		Y1: b.Y1 + dy,
	}
}

// Expand grows every side by margin pixels and clamps the result to a
// frame of width w and height h.
func (b Box) Expand(margin float64, w, h int) Box {
	return Box{
		X0: b.X0 - margin,
		Y0: b.Y0 - margin,
		X1: b.X1 + margin,
		Y1: b.Y1 + margin,
	}.Clamp(w, h)
}

// Clamp limits the box to the last addressable pixel of a w x h frame.
func (b Box) Clamp(w, h int) Box {
	maxX := float64(w - 1)
	maxY := float64(h - 1)
	return Box{
		X0: clamp(b.X0, 0, maxX),
		Y0: clamp(b.Y0, 0, maxY),
		X1: clamp(b.X1, 0, maxX),
		Y1: clamp(b.Y1, 0, maxY),
	}
}

func (b Box) Offset(dx, dy float64) Box {
	return Box{X0: b.X0 + dx, Y0: b.Y0 + dy, X1: b.X1 + dx, Y1: b.Y1 + dy}
}

// Rect truncates the box to integer pixel coordinates.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X0), int(b.Y0), int(b.X1), int(b.Y1))
}

// TouchesEdge reports whether the box lies within a pixel or two of the
// border of a w x h frame.
func (b Box) TouchesEdge(w, h int) bool {
	return b.X0 < 1 || b.Y0 < 1 || b.X1 > float64(w-2) || b.Y1 > float64(h-2)
}

func lerp(a, b Box, t float64) Box {
	return Box{
		X0: a.X0 + (b.X0-a.X0)*t,
		Y0: a.Y0 + (b.Y0-a.Y0)*t,
		X1: a.X1 + (b.X1-a.X1)*t,
		Y1: a.Y1 + (b.Y1-a.Y1)*t,
	}
}

// SortByX0 orders boxes left to right.
func SortByX0(boxes []Box) {
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].X0 < boxes[j].X0
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
