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

	"golang.org/x/image/draw"
)

// Detector locates end-faces in a colour frame. TargetSize is the size
// the detector expects a single end-face to have, used to reject partial
// detections.
type Detector interface {
	Detect(img *image.RGBA) ([]Box, error)
	TargetSize() (x, y float64)
}

// StaticDetector returns a fixed set of boxes for every frame. It backs
// replay runs where the end-face layout is known ahead of time.
type StaticDetector struct {
	Boxes   []Box
	TargetX float64
	TargetY float64
}

func (d *StaticDetector) Detect(img *image.RGBA) ([]Box, error) {
	return append([]Box(nil), d.Boxes...), nil
}

func (d *StaticDetector) TargetSize() (float64, float64) {
	return d.TargetX, d.TargetY
}

// ToRGBA converts a gray frame into the colour image detectors consume.
func ToRGBA(g *image.Gray) *image.RGBA {
	out := image.NewRGBA(g.Bounds())
	draw.Draw(out, out.Bounds(), g, g.Bounds().Min, draw.Src)
	return out
}
