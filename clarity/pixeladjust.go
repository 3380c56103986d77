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

package clarity

import (
	"fmt"
	"image"
	"math"

	"github.com/fiberend/autofocus/detect"
)

// pixelAdjustment keeps the sharpest whole frame of the first camera and
// its position in the sweep.
type pixelAdjustment struct {
	e     *Engine
	cams  *cameraSet
	dump  bool
	frame peakTracker
	index int
}

func (p *pixelAdjustment) process(t Task) stepOutcome {
	e := p.e
	if t.CameraID != p.cams.first() {
		return stepSkipped
	}
	if t.Image == nil {
		e.logs.Keyf("adjust-empty", "pixel adjustment: empty frame from camera %s", t.CameraID)
		return stepSkipped
	}
	c := p.cams.get(t.CameraID)
	c.frameCount++

	if p.frame.observe(e.scorer.Frame(t.Image)) {
		e.sharpest = t.Image
		e.sharpestIndex = p.index
	}
	p.index++

	if p.dump && e.dumper != nil {
		e.dumper.Dump(fmt.Sprintf("adjustment_%s_%04d.png", c.id, c.dumped), t.Image)
		c.dumped++
	}
	return stepContinue
}

// Centering is how far the row of end-faces has to move to sit in the
// middle of the frame.
type Centering struct {
	DX           int
	DY           int
	Window       detect.XWindow
	ObjectOffset int
	Boxes        []detect.Box
}

// centerRow works out the centering offsets from the sharpest frame of a
// pixel adjustment sweep. expected is the number of end-faces in the row.
// With no usable boxes the offsets are zero and ok is false.
func centerRow(p *positioner, expected int, img *image.Gray) (Centering, bool, error) {
	if img == nil {
		return Centering{}, false, nil
	}
	boxes, err := p.locateForAdjustment(img)
	if err != nil {
		return Centering{}, false, err
	}
	if len(boxes) == 0 {
		return Centering{}, false, nil
	}

	w := float64(img.Rect.Dx())
	h := float64(img.Rect.Dy())
	num := len(boxes)
	first, last := boxes[0], boxes[num-1]

	var offset int
	if num > 1 {
		offset = int((last.X1 - first.X1) / float64(num-1))
	}
	span := last.X1 - first.X0 + float64(offset*(expected-num))
	xmin := int((w - span) / 2)
	xmax := xmin + int(span)

	var ySum float64
	for _, b := range boxes {
		ySum += b.CenterY()
	}

	return Centering{
		DX:           int(float64(xmin) - first.X0),
		DY:           int(math.Trunc(h/2 - ySum/float64(num))),
		Window:       detect.XWindow{Min: float64(xmin), Max: float64(xmax)},
		ObjectOffset: offset,
		Boxes:        boxes,
	}, true, nil
}
