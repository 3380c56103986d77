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
	"log"
	"path/filepath"

	"github.com/fiberend/autofocus/detect"
)

// FocusResult is the sharpest crop found for one end-face. Box is the
// detection box relative to the crop.
type FocusResult struct {
	Image   *image.Gray
	Box     detect.Box
	Clarity float64
}

// focusCrop cuts the buffered surroundings of box out of img.
func focusCrop(img *image.Gray, box detect.Box, buffer float64) FocusResult {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rect := box.Buffer(buffer).Clamp(w, h).Rect()
	return FocusResult{
		Image: Crop(img, rect),
		Box:   box.Offset(-float64(rect.Min.X), -float64(rect.Min.Y)),
	}
}

// autoFocus positions every camera, then follows the clarity of every
// end-face until the peak has passed and enough frames around it are
// cached.
type autoFocus struct {
	e        *Engine
	cams     *cameraSet
	pos      *positioner
	saveDir  string
	index    int
	dump     bool
	trackers []peakTracker
}

func (p *autoFocus) process(t Task) stepOutcome {
	e := p.e
	c := p.cams.get(t.CameraID)
	if c == nil {
		e.logs.Keyf("af-unknown", "auto focus: frame from unknown camera %q", t.CameraID)
		return stepSkipped
	}
	if t.Image == nil {
		e.logs.Keyf("af-empty", "auto focus: empty frame from camera %s", c.id)
		return stepSkipped
	}
	c.frameCount++
	if p.dump && e.dumper != nil {
		e.dumper.Dump(fmt.Sprintf("%s_%04d.png", c.id, c.dumped), t.Image)
		c.dumped++
	}

	if !c.positioned {
		if c.positionFailed {
			return stepSkipped
		}
		if out, ok := p.position(c, t.Image); !ok {
			return out
		}
	}

	if p.trackers == nil {
		if !p.cams.resolved() {
			return stepSkipped
		}
		p.allocate()
	}

	return p.track(c, t.Image)
}

// position runs the gate and the detector for a camera that has no
// regions yet. It returns false with the step outcome when the frame
// can't be used any further.
func (p *autoFocus) position(c *cameraState, img *image.Gray) (stepOutcome, bool) {
	e := p.e
	v := e.scorer.Calibration(img)
	if !p.pos.gate(v, e.calibration[c.id]) {
		e.logs.Keyf("af-gate", "auto focus: camera %s below gate (%.2f)", c.id, v)
		return stepSkipped, false
	}

	boxes, err := p.pos.locate(img)
	if err != nil {
		log.Printf("auto focus: detect on camera %s failed: %v", c.id, err)
	}
	if len(boxes) == 0 {
		c.positionFailed = true
		log.Printf("auto focus: no end-faces found on camera %s", c.id)
		if p.cams.allFailed() {
			e.detectFailed.Store(true)
			return stepFailed, false
		}
		return stepSkipped, false
	}

	c.boxes = boxes
	c.positioned = true
	if c.id == p.cams.first() {
		e.maxPosition = int(boxes[len(boxes)-1].X1)
	}
	return stepContinue, true
}

func (p *autoFocus) allocate() {
	e := p.e
	total := p.cams.total()
	p.trackers = make([]peakTracker, total)
	e.results = make([]FocusResult, total)
	e.regionClarity = make([]float64, total)
	e.cache = NewCacheRing(total, e.conf.CacheSize)

	if want := p.pos.expected * len(p.cams.order); p.pos.expected > 0 && total < want {
		log.Printf("auto focus: tracking %d of %d end-faces", total, want)
	}
}

func (p *autoFocus) track(c *cameraState, img *image.Gray) stepOutcome {
	e := p.e
	start := p.cams.startIndex(c.id)
	scores := scoreRegions(e.scorer, img, c.boxes, e.conf.Workers, func(i int) bool {
		return p.trackers[start+i].finished
	})

	savePath := filepath.Join(p.saveDir, fmt.Sprintf("%s_%d.png", c.id, p.index))
	for i, box := range c.boxes {
		g := start + i
		tr := &p.trackers[g]
		if tr.finished {
			if !e.cache.RegionComplete(g) {
				e.cache.Add(g, focusCrop(img, box, e.conf.FocusBuffer).Image, true)
			}
			continue
		}

		crop := focusCrop(img, box, e.conf.FocusBuffer)
		v := scores[i]
		if tr.observe(v) {
			crop.Clarity = v
			e.results[g] = crop
			e.regionClarity[g] = v
			e.cache.Add(g, crop.Image, false)
			e.cache.ResetCounter(g)
			if i == 0 && p.saveDir != "" {
				e.saveFrames[savePath] = cloneGray(img)
			}
			continue
		}

		e.cache.Add(g, crop.Image, true)
		if tr.converged(v, e.diffThreshold, e.conf.AttenuationLimit) {
			tr.finished = true
			if e.observer != nil {
				e.observer.RegionFinished(g)
			}
		}
	}

	if e.cache.Complete() {
		return stepDone
	}
	return stepContinue
}
