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

// clarityCalibration locates the end-faces of every camera once its frames
// reach the coarse threshold, then records the best region clarity of each
// end-face across the sweep.
type clarityCalibration struct {
	e        *Engine
	cams     *cameraSet
	pos      *positioner
	trackers []peakTracker
}

func (p *clarityCalibration) process(t Task) stepOutcome {
	c := p.cams.get(t.CameraID)
	if c == nil || t.Image == nil {
		return stepSkipped
	}
	c.frameCount++
	if p.cams.capped(p.e.conf.MaxFrameCount) {
		return stepDone
	}

	if !c.positioned {
		v := p.e.scorer.Calibration(t.Image)
		if v < p.e.thresholds[c.id] {
			p.e.logs.Keyf("calibration-threshold", "calibration: camera %s below threshold (%.2f < %.2f)", c.id, v, p.e.thresholds[c.id])
			return stepSkipped
		}
		boxes, err := p.pos.locateForCalibration(t.Image)
		if err != nil {
			p.e.logs.Keyf("calibration-detect", "calibration: detect on camera %s failed: %v", c.id, err)
			return stepSkipped
		}
		if len(boxes) == 0 {
			return stepSkipped
		}
		c.boxes = boxes
		c.positioned = true
	}

	if p.trackers == nil {
		if !p.cams.allPositioned() {
			return stepSkipped
		}
		p.trackers = make([]peakTracker, p.cams.total())
	}

	start := p.cams.startIndex(c.id)
	scores := scoreRegions(p.e.scorer, t.Image, c.boxes, p.e.conf.Workers, nil)
	for i, v := range scores {
		p.trackers[start+i].observe(v)
	}
	p.e.regionClarity = p.peaks()
	return stepContinue
}

func (p *clarityCalibration) peaks() []float64 {
	out := make([]float64, len(p.trackers))
	for i := range p.trackers {
		out[i] = p.trackers[i].max
	}
	return out
}
