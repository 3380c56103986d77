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

// coarseCalibration follows the whole-frame clarity of every camera through
// a sweep. The peak seeds the positioning gate and half of it becomes the
// camera's detection threshold for the calibration pass.
type coarseCalibration struct {
	e    *Engine
	cams *cameraSet
}

func (p *coarseCalibration) process(t Task) stepOutcome {
	c := p.cams.get(t.CameraID)
	if c == nil || t.Image == nil {
		return stepSkipped
	}
	c.frameCount++
	if p.cams.capped(p.e.conf.MaxFrameCount) {
		return stepDone
	}

	v := p.e.scorer.Calibration(t.Image)
	c.frame.observe(v)
	c.threshold = c.frame.max * p.e.conf.ThresholdRatio
	p.e.calibration[c.id] = c.frame.max
	p.e.thresholds[c.id] = c.threshold

	if p.attenuated() {
		return stepDone
	}
	return stepContinue
}

// attenuated reports whether every camera has gone longer than the
// attenuation limit without a new peak.
func (p *coarseCalibration) attenuated() bool {
	done := true
	p.cams.each(func(c *cameraState) {
		if c.frame.attenuation <= p.e.conf.AttenuationLimit {
			done = false
		}
	})
	return done
}
