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
	"image"

	"github.com/fiberend/autofocus/detect"
)

// cameraState is what a session knows about one camera.
type cameraState struct {
	id             string
	boxes          []detect.Box
	positioned     bool
	positionFailed bool
	frameCount     int
	dumped         int
	frame          peakTracker
	threshold      float64
}

// cameraSet keeps cameras in the order given at session start. Region
// indices are assigned in that order.
type cameraSet struct {
	order  []string
	states map[string]*cameraState
}

func newCameraSet(ids []string) *cameraSet {
	s := &cameraSet{states: make(map[string]*cameraState, len(ids))}
	for _, id := range ids {
		if _, ok := s.states[id]; ok {
			continue
		}
		s.order = append(s.order, id)
		s.states[id] = &cameraState{id: id}
	}
	return s
}

func (s *cameraSet) get(id string) *cameraState {
	return s.states[id]
}

func (s *cameraSet) first() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// startIndex is the global index of the camera's first region: the sum of
// the region counts of every camera before it. It is -1 for unknown
// cameras.
func (s *cameraSet) startIndex(id string) int {
	start := 0
	for _, other := range s.order {
		if other == id {
			return start
		}
		start += len(s.states[other].boxes)
	}
	return -1
}

func (s *cameraSet) total() int {
	n := 0
	for _, c := range s.states {
		n += len(c.boxes)
	}
	return n
}

// resolved reports whether every camera has either been positioned or
// has failed.
func (s *cameraSet) resolved() bool {
	for _, c := range s.states {
		if !c.positioned && !c.positionFailed {
			return false
		}
	}
	return true
}

func (s *cameraSet) allFailed() bool {
	if len(s.states) == 0 {
		return false
	}
	for _, c := range s.states {
		if !c.positionFailed {
			return false
		}
	}
	return true
}

// capped reports whether every camera has seen at least limit frames.
func (s *cameraSet) capped(limit int) bool {
	for _, c := range s.states {
		if c.frameCount < limit {
			return false
		}
	}
	return len(s.states) > 0
}

func (s *cameraSet) allPositioned() bool {
	for _, c := range s.states {
		if !c.positioned {
			return false
		}
	}
	return true
}

func (s *cameraSet) each(f func(c *cameraState)) {
	for _, id := range s.order {
		f(s.states[id])
	}
}

// positioner runs the detector on a camera once its frames are sharp
// enough and turns the raw detections into the regions tracked for the
// rest of the session.
type positioner struct {
	det      detect.Detector
	conf     Config
	expected int
	window   *detect.XWindow
}

// gate reports whether a frame with whole-frame clarity v is sharp enough
// to position on. Without a calibration value every frame passes.
func (p *positioner) gate(v, calibrated float64) bool {
	if calibrated <= 0 {
		return true
	}
	return v > calibrated*p.conf.GateRatio
}

// locate returns the usable end-face boxes in img. Detector errors count
// as finding nothing.
func (p *positioner) locate(img *image.Gray) ([]detect.Box, error) {
	boxes, err := p.det.Detect(detect.ToRGBA(img))
	if err != nil {
		return nil, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tx, ty := p.det.TargetSize()

	detect.SortByX0(boxes)
	boxes = detect.ExpandAll(boxes, p.conf.ObjectExpand, w, h)
	boxes = detect.FilterSize(boxes, tx, ty, p.conf.SizeTolerance)
	boxes = detect.FilterEdge(boxes, w, h)
	boxes = detect.FilterWindow(boxes, p.window, p.conf.WindowTolerance)
	if p.expected > 0 {
		boxes = detect.PredictMissing(boxes, p.expected, float64(w))
	}
	return boxes, nil
}

// locateForCalibration filters before expanding and never predicts
// missing end-faces.
func (p *positioner) locateForCalibration(img *image.Gray) ([]detect.Box, error) {
	boxes, err := p.det.Detect(detect.ToRGBA(img))
	if err != nil {
		return nil, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tx, ty := p.det.TargetSize()

	detect.SortByX0(boxes)
	boxes = detect.FilterSize(boxes, tx, ty, p.conf.SizeTolerance)
	boxes = detect.FilterEdge(boxes, w, h)
	return detect.ExpandAll(boxes, p.conf.ObjectExpand, w, h), nil
}

// locateForAdjustment keeps undersized boxes until gap prediction has
// used them to place the row.
func (p *positioner) locateForAdjustment(img *image.Gray) ([]detect.Box, error) {
	boxes, err := p.det.Detect(detect.ToRGBA(img))
	if err != nil {
		return nil, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tx, ty := p.det.TargetSize()

	detect.SortByX0(boxes)
	boxes = detect.ExpandAll(boxes, p.conf.ObjectExpand, w, h)
	if p.expected > 0 {
		boxes = detect.PredictMissing(boxes, p.expected, float64(w))
	}
	return detect.FilterSize(boxes, tx, ty, p.conf.SizeTolerance), nil
}
