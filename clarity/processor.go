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

	"golang.org/x/sync/errgroup"

	"github.com/fiberend/autofocus/detect"
)

// TaskType is the kind of session the engine is running.
type TaskType int

const (
	TaskIdle TaskType = iota
	TaskCoarseCalibration
	TaskClarityCalibration
	TaskAutoFocus
	TaskPixelAdjustment
)

func (t TaskType) String() string {
	switch t {
	case TaskCoarseCalibration:
		return "coarse-calibration"
	case TaskClarityCalibration:
		return "clarity-calibration"
	case TaskAutoFocus:
		return "auto-focus"
	case TaskPixelAdjustment:
		return "pixel-adjustment"
	}
	return "idle"
}

type stepOutcome int

const (
	// stepContinue means the frame was used and the session goes on.
	stepContinue stepOutcome = iota
	// stepSkipped means the frame was ignored.
	stepSkipped
	// stepDone means the session has everything it needs.
	stepDone
	// stepFailed means the session can't produce a result.
	stepFailed
)

// taskProcessor handles frames for one kind of session. Processors are
// only called from the engine worker with the engine lock held.
type taskProcessor interface {
	process(t Task) stepOutcome
}

// scoreRegions scores the crop of every box in parallel. Boxes for which
// skip returns true are left at zero.
func scoreRegions(s Scorer, img *image.Gray, boxes []detect.Box, workers int, skip func(i int) bool) []float64 {
	scores := make([]float64, len(boxes))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, b := range boxes {
		if skip != nil && skip(i) {
			continue
		}
		i, b := i, b
		g.Go(func() error {
			scores[i] = s.Region(Crop(img, b.Rect()))
			return nil
		})
	}
	g.Wait()
	return scores
}
