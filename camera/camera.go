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

package camera

import (
	"fmt"
	"image"
)

type TriggerMode int

const (
	TriggerContinuous TriggerMode = iota
	TriggerOnce
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerContinuous:
		return "continuous"
	case TriggerOnce:
		return "once"
	}
	return fmt.Sprintf("TriggerMode(%d)", int(m))
}

type TriggerSource int

const (
	TriggerSoftware TriggerSource = iota
	TriggerLine1
)

func (s TriggerSource) String() string {
	switch s {
	case TriggerSoftware:
		return "software"
	case TriggerLine1:
		return "line1"
	}
	return fmt.Sprintf("TriggerSource(%d)", int(s))
}

// Camera is an inspection camera. Frames are delivered asynchronously to
// the FrameHandler the camera was opened with.
type Camera interface {
	ID() string
	SetTriggerMode(TriggerMode) error
	SetTriggerSource(TriggerSource) error
}

// FrameHandler receives every frame a camera captures.
type FrameHandler func(cameraID string, img *image.Gray)

// IDs returns the ids of cams in order, skipping nil entries.
func IDs(cams []Camera) []string {
	ids := make([]string, 0, len(cams))
	for _, c := range cams {
		if c == nil {
			continue
		}
		ids = append(ids, c.ID())
	}
	return ids
}

// Arm switches every camera to hardware triggering on line 1.
func Arm(cams []Camera) error {
	return setTrigger(cams, TriggerOnce, TriggerLine1)
}

// Disarm returns every camera to free running software triggering.
func Disarm(cams []Camera) error {
	return setTrigger(cams, TriggerContinuous, TriggerSoftware)
}

func setTrigger(cams []Camera, mode TriggerMode, source TriggerSource) error {
	for _, c := range cams {
		if c == nil {
			continue
		}
		if err := c.SetTriggerMode(mode); err != nil {
			return fmt.Errorf("set trigger mode %s on camera %s: %w", mode, c.ID(), err)
		}
		if err := c.SetTriggerSource(source); err != nil {
			return fmt.Errorf("set trigger source %s on camera %s: %w", source, c.ID(), err)
		}
	}
	return nil
}
