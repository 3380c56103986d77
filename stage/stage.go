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

package stage

import (
	"context"
	"sync"
	"time"
)

// Stage moves the camera carriage. MoveTo blocks until the axis has
// reached position. A step of zero moves without stopping; a positive step
// moves in increments of step, firing the camera trigger at each stop.
type Stage interface {
	MoveTo(ctx context.Context, axis, position, speed, step int) error
}

// Light is the inspection light source.
type Light interface {
	SetEnabled(on bool) error
}

// Simulated is an in-memory stage. OnStep is called at every stop of a
// stepped move, which is where a real stage would trigger the cameras.
type Simulated struct {
	OnStep    func(axis, position int)
	StepDelay time.Duration

	mu        sync.Mutex
	positions map[int]int
	moves     int
}

func NewSimulated() *Simulated {
	return &Simulated{positions: make(map[int]int)}
}

func (s *Simulated) MoveTo(ctx context.Context, axis, position, speed, step int) error {
	s.mu.Lock()
	from := s.positions[axis]
	s.moves++
	s.mu.Unlock()

	if step <= 0 {
		s.set(axis, position)
		return ctx.Err()
	}

	dir := 1
	if position < from {
		dir = -1
	}
	for p := from; ; p += dir * step {
		if dir*(p-position) > 0 {
			p = position
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.set(axis, p)
		if s.OnStep != nil {
			s.OnStep(axis, p)
		}
		if s.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.StepDelay):
			}
		}
		if p == position {
			return nil
		}
	}
}

func (s *Simulated) set(axis, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[axis] = position
}

func (s *Simulated) Position(axis int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[axis]
}

// Moves is the number of MoveTo calls made so far.
func (s *Simulated) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}
