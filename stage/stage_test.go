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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedSteps(t *testing.T) {
	s := NewSimulated()
	var stops []int
	s.OnStep = func(axis, position int) {
		assert.Equal(t, 0, axis)
		stops = append(stops, position)
	}

	assert.NoError(t, s.MoveTo(context.Background(), 0, 100, 5000, 0))
	assert.Empty(t, stops)
	assert.Equal(t, 100, s.Position(0))

	assert.NoError(t, s.MoveTo(context.Background(), 0, 112, 300, 5))
	assert.Equal(t, []int{100, 105, 110, 112}, stops)
	assert.Equal(t, 112, s.Position(0))
	assert.Equal(t, 2, s.Moves())
}

func TestSimulatedStepsBackwards(t *testing.T) {
	s := NewSimulated()
	var stops []int
	s.OnStep = func(_, position int) { stops = append(stops, position) }

	assert.NoError(t, s.MoveTo(context.Background(), 1, -10, 300, 5))
	assert.Equal(t, []int{0, -5, -10}, stops)
}

func TestSimulatedCancel(t *testing.T) {
	s := NewSimulated()
	ctx, cancel := context.WithCancel(context.Background())
	s.OnStep = func(_, position int) {
		if position == 10 {
			cancel()
		}
	}
	err := s.MoveTo(ctx, 0, 100, 300, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, s.Position(0))
}
