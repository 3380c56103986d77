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

// peakTracker follows a clarity series until its peak has passed.
type peakTracker struct {
	max         float64
	attenuation int
	finished    bool
}

// observe records v and reports whether it is a new maximum. Any value
// that is not a new maximum counts towards attenuation.
func (p *peakTracker) observe(v float64) bool {
	if v > p.max {
		p.max = v
		p.attenuation = 0
		return true
	}
	p.attenuation++
	return false
}

// converged reports whether the peak is behind us: either too many frames
// in a row failed to improve, or v fell more than diff below the maximum.
// A diff of zero disables the second rule.
func (p *peakTracker) converged(v, diff float64, limit int) bool {
	return p.attenuation >= limit || (diff > 0 && v < p.max-diff)
}

// update observes v and marks the tracker finished once it converges.
func (p *peakTracker) update(v, diff float64, limit int) bool {
	if p.finished {
		return false
	}
	if p.observe(v) {
		return true
	}
	if p.converged(v, diff, limit) {
		p.finished = true
	}
	return false
}

func (p *peakTracker) reset() {
	*p = peakTracker{}
}
