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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fiberend/autofocus/output"
)

const DefaultCacheSize = 5

// CacheRing keeps, for every end-face, the frames around its sharpest crop:
// up to k frames before the peak, the peak and k frames after it. Once k
// frames have been added after the peak the region is complete and further
// frames are ignored.
type CacheRing struct {
	k       int
	regions []cacheRegion
	mu      sync.Mutex
}

type cacheRegion struct {
	frames  []*image.Gray
	counter int
	peak    int
}

func NewCacheRing(regions, k int) *CacheRing {
	if k < 1 {
		k = DefaultCacheSize
	}
	c := &CacheRing{
		k:       k,
		regions: make([]cacheRegion, regions),
	}
	for i := range c.regions {
		c.regions[i].peak = -1
	}
	return c
}

// Add appends frame to the region, evicting the oldest frame beyond 2k+1.
// postPeak frames count towards completing the region.
func (c *CacheRing) Add(index int, frame *image.Gray, postPeak bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.regions) {
		return
	}
	r := &c.regions[index]
	if r.counter >= c.k {
		return
	}
	r.frames = append(r.frames, frame)
	if len(r.frames) > 2*c.k+1 {
		r.frames[0] = nil
		r.frames = r.frames[1:]
		if r.peak >= 0 {
			r.peak--
		}
	}
	if postPeak {
		r.counter++
	}
}

// ResetCounter marks the most recently added frame as the region's peak.
func (c *CacheRing) ResetCounter(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.regions) {
		return
	}
	r := &c.regions[index]
	r.counter = 0
	r.peak = len(r.frames) - 1
}

// Complete reports whether every region has k frames after its peak.
func (c *CacheRing) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.regions) == 0 {
		return false
	}
	for _, r := range c.regions {
		if r.counter != c.k {
			return false
		}
	}
	return true
}

func (c *CacheRing) RegionComplete(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return index >= 0 && index < len(c.regions) && c.regions[index].counter >= c.k
}

// Frames returns the region's frames from oldest to newest.
func (c *CacheRing) Frames(index int) []*image.Gray {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.regions) {
		return nil
	}
	return append([]*image.Gray(nil), c.regions[index].frames...)
}

// PeakIndex is the position of the peak frame within Frames, or -1.
func (c *CacheRing) PeakIndex(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.regions) {
		return -1
	}
	return c.regions[index].peak
}

func (c *CacheRing) Len(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.regions) {
		return 0
	}
	return len(c.regions[index].frames)
}

func (c *CacheRing) Regions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regions)
}

func (c *CacheRing) Size() int {
	return c.k
}

// Save writes every cached frame below dir/cache-<timestamp>/<region>/ and
// returns the directory used. Regions and frames are numbered from 1.
func (c *CacheRing) Save(dir string, now time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := filepath.Join(dir, "cache-"+now.Format("2006-01-02-15-04-05"))
	for i, r := range c.regions {
		regionDir := filepath.Join(base, fmt.Sprint(i+1))
		if err := os.MkdirAll(regionDir, 0755); err != nil {
			return "", err
		}
		for j, frame := range r.frames {
			name := filepath.Join(regionDir, fmt.Sprintf("%04d.png", j+1))
			if err := output.WritePNG(name, frame); err != nil {
				return "", err
			}
		}
	}
	return base, nil
}
