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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheFrame(v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Pix[0] = v
	return img
}

func TestCacheRingBounds(t *testing.T) {
	c := NewCacheRing(1, 2)
	for i := 0; i < 10; i++ {
		c.Add(0, cacheFrame(uint8(i)), false)
		assert.LessOrEqual(t, c.Len(0), 5)
	}
	frames := c.Frames(0)
	require.Len(t, frames, 5)
	assert.Equal(t, uint8(5), frames[0].Pix[0])
	assert.Equal(t, uint8(9), frames[4].Pix[0])
}

func TestCacheRingPeakFollowsEviction(t *testing.T) {
	c := NewCacheRing(1, 2)
	for i := 0; i < 5; i++ {
		c.Add(0, cacheFrame(uint8(i)), false)
	}
	c.ResetCounter(0)
	assert.Equal(t, 4, c.PeakIndex(0))

	c.Add(0, cacheFrame(5), true)
	assert.Equal(t, 3, c.PeakIndex(0))
	c.Add(0, cacheFrame(6), true)
	assert.Equal(t, 2, c.PeakIndex(0))
	assert.Equal(t, uint8(4), c.Frames(0)[c.PeakIndex(0)].Pix[0])
}

func TestCacheRingCompletes(t *testing.T) {
	c := NewCacheRing(2, 2)
	assert.False(t, c.Complete())

	c.Add(0, cacheFrame(1), false)
	c.ResetCounter(0)
	c.Add(0, cacheFrame(2), true)
	c.Add(0, cacheFrame(3), true)
	assert.True(t, c.RegionComplete(0))
	assert.False(t, c.Complete())

	// Counter is capped; later frames are ignored.
	c.Add(0, cacheFrame(4), true)
	assert.Equal(t, 3, c.Len(0))

	c.Add(1, cacheFrame(1), true)
	c.Add(1, cacheFrame(2), true)
	assert.True(t, c.Complete())

	// A new peak reopens the region.
	c.ResetCounter(1)
	assert.False(t, c.Complete())
}

func TestCacheRingEmpty(t *testing.T) {
	c := NewCacheRing(0, 5)
	assert.False(t, c.Complete())
	assert.Equal(t, 0, c.Regions())
	assert.Nil(t, c.Frames(3))
	assert.Equal(t, -1, c.PeakIndex(3))
	c.Add(3, cacheFrame(1), true)
	assert.Equal(t, 0, c.Len(3))
}

func TestCacheRingDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultCacheSize, NewCacheRing(1, 0).Size())
}

func TestCacheRingSave(t *testing.T) {
	dir := t.TempDir()
	c := NewCacheRing(2, 1)
	c.Add(0, cacheFrame(1), false)
	c.Add(0, cacheFrame(2), true)
	c.Add(1, cacheFrame(3), false)

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	base, err := c.Save(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache-2026-03-04-05-06-07"), base)

	for _, name := range []string{"1/0001.png", "1/0002.png", "2/0001.png"} {
		assert.FileExists(t, filepath.Join(base, name))
	}
	_, err = os.Stat(filepath.Join(base, "2", "0002.png"))
	assert.True(t, os.IsNotExist(err))
}
