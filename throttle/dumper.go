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

package throttle

import (
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/ratelimit"

	"github.com/fiberend/autofocus/output"
)

// TempDir is the directory under the output directory debug frames go in.
const TempDir = "Temp"

// Listener is told when a frame was dropped because the bucket ran dry.
type Listener interface {
	WhenThrottled()
}

type nullListener struct{}

func (nullListener) WhenThrottled() {}

// FrameDumper writes raw frames as PNGs for offline debugging. Once the
// token bucket is empty frames are dropped until it refills; a full bucket
// holds BucketSize frames and refills completely every MinRefill.
type FrameDumper struct {
	dir      string
	bucket   *ratelimit.Bucket
	listener Listener

	mu        sync.Mutex
	written   int
	dropped   int
	throttled bool
}

func NewFrameDumper(dir string, conf Config, listener Listener) *FrameDumper {
	return NewFrameDumperWithClock(dir, conf, listener, new(realClock))
}

func NewFrameDumperWithClock(dir string, conf Config, listener Listener, clock ratelimit.Clock) *FrameDumper {
	if listener == nil {
		listener = nullListener{}
	}
	d := &FrameDumper{
		dir:      filepath.Join(dir, TempDir),
		listener: listener,
	}
	if conf.ApplyThrottling {
		rate := float64(conf.BucketSize) / conf.MinRefill.Seconds()
		d.bucket = ratelimit.NewBucketWithRateAndClock(rate, conf.BucketSize, clock)
	}
	return d
}

// Dump writes img to <dir>/Temp/<name>. Errors are logged; a debug dump
// never fails a session.
func (d *FrameDumper) Dump(name string, img *image.Gray) {
	if img == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bucket != nil && d.bucket.TakeAvailable(1) == 0 {
		d.dropped++
		if !d.throttled {
			d.throttled = true
			log.Print("frame dump throttled")
			d.listener.WhenThrottled()
		}
		return
	}
	d.throttled = false

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		log.Printf("failed to create dump directory: %v", err)
		return
	}
	if err := output.WritePNG(filepath.Join(d.dir, name), img); err != nil {
		log.Printf("failed to dump frame %s: %v", name, err)
		return
	}
	d.written++
}

// Stats returns the number of frames written and dropped.
func (d *FrameDumper) Stats() (written, dropped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written, d.dropped
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(d time.Duration) {
	time.Sleep(d)
}
