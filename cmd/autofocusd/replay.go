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

package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/fiberend/autofocus/camera"
	"github.com/fiberend/autofocus/stage"
)

const (
	modeFocus     = "focus"
	modeCalibrate = "calibrate"
	modeAdjust    = "adjust"
)

// replayCamera plays back recorded frames. It only delivers frames while
// armed for hardware triggering, like a real camera waiting on line 1.
type replayCamera struct {
	id     string
	frames []*image.Gray

	mu     sync.Mutex
	mode   camera.TriggerMode
	source camera.TriggerSource
}

func (c *replayCamera) ID() string {
	return c.id
}

func (c *replayCamera) SetTriggerMode(m camera.TriggerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	return nil
}

func (c *replayCamera) SetTriggerSource(s camera.TriggerSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = s
	return nil
}

func (c *replayCamera) armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode == camera.TriggerOnce && c.source == camera.TriggerLine1
}

// replayRig is a simulated stage whose every stop triggers the replay
// cameras. The frames of a camera are read from <dir>/<camera-id>/*.png in
// name order; the n-th stop of a sweep shows the n-th frame.
type replayRig struct {
	sim     *stage.Simulated
	cams    []*replayCamera
	handler camera.FrameHandler
	next    int
}

func newReplayRig(dir string, ids []string) (*replayRig, error) {
	if len(ids) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no camera directories in %s", dir)
	}

	r := &replayRig{sim: stage.NewSimulated()}
	for _, id := range ids {
		frames, err := loadFrames(filepath.Join(dir, id))
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", id, err)
		}
		log.Printf("loaded %d frames for camera %s", len(frames), id)
		r.cams = append(r.cams, &replayCamera{id: id, frames: frames})
	}
	r.sim.OnStep = r.trigger
	return r, nil
}

func (r *replayRig) Cameras() []camera.Camera {
	cams := make([]camera.Camera, len(r.cams))
	for i, c := range r.cams {
		cams[i] = c
	}
	return cams
}

func (r *replayRig) SetHandler(h camera.FrameHandler) {
	r.handler = h
}

// MoveTo starts the recording over on every unstepped move, which is how
// a sweep begins.
func (r *replayRig) MoveTo(ctx context.Context, axis, position, speed, step int) error {
	if step <= 0 {
		r.next = 0
	}
	return r.sim.MoveTo(ctx, axis, position, speed, step)
}

func (r *replayRig) trigger(axis, position int) {
	for _, c := range r.cams {
		if r.handler == nil || !c.armed() || r.next >= len(c.frames) {
			continue
		}
		r.handler(c.id, c.frames[r.next])
	}
	r.next++
}

func loadFrames(dir string) ([]*image.Gray, error) {
	names, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	frames := make([]*image.Gray, 0, len(names))
	for _, name := range names {
		img, err := readGray(name)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return frames, nil
}

func readGray(name string) (*image.Gray, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if g, ok := img.(*image.Gray); ok {
		return g, nil
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g, nil
}

// runReplay runs a single session of the given mode against the replay
// rig and logs the result.
func runReplay(ctx context.Context, ctrl sessionRunner, conf *Config, mode string) error {
	switch mode {
	case modeFocus:
		dir := filepath.Join(conf.OutputDir, time.Now().Format("focus-20060102-150405"))
		results, err := ctrl.GetFocusImages(ctx, dir, 0, conf.FiberEndCount, false)
		if err != nil {
			return err
		}
		if err := writeResults(dir, results); err != nil {
			return err
		}
		log.Printf("wrote %d focus images to %s", len(results), dir)
	case modeCalibrate:
		cal, err := ctrl.ClarityCalibration(ctx)
		if err != nil {
			return err
		}
		log.Printf("calibrated: frame clarity %v, thresholds %v, diff threshold %.3f",
			cal.FrameClarity, cal.Thresholds, cal.DiffThreshold)
	case modeAdjust:
		m := conf.Motion
		adj, err := ctrl.PixelAdjustment(ctx, conf.FiberEndCount, conf.ProcessPosition, m.SearchDistance, m.Speed, m.Step)
		if err != nil {
			return err
		}
		log.Printf("pixel adjustment: found %t, dx %d, dy %d, precise position %d, object offset %d",
			adj.Found, adj.DX, adj.DY, adj.PrecisePosition, adj.ObjectOffset)
	default:
		return fmt.Errorf("unknown replay mode %q", mode)
	}
	return nil
}
