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

// Package session drives the stage, cameras and clarity engine through
// the sweeps that make up auto focus, calibration and pixel adjustment.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fiberend/autofocus/camera"
	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/stage"
)

var (
	ErrDetectFailed      = errors.New("no end-faces detected")
	ErrSessionTimeout    = errors.New("session timed out")
	ErrStopped           = errors.New("session stopped")
	ErrCalibrationFailed = errors.New("calibration found no end-faces")
)

// sweepErr is returned when the stage fails to move.
type sweepErr struct {
	position int
	cause    error
}

func (e *sweepErr) Error() string {
	return fmt.Sprintf("moving stage to %d: %v", e.position, e.cause)
}

func (e *sweepErr) Unwrap() error {
	return e.cause
}

// IsStageError reports whether err came from the stage rather than from
// focusing.
func IsStageError(err error) bool {
	var se *sweepErr
	return errors.As(err, &se)
}

// Report describes a finished sweep.
type Report struct {
	ID      string
	Outcome clarity.Outcome
	Started time.Time
	Clarity []float64
	Err     error
}

// Calibration is the result of ClarityCalibration.
type Calibration struct {
	ID            string
	Created       time.Time
	FrameClarity  map[string]float64
	Thresholds    map[string]float64
	RegionClarity []float64
	DiffThreshold float64
}

// Listener is told about every sweep the controller runs.
type Listener interface {
	SessionFinished(r Report)
	Calibrated(c Calibration)
}

type nullListener struct{}

func (nullListener) SessionFinished(Report) {}
func (nullListener) Calibrated(Calibration) {}

// Adjustment is the result of PixelAdjustment.
type Adjustment struct {
	clarity.Centering
	// Found is false when no end-faces were located on the sharpest frame,
	// in which case the offsets are zero.
	Found           bool
	PrecisePosition int
}

// Controller owns a clarity engine and borrows the cameras, stage and
// light for the duration of each sweep. Only one sweep runs at a time.
type Controller struct {
	engine   *clarity.Engine
	cams     []camera.Camera
	stage    stage.Stage
	light    stage.Light
	listener Listener

	capture atomic.Bool

	// mu serialises sweeps and guards the motion parameters.
	mu           sync.Mutex
	motion       MotionConfig
	start        int
	end          int
	objectOffset int
}

func NewController(e *clarity.Engine, cams []camera.Camera, st stage.Stage, conf MotionConfig) *Controller {
	return &Controller{
		engine:   e,
		cams:     cams,
		stage:    st,
		listener: nullListener{},
		motion:   conf,
	}
}

// SetLight sets the light switched on for the length of a sweep.
func (c *Controller) SetLight(l stage.Light) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.light = l
}

func (c *Controller) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l == nil {
		l = nullListener{}
	}
	c.listener = l
}

// Push is the camera frame callback. Frames are only forwarded to the
// engine while a sweep is capturing.
func (c *Controller) Push(cameraID string, img *image.Gray) {
	if c.capture.Load() {
		c.engine.Push(cameraID, img)
	}
}

func (c *Controller) SetMotion(searchDistance, speed, step int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motion.SearchDistance = searchDistance
	c.motion.Speed = speed
	c.motion.Step = step
}

// SetProcessPosition centres later sweeps on pos.
func (c *Controller) SetProcessPosition(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = pos - c.motion.SearchDistance
	c.end = pos + c.motion.SearchDistance
}

// ObjectOffset is the pixel pitch between neighbouring end-faces found by
// the last pixel adjustment.
func (c *Controller) ObjectOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objectOffset
}

func (c *Controller) MaxPosition() int {
	return c.engine.MaxPosition()
}

// SaveCacheImages writes the frames cached around every end-face's peak
// under dir and returns the directory they went into.
func (c *Controller) SaveCacheImages(dir string) (string, error) {
	return c.engine.Cache().Save(dir, time.Now())
}

// GetFocusImages sweeps the stage through the process range and returns
// the sharpest crop of every end-face in camera order.
func (c *Controller) GetFocusImages(ctx context.Context, saveDir string, index, expected int, saveCache bool) ([]clarity.FocusResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{ID: uuid.NewString(), Started: time.Now()}
	results, err := c.getFocusImages(ctx, &r, saveDir, index, expected, saveCache)
	r.Err = err
	c.listener.SessionFinished(r)
	return results, err
}

func (c *Controller) getFocusImages(ctx context.Context, r *Report, saveDir string, index, expected int, saveCache bool) ([]clarity.FocusResult, error) {
	done := c.engine.ResetAutoFocus(clarity.AutoFocusOptions{
		Cameras:       camera.IDs(c.cams),
		FiberEndCount: expected,
		SaveDir:       saveDir,
		Index:         index,
		SaveCache:     saveCache,
	})
	log.Printf("auto focus %s: start position %d, end position %d", r.ID, c.start, c.end)

	ctx, cancel := c.sessionContext(ctx)
	defer cancel()

	o, err := c.sweep(ctx, done, c.start, c.end, c.motion.Speed, c.motion.Step)
	r.Outcome = o
	if err != nil {
		return nil, err
	}
	if o.Reason == clarity.ReasonDetectFailed {
		return nil, ErrDetectFailed
	}

	if saveDir != "" {
		if err := c.engine.SaveFrames(); err != nil {
			log.Printf("failed to save focus frames: %v", err)
		}
	}
	r.Clarity = c.engine.RegionClarities()
	log.Printf("clarity: %s", formatClarity(r.Clarity))
	log.Printf("frames per camera: %v", c.engine.CalcFrameCounts())
	return c.engine.FocusResults(), nil
}

// ClarityCalibration runs the coarse pass, which sets the positioning
// gate and thresholds, then the region pass, which sets the clarity
// difference threshold to half of the weakest end-face peak.
func (c *Controller) ClarityCalibration(ctx context.Context) (Calibration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := camera.IDs(c.cams)
	r := Report{ID: uuid.NewString(), Started: time.Now()}
	cal, err := c.calibrate(ctx, &r, ids)
	r.Err = err
	c.listener.SessionFinished(r)
	if err != nil {
		return Calibration{}, err
	}
	cal.ID = r.ID
	c.listener.Calibrated(cal)
	return cal, nil
}

func (c *Controller) calibrate(ctx context.Context, r *Report, ids []string) (Calibration, error) {
	ctx, cancel := c.sessionContext(ctx)
	defer cancel()

	done := c.engine.ResetCoarseCalibration(ids)
	o, err := c.sweep(ctx, done, c.start, c.end, c.motion.Speed, c.motion.Step)
	r.Outcome = o
	if err != nil {
		return Calibration{}, fmt.Errorf("coarse calibration: %w", err)
	}
	thresholds := c.engine.ClarityThresholds()
	for _, id := range ids {
		log.Printf("camera %s positioning threshold %.3f", id, thresholds[id])
	}

	done = c.engine.ResetClarityCalibration(ids)
	o, err = c.sweep(ctx, done, c.start, c.end, c.motion.Speed, c.motion.Step)
	r.Outcome = o
	if err != nil {
		return Calibration{}, fmt.Errorf("clarity calibration: %w", err)
	}

	peaks := c.engine.RegionClarities()
	r.Clarity = peaks
	if len(peaks) == 0 {
		return Calibration{}, ErrCalibrationFailed
	}
	least := math.MaxFloat64
	for _, p := range peaks {
		least = math.Min(least, p)
	}
	diff := 0.5 * least
	c.engine.SetDiffThreshold(diff)
	log.Printf("clarity difference threshold %.3f", diff)

	return Calibration{
		Created:       time.Now(),
		FrameClarity:  c.engine.Calibration(),
		Thresholds:    thresholds,
		RegionClarity: peaks,
		DiffThreshold: diff,
	}, nil
}

// PixelAdjustment sweeps searchRange either side of position, finds the
// sharpest frame of the first camera and works out how far the row of
// end-faces is from the centre of it. Later auto focus sweeps only keep
// end-faces inside the centred window.
func (c *Controller) PixelAdjustment(ctx context.Context, expected, position, searchRange, speed, step int) (Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{ID: uuid.NewString(), Started: time.Now()}
	adj, err := c.pixelAdjustment(ctx, &r, expected, position, searchRange, speed, step)
	r.Err = err
	c.listener.SessionFinished(r)
	return adj, err
}

func (c *Controller) pixelAdjustment(ctx context.Context, r *Report, expected, position, searchRange, speed, step int) (Adjustment, error) {
	c.objectOffset = 0
	ctx, cancel := c.sessionContext(ctx)
	defer cancel()

	start := position - searchRange
	end := position + searchRange
	done := c.engine.ResetPixelAdjustment(camera.IDs(c.cams), expected, c.motion.DumpAdjustment)
	o, err := c.sweep(ctx, done, start, end, speed, step)
	r.Outcome = o
	if err != nil {
		return Adjustment{}, err
	}

	_, index := c.engine.SharpestFrame()
	adj := Adjustment{PrecisePosition: start + step*index}
	centering, ok, err := c.engine.CenterRow()
	if err != nil {
		return adj, fmt.Errorf("locating end-faces: %w", err)
	}
	if !ok {
		log.Print("pixel adjustment: no end-faces found on the sharpest frame")
		return adj, nil
	}
	adj.Centering = centering
	adj.Found = true
	c.objectOffset = centering.ObjectOffset
	log.Printf("pixel adjustment: dx %d, dy %d, precise position %d, %d frames",
		adj.DX, adj.DY, adj.PrecisePosition, o.Frames)
	return adj, nil
}

// sweep moves to start, arms the cameras and steps the stage to end while
// frames are captured, then waits for the session to end. Callers hold mu.
func (c *Controller) sweep(ctx context.Context, done <-chan clarity.Outcome, start, end, speed, step int) (clarity.Outcome, error) {
	began := time.Now()
	if err := c.moveTo(ctx, start, c.motion.StartSpeed, 0); err != nil {
		c.engine.Cancel()
		return clarity.Outcome{}, err
	}
	log.Printf("moved to start in %v", time.Since(began))

	if c.light != nil {
		if err := c.light.SetEnabled(true); err != nil {
			log.Printf("failed to switch light on: %v", err)
		}
		defer func() {
			if err := c.light.SetEnabled(false); err != nil {
				log.Printf("failed to switch light off: %v", err)
			}
		}()
	}

	if err := camera.Arm(c.cams); err != nil {
		c.engine.Cancel()
		return clarity.Outcome{}, err
	}
	defer func() {
		if err := camera.Disarm(c.cams); err != nil {
			log.Printf("failed to restore camera triggers: %v", err)
		}
	}()

	c.capture.Store(true)
	defer c.capture.Store(false)

	began = time.Now()
	if err := c.moveTo(ctx, end, speed, step); err != nil {
		c.engine.Cancel()
		return clarity.Outcome{}, err
	}
	log.Printf("sweep took %v", time.Since(began))
	c.engine.EndSweep()

	began = time.Now()
	o, err := c.wait(ctx, done)
	log.Printf("waited %v for the session to end", time.Since(began))
	return o, err
}

// wait blocks until the session outcome arrives and, unless detection
// failed, every queued frame has been handled.
func (c *Controller) wait(ctx context.Context, done <-chan clarity.Outcome) (clarity.Outcome, error) {
	select {
	case o, ok := <-done:
		if !ok || o.Reason == clarity.ReasonStopped {
			return o, ErrStopped
		}
		if o.Reason != clarity.ReasonDetectFailed {
			if err := c.engine.WaitIdle(ctx); err != nil {
				c.engine.Cancel()
				return o, context.Cause(ctx)
			}
		}
		return o, nil
	case <-ctx.Done():
		c.engine.Cancel()
		return clarity.Outcome{}, context.Cause(ctx)
	}
}

func (c *Controller) moveTo(ctx context.Context, position, speed, step int) error {
	if err := c.stage.MoveTo(ctx, c.motion.Axis, position, speed, step); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return &sweepErr{position: position, cause: err}
	}
	return nil
}

// sessionContext bounds a session by the configured timeout.
func (c *Controller) sessionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.motion.SessionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, c.motion.SessionTimeout, ErrSessionTimeout)
}

func formatClarity(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return strings.Join(parts, " ")
}
