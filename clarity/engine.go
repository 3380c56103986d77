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
	"context"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiberend/autofocus/detect"
	"github.com/fiberend/autofocus/loglimiter"
	"github.com/fiberend/autofocus/output"
)

// Reason says why a session ended.
type Reason int

const (
	// ReasonCompleted means the session found everything it was looking for.
	ReasonCompleted Reason = iota
	// ReasonSweepEnded means the stage stopped and every frame was handled.
	ReasonSweepEnded
	// ReasonDetectFailed means no camera could locate any end-face.
	ReasonDetectFailed
	// ReasonStopped means the session was replaced or the engine stopped.
	ReasonStopped
)

func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonSweepEnded:
		return "sweep ended"
	case ReasonDetectFailed:
		return "detect failed"
	case ReasonStopped:
		return "stopped"
	}
	return "unknown"
}

// Outcome is sent exactly once at the end of every session.
type Outcome struct {
	Type    TaskType
	Reason  Reason
	Frames  int
	Skipped int
	Elapsed time.Duration
}

// Observer receives per-frame callbacks from the engine worker.
type Observer interface {
	FrameScored(typ TaskType, cameraID string, elapsed time.Duration)
	FrameSkipped(typ TaskType, cameraID string)
	RegionFinished(index int)
	SessionEnded(o Outcome)
}

// FrameDumper stores raw frames for debugging. Implementations may drop
// frames.
type FrameDumper interface {
	Dump(name string, img *image.Gray)
}

// AutoFocusOptions configures an auto focus session.
type AutoFocusOptions struct {
	// Cameras in the order their end-faces are numbered.
	Cameras []string
	// FiberEndCount is the number of end-faces each camera should see.
	FiberEndCount int
	// SaveDir and Index name the full frames kept by SaveFrames.
	SaveDir string
	Index   int
	// SaveCache dumps every incoming frame.
	SaveCache bool
}

type session struct {
	typ     TaskType
	proc    taskProcessor
	out     chan Outcome
	done    bool
	started time.Time
	frames  int
	skipped int
}

// Engine scores frames on a single worker goroutine. A session is started
// by one of the Reset calls; frames pushed afterwards are handed to the
// session's processor until it ends.
type Engine struct {
	conf   Config
	det    detect.Detector
	scorer Scorer
	queue  *TaskQueue
	logs   *loglimiter.LogLimiter
	wg     sync.WaitGroup

	detectFailed atomic.Bool
	finished     atomic.Bool
	busy         atomic.Bool

	// resetMu is held by the worker while it processes a task and by every
	// reset, so a reset never lands in the middle of a frame.
	resetMu  sync.Mutex
	sess     *session
	cams     *cameraSet
	adjust   *positioner
	observer Observer
	dumper   FrameDumper

	calibration   map[string]float64
	thresholds    map[string]float64
	diffThreshold float64
	window        *detect.XWindow
	maxPosition   int
	results       []FocusResult
	regionClarity []float64
	saveFrames    map[string]*image.Gray
	cache         *CacheRing
	sharpest      *image.Gray
	sharpestIndex int
}

func New(conf Config, det detect.Detector) *Engine {
	return &Engine{
		conf:          conf,
		det:           det,
		scorer:        newDefaultScorer(conf),
		queue:         NewTaskQueue(),
		logs:          loglimiter.New(conf.LogInterval),
		calibration:   make(map[string]float64),
		thresholds:    make(map[string]float64),
		diffThreshold: conf.DiffThreshold,
		saveFrames:    make(map[string]*image.Gray),
		cache:         NewCacheRing(0, conf.CacheSize),
	}
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop closes the queue, waits for the worker to drain it and ends the
// current session.
func (e *Engine) Stop() {
	e.queue.Close()
	e.wg.Wait()

	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.finish(ReasonStopped)
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		t, ok := e.queue.Pop()
		if !ok {
			return
		}
		e.handle(t)
	}
}

func (e *Engine) handle(t Task) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	s := e.sess
	if s == nil || s.done || t.Received.Before(s.started) {
		return
	}
	if t.endOfSweep {
		e.finish(ReasonSweepEnded)
		return
	}

	e.busy.Store(true)
	defer e.busy.Store(false)

	start := time.Now()
	step := s.proc.process(t)
	s.frames++
	switch step {
	case stepSkipped:
		s.skipped++
		if e.observer != nil {
			e.observer.FrameSkipped(s.typ, t.CameraID)
		}
		return
	case stepFailed:
		e.finish(ReasonDetectFailed)
		return
	}
	if e.observer != nil {
		e.observer.FrameScored(s.typ, t.CameraID, time.Since(start))
	}
	if step == stepDone {
		e.finish(ReasonCompleted)
	}
}

// finish ends the current session. Callers hold resetMu.
func (e *Engine) finish(reason Reason) {
	s := e.sess
	if s == nil || s.done {
		return
	}
	s.done = true
	e.finished.Store(true)

	o := Outcome{
		Type:    s.typ,
		Reason:  reason,
		Frames:  s.frames,
		Skipped: s.skipped,
		Elapsed: time.Since(s.started),
	}
	log.Printf("%s session ended: %s after %d frames (%d skipped)", s.typ, reason, s.frames, s.skipped)
	if e.observer != nil {
		e.observer.SessionEnded(o)
	}
	s.out <- o
	close(s.out)
}

// begin replaces the current session. Callers hold resetMu.
func (e *Engine) begin(typ TaskType, proc taskProcessor) <-chan Outcome {
	if n := e.queue.Purge(); n > 0 {
		log.Printf("dropped %d queued frames", n)
	}
	e.finish(ReasonStopped)
	e.logs.Reset()
	e.finished.Store(false)
	e.detectFailed.Store(false)

	out := make(chan Outcome, 1)
	e.sess = &session{
		typ:     typ,
		proc:    proc,
		out:     out,
		started: time.Now(),
	}
	log.Printf("starting %s session", typ)
	return out
}

// Cancel drops every queued frame and ends the current session with
// ReasonStopped.
func (e *Engine) Cancel() {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	if n := e.queue.Purge(); n > 0 {
		log.Printf("dropped %d queued frames", n)
	}
	e.finish(ReasonStopped)
}

// Push queues a frame from a camera.
func (e *Engine) Push(cameraID string, img *image.Gray) {
	e.queue.Push(cameraID, img)
}

func (e *Engine) Pending() int {
	return e.queue.Pending()
}

// EndSweep tells the engine the stage has stopped. The session ends once
// every frame queued before the call has been handled.
func (e *Engine) EndSweep() {
	e.queue.pushMarker()
}

// WaitIdle blocks until every queued frame has been handled.
func (e *Engine) WaitIdle(ctx context.Context) error {
	if !e.queue.WaitIdle(ctx.Done()) {
		return ctx.Err()
	}
	return nil
}

func (e *Engine) ResetCoarseCalibration(cameras []string) <-chan Outcome {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	e.cams = newCameraSet(cameras)
	for _, id := range e.cams.order {
		e.calibration[id] = 0
		e.thresholds[id] = 0
	}
	return e.begin(TaskCoarseCalibration, &coarseCalibration{e: e, cams: e.cams})
}

func (e *Engine) ResetClarityCalibration(cameras []string) <-chan Outcome {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	e.cams = newCameraSet(cameras)
	e.regionClarity = nil
	return e.begin(TaskClarityCalibration, &clarityCalibration{
		e:    e,
		cams: e.cams,
		pos:  &positioner{det: e.det, conf: e.conf},
	})
}

func (e *Engine) ResetAutoFocus(opts AutoFocusOptions) <-chan Outcome {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	e.cams = newCameraSet(opts.Cameras)
	e.maxPosition = 0
	e.results = nil
	e.regionClarity = nil
	e.saveFrames = make(map[string]*image.Gray)
	e.cache = NewCacheRing(0, e.conf.CacheSize)

	var window *detect.XWindow
	if e.window != nil {
		w := *e.window
		window = &w
	}
	return e.begin(TaskAutoFocus, &autoFocus{
		e:    e,
		cams: e.cams,
		pos: &positioner{
			det:      e.det,
			conf:     e.conf,
			expected: opts.FiberEndCount,
			window:   window,
		},
		saveDir: opts.SaveDir,
		index:   opts.Index,
		dump:    opts.SaveCache,
	})
}

func (e *Engine) ResetPixelAdjustment(cameras []string, expected int, saveCache bool) <-chan Outcome {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	e.cams = newCameraSet(cameras)
	e.sharpest = nil
	e.sharpestIndex = 0
	e.adjust = &positioner{det: e.det, conf: e.conf, expected: expected}
	return e.begin(TaskPixelAdjustment, &pixelAdjustment{
		e:    e,
		cams: e.cams,
		dump: saveCache,
	})
}

// CenterRow locates the row of end-faces on the sharpest frame of the last
// pixel adjustment and, when found, restricts later positioning to the
// centred window. ok is false when nothing usable was found.
func (e *Engine) CenterRow() (Centering, bool, error) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()

	if e.adjust == nil {
		return Centering{}, false, nil
	}
	c, ok, err := centerRow(e.adjust, e.adjust.expected, e.sharpest)
	if err != nil || !ok {
		return c, ok, err
	}
	e.window = &detect.XWindow{Min: c.Window.Min, Max: c.Window.Max}
	return c, true, nil
}

func (e *Engine) SetScorer(s Scorer) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.scorer = s
}

func (e *Engine) SetObserver(o Observer) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.observer = o
}

func (e *Engine) SetDumper(d FrameDumper) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.dumper = d
}

// Calibration returns the best whole-frame clarity per camera found by the
// last coarse calibration.
func (e *Engine) Calibration() map[string]float64 {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return copyMap(e.calibration)
}

func (e *Engine) SetCalibration(values map[string]float64) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.calibration = copyMap(values)
}

func (e *Engine) ClarityThresholds() map[string]float64 {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return copyMap(e.thresholds)
}

func (e *Engine) SetClarityThresholds(values map[string]float64) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.thresholds = copyMap(values)
}

func (e *Engine) DiffThreshold() float64 {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return e.diffThreshold
}

func (e *Engine) SetDiffThreshold(v float64) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.diffThreshold = v
}

// SetAdjustmentRange sets the horizontal window auto focus positioning
// keeps end-faces in.
func (e *Engine) SetAdjustmentRange(xmin, xmax float64) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	e.window = &detect.XWindow{Min: xmin, Max: xmax}
}

func (e *Engine) AdjustmentRange() (detect.XWindow, bool) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	if e.window == nil {
		return detect.XWindow{}, false
	}
	return *e.window, true
}

// FocusResults returns the sharpest crop of every end-face in global index
// order.
func (e *Engine) FocusResults() []FocusResult {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return append([]FocusResult(nil), e.results...)
}

func (e *Engine) RegionClarities() []float64 {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return append([]float64(nil), e.regionClarity...)
}

// MaxPosition is the right edge of the last end-face seen by the first
// camera.
func (e *Engine) MaxPosition() int {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return e.maxPosition
}

// SharpestFrame is the sharpest frame of the last pixel adjustment and its
// position in the sweep.
func (e *Engine) SharpestFrame() (*image.Gray, int) {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return e.sharpest, e.sharpestIndex
}

func (e *Engine) Cache() *CacheRing {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	return e.cache
}

// CalcFrameCounts returns the number of frames each camera contributed to
// the current session, in camera order.
func (e *Engine) CalcFrameCounts() []int {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	if e.cams == nil {
		return nil
	}
	counts := make([]int, 0, len(e.cams.order))
	e.cams.each(func(c *cameraState) {
		counts = append(counts, c.frameCount)
	})
	return counts
}

// SaveFrames writes the full frames that produced the first end-face's
// sharpest crop of every camera.
func (e *Engine) SaveFrames() error {
	e.resetMu.Lock()
	defer e.resetMu.Unlock()
	for path, img := range e.saveFrames {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := output.WritePNG(path, img); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) DetectFailed() bool {
	return e.detectFailed.Load()
}

func (e *Engine) Finished() bool {
	return e.finished.Load()
}

func (e *Engine) Busy() bool {
	return e.busy.Load()
}

func (e *Engine) Config() Config {
	return e.conf
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
