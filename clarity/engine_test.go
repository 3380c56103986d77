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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiberend/autofocus/detect"
)

func clarities(results []FocusResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Clarity
	}
	return out
}

func TestAutoFocusPicksPeakOfEveryRegion(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	MakeTestFrameMaker(e, "c1").AddSeries(
		[]uint8{10, 20, 30, 25, 24, 23, 22, 21},
		[]uint8{50, 40, 30, 20, 10, 5, 5, 5},
		[]uint8{5, 10, 15, 20, 25, 30, 35, 40},
	)
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonSweepEnded, o.Reason)
	assert.Equal(t, TaskAutoFocus, o.Type)
	assert.Equal(t, 8, o.Frames)

	results := e.FocusResults()
	require.Len(t, results, 3)
	assert.Equal(t, []float64{30, 50, 40}, clarities(results))
	assert.Equal(t, []float64{30, 50, 40}, e.RegionClarities())
	assert.False(t, e.DetectFailed())
	assert.Equal(t, 260, e.MaxPosition())
}

func TestAutoFocusCompletesOnceCacheIsFull(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	MakeTestFrameMaker(e, "c1").AddSeries(
		[]uint8{10, 20, 30, 25, 24, 23, 22, 21},
		[]uint8{50, 40, 30, 20, 10, 5, 5, 5},
		[]uint8{5, 10, 40, 30, 20, 10, 5, 5},
	)

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonCompleted, o.Reason)
	assert.Equal(t, 5, o.Frames)
	assert.True(t, e.Finished())
	assert.True(t, e.Cache().Complete())
	assert.Equal(t, []float64{30, 50, 40}, clarities(e.FocusResults()))

	cache := e.Cache()
	for i := 0; i < cache.Regions(); i++ {
		assert.LessOrEqual(t, cache.Len(i), 2*cache.Size()+1)
		peak := cache.PeakIndex(i)
		require.GreaterOrEqual(t, peak, 0)
		assert.Equal(t, cache.Len(i)-1-cache.Size(), peak, "region %d", i)
	}
}

func TestAutoFocusResultBoxIsRelativeToCrop(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	MakeTestFrameMaker(e, "c1").AddFrame(10, 10, 10)
	e.EndSweep()
	waitOutcome(t, done)

	results := e.FocusResults()
	require.Len(t, results, 3)
	r := results[1]
	assert.Equal(t, 100, r.Image.Bounds().Dx())
	assert.Equal(t, 99, r.Image.Bounds().Dy())
	assert.Equal(t, detect.Box{X0: 30, Y0: 30, X1: 70, Y1: 70}, r.Box)
	assert.Equal(t, testBoxes[1], r.Box.Offset(90, 0))
}

type recordingObserver struct {
	scored   int
	skipped  int
	finished map[int]int
	outcomes []Outcome
}

func (r *recordingObserver) FrameScored(TaskType, string, time.Duration) { r.scored++ }
func (r *recordingObserver) FrameSkipped(TaskType, string)               { r.skipped++ }
func (r *recordingObserver) SessionEnded(o Outcome)                      { r.outcomes = append(r.outcomes, o) }

func (r *recordingObserver) RegionFinished(index int) {
	if r.finished == nil {
		r.finished = make(map[int]int)
	}
	r.finished[index] = r.scored
}

func TestAutoFocusDiffThresholdEndsRegion(t *testing.T) {
	conf := testConfig()
	conf.AttenuationLimit = 20
	conf.CacheSize = 10
	e := newTestEngine(t, conf)
	obs := new(recordingObserver)
	e.SetObserver(obs)
	e.SetDiffThreshold(5)
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 1})

	tfm := MakeTestFrameMaker(e, "c1").SetBoxes(1)
	for _, v := range []uint8{10, 20, 18, 19, 5, 5, 5} {
		tfm.AddFrame(v)
	}
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonSweepEnded, o.Reason)
	assert.Equal(t, map[int]int{0: 4}, obs.finished)
	assert.Equal(t, 7, obs.scored)
	assert.Equal(t, []Outcome{o}, obs.outcomes)
	assert.Equal(t, []float64{20}, e.RegionClarities())
}

func TestAutoFocusDetectFailed(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1", "c2"}, FiberEndCount: 3})

	MakeTestFrameMaker(e, "c1").SetBoxes(0).AddFrame()
	MakeTestFrameMaker(e, "c2").SetBoxes(0).AddFrame()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonDetectFailed, o.Reason)
	assert.True(t, e.DetectFailed())
	assert.Empty(t, e.FocusResults())

	// Sticky until the next reset.
	e.Push("c1", nil)
	assert.True(t, e.DetectFailed())
	e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}})
	assert.False(t, e.DetectFailed())
}

func TestAutoFocusIndexFollowsCameraOrder(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"b", "dead", "a"}})

	b := MakeTestFrameMaker(e, "b").SetBoxes(2)
	dead := MakeTestFrameMaker(e, "dead").SetBoxes(0)
	a := MakeTestFrameMaker(e, "a")

	// Frames before every camera is positioned are not tracked.
	b.AddFrame(1, 2)
	a.AddFrame(3, 4, 5)
	dead.AddFrame()
	a.AddFrame(30, 40, 50)
	b.AddFrame(10, 20)
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonSweepEnded, o.Reason)
	assert.False(t, e.DetectFailed())
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, e.RegionClarities())
	assert.Equal(t, []int{2, 1, 2}, e.CalcFrameCounts())
	assert.Equal(t, 160, e.MaxPosition())
}

func TestAutoFocusGate(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.SetCalibration(map[string]float64{"c1": 100})
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	tfm := MakeTestFrameMaker(e, "c1")
	tfm.WholeVal = 80
	tfm.AddFrame(90, 90, 90)
	tfm.WholeVal = 81
	tfm.AddFrame(10, 20, 30)
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, 1, o.Skipped)
	assert.Equal(t, []float64{10, 20, 30}, e.RegionClarities())
}

func TestAutoFocusSkipsUnknownCameraAndEmptyFrames(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	e.Push("c1", nil)
	MakeTestFrameMaker(e, "other").AddFrame(1, 1, 1)
	MakeTestFrameMaker(e, "c1").AddFrame(5, 6, 7)
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, 3, o.Frames)
	assert.Equal(t, 2, o.Skipped)
	assert.Equal(t, []float64{5, 6, 7}, e.RegionClarities())
}

func TestAutoFocusPredictsMissedEndFace(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})

	MakeTestFrameMaker(e, "c1").SetBoxes(2).AddFrame(10, 20, 30)
	e.EndSweep()
	waitOutcome(t, done)

	assert.Equal(t, []float64{10, 20, 30}, e.RegionClarities())
	assert.Equal(t, 260, e.MaxPosition())
}

func TestAutoFocusWindowDropsOutsideBoxes(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.SetAdjustmentRange(100, 280)
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}})

	MakeTestFrameMaker(e, "c1").AddFrame(1, 2, 3)
	e.EndSweep()
	waitOutcome(t, done)

	assert.Equal(t, []float64{2, 3}, e.RegionClarities())
}

func TestResetReplacesSession(t *testing.T) {
	e := newTestEngine(t, testConfig())
	first := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}})
	second := e.ResetPixelAdjustment([]string{"c1"}, 3, false)

	o := waitOutcome(t, first)
	assert.Equal(t, ReasonStopped, o.Reason)
	_, open := <-first
	assert.False(t, open)

	e.EndSweep()
	o = waitOutcome(t, second)
	assert.Equal(t, TaskPixelAdjustment, o.Type)
	assert.Equal(t, ReasonSweepEnded, o.Reason)
}

func TestCancelEndsSession(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, FiberEndCount: 3})
	e.Cancel()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonStopped, o.Reason)
	assert.True(t, e.Finished())

	// Cancelling with no live session is a no-op.
	e.Cancel()
}

func TestCoarseCalibrationStopsAfterAttenuation(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetCoarseCalibration([]string{"c1"})

	MakeTestFrameMaker(e, "c1").AddWholeFrames(10, 20, 30, 20, 20, 20, 20, 20, 20)

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonCompleted, o.Reason)
	assert.Equal(t, 7, o.Frames)
	assert.Equal(t, map[string]float64{"c1": 30}, e.Calibration())
	assert.Equal(t, map[string]float64{"c1": 15}, e.ClarityThresholds())
}

func TestCoarseCalibrationFrameCap(t *testing.T) {
	conf := testConfig()
	conf.MaxFrameCount = 3
	e := newTestEngine(t, conf)
	done := e.ResetCoarseCalibration([]string{"c1", "c2"})

	MakeTestFrameMaker(e, "c1").AddWholeFrames(10, 20, 30, 40)
	MakeTestFrameMaker(e, "c2").AddWholeFrames(1, 2, 3, 4)

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonCompleted, o.Reason)
	assert.Equal(t, map[string]float64{"c1": 40, "c2": 2}, e.Calibration())
	assert.Equal(t, []int{4, 3}, e.CalcFrameCounts())
}

func TestClarityCalibrationRecordsRegionPeaks(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.SetClarityThresholds(map[string]float64{"c1": 15})
	done := e.ResetClarityCalibration([]string{"c1"})

	tfm := MakeTestFrameMaker(e, "c1")
	tfm.WholeVal = 10
	tfm.AddFrame(99, 99, 99)
	tfm.WholeVal = 20
	tfm.AddFrame(10, 20, 30)
	tfm.AddFrame(40, 10, 35)
	tfm.AddFrame(5, 5, 5)
	e.EndSweep()

	o := waitOutcome(t, done)
	assert.Equal(t, ReasonSweepEnded, o.Reason)
	assert.Equal(t, []float64{40, 20, 35}, e.RegionClarities())
}

func TestPixelAdjustmentTracksSharpestFrame(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetPixelAdjustment([]string{"c1", "c2"}, 3, false)

	c1 := MakeTestFrameMaker(e, "c1")
	c2 := MakeTestFrameMaker(e, "c2")
	c1.AddWholeFrames(5)
	c2.AddWholeFrames(200)
	c1.AddWholeFrames(9, 7)
	e.EndSweep()
	waitOutcome(t, done)

	img, index := e.SharpestFrame()
	require.NotNil(t, img)
	assert.Equal(t, uint8(9), img.Pix[0])
	assert.Equal(t, 1, index)

	c, ok, err := e.CenterRow()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, c.DX)
	assert.Equal(t, 0, c.DY)
	assert.Equal(t, 100, c.ObjectOffset)
	assert.Equal(t, detect.XWindow{Min: 30, Max: 270}, c.Window)

	win, set := e.AdjustmentRange()
	assert.True(t, set)
	assert.Equal(t, c.Window, win)
}

func TestCenterRowWithMissingEndFace(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetPixelAdjustment([]string{"c1"}, 3, false)
	MakeTestFrameMaker(e, "c1").SetBoxes(2).AddWholeFrames(9)
	e.EndSweep()
	waitOutcome(t, done)

	c, ok, err := e.CenterRow()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100, c.ObjectOffset)
	assert.Equal(t, 10, c.DX)
	assert.Equal(t, detect.XWindow{Min: 30, Max: 270}, c.Window)
	require.Len(t, c.Boxes, 3)
	assert.Equal(t, testBoxes[2].X0, c.Boxes[2].X0)
}

func TestCenterRowWithoutBoxes(t *testing.T) {
	e := newTestEngine(t, testConfig())
	done := e.ResetPixelAdjustment([]string{"c1"}, 3, false)
	MakeTestFrameMaker(e, "c1").SetBoxes(0).AddWholeFrames(5)
	e.EndSweep()
	waitOutcome(t, done)

	c, ok, err := e.CenterRow()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Centering{}, c)
	_, set := e.AdjustmentRange()
	assert.False(t, set)
}

func TestWaitIdle(t *testing.T) {
	e := newTestEngine(t, testConfig())
	e.ResetCoarseCalibration([]string{"c1"})
	MakeTestFrameMaker(e, "c1").AddWholeFrames(1, 2, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitIdle(ctx))
	assert.Equal(t, 0, e.Pending())
	assert.False(t, e.Busy())
}

func TestSaveFrames(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, testConfig())
	done := e.ResetAutoFocus(AutoFocusOptions{Cameras: []string{"c1"}, SaveDir: dir, Index: 2})
	MakeTestFrameMaker(e, "c1").AddFrame(5, 6, 7)
	e.EndSweep()
	waitOutcome(t, done)

	require.NoError(t, e.SaveFrames())
	assert.FileExists(t, dir+"/c1_2.png")
}
