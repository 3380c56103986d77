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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fiberend/autofocus/detect"
)

const (
	testFrameW = 300
	testFrameH = 100
)

var testBoxes = []detect.Box{
	{X0: 20, Y0: 30, X1: 60, Y1: 70},
	{X0: 120, Y0: 30, X1: 160, Y1: 70},
	{X0: 220, Y0: 30, X1: 260, Y1: 70},
}

// pixelScorer reads clarity straight out of the test frames: the whole
// frame value is pixel (0, 0) and a region's value is the centre pixel of
// its crop.
type pixelScorer struct{}

func (pixelScorer) Frame(img *image.Gray) float64 {
	return float64(img.Pix[0])
}

func (pixelScorer) Calibration(img *image.Gray) float64 {
	return float64(img.Pix[0])
}

func (pixelScorer) Region(img *image.Gray) float64 {
	b := img.Bounds()
	return float64(img.GrayAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).Y)
}

// countDetector returns the first n test boxes, where n is the value of
// pixel (1, 0).
type countDetector struct{}

func (countDetector) Detect(img *image.RGBA) ([]detect.Box, error) {
	n := int(img.Pix[4])
	if n > len(testBoxes) {
		n = len(testBoxes)
	}
	return append([]detect.Box(nil), testBoxes[:n]...), nil
}

func (countDetector) TargetSize() (float64, float64) {
	return 40, 40
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.Workers = 2
	conf.ObjectExpand = 0
	conf.CacheSize = 2
	conf.AttenuationLimit = 3
	conf.DiffThreshold = 0
	conf.LogInterval = time.Minute
	return conf
}

func newTestEngine(t *testing.T, conf Config) *Engine {
	e := New(conf, countDetector{})
	e.SetScorer(pixelScorer{})
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

// TestFrameMaker pushes synthetic frames for one camera into an engine.
type TestFrameMaker struct {
	e        *Engine
	camera   string
	Boxes    uint8
	WholeVal uint8
}

func MakeTestFrameMaker(e *Engine, camera string) *TestFrameMaker {
	return &TestFrameMaker{e: e, camera: camera, Boxes: uint8(len(testBoxes))}
}

// SetBoxes sets how many end-faces the detector finds on later frames.
func (tfm *TestFrameMaker) SetBoxes(n uint8) *TestFrameMaker {
	tfm.Boxes = n
	return tfm
}

// AddFrame pushes a frame whose regions have the given clarity values.
func (tfm *TestFrameMaker) AddFrame(regions ...uint8) *TestFrameMaker {
	tfm.e.Push(tfm.camera, tfm.makeFrame(tfm.WholeVal, regions))
	return tfm
}

// AddWholeFrames pushes one frame per value with that whole-frame
// clarity.
func (tfm *TestFrameMaker) AddWholeFrames(values ...uint8) *TestFrameMaker {
	for _, v := range values {
		tfm.e.Push(tfm.camera, tfm.makeFrame(v, nil))
	}
	return tfm
}

// AddSeries pushes len(series[0]) frames; series[i][j] is the clarity of
// region i in frame j.
func (tfm *TestFrameMaker) AddSeries(series ...[]uint8) *TestFrameMaker {
	for j := range series[0] {
		regions := make([]uint8, len(series))
		for i := range series {
			regions[i] = series[i][j]
		}
		tfm.AddFrame(regions...)
	}
	return tfm
}

func (tfm *TestFrameMaker) makeFrame(whole uint8, regions []uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testFrameW, testFrameH))
	img.Pix[0] = whole
	img.Pix[1] = tfm.Boxes
	for i, v := range regions {
		r := testBoxes[i].Rect()
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.Pix[y*img.Stride+x] = v
			}
		}
	}
	return img
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o, ok := <-ch:
		require.True(t, ok, "outcome channel closed without an outcome")
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session outcome")
	}
	return Outcome{}
}
