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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiberend/autofocus/camera"
	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/session"
)

// pixelScorer reads clarity from pixel (0, 0) of a frame and the centre
// pixel of a region.
type pixelScorer struct{}

func (pixelScorer) Frame(img *image.Gray) float64       { return float64(img.Pix[0]) }
func (pixelScorer) Calibration(img *image.Gray) float64 { return float64(img.Pix[0]) }

func (pixelScorer) Region(img *image.Gray) float64 {
	b := img.Bounds()
	return float64(img.GrayAt(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).Y)
}

var replayBoxes = [][]float64{{20, 20, 60, 60}, {120, 20, 160, 60}, {220, 20, 260, 60}}

// writeSweep records frames frames per camera, sharpest at frame peak.
func writeSweep(t *testing.T, dir string, cams []string, frames, peak int) {
	for _, id := range cams {
		camDir := filepath.Join(dir, id)
		require.NoError(t, os.MkdirAll(camDir, 0755))
		for n := 0; n < frames; n++ {
			d := n - peak
			if d < 0 {
				d = -d
			}
			v := uint8(200 - 10*d)
			img := image.NewGray(image.Rect(0, 0, 300, 100))
			img.Pix[0] = v
			for _, b := range replayBoxes {
				for y := int(b[1]); y < int(b[3]); y++ {
					for x := int(b[0]); x < int(b[2]); x++ {
						img.Pix[y*img.Stride+x] = v
					}
				}
			}
			f, err := os.Create(filepath.Join(camDir, fmt.Sprintf("%04d.png", n)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
}

func testReplayConfig(t *testing.T) *Config {
	conf := defaultConfig
	conf.OutputDir = t.TempDir()
	conf.FiberEndCount = 3
	conf.ProcessPosition = 100
	conf.Clarity.Workers = 2
	conf.Clarity.ObjectExpand = 0
	conf.Clarity.CacheSize = 2
	conf.Clarity.AttenuationLimit = 3
	conf.Clarity.DiffThreshold = 0
	conf.Motion.SearchDistance = 50
	conf.Motion.SessionTimeout = 5 * time.Second
	conf.Detector = DetectorConfig{TargetX: 40, TargetY: 40, Boxes: replayBoxes}
	return &conf
}

func newReplayController(t *testing.T, conf *Config, dir string) (*session.Controller, *clarity.Engine) {
	rig, err := newReplayRig(dir, conf.Cameras)
	require.NoError(t, err)

	engine := clarity.New(conf.Clarity, conf.Detector.Detector())
	engine.SetScorer(pixelScorer{})
	engine.Start()
	t.Cleanup(engine.Stop)

	ctrl := session.NewController(engine, rig.Cameras(), rig, conf.Motion)
	rig.SetHandler(ctrl.Push)
	ctrl.SetProcessPosition(conf.ProcessPosition)
	return ctrl, engine
}

func TestReplayRigFindsCameras(t *testing.T) {
	dir := t.TempDir()
	writeSweep(t, dir, []string{"a", "b"}, 3, 1)

	rig, err := newReplayRig(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, camera.IDs(rig.Cameras()))
	assert.Len(t, rig.cams[0].frames, 3)

	_, err = newReplayRig(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestReplayRigOnlyTriggersArmedCameras(t *testing.T) {
	dir := t.TempDir()
	writeSweep(t, dir, []string{"a"}, 5, 2)
	rig, err := newReplayRig(dir, []string{"a"})
	require.NoError(t, err)

	var got []uint8
	rig.SetHandler(func(id string, img *image.Gray) {
		got = append(got, img.Pix[0])
	})

	ctx := context.Background()
	require.NoError(t, rig.MoveTo(ctx, 0, 0, 5000, 0))
	require.NoError(t, rig.MoveTo(ctx, 0, 10, 300, 5))
	assert.Empty(t, got)

	require.NoError(t, camera.Arm(rig.Cameras()))
	require.NoError(t, rig.MoveTo(ctx, 0, 0, 5000, 0))
	require.NoError(t, rig.MoveTo(ctx, 0, 30, 300, 5))
	assert.Equal(t, []uint8{180, 190, 200, 190, 180}, got, "frames stop when the recording runs out")
}

func TestReplayFocus(t *testing.T) {
	dir := t.TempDir()
	writeSweep(t, dir, []string{"cam0", "cam1"}, 21, 10)
	conf := testReplayConfig(t)
	ctrl, _ := newReplayController(t, conf, dir)

	require.NoError(t, runReplay(context.Background(), ctrl, conf, modeFocus))

	written, err := filepath.Glob(filepath.Join(conf.OutputDir, "focus-*", "[0-9].png"))
	require.NoError(t, err)
	assert.Len(t, written, 6)
}

func TestReplayCalibrateThenAdjust(t *testing.T) {
	dir := t.TempDir()
	writeSweep(t, dir, []string{"cam0", "cam1"}, 21, 10)
	conf := testReplayConfig(t)
	ctrl, engine := newReplayController(t, conf, dir)

	require.NoError(t, runReplay(context.Background(), ctrl, conf, modeCalibrate))
	assert.Equal(t, 100.0, engine.DiffThreshold())

	require.NoError(t, runReplay(context.Background(), ctrl, conf, modeAdjust))
	window, ok := engine.AdjustmentRange()
	require.True(t, ok)
	assert.Equal(t, 30.0, window.Min)
	assert.Equal(t, 100, ctrl.ObjectOffset())
}

func TestReplayUnknownMode(t *testing.T) {
	conf := testReplayConfig(t)
	err := runReplay(context.Background(), nil, conf, "sideways")
	assert.Error(t, err)
}
