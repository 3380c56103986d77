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
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scorer rates how sharp an image is. Larger is sharper.
type Scorer interface {
	// Frame scores a whole frame for pixel adjustment.
	Frame(img *image.Gray) float64
	// Calibration scores a whole frame for calibration and the
	// positioning gate.
	Calibration(img *image.Gray) float64
	// Region scores the crop around a single end-face.
	Region(img *image.Gray) float64
}

type defaultScorer struct {
	frameScale  float64
	regionScale float64
	low         float64
	high        float64
	gain        float64
}

func newDefaultScorer(conf Config) *defaultScorer {
	return &defaultScorer{
		frameScale:  conf.FrameScale,
		regionScale: conf.RegionScale,
		low:         conf.BandLow,
		high:        conf.BandHigh,
		gain:        conf.BandGain,
	}
}

func (s *defaultScorer) Frame(img *image.Gray) float64 {
	return FrameClarity(img)
}

func (s *defaultScorer) Calibration(img *image.Gray) float64 {
	return MultiscaleClarity(Scale(img, s.frameScale))
}

func (s *defaultScorer) Region(img *image.Gray) float64 {
	return BandpassClarity(Scale(img, s.regionScale), s.low, s.high, s.gain)
}

// FrameClarity is the mean squared Sobel gradient over the frame.
func FrameClarity(img *image.Gray) float64 {
	if img == nil {
		return 0
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	rows := make([]float64, h-2)
	line := make([]float64, w-2)
	for y := 1; y < h-1; y++ {
		up := img.Pix[(y-1)*img.Stride:]
		mid := img.Pix[y*img.Stride:]
		down := img.Pix[(y+1)*img.Stride:]
		for x := 1; x < w-1; x++ {
			gx := float64(up[x+1]) + 2*float64(mid[x+1]) + float64(down[x+1]) -
				float64(up[x-1]) - 2*float64(mid[x-1]) - float64(down[x-1])
			gy := float64(down[x-1]) + 2*float64(down[x]) + float64(down[x+1]) -
				float64(up[x-1]) - 2*float64(up[x]) - float64(up[x+1])
			line[x-1] = gx*gx + gy*gy
		}
		rows[y-1] = stat.Mean(line, nil)
	}
	return stat.Mean(rows, nil)
}

var pyramid = []float64{1, 0.5, 0.25}

// MultiscaleClarity averages FrameClarity over a three level pyramid so
// that both fine and coarse detail contribute.
func MultiscaleClarity(img *image.Gray) float64 {
	if img == nil {
		return 0
	}
	levels := make([]float64, len(pyramid))
	for i, f := range pyramid {
		levels[i] = FrameClarity(Scale(img, f))
	}
	return stat.Mean(levels, nil)
}

// BandpassClarity measures the energy that survives a difference of box
// blurs. low and high are normalised cut-offs; the blur radii are derived
// from them so that the fine blur keeps frequencies up to high and the
// coarse one removes everything above low.
func BandpassClarity(img *image.Gray, low, high, gain float64) float64 {
	if img == nil {
		return 0
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	fine := boxBlur(img, blurRadius(high))
	coarse := boxBlur(img, blurRadius(low))
	floats.Sub(fine, coarse)
	floats.Mul(fine, fine)
	return gain * stat.Mean(fine, nil)
}

func blurRadius(cutoff float64) int {
	r := int(math.Round(0.5 / cutoff))
	if r < 1 {
		return 1
	}
	return r
}

// boxBlur returns the mean of the (2r+1)^2 neighbourhood of every pixel,
// shrinking the window at the border.
func boxBlur(img *image.Gray, r int) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	sat := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		var sum float64
		for x := 0; x < w; x++ {
			sum += float64(row[x])
			sat[(y+1)*(w+1)+x+1] = sat[y*(w+1)+x+1] + sum
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		y0, y1 := max(y-r, 0), min(y+r+1, h)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-r, 0), min(x+r+1, w)
			sum := sat[y1*(w+1)+x1] - sat[y0*(w+1)+x1] - sat[y1*(w+1)+x0] + sat[y0*(w+1)+x0]
			out[y*w+x] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return out
}

// Scale resizes img by factor. A factor of 1 returns img unchanged.
func Scale(img *image.Gray, factor float64) *image.Gray {
	if img == nil || factor == 1 {
		return img
	}
	w := int(math.Round(float64(img.Rect.Dx()) * factor))
	h := int(math.Round(float64(img.Rect.Dy()) * factor))
	if w < 1 || h < 1 {
		return nil
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(out, out.Rect, img, img.Rect, draw.Src, nil)
	return out
}

// Crop copies r out of img into a new image whose bounds start at the
// origin.
func Crop(img *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Rect)
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(out, image.Point{}, img, r, draw.Src, nil)
	return out
}

func cloneGray(img *image.Gray) *image.Gray {
	return &image.Gray{
		Pix:    append([]uint8(nil), img.Pix...),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
}
