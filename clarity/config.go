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
	"errors"
	"time"
)

type Config struct {
	Workers          int           `yaml:"workers"`
	AttenuationLimit int           `yaml:"attenuation-limit"`
	DiffThreshold    float64       `yaml:"diff-threshold"`
	MaxFrameCount    int           `yaml:"max-frame-count"`
	FrameScale       float64       `yaml:"frame-scale"`
	RegionScale      float64       `yaml:"region-scale"`
	ObjectExpand     float64       `yaml:"object-expand"`
	FocusBuffer      float64       `yaml:"focus-buffer"`
	CacheSize        int           `yaml:"cache-size"`
	GateRatio        float64       `yaml:"gate-ratio"`
	ThresholdRatio   float64       `yaml:"threshold-ratio"`
	SizeTolerance    float64       `yaml:"size-tolerance"`
	WindowTolerance  float64       `yaml:"window-tolerance"`
	BandLow          float64       `yaml:"band-low"`
	BandHigh         float64       `yaml:"band-high"`
	BandGain         float64       `yaml:"band-gain"`
	LogInterval      time.Duration `yaml:"log-interval"`
}

func DefaultConfig() Config {
	return Config{
		Workers:          8,
		AttenuationLimit: 20,
		DiffThreshold:    50,
		MaxFrameCount:    120,
		FrameScale:       0.2,
		RegionScale:      0.5,
		ObjectExpand:     80,
		FocusBuffer:      2.5,
		CacheSize:        15,
		GateRatio:        0.8,
		ThresholdRatio:   0.5,
		SizeTolerance:    5,
		WindowTolerance:  0.8,
		BandLow:          0.3,
		BandHigh:         0.4,
		BandGain:         2.0,
		LogInterval:      5 * time.Second,
	}
}

func (conf *Config) Validate() error {
	if conf.Workers < 1 {
		return errors.New("workers should be at least 1")
	}
	if conf.AttenuationLimit < 1 {
		return errors.New("attenuation-limit should be at least 1")
	}
	if conf.DiffThreshold < 0 {
		return errors.New("diff-threshold can't be negative")
	}
	if conf.MaxFrameCount < 1 {
		return errors.New("max-frame-count should be at least 1")
	}
	if conf.FrameScale <= 0 || conf.FrameScale > 1 {
		return errors.New("frame-scale should be in range (0, 1]")
	}
	if conf.RegionScale <= 0 || conf.RegionScale > 1 {
		return errors.New("region-scale should be in range (0, 1]")
	}
	if conf.FocusBuffer < 1 {
		return errors.New("focus-buffer should be at least 1")
	}
	if conf.CacheSize < 1 {
		return errors.New("cache-size should be at least 1")
	}
	if conf.BandLow <= 0 || conf.BandHigh <= 0 || conf.BandLow >= conf.BandHigh {
		return errors.New("band-low should be positive and smaller than band-high")
	}
	return nil
}
