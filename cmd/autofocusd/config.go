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
	"errors"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/detect"
	"github.com/fiberend/autofocus/session"
	"github.com/fiberend/autofocus/throttle"
)

type Config struct {
	OutputDir       string               `yaml:"output-dir"`
	SweepDir        string               `yaml:"sweep-dir"`
	Database        string               `yaml:"database"`
	MetricsAddress  string               `yaml:"metrics-address"`
	LightPin        string               `yaml:"light-pin"`
	Cameras         []string             `yaml:"cameras"`
	FiberEndCount   int                  `yaml:"fiber-end-count"`
	ProcessPosition int                  `yaml:"process-position"`
	Clarity         clarity.Config       `yaml:"clarity"`
	Motion          session.MotionConfig `yaml:"motion"`
	Throttle        throttle.Config      `yaml:"throttle"`
	Detector        DetectorConfig       `yaml:"detector"`
}

// DetectorConfig describes the fixed end-face layout used by the static
// detector. Each box is x0, y0, x1, y1 in pixels.
type DetectorConfig struct {
	TargetX float64      `yaml:"target-x"`
	TargetY float64      `yaml:"target-y"`
	Boxes   [][]float64 `yaml:"boxes"`
}

func (conf DetectorConfig) Detector() *detect.StaticDetector {
	d := &detect.StaticDetector{TargetX: conf.TargetX, TargetY: conf.TargetY}
	for _, b := range conf.Boxes {
		d.Boxes = append(d.Boxes, detect.NewBox(b[0], b[1], b[2], b[3]))
	}
	return d
}

func (conf *Config) Validate() error {
	if conf.FiberEndCount < 0 {
		return errors.New("fiber-end-count can't be negative")
	}
	if conf.Database == "" {
		return errors.New("database must be set")
	}
	for _, b := range conf.Detector.Boxes {
		if len(b) != 4 {
			return errors.New("detector boxes need four coordinates")
		}
		if b[2] <= b[0] || b[3] <= b[1] {
			return errors.New("detector boxes must have positive width and height")
		}
	}
	if err := conf.Clarity.Validate(); err != nil {
		return err
	}
	if err := conf.Motion.Validate(); err != nil {
		return err
	}
	return conf.Throttle.Validate()
}

var defaultConfig = Config{
	OutputDir:      "/var/spool/autofocus",
	SweepDir:       "/var/lib/autofocus/sweep",
	Database:       "/var/lib/autofocus/autofocus.db",
	MetricsAddress: ":2112",
	FiberEndCount:  12,
	Clarity:        clarity.DefaultConfig(),
	Motion:         session.DefaultMotionConfig(),
	Throttle:       throttle.DefaultConfig(),
	Detector: DetectorConfig{
		TargetX: 200,
		TargetY: 200,
	},
}

func ParseConfigFile(filename string) (*Config, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	conf := defaultConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
