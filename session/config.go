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

package session

import (
	"errors"
	"time"
)

// MotionConfig describes the stage sweep around the process position.
type MotionConfig struct {
	Axis           int           `yaml:"axis"`
	SearchDistance int           `yaml:"search-distance"`
	Speed          int           `yaml:"speed"`
	Step           int           `yaml:"step"`
	StartSpeed     int           `yaml:"start-speed"`
	SessionTimeout time.Duration `yaml:"session-timeout"`
	// DumpAdjustment writes every pixel adjustment frame to the dump
	// directory.
	DumpAdjustment bool `yaml:"dump-adjustment"`
}

func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		SearchDistance: 330,
		Speed:          300,
		Step:           5,
		StartSpeed:     5000,
		SessionTimeout: 2 * time.Minute,
	}
}

func (conf *MotionConfig) Validate() error {
	if conf.SearchDistance < 0 {
		return errors.New("search-distance can't be negative")
	}
	if conf.Speed <= 0 || conf.StartSpeed <= 0 {
		return errors.New("speed and start-speed should be positive")
	}
	if conf.Step < 0 {
		return errors.New("step can't be negative")
	}
	if conf.SessionTimeout < 0 {
		return errors.New("session-timeout can't be negative")
	}
	return nil
}
