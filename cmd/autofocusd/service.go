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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/session"
)

const (
	dbusName = "org.fiberend.autofocus"
	dbusPath = "/org/fiberend/autofocus"
)

// sessionRunner is the part of the session controller the service and the
// replay runner drive.
type sessionRunner interface {
	GetFocusImages(ctx context.Context, saveDir string, index, expected int, saveCache bool) ([]clarity.FocusResult, error)
	ClarityCalibration(ctx context.Context) (session.Calibration, error)
	PixelAdjustment(ctx context.Context, expected, position, searchRange, speed, step int) (session.Adjustment, error)
	SaveCacheImages(dir string) (string, error)
	SetProcessPosition(pos int)
}

type service struct {
	ctrl sessionRunner
	conf *Config
}

func startService(ctrl sessionRunner, conf *Config) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		ctrl: ctrl,
		conf: conf,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// AutoFocus sweeps the process range and writes the sharpest image of
// every end-face to <output-dir>/<index>/. It returns that directory and
// the clarity of each image.
func (s *service) AutoFocus(index int32, saveCache bool) (string, []float64, *dbus.Error) {
	dir := filepath.Join(s.conf.OutputDir, fmt.Sprint(index))
	results, err := s.ctrl.GetFocusImages(context.Background(), dir, int(index), s.conf.FiberEndCount, saveCache)
	if err != nil {
		return "", nil, makeDbusError("AutoFocus", err)
	}
	if err := writeResults(dir, results); err != nil {
		return "", nil, makeDbusError("AutoFocus", err)
	}
	clarities := make([]float64, len(results))
	for i, r := range results {
		clarities[i] = r.Clarity
	}
	return dir, clarities, nil
}

// Calibrate runs a clarity calibration and returns the new clarity
// difference threshold.
func (s *service) Calibrate() (float64, *dbus.Error) {
	cal, err := s.ctrl.ClarityCalibration(context.Background())
	if err != nil {
		return 0, makeDbusError("Calibrate", err)
	}
	return cal.DiffThreshold, nil
}

// PixelAdjust returns how far the row of end-faces is from the centre of
// the frame and the stage position of the sharpest frame.
func (s *service) PixelAdjust(position, searchRange, speed, step int32) (int32, int32, int32, *dbus.Error) {
	adj, err := s.ctrl.PixelAdjustment(context.Background(), s.conf.FiberEndCount,
		int(position), int(searchRange), int(speed), int(step))
	if err != nil {
		return 0, 0, 0, makeDbusError("PixelAdjust", err)
	}
	return int32(adj.DX), int32(adj.DY), int32(adj.PrecisePosition), nil
}

// SaveCache writes the frames cached by the last auto focus and returns
// the directory they went into.
func (s *service) SaveCache() (string, *dbus.Error) {
	dir, err := s.ctrl.SaveCacheImages(s.conf.OutputDir)
	if err != nil {
		return "", makeDbusError("SaveCache", err)
	}
	return dir, nil
}

// SetProcessPosition centres later sweeps on position.
func (s *service) SetProcessPosition(position int32) *dbus.Error {
	s.ctrl.SetProcessPosition(int(position))
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
