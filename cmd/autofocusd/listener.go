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
	"log"

	"github.com/fiberend/autofocus/session"
	"github.com/fiberend/autofocus/store"
)

// storeListener records every session and calibration in the database.
type storeListener struct {
	db *store.Store
}

func (l *storeListener) SessionFinished(r session.Report) {
	sess := store.Session{
		ID:      r.ID,
		Task:    r.Outcome.Type.String(),
		Reason:  r.Outcome.Reason.String(),
		Started: r.Started,
		Elapsed: r.Outcome.Elapsed,
		Frames:  r.Outcome.Frames,
		Skipped: r.Outcome.Skipped,
		Clarity: r.Clarity,
	}
	if r.Err != nil {
		sess.Error = r.Err.Error()
		log.Printf("session %s failed: %v", r.ID, r.Err)
	}
	if err := l.db.InsertSession(sess); err != nil {
		log.Printf("failed to record session: %v", err)
	}
}

func (l *storeListener) Calibrated(c session.Calibration) {
	err := l.db.SaveCalibration(store.Calibration{
		ID:            c.ID,
		Created:       c.Created,
		FrameClarity:  c.FrameClarity,
		Thresholds:    c.Thresholds,
		DiffThreshold: c.DiffThreshold,
	})
	if err != nil {
		log.Printf("failed to save calibration: %v", err)
	}
}
