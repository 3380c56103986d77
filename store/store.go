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

// Package store keeps a history of focus sessions and the most recent
// calibration in a SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNoCalibration = errors.New("no calibration stored")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	reason TEXT NOT NULL,
	started INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	frames INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	clarity TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS calibrations (
	calibration_id TEXT PRIMARY KEY,
	created INTEGER NOT NULL,
	diff_threshold DOUBLE NOT NULL
);
CREATE TABLE IF NOT EXISTS calibration_cameras (
	calibration_id TEXT NOT NULL,
	camera_id TEXT NOT NULL,
	frame_clarity DOUBLE NOT NULL,
	threshold DOUBLE NOT NULL,
	PRIMARY KEY (calibration_id, camera_id),
	FOREIGN KEY (calibration_id) REFERENCES calibrations(calibration_id)
);
`

// Session is one finished engine session.
type Session struct {
	ID      string
	Task    string
	Reason  string
	Started time.Time
	Elapsed time.Duration
	Frames  int
	Skipped int
	// Clarity holds the per end-face clarity values the session produced.
	Clarity []float64
	Error   string
}

// Calibration is the result of a calibration run.
type Calibration struct {
	ID            string
	Created       time.Time
	FrameClarity  map[string]float64
	Thresholds    map[string]float64
	DiffThreshold float64
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertSession(sess Session) error {
	clarity, err := json.Marshal(sess.Clarity)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO sessions
		(session_id, task, reason, started, elapsed_ms, frames, skipped, clarity, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Task, sess.Reason, sess.Started.UnixNano(),
		sess.Elapsed.Milliseconds(), sess.Frames, sess.Skipped, string(clarity), sess.Error)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`SELECT session_id, task, reason, started, elapsed_ms,
		frames, skipped, clarity, error
		FROM sessions ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess      Session
			started   int64
			elapsedMS int64
			clarity   string
		)
		if err := rows.Scan(&sess.ID, &sess.Task, &sess.Reason, &started, &elapsedMS,
			&sess.Frames, &sess.Skipped, &clarity, &sess.Error); err != nil {
			return nil, err
		}
		sess.Started = time.Unix(0, started)
		sess.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if err := json.Unmarshal([]byte(clarity), &sess.Clarity); err != nil {
			return nil, fmt.Errorf("session %s clarity: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) SaveCalibration(c Calibration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO calibrations (calibration_id, created, diff_threshold)
		VALUES (?, ?, ?)`, c.ID, c.Created.UnixNano(), c.DiffThreshold); err != nil {
		return fmt.Errorf("inserting calibration %s: %w", c.ID, err)
	}
	for id, frame := range c.FrameClarity {
		if _, err := tx.Exec(`INSERT INTO calibration_cameras
			(calibration_id, camera_id, frame_clarity, threshold) VALUES (?, ?, ?, ?)`,
			c.ID, id, frame, c.Thresholds[id]); err != nil {
			return fmt.Errorf("inserting calibration for camera %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// LatestCalibration returns the most recently saved calibration or
// ErrNoCalibration.
func (s *Store) LatestCalibration() (Calibration, error) {
	var (
		c       Calibration
		created int64
	)
	err := s.db.QueryRow(`SELECT calibration_id, created, diff_threshold
		FROM calibrations ORDER BY created DESC LIMIT 1`).Scan(&c.ID, &created, &c.DiffThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return Calibration{}, ErrNoCalibration
	}
	if err != nil {
		return Calibration{}, fmt.Errorf("querying calibration: %w", err)
	}
	c.Created = time.Unix(0, created)

	rows, err := s.db.Query(`SELECT camera_id, frame_clarity, threshold
		FROM calibration_cameras WHERE calibration_id = ?`, c.ID)
	if err != nil {
		return Calibration{}, fmt.Errorf("querying calibration cameras: %w", err)
	}
	defer rows.Close()

	c.FrameClarity = make(map[string]float64)
	c.Thresholds = make(map[string]float64)
	for rows.Next() {
		var (
			id               string
			frame, threshold float64
		)
		if err := rows.Scan(&id, &frame, &threshold); err != nil {
			return Calibration{}, err
		}
		c.FrameClarity[id] = frame
		c.Thresholds[id] = threshold
	}
	return c, rows.Err()
}
