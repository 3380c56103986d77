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

package loglimiter

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// New returns a new LogLimiter with the configured minimum log interval.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		entries:  make(map[string]*entry),
	}
}

// LogLimiter suppresses log messages that share a key with a message
// logged within the interval. The number of suppressed messages is
// reported with the next message for that key.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	last       time.Time
	suppressed int
}

func (limiter *LogLimiter) Printf(format string, v ...interface{}) {
	limiter.Print(fmt.Sprintf(format, v...))
}

// Print logs s, using the message itself as the key.
func (limiter *LogLimiter) Print(s string) {
	limiter.print(s, s)
}

// Keyf logs a formatted message, limited by key rather than by the
// formatted text. Use it for messages that carry per-frame values.
func (limiter *LogLimiter) Keyf(key, format string, v ...interface{}) {
	limiter.print(key, fmt.Sprintf(format, v...))
}

// Reset forgets every key so the next message of each kind is logged.
func (limiter *LogLimiter) Reset() {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.entries = make(map[string]*entry)
}

func (limiter *LogLimiter) print(key, s string) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := limiter.nowFunc()
	e, ok := limiter.entries[key]
	if ok && now.Sub(e.last) < limiter.interval {
		e.suppressed++
		return
	}
	if !ok {
		e = new(entry)
		limiter.entries[key] = e
	}

	if e.suppressed > 0 {
		log.Printf("%s (%d similar suppressed)", s, e.suppressed)
	} else {
		log.Print(s)
	}
	e.last = now
	e.suppressed = 0
}
