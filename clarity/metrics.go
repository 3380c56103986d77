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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an Observer that exports engine activity to Prometheus.
type Metrics struct {
	scored   *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	regions  prometheus.Counter
	sessions *prometheus.CounterVec
	frameDur prometheus.Histogram
	sessDur  *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors on reg and installs itself
// as the engine's observer.
func NewMetrics(reg prometheus.Registerer, e *Engine) *Metrics {
	m := &Metrics{
		scored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofocus_frames_scored_total",
			Help: "Frames scored by the clarity engine",
		}, []string{"task", "camera"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofocus_frames_skipped_total",
			Help: "Frames the clarity engine ignored",
		}, []string{"task", "camera"}),
		regions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autofocus_regions_finished_total",
			Help: "End-faces whose sharpest frame has passed",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofocus_sessions_total",
			Help: "Sessions ended, by task and reason",
		}, []string{"task", "reason"}),
		frameDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autofocus_frame_seconds",
			Help:    "Time spent scoring a single frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sessDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autofocus_session_seconds",
			Help:    "Session duration from reset to outcome",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"task"}),
	}

	reg.MustRegister(
		m.scored,
		m.skipped,
		m.regions,
		m.sessions,
		m.frameDur,
		m.sessDur,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autofocus_queue_depth",
			Help: "Frames waiting to be scored",
		}, func() float64 { return float64(e.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autofocus_busy",
			Help: "1 while the engine is scoring a frame",
		}, func() float64 { return boolGauge(e.Busy()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "autofocus_detect_failed",
			Help: "1 when the current session could not locate any end-face",
		}, func() float64 { return boolGauge(e.DetectFailed()) }),
	)
	e.SetObserver(m)
	return m
}

func (m *Metrics) FrameScored(typ TaskType, cameraID string, elapsed time.Duration) {
	m.scored.WithLabelValues(typ.String(), cameraID).Inc()
	m.frameDur.Observe(elapsed.Seconds())
}

func (m *Metrics) FrameSkipped(typ TaskType, cameraID string) {
	m.skipped.WithLabelValues(typ.String(), cameraID).Inc()
}

func (m *Metrics) RegionFinished(int) {
	m.regions.Inc()
}

func (m *Metrics) SessionEnded(o Outcome) {
	m.sessions.WithLabelValues(o.Type.String(), o.Reason.String()).Inc()
	m.sessDur.WithLabelValues(o.Type.String()).Observe(o.Elapsed.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
