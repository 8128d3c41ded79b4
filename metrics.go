// Copyright 2026 The go-insnav Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package insnav

import (
	"errors"
	"fmt"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for one or more clients. A nil
// *Metrics records nothing.
type Metrics struct {
	frames           *prometheus.CounterVec
	messages         *prometheus.CounterVec
	parseErrors      prometheus.Counter
	readErrors       prometheus.Counter
	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	reconnects       prometheus.Counter
}

// NewMetrics creates unregistered collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frames",
				Name:      "total",
				Help:      "Frame candidates seen by the synchronizer, by outcome.",
			},
			[]string{"result"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "decoded_total",
				Help:      "Decoded messages by top-level id.",
			},
			[]string{"id"},
		),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "parse_errors_total",
			Help:      "Frames whose payload did not fit the resolved schema.",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "read_errors_total",
			Help:      "Non-timeout transport read errors.",
		}),
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "total",
				Help:      "Request exchanges by operation and result.",
			},
			[]string{"op", "result"},
		),
		exchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "duration_seconds",
				Help:      "Request exchange duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Transport reconnects.",
		}),
	}
}

// Collectors returns every collector, for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.frames, m.messages, m.parseErrors, m.readErrors,
		m.exchanges, m.exchangeDuration, m.reconnects,
	}
}

// Register registers every collector with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := r.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

func (m *Metrics) frameStats(before, after frame.Stats) {
	if m == nil {
		return
	}
	if d := after.Published - before.Published; d > 0 {
		m.frames.WithLabelValues("published").Add(float64(d))
	}
	if d := after.CRCErrors - before.CRCErrors; d > 0 {
		m.frames.WithLabelValues("crc_error").Add(float64(d))
	}
	if d := after.FalseSyncs - before.FalseSyncs; d > 0 {
		m.frames.WithLabelValues("false_sync").Add(float64(d))
	}
}

func (m *Metrics) message(id byte) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(fmt.Sprintf("0x%02X", id)).Inc()
}

func (m *Metrics) parseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) readError() {
	if m == nil {
		return
	}
	m.readErrors.Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) exchange(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(op, exchangeResult(err)).Inc()
	m.exchangeDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func exchangeResult(err error) string {
	var re *ResponseError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &re):
		return "rejected"
	case errors.Is(err, ErrResponseTimeout):
		return "timeout"
	default:
		return "error"
	}
}
