// SPDX-License-Identifier: GPL-2.0
/*
 * Copyright (c) 2023 Oracle and/or its affiliates.
 * Copyright (c) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * tlsconntest-go is free software; you can redistribute it and/or
 * modify it under the terms of the GNU General Public License as
 * published by the Free Software Foundation; version 2.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301, USA.
 */

// Package metrics records scenario outcomes as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/dpeckett/tlsconntest-go/conntest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tlsconntest"

var _ conntest.Recorder = (*Collector)(nil)

// Collector counts scenarios by outcome and tracks how long they take.
type Collector struct {
	scenarios *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewCollector creates a Collector registered with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Number of connection scenarios run, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenario_duration_seconds",
			Help:      "Time taken by connection scenarios, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{c.scenarios, c.duration} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return c, nil
}

// ObserveScenario implements conntest.Recorder.
func (c *Collector) ObserveScenario(_ string, outcome conntest.Outcome, elapsed time.Duration) {
	c.scenarios.WithLabelValues(outcome.String()).Inc()
	c.duration.WithLabelValues(outcome.String()).Observe(elapsed.Seconds())
}
