// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/scanner"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sorter"
)

// SorterMetrics are the promauto-registered gauges/counters for one
// sorter stage, per the DOMAIN STACK table's "sorter depth, discard
// counts ... as Prometheus gauges/counters" wiring.
type SorterMetrics struct {
	depth          prometheus.Gauge
	discarded      prometheus.Counter
	realTimeFuture prometheus.Counter
	badEarlier     prometheus.Counter
}

// NewSorterMetrics registers a SorterMetrics set labeled by stage name
// ("raw", "processed", ...). Call Update periodically (e.g. from the same
// ticker that drives sensorhandler's statistics pass) to refresh the
// gauges/counters from a live Sorter.
func NewSorterMetrics(name string) *SorterMetrics {
	return &SorterMetrics{
		depth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nidas",
			Subsystem:   "sorter",
			Name:        "depth",
			Help:        "Number of samples currently held in the sorter.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		discarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "nidas",
			Subsystem:   "sorter",
			Name:        "discarded_total",
			Help:        "Samples discarded under the drop overload policy.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		realTimeFuture: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "nidas",
			Subsystem:   "sorter",
			Name:        "realtime_future_total",
			Help:        "Samples rejected by the real-time guard for a too-future timetag.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		badEarlier: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "nidas",
			Subsystem:   "sorter",
			Name:        "bad_earlier_total",
			Help:        "Samples accepted with a timetag earlier than the last cut time.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
	}
}

// Update refreshes the gauge/counters from s's current stats. Counters
// only move forward; Add is called with the delta since the last Update.
func (m *SorterMetrics) Update(s *sorter.Sorter, prev *sorter.Stats) sorter.Stats {
	cur := s.Stats()
	m.depth.Set(float64(s.Len()))
	m.discarded.Add(float64(cur.DiscardedSamples - prev.DiscardedSamples))
	m.realTimeFuture.Add(float64(cur.RealTimeFutureSamples - prev.RealTimeFutureSamples))
	m.badEarlier.Add(float64(cur.BadEarlierTimes - prev.BadEarlierTimes))
	return cur
}

// ScannerMetrics tracks one sensor's scanner overflow count.
type ScannerMetrics struct {
	overflows prometheus.Counter
}

// NewScannerMetrics registers a ScannerMetrics set labeled by sensor name.
func NewScannerMetrics(sensorName string) *ScannerMetrics {
	return &ScannerMetrics{
		overflows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "nidas",
			Subsystem:   "scanner",
			Name:        "overflow_total",
			Help:        "Messages force-flushed for exceeding MaxMessageSize.",
			ConstLabels: prometheus.Labels{"sensor": sensorName},
		}),
	}
}

// Update refreshes the counter from s's current overflow count.
func (m *ScannerMetrics) Update(s *scanner.Scanner, prev uint64) uint64 {
	cur := s.OverflowCount()
	m.overflows.Add(float64(cur - prev))
	return cur
}
