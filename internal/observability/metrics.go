// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajroetker/go-tilepipe/pipe"
)

var _ pipe.Observer = (*Metrics)(nil)

// Metrics holds the Prometheus collectors for the buffer pipeline and GEMM
// runs. It implements pipe.Observer.
type Metrics struct {
	// Pipeline metrics
	BuffersClaimed   *prometheus.CounterVec
	BuffersRecycled  *prometheus.CounterVec
	BuffersInFlight  prometheus.Gauge
	PopulateDuration *prometheus.HistogramVec
	WaitDuration     *prometheus.HistogramVec

	// GEMM metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	RunGFLOPS   *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		BuffersClaimed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilepipe_buffers_claimed_total",
				Help: "Number of epochs claimed for population, by pool slot",
			},
			[]string{"slot"},
		),
		BuffersRecycled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilepipe_buffers_recycled_total",
				Help: "Number of epochs drained by their last release, by pool slot",
			},
			[]string{"slot"},
		),
		BuffersInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tilepipe_buffers_in_flight",
				Help: "Epochs currently claimed and not yet recycled",
			},
		),
		PopulateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilepipe_populate_duration_seconds",
				Help:    "Time spent in populate callbacks",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"slot"},
		),
		WaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilepipe_wait_duration_seconds",
				Help:    "Time goroutines spent parked waiting for a buffer",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"slot"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilepipe_gemm_runs_total",
				Help: "Number of GEMM runs, by mode and status",
			},
			[]string{"mode", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tilepipe_gemm_run_duration_seconds",
				Help:    "Wall time of GEMM runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		RunGFLOPS: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tilepipe_gemm_gflops",
				Help: "Throughput of the most recent GEMM run",
			},
			[]string{"mode"},
		),
	}
}

// Claimed implements pipe.Observer.
func (m *Metrics) Claimed(slot int, _ uint64) {
	m.BuffersClaimed.WithLabelValues(strconv.Itoa(slot)).Inc()
	m.BuffersInFlight.Inc()
}

// Populated implements pipe.Observer.
func (m *Metrics) Populated(slot int, _ uint64, took time.Duration) {
	m.PopulateDuration.WithLabelValues(strconv.Itoa(slot)).Observe(took.Seconds())
}

// Waited implements pipe.Observer.
func (m *Metrics) Waited(slot int, _ uint64, took time.Duration) {
	m.WaitDuration.WithLabelValues(strconv.Itoa(slot)).Observe(took.Seconds())
}

// Recycled implements pipe.Observer.
func (m *Metrics) Recycled(slot int, _ uint64) {
	m.BuffersRecycled.WithLabelValues(strconv.Itoa(slot)).Inc()
	m.BuffersInFlight.Dec()
}

// ObserveRun records one GEMM run of flops floating-point operations.
// A failed run only increments the failure counter.
func (m *Metrics) ObserveRun(mode string, took time.Duration, flops float64, err error) {
	if err != nil {
		m.RunsTotal.WithLabelValues(mode, "failure").Inc()
		return
	}
	m.RunsTotal.WithLabelValues(mode, "success").Inc()
	m.RunDuration.WithLabelValues(mode).Observe(took.Seconds())
	if took > 0 {
		m.RunGFLOPS.WithLabelValues(mode).Set(flops / took.Seconds() / 1e9)
	}
}
