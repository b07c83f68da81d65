package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics пишет статистику команд в файл для textfile-коллектора.
type metrics struct {
	path     string
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

func newMetrics(path string) *metrics {
	m := &metrics{
		path:     path,
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eis_operation_duration_seconds",
				Help:    "Duration of impedance analyzer console commands",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"op"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eis_operation_errors_total",
				Help: "Failed impedance analyzer console commands",
			},
			[]string{"op"},
		),
	}
	m.registry.MustRegister(m.duration, m.errors)
	return m
}

func (m *metrics) observe(op string, elapsed time.Duration, err error) {
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.errors.WithLabelValues(op).Inc()
	}
	if m.path == "" {
		return
	}
	if werr := prometheus.WriteToTextfile(m.path, m.registry); werr != nil {
		log.Warn().Err(werr).Str("file", m.path).Msg("не удалось записать метрики")
	}
}
