// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every series with the service identity.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics groups the service counters. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	snapshotsReplaced *prometheus.CounterVec
	publishFailures   prometheus.Counter
	refreshRequests   *prometheus.CounterVec
	jobsProcessed     *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the metrics registered on the default registerer.
func Default(cfg Config) *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, cfg)
	})
	return defaultMetrics
}

// New creates the instruments and registers them on registerer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "listing-snapshot-api"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	snapshotsReplaced := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "snapshot_replaced_total",
			Help:        "Snapshot replace attempts by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // success | conflict
	)

	publishFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "snapshot_publish_failures_total",
			Help:        "Snapshot notifications that could not be published after commit.",
			ConstLabels: constLabels,
		},
	)

	refreshRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "snapshot_refresh_requests_total",
			Help:        "Refresh admission decisions by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"}, // enqueued | promoted | noop | error
	)

	jobsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "snapshot_refresh_jobs_processed_total",
			Help:        "Refresh jobs handled by the worker pool by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // completed | retried | failed
	)

	registerer.MustRegister(snapshotsReplaced, publishFailures, refreshRequests, jobsProcessed)

	return &Metrics{
		snapshotsReplaced: snapshotsReplaced,
		publishFailures:   publishFailures,
		refreshRequests:   refreshRequests,
		jobsProcessed:     jobsProcessed,
	}
}

func (m *Metrics) IncSnapshotReplaced(result string) {
	if m == nil {
		return
	}
	m.snapshotsReplaced.WithLabelValues(result).Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}

func (m *Metrics) IncRefreshRequest(outcome string) {
	if m == nil {
		return
	}
	m.refreshRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncJobProcessed(result string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(result).Inc()
}
