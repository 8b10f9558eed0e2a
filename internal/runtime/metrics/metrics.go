// Package metrics exposes Prometheus collectors for publish attempts and
// configuration reloads.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "messagebus"
	Subsystem = "client"
)

// PublishMetrics records one observation per publish attempt. A nil
// *PublishMetrics records nothing.
type PublishMetrics struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	reloadsTotal    *prometheus.CounterVec
}

// NewPublishMetrics creates the collectors. A nil registerer means
// prometheus.DefaultRegisterer. Collectors are registered by Register.
func NewPublishMetrics(registerer prometheus.Registerer) *PublishMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PublishMetrics{
		registerer: registerer,
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "publish_total",
			Help:      "Publish attempts by destination and outcome",
		}, []string{"destination", "outcome"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "publish_duration_seconds",
			Help:      "Duration of producer publish calls",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"destination", "outcome"}),
		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "config_reloads_total",
			Help:      "Configuration reload checks by result",
		}, []string{"result"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *PublishMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	// Collectors already on the registry, for example from another client,
	// replace ours so observations reach the exported series.
	var err error
	if m.publishTotal, err = registerCounterVec(m.registerer, m.publishTotal); err != nil {
		return err
	}
	if m.publishDuration, err = registerHistogramVec(m.registerer, m.publishDuration); err != nil {
		return err
	}
	if m.reloadsTotal, err = registerCounterVec(m.registerer, m.reloadsTotal); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	existing, err := register(reg, c)
	if err != nil {
		return c, err
	}
	vec, ok := existing.(*prometheus.CounterVec)
	if !ok {
		return c, fmt.Errorf("metrics: collector registered with type %T, want *prometheus.CounterVec", existing)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	existing, err := register(reg, h)
	if err != nil {
		return h, err
	}
	vec, ok := existing.(*prometheus.HistogramVec)
	if !ok {
		return h, fmt.Errorf("metrics: collector registered with type %T, want *prometheus.HistogramVec", existing)
	}
	return vec, nil
}

// register returns c, or the collector registered before it under the same
// descriptor.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector, nil
	}
	return nil, err
}

// ObservePublish counts a publish attempt.
func (m *PublishMetrics) ObservePublish(destination, outcome string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(destination, outcome).Inc()
}

// ObserveDuration records the producer call time of an attempt.
func (m *PublishMetrics) ObserveDuration(destination, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.publishDuration.WithLabelValues(destination, outcome).Observe(d.Seconds())
}

// ObserveReload counts a reload check. result is "applied", "skipped" or
// "failed".
func (m *PublishMetrics) ObserveReload(result string) {
	if m == nil {
		return
	}
	m.reloadsTotal.WithLabelValues(result).Inc()
}

// Reset clears all series.
func (m *PublishMetrics) Reset() {
	m.publishTotal.Reset()
	m.publishDuration.Reset()
	m.reloadsTotal.Reset()
}
