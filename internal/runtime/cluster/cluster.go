// Package cluster maps destinations onto the producers of the configured
// clusters.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/config"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	"github.com/drblury/messagebus/internal/runtime/logging"
	"github.com/drblury/messagebus/transport"
)

// Option configures a Map.
type Option func(*Map)

// WithRegistry builds transports from registry instead of
// transport.DefaultRegistry.
func WithRegistry(registry *transport.Registry) Option {
	return func(m *Map) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithClock sets the clock producers use to evaluate delays.
func WithClock(clk clock.Clock) Option {
	return func(m *Map) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// Map resolves destinations to producers. Lookups and topology swaps are
// guarded by one RWMutex so a reload is atomic for readers.
type Map struct {
	logger   logging.ServiceLogger
	registry *transport.Registry
	clock    clock.Clock

	mu           sync.RWMutex
	producers    []*TransportProducer
	destinations map[string]*TransportProducer
	started      bool
}

// New returns a Map over clusters. Producers are created but not started.
func New(clusters []config.ClusterConfig, logger logging.ServiceLogger, opts ...Option) *Map {
	if logger == nil {
		panic("messagebus: cluster logger is required")
	}
	m := &Map{
		logger:   logger,
		registry: transport.DefaultRegistry,
		clock:    clock.System{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.producers, m.destinations = m.index(clusters, nil)
	return m
}

// index creates producers for clusters, reusing entries of current whose
// configuration is unchanged.
func (m *Map) index(clusters []config.ClusterConfig, current []*TransportProducer) ([]*TransportProducer, map[string]*TransportProducer) {
	reusable := make(map[string]*TransportProducer, len(current))
	for _, p := range current {
		reusable[p.Name()] = p
	}

	producers := make([]*TransportProducer, 0, len(clusters))
	destinations := make(map[string]*TransportProducer)
	for _, cfg := range clusters {
		p, ok := reusable[cfg.Name]
		if !ok || !reflect.DeepEqual(p.cfg, cfg) {
			p = NewTransportProducer(cfg, m.logger, m.clock)
		}
		producers = append(producers, p)
		for _, dest := range cfg.Destinations {
			destinations[dest] = p
		}
	}
	return producers, destinations
}

// Find returns the producer serving destination.
func (m *Map) Find(destination string) (Producer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.destinations[destination]
	if !ok {
		return nil, false
	}
	return p, true
}

// Destinations returns the number of mapped destinations.
func (m *Map) Destinations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.destinations)
}

// Producers returns the current producers in configuration order.
func (m *Map) Producers() []*TransportProducer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*TransportProducer(nil), m.producers...)
}

// Start starts every producer. On failure the producers started so far are
// closed again.
func (m *Map) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.startAll(ctx, m.producers); err != nil {
		return err
	}
	m.started = true
	return nil
}

func (m *Map) startAll(ctx context.Context, producers []*TransportProducer) error {
	var started []*TransportProducer
	for _, p := range producers {
		if p.Started() {
			continue
		}
		if err := p.Start(ctx, m.registry); err != nil {
			if cerr := closeAll(started); cerr != nil {
				err = errors.Join(err, cerr)
			}
			return err
		}
		started = append(started, p)
	}
	return nil
}

// Stop closes every producer concurrently.
func (m *Map) Stop() error {
	m.mu.Lock()
	producers := m.producers
	m.started = false
	m.mu.Unlock()

	return closeAll(producers)
}

// UpdateConfig replaces the cluster topology. Unchanged clusters keep their
// producer; new ones are started when the map is started; dropped or
// changed ones are closed after the swap. On error the old topology stays.
func (m *Map) UpdateConfig(ctx context.Context, clusters []config.ClusterConfig) error {
	if errs := config.ValidateClusters(clusters); len(errs) > 0 {
		return errspkg.NewConfigValidationError(errors.Join(errs...))
	}

	m.mu.Lock()
	producers, destinations := m.index(clusters, m.producers)
	if m.started {
		if err := m.startAll(ctx, producers); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("update cluster config: %w", err)
		}
	}

	kept := make(map[*TransportProducer]struct{}, len(producers))
	for _, p := range producers {
		kept[p] = struct{}{}
	}
	var retired []*TransportProducer
	for _, p := range m.producers {
		if _, ok := kept[p]; !ok {
			retired = append(retired, p)
		}
	}

	m.producers = producers
	m.destinations = destinations
	m.mu.Unlock()

	m.logger.Info("Cluster config updated", logging.LogFields{
		"clusters":     len(producers),
		"destinations": len(destinations),
		"retired":      len(retired),
	})
	return closeAll(retired)
}

func closeAll(producers []*TransportProducer) error {
	var g errgroup.Group
	errs := make([]error, len(producers))
	for i, p := range producers {
		g.Go(func() error {
			errs[i] = p.Close()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
