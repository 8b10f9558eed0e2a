package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/cluster"
	"github.com/drblury/messagebus/internal/runtime/config"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	"github.com/drblury/messagebus/internal/runtime/logging"
	"github.com/drblury/messagebus/internal/runtime/metrics"
	"github.com/drblury/messagebus/transport"
)

// DefaultReloadInterval applies when ReloadConfigOnInterval gets a
// non-positive interval.
const DefaultReloadInterval = 300 * time.Second

// newLogger builds the client logger when the caller supplies none.
var newLogger = logging.New

const (
	tracerName             = "github.com/drblury/messagebus"
	metricsShutdownTimeout = 5 * time.Second
)

// Producer sends envelopes to a destination.
type Producer = cluster.Producer

// ClusterResolver maps destinations onto producers and owns their
// lifecycle.
type ClusterResolver interface {
	Find(destination string) (Producer, bool)
	Start(ctx context.Context) error
	Stop() error
	UpdateConfig(ctx context.Context, clusters []config.ClusterConfig) error
}

// Dependencies are the optional collaborators of a Client. Zero values
// select the defaults.
type Dependencies struct {
	// Clock times publishes and gates reloads. Defaults to the system clock.
	Clock clock.Clock
	// Registry builds transports for the default resolver. Defaults to
	// transport.DefaultRegistry.
	Registry *transport.Registry
	// Resolver replaces the cluster map built from the configuration.
	Resolver ClusterResolver
	// MetricsRegistry receives the publish collectors. When nil and metrics
	// are enabled a private registry is created.
	MetricsRegistry *prometheus.Registry
	// Hooks run around every publish.
	Hooks PublishHooks
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// Propagator injects trace context into headers. Defaults to the global
	// propagator.
	Propagator propagation.TextMapPropagator
}

type clientState int

const (
	stateCreated clientState = iota
	stateStarted
	stateStopped
)

// Client publishes messages to logical destinations across clusters.
type Client struct {
	conf       config.Config
	logger     logging.ServiceLogger
	logCloser  io.Closer
	clock      clock.Clock
	clusters   ClusterResolver
	metrics    *metrics.PublishMetrics
	gatherer   prometheus.Gatherer
	hooks      PublishHooks
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	resources  *resourceTracker

	reloadMu   sync.Mutex
	lastReload time.Time

	stateMu       sync.Mutex
	state         clientState
	metricsServer *metrics.Server
}

// NewClient snapshots conf, merges cluster defaults and builds the cluster
// map. A nil logger is built from conf.LogLevel and conf.LogFile and closed
// by Stop.
func NewClient(conf config.Config, log logging.ServiceLogger, deps Dependencies) (*Client, error) {
	resolved := conf.Resolve()
	if err := resolved.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	var closer io.Closer
	if log == nil {
		var err error
		log, closer, err = newLogger(resolved.LogLevel, resolved.LogFile)
		if err != nil {
			return nil, err
		}
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	c := &Client{
		conf:       resolved,
		logger:     log,
		logCloser:  closer,
		clock:      clk,
		hooks:      deps.Hooks,
		propagator: deps.Propagator,
		lastReload: clk.Now(),
	}

	if c.propagator == nil {
		c.propagator = otel.GetTextMapPropagator()
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(tracerName)

	if resolved.EnableClientLoggerThreadDebugging {
		c.resources = newResourceTracker(clk)
	}

	if deps.MetricsRegistry != nil || resolved.MetricsEnabled {
		reg := deps.MetricsRegistry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		c.metrics = metrics.NewPublishMetrics(reg)
		if err := c.metrics.Register(); err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.gatherer = reg
	}

	c.clusters = deps.Resolver
	if c.clusters == nil {
		c.clusters = cluster.New(resolved.Clusters, log,
			cluster.WithRegistry(deps.Registry),
			cluster.WithClock(clk),
		)
	}

	log.Debug("Initializing messagebus client", logging.LogFields{
		"clusters":        len(resolved.Clusters),
		"auto_init":       resolved.EnableAutoInitConnections,
		"metrics_enabled": resolved.MetricsEnabled,
	})
	return c, nil
}

// Config returns a copy of the resolved configuration.
func (c *Client) Config() config.Config {
	return c.conf.Clone()
}

// Logger returns the client's logger.
func (c *Client) Logger() logging.ServiceLogger {
	return c.logger
}

// LastReloadTime is the construction time or the time of the last applied
// reload.
func (c *Client) LastReloadTime() time.Time {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.lastReload
}

// Start starts every cluster producer when auto-init is enabled; otherwise
// the client stays idle. A client starts at most once.
func (c *Client) Start(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.state {
	case stateStarted:
		return errspkg.ErrClientAlreadyStarted
	case stateStopped:
		return errspkg.ErrClientStopped
	}

	if !c.conf.EnableAutoInitConnections {
		c.logger.Info("Auto-init connections disabled; no producers started", nil)
		c.state = stateStarted
		return nil
	}

	c.logger.Info("Auto-init connections enabled; starting clusters", logging.LogFields{
		"clusters": len(c.conf.Clusters),
	})
	if err := c.clusters.Start(ctx); err != nil {
		c.logger.Error("Failed to start clusters", err, nil)
		return fmt.Errorf("start clusters: %w", err)
	}

	if c.conf.MetricsEnabled && c.gatherer != nil {
		c.metricsServer = metrics.NewServer(c.conf.MetricsAddr, c.gatherer)
		errCh := c.metricsServer.Start()
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				c.logger.Error("Metrics server failed", err, logging.LogFields{"addr": c.conf.MetricsAddr})
			}
		}()
	}

	c.state = stateStarted
	return nil
}

// Stop closes every producer. It is safe after an idle Start and
// idempotent.
func (c *Client) Stop() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == stateStopped {
		return nil
	}
	c.state = stateStopped

	var errs []error
	if err := c.clusters.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop clusters: %w", err))
	}
	if c.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
		cancel()
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("Client stopped with errors", err, nil)
	} else {
		c.logger.Info("Client stopped", nil)
	}

	if c.logCloser != nil {
		if cerr := c.logCloser.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close log file: %w", cerr))
		}
	}
	return err
}

// ReloadConfigOnInterval applies clusters to the topology when at least
// interval has passed since construction or the last applied reload. It
// reports whether the reload was applied. Clusters are resolved against the
// client's cluster defaults.
func (c *Client) ReloadConfigOnInterval(ctx context.Context, clusters []config.ClusterConfig, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	now := c.clock.Now()
	elapsed := now.Sub(c.lastReload)
	if elapsed < interval {
		c.logger.Debug("Skipping config reload; interval not elapsed", logging.LogFields{
			"interval_ms": interval.Milliseconds(),
			"elapsed_ms":  elapsed.Milliseconds(),
		})
		c.metrics.ObserveReload("skipped")
		return false, nil
	}

	resolved := config.ResolveClusters(c.conf.ClusterDefaults, clusters)
	if err := c.clusters.UpdateConfig(ctx, resolved); err != nil {
		c.logger.Error("Failed to reload config", err, logging.LogFields{"interval_ms": interval.Milliseconds()})
		c.metrics.ObserveReload("failed")
		return false, err
	}

	c.lastReload = now
	c.logger.Info("Reloaded cluster config", logging.LogFields{
		"interval_ms": interval.Milliseconds(),
		"clusters":    len(resolved),
	})
	c.metrics.ObserveReload("applied")
	return true, nil
}

// StartClient creates and starts a client, runs fn and always stops the
// client afterwards.
func StartClient(ctx context.Context, conf config.Config, log logging.ServiceLogger, deps Dependencies, fn func(*Client) error) (err error) {
	c, err := NewClient(conf, log, deps)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := c.Stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	return fn(c)
}
