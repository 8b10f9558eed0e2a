package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/panjf2000/ants/v2"

	"github.com/drblury/messagebus/internal/runtime/clock"
	"github.com/drblury/messagebus/internal/runtime/config"
	"github.com/drblury/messagebus/internal/runtime/envelope"
	errspkg "github.com/drblury/messagebus/internal/runtime/errors"
	"github.com/drblury/messagebus/internal/runtime/logging"
	metadatapkg "github.com/drblury/messagebus/internal/runtime/metadata"
	"github.com/drblury/messagebus/transport"
)

// DefaultAsyncWorkers sizes the unsafe publish pool when a cluster sets none.
const DefaultAsyncWorkers = 16

// DefaultReleaseTimeout bounds how long Close waits for queued unsafe
// publishes.
const DefaultReleaseTimeout = 5 * time.Second

// Producer sends envelopes to a destination.
type Producer interface {
	// Publish reports true when the message was accepted. A false result
	// without error means the producer refused it.
	Publish(ctx context.Context, destination string, msg *envelope.Message, headers metadatapkg.Headers, safe bool) (bool, error)
}

// TransportProducer is the Producer of one cluster. Safe publishes block on
// the transport; unsafe publishes run on a bounded worker pool.
type TransportProducer struct {
	name    string
	cfg     config.ClusterConfig
	logger  logging.ServiceLogger
	clock   clock.Clock
	timeout time.Duration

	mu        sync.RWMutex
	publisher message.Publisher
	caps      transport.Capabilities
	pool      *ants.Pool
	closed    bool
}

// NewTransportProducer returns an unstarted producer for cfg.
func NewTransportProducer(cfg config.ClusterConfig, logger logging.ServiceLogger, clk clock.Clock) *TransportProducer {
	if logger == nil {
		panic("messagebus: producer logger is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &TransportProducer{
		name:    cfg.Name,
		cfg:     cfg.Clone(),
		logger:  logger.With(logging.LogFields{"cluster": cfg.Name, "transport": cfg.Transport}),
		clock:   clk,
		timeout: DefaultReleaseTimeout,
	}
}

// Name returns the cluster name.
func (p *TransportProducer) Name() string { return p.name }

// Config returns a copy of the cluster configuration.
func (p *TransportProducer) Config() config.ClusterConfig { return p.cfg.Clone() }

// Capabilities returns the capabilities of the started transport.
func (p *TransportProducer) Capabilities() transport.Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// Started reports whether the producer holds a live publisher.
func (p *TransportProducer) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publisher != nil && !p.closed
}

// Start builds the transport publisher and the async pool. Starting a
// started producer is a no-op.
func (p *TransportProducer) Start(ctx context.Context, registry *transport.Registry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errspkg.ErrProducerClosed
	}
	if p.publisher != nil {
		return nil
	}

	tr, err := registry.Build(ctx, &p.cfg, logging.NewWatermillAdapter(p.logger))
	if err != nil {
		return fmt.Errorf("cluster %s: %w", p.name, err)
	}

	workers := p.cfg.AsyncWorkers
	if workers <= 0 {
		workers = DefaultAsyncWorkers
	}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			p.logger.Error("Async publish panicked", fmt.Errorf("%v", v), nil)
		}),
	)
	if err != nil {
		_ = tr.Publisher.Close()
		return fmt.Errorf("cluster %s: create async pool: %w", p.name, err)
	}

	p.publisher = tr.Publisher
	p.caps = tr.Capabilities
	p.pool = pool
	p.logger.Info("Producer started", logging.LogFields{
		"async_workers":         workers,
		"transport":             p.caps.Name,
		"supports_delay":        p.caps.SupportsDelay,
		"supports_ordering":     p.caps.SupportsOrdering,
		"supports_tracing":      p.caps.SupportsTracing,
		"supports_batching":     p.caps.SupportsBatching,
		"supports_partitioning": p.caps.SupportsPartitioning,
	})
	return nil
}

// Publish implements Producer.
func (p *TransportProducer) Publish(ctx context.Context, destination string, msg *envelope.Message, headers metadatapkg.Headers, safe bool) (bool, error) {
	if msg == nil {
		return false, errspkg.ErrPayloadRequired
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	fields := logging.LogFields{"destination": destination, "message_id": msg.ID}
	switch {
	case p.closed:
		p.logger.Debug("Producer closed; message refused", fields)
		return false, nil
	case p.publisher == nil:
		p.logger.Debug("Producer not started; message refused", fields)
		return false, nil
	case !p.caps.AllowsSize(len(msg.Payload)):
		fields["size"] = len(msg.Payload)
		fields["max_size"] = p.caps.MaxMessageSize
		p.logger.Warn("Message exceeds transport size limit", fields)
		return false, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	wm := msg.ToWatermill(ctx, headers)

	if _, ok := transport.ScheduledDeliveryTime(wm); ok {
		delay := transport.DelayUntilDelivery(wm, p.clock.Now())
		if !p.caps.AllowsDelay(delay.Milliseconds()) {
			fields["delay_ms"] = delay.Milliseconds()
			fields["max_delay_ms"] = p.caps.MaxDelayDuration
			p.logger.Warn("Message delay exceeds transport limit", fields)
			return false, nil
		}
		if p.caps.ForwardsDelayHeader() {
			p.logger.Debug("Transport has no native delay; forwarding scheduled delivery header", fields)
		}
	}

	if safe {
		if err := p.publisher.Publish(destination, wm); err != nil {
			return false, fmt.Errorf("publish to %s: %w", destination, err)
		}
		return true, nil
	}

	// Unsafe publishes outlive the caller's context.
	wm.SetContext(context.WithoutCancel(ctx))
	publisher := p.publisher
	err := p.pool.Submit(func() {
		if err := publisher.Publish(destination, wm); err != nil {
			p.logger.Error("Async publish failed", err, fields)
		}
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ants.ErrPoolOverload), errors.Is(err, ants.ErrPoolClosed):
		p.logger.Warn("Async publish pool saturated; message refused", fields)
		return false, nil
	default:
		return false, fmt.Errorf("submit async publish: %w", err)
	}
}

// Close waits for in-flight publishes, drains the pool and closes the
// publisher. It is idempotent.
func (p *TransportProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.pool != nil {
		if err := p.pool.ReleaseTimeout(p.timeout); err != nil {
			errs = append(errs, fmt.Errorf("release async pool: %w", err))
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
		p.logger.Info("Producer stopped", nil)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cluster %s: %w", p.name, err)
	}
	return nil
}
