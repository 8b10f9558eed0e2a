// Package jetstream provides a NATS JetStream publisher transport. Every
// destination maps to a subject inside one stream.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when Config.StreamName is empty.
	DefaultStreamName = "MESSAGEBUS"

	// DefaultMaxAge bounds how long the stream keeps messages.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("jetstream: publisher closed")

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new JetStream publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}

	p, err := New(Config{URL: url}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    p,
		Capabilities: transport.NATSJetStreamCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the name of the JetStream stream to use.
	StreamName string

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue"
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) streamConfig() *nats.StreamConfig {
	sc := &nats.StreamConfig{
		Name:     c.StreamName,
		Subjects: []string{c.StreamName + ".>"},
		MaxAge:   DefaultMaxAge,
		Replicas: c.Replicas,
	}
	switch c.RetentionPolicy {
	case "interest":
		sc.Retention = nats.InterestPolicy
	case "workqueue":
		sc.Retention = nats.WorkQueuePolicy
	default:
		sc.Retention = nats.LimitsPolicy
	}
	return sc
}

// streamContext is the subset of nats.JetStreamContext the publisher uses.
type streamContext interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes watermill messages into a JetStream stream.
type Publisher struct {
	js     streamContext
	config Config
	logger watermill.LoggerAdapter
	close  func()

	mu     sync.RWMutex
	closed bool
}

// New connects to NATS and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p, err := newPublisher(js, cfg, logger, nc.Close)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(js streamContext, cfg Config, logger watermill.LoggerAdapter, closeFn func()) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	p := &Publisher{
		js:     js,
		config: cfg.withDefaults(),
		logger: logger,
		close:  closeFn,
	}
	if err := p.ensureStream(); err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	sc := p.config.streamConfig()
	if _, err := p.js.AddStream(sc); err == nil {
		return nil
	}
	if _, err := p.js.UpdateStream(sc); err != nil {
		return err
	}
	p.logger.Info("JetStream stream updated", watermill.LogFields{"stream": sc.Name})
	return nil
}

// Publish stores messages in the stream. The message UUID becomes the
// JetStream message id so retried publishes are deduplicated.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	subject := p.topicToSubject(topic)
	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(nats.MsgIdHdr, msg.UUID)

		if _, err := p.js.PublishMsg(&nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  headers,
		}); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}
	return nil
}

func (p *Publisher) topicToSubject(topic string) string {
	return p.config.StreamName + "." + topic
}

// Close closes the NATS connection. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.close != nil {
		p.close()
	}
	return nil
}
