// Package transporttest provides fakes for testing code built on transports.
package transporttest

import (
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a plain-field transport.Config.
type Config struct {
	Transport          string
	KafkaBrokers       []string
	KafkaClientID      string
	RabbitMQURL        string
	NATSURL            string
	HTTPPublisherURL   string
	IOFile             string
	SQLiteFile         string
	PostgresURL        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetTransport() string          { return c.Transport }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetIOFile() string             { return c.IOFile }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string        { return c.PostgresURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// ErrClosed is returned by Publisher.Publish after Close.
var ErrClosed = errors.New("transporttest: publisher closed")

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Messages []*message.Message
}

// Publisher records every publish. It is safe for concurrent use.
type Publisher struct {
	// Err is returned from Publish when set.
	Err error
	// CloseErr is returned from Close.
	CloseErr error
	// Gate, when non-nil, blocks Publish until it is closed.
	Gate chan struct{}

	mu        sync.Mutex
	published []Published
	closed    bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.Gate != nil {
		<-p.Gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.Err != nil {
		return p.Err
	}
	p.published = append(p.published, Published{Topic: topic, Messages: messages})
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseErr
}

// Calls returns a copy of the recorded publishes.
func (p *Publisher) Calls() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.published...)
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
