// Package io provides a file-based publisher transport. Messages are appended
// to a file as JSON lines.
package io

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messagebus/internal/runtime/jsoncodec"
	"github.com/drblury/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "messages.log"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger, now: time.Now}, nil
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new file publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    pub,
		Capabilities: transport.IOCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// Record is one persisted message.
type Record struct {
	UUID        string            `json:"uuid"`
	Topic       string            `json:"topic"`
	Metadata    map[string]string `json:"metadata"`
	Payload     []byte            `json:"payload"`
	PublishedAt time.Time         `json:"published_at"`
}

// Publisher appends messages to a file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

// Publish appends messages to the file. A batch is written with one call so
// concurrent publishers never interleave lines.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return os.ErrClosed
	}

	var buf bytes.Buffer
	for _, msg := range messages {
		b, err := jsoncodec.Marshal(Record{
			UUID:        msg.UUID,
			Topic:       topic,
			Metadata:    msg.Metadata,
			Payload:     msg.Payload,
			PublishedAt: p.now().UTC(),
		})
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if p.logger != nil {
		p.logger.Trace("Messages appended", watermill.LogFields{"topic": topic, "count": len(messages), "file": p.filePath})
	}
	return f.Close()
}

// Close stops the publisher. Later publishes fail with os.ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// ReadFile returns every record in path, in publish order.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec Record
		if err := jsoncodec.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
