// Package transport defines the publisher-side contract between the client
// and its broker backends. Each backend (kafka, rabbitmq, aws, ...) lives in
// its own sub-package and registers a Builder with the registry.
package transport

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ScheduledDeliveryTimeMsHeader carries the absolute delivery time of a
// delayed message as decimal epoch milliseconds.
const ScheduledDeliveryTimeMsHeader = "scheduled_delivery_time_ms"

// Transport is what a Builder produces: a connected publisher and the
// capabilities of the backend behind it.
type Transport struct {
	Publisher    message.Publisher
	Capabilities Capabilities
}

// Builder creates a transport from a cluster's configuration.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the
// config package.
type Config interface {
	// GetTransport returns the registered transport name.
	GetTransport() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// SQLite
	GetSQLiteFile() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ScheduledDeliveryTime returns the delivery time stamped on msg, if any.
func ScheduledDeliveryTime(msg *message.Message) (time.Time, bool) {
	if msg == nil {
		return time.Time{}, false
	}
	raw := msg.Metadata.Get(ScheduledDeliveryTimeMsHeader)
	if raw == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// DelayUntilDelivery returns how long after now msg is due. Messages without
// a schedule, or scheduled in the past, are due immediately.
func DelayUntilDelivery(msg *message.Message, now time.Time) time.Duration {
	at, ok := ScheduledDeliveryTime(msg)
	if !ok {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
