package transport

// Capabilities describes what a transport backend does with published
// messages.
type Capabilities struct {
	// SupportsDelay indicates the backend honours the scheduled delivery
	// header itself. Otherwise the header is forwarded as plain metadata.
	SupportsDelay bool

	// SupportsOrdering indicates messages within a partition/stream are
	// delivered in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the backend carries metadata end to end, so
	// trace context headers survive.
	SupportsTracing bool

	// SupportsBatching indicates the backend can publish several messages
	// in one call.
	SupportsBatching bool

	// SupportsPartitioning indicates the backend supports message partitioning.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// MaxDelayDuration is the longest native delay in milliseconds
	// (0 = unlimited/unknown).
	MaxDelayDuration int64

	// Name is the human-readable name of the transport.
	Name string
}

// ForwardsDelayHeader reports whether the scheduled delivery header is only
// passed through to consumers.
func (c Capabilities) ForwardsDelayHeader() bool {
	return !c.SupportsDelay
}

// AllowsSize reports whether a payload of n bytes fits the backend limit.
func (c Capabilities) AllowsSize(n int) bool {
	return c.MaxMessageSize <= 0 || int64(n) <= c.MaxMessageSize
}

// AllowsDelay reports whether a native delay of ms milliseconds can be
// honoured. Backends that forward the header accept any delay.
func (c Capabilities) AllowsDelay(ms int64) bool {
	if !c.SupportsDelay || c.MaxDelayDuration <= 0 {
		return true
	}
	return ms <= c.MaxDelayDuration
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsBatching:     true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport. Delays rely on the
	// delayed message exchange plugin reading x-delay.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsDelay:    true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		MaxDelayDuration: 4294967295, // 32-bit x-delay
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport. The stream
	// stores the scheduled delivery header for consumers to honour.
	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsBatching: true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS transport.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsTracing:  true,
		SupportsBatching: true,
		MaxMessageSize:   262144, // 256KB
	}

	// SQLiteCapabilities for SQLite-based transport.
	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		SupportsDelay:    true,
		SupportsOrdering: true,
		SupportsBatching: true,
	}

	// PostgresCapabilities for PostgreSQL-based transport.
	PostgresCapabilities = Capabilities{
		Name:             "postgres",
		SupportsDelay:    true,
		SupportsOrdering: true,
		SupportsBatching: true,
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
