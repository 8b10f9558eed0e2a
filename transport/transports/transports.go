// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/messagebus/transport/aws"
	_ "github.com/drblury/messagebus/transport/channel"
	_ "github.com/drblury/messagebus/transport/http"
	_ "github.com/drblury/messagebus/transport/io"
	_ "github.com/drblury/messagebus/transport/jetstream"
	_ "github.com/drblury/messagebus/transport/kafka"
	_ "github.com/drblury/messagebus/transport/nats"
	_ "github.com/drblury/messagebus/transport/postgres"
	_ "github.com/drblury/messagebus/transport/rabbitmq"
	_ "github.com/drblury/messagebus/transport/sqlite"
)
