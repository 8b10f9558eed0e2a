// Package postgres provides a PostgreSQL outbox publisher transport.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/messagebus/transport"
	"github.com/drblury/messagebus/transport/sqlstore"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultSchemaName holds the outbox table unless Config.SchemaName is set.
const DefaultSchemaName = "messagebus"

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	Register()
}

// Register registers the PostgreSQL transport, and its "postgresql" alias,
// with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Build creates a new PostgreSQL publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	p, err := New(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:    p,
		Capabilities: transport.PostgresCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// SchemaName is the schema holding the outbox table.
	SchemaName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

func (c Config) validate() error {
	if c.ConnectionString == "" {
		return errors.New("PostgreSQL connection string is required")
	}
	if !schemaNamePattern.MatchString(c.SchemaName) {
		return fmt.Errorf("invalid schema name %q", c.SchemaName)
	}
	return nil
}

// Dialect returns the outbox dialect for schema.
func Dialect(schema string) sqlstore.Dialect {
	// #nosec G201 - schema name is validated against schemaNamePattern
	ddl := fmt.Sprintf(`
	CREATE SCHEMA IF NOT EXISTS %[1]s;

	CREATE TABLE IF NOT EXISTS %[1]s.messages (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		created_at BIGINT NOT NULL,
		available_at BIGINT NOT NULL,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_topic_status_available
		ON %[1]s.messages(topic, status, available_at)
		WHERE status = 'pending';
	`, schema)

	return sqlstore.Dialect{
		Name:        "postgres",
		Table:       schema + ".messages",
		Schema:      ddl,
		Placeholder: sqlstore.DollarPlaceholder,
	}
}

// New connects to PostgreSQL and prepares the outbox table.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlstore.Publisher, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p, err := sqlstore.New(db, Dialect(cfg.SchemaName), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}
