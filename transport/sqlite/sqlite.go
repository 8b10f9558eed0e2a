// Package sqlite provides a SQLite outbox publisher transport.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/messagebus/transport"
	"github.com/drblury/messagebus/transport/sqlstore"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFilePath is used when no file is configured.
const DefaultFilePath = "messagebus_outbox.db"

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	available_at INTEGER NOT NULL,
	status TEXT DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_messages_topic_status ON messages(topic, status, available_at);
`

// Dialect is the SQLite outbox dialect.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Table:       "messages",
	Schema:      schema,
	Placeholder: sqlstore.QuestionPlaceholder,
}

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build creates a new SQLite publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	p, err := New(cfg.GetSQLiteFile(), logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:    p,
		Capabilities: transport.SQLiteCapabilities,
	}, nil
}

// New opens path (":memory:" for an in-memory database) and prepares the
// outbox table.
func New(path string, logger watermill.LoggerAdapter) (*sqlstore.Publisher, error) {
	if path == "" {
		path = DefaultFilePath
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	p, err := sqlstore.New(db, Dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}
