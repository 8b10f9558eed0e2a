// Package sqlstore implements an outbox-table publisher shared by the SQL
// transports. Each message becomes one row that consumers poll once its
// available_at time has passed.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messagebus/internal/runtime/jsoncodec"
	"github.com/drblury/messagebus/transport"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("sqlstore: publisher closed")

// Dialect captures the differences between SQL backends.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Table is the fully qualified outbox table.
	Table string
	// Schema is executed once when the publisher is created.
	Schema string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

// QuestionPlaceholder renders "?" parameters.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders "$n" parameters.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d Dialect) params(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Publisher inserts messages into the outbox table.
type Publisher struct {
	db      *sql.DB
	dialect Dialect
	logger  watermill.LoggerAdapter
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
}

// New creates the schema and returns a publisher owning db.
func New(db *sql.DB, dialect Dialect, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if dialect.Placeholder == nil {
		dialect.Placeholder = QuestionPlaceholder
	}
	if _, err := db.Exec(dialect.Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize %s schema: %w", dialect.Name, err)
	}
	return &Publisher{db: db, dialect: dialect, logger: logger, now: time.Now}, nil
}

// Publish inserts messages in one transaction. A scheduled delivery header
// sets available_at; everything else is available immediately.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	// #nosec G201 - table name comes from the dialect, never from input
	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %s (uuid, topic, payload, metadata, created_at, available_at) VALUES (%s)`,
		p.dialect.Table, p.dialect.params(6),
	))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := p.now().UTC()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		availableAt := now
		if at, ok := transport.ScheduledDeliveryTime(msg); ok {
			availableAt = at
		}

		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.Exec(msg.UUID, topic, payload, string(metadata), now.UnixMilli(), availableAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Row is a stored message.
type Row struct {
	UUID        string
	Topic       string
	Payload     []byte
	Metadata    map[string]string
	CreatedAt   time.Time
	AvailableAt time.Time
}

// Pending returns the rows stored for topic, oldest first.
func (p *Publisher) Pending(ctx context.Context, topic string) ([]Row, error) {
	// #nosec G201 - table name comes from the dialect, never from input
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT uuid, topic, payload, metadata, created_at, available_at FROM %s WHERE topic = %s ORDER BY id`,
		p.dialect.Table, p.dialect.Placeholder(1),
	), topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                  Row
			metadata           string
			createdMs, availMs int64
		)
		if err := rows.Scan(&r.UUID, &r.Topic, &r.Payload, &metadata, &createdMs, &availMs); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := jsoncodec.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		r.AvailableAt = time.UnixMilli(availMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// PendingCount returns how many rows are stored for topic.
func (p *Publisher) PendingCount(ctx context.Context, topic string) (int64, error) {
	var count int64
	// #nosec G201 - table name comes from the dialect, never from input
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE topic = %s`, p.dialect.Table, p.dialect.Placeholder(1),
	), topic).Scan(&count)
	return count, err
}

// DB exposes the underlying handle.
func (p *Publisher) DB() *sql.DB {
	return p.db
}

// Close closes the database. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
