package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/mattn/go-sqlite3"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id        TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	ts              INTEGER NOT NULL,
	order_id        TEXT,
	client_order_id TEXT,
	symbol          TEXT,
	fields          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_order_id ON audit_events(order_id);
CREATE INDEX IF NOT EXISTS idx_audit_client_order_id ON audit_events(client_order_id);
`

// SQLiteSink stores audit events so client and broker ids can be joined after the fact
type SQLiteSink struct {
	db       *sql.DB
	pipeline failsafe.Executor[any]
}

var _ Sink = (*SQLiteSink)(nil)

func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isBusy(err)
		}).
		WithBackoff(20*time.Millisecond, 500*time.Millisecond).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &SQLiteSink{
		db:       db,
		pipeline: failsafe.With[any](retryPolicy, breaker),
	}, nil
}

// isBusy matches lock contention, the only failure worth retrying
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func (s *SQLiteSink) Write(ctx context.Context, ev Event) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal audit fields: %w", err)
	}

	_, err = s.pipeline.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO audit_events (event_id, kind, ts, order_id, client_order_id, symbol, fields)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, string(ev.Kind), ev.Timestamp.UnixNano(),
			nullString(ev.OrderID), nullString(ev.ClientOrderID), nullString(ev.Symbol), string(fields))
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to write audit event %s: %w", ev.ID, err)
	}
	return nil
}

// EventsByOrderID returns the events for a broker order id, oldest first
func (s *SQLiteSink) EventsByOrderID(ctx context.Context, orderID string) ([]Event, error) {
	return s.query(ctx, `WHERE order_id = ?`, orderID)
}

// EventsByClientOrderID returns the events for a correlation id, oldest first
func (s *SQLiteSink) EventsByClientOrderID(ctx context.Context, clientOrderID string) ([]Event, error) {
	return s.query(ctx, `WHERE client_order_id = ?`, clientOrderID)
}

// OrderIDForClientOrderID resolves the broker id assigned to a correlation id
func (s *SQLiteSink) OrderIDForClientOrderID(ctx context.Context, clientOrderID string) (string, error) {
	var orderID string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id FROM audit_events
		 WHERE client_order_id = ? AND order_id IS NOT NULL
		 ORDER BY ts ASC LIMIT 1`, clientOrderID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve client order id: %w", err)
	}
	return orderID, nil
}

func (s *SQLiteSink) query(ctx context.Context, where string, arg string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, kind, ts, order_id, client_order_id, symbol, fields
		 FROM audit_events `+where+` ORDER BY ts ASC, rowid ASC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev                        Event
			kind, fields              string
			ts                        int64
			orderID, clientID, symbol sql.NullString
		)
		if err := rows.Scan(&ev.ID, &kind, &ts, &orderID, &clientID, &symbol, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.OrderID = orderID.String
		ev.ClientOrderID = clientID.String
		ev.Symbol = symbol.String
		if err := json.Unmarshal([]byte(fields), &ev.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode audit fields: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
