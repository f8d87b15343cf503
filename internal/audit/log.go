// Package audit keeps an append-only SQLite trail of order transitions. Each
// row is one status or payment change and is never updated.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	// pure-Go driver, registered as "sqlite"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_transitions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        TEXT    NOT NULL,
    event           TEXT    NOT NULL,
    from_status     TEXT    NOT NULL DEFAULT '',
    to_status       TEXT    NOT NULL DEFAULT '',
    payment_status  TEXT    NOT NULL DEFAULT '',
    actor           TEXT    NOT NULL DEFAULT '',
    detail          TEXT    NOT NULL DEFAULT '',
    trace_id        TEXT    NOT NULL DEFAULT '',
    span_id         TEXT    NOT NULL DEFAULT '',
    recorded_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_transitions_order_id ON order_transitions(order_id, id);
`

// Event names one kind of transition.
type Event string

const (
	EventCreated         Event = "created"
	EventAbandoned       Event = "abandoned"
	EventPaid            Event = "paid"
	EventPaymentFailed   Event = "payment_failed"
	EventFulfillment     Event = "fulfillment"
	EventSettlementQueue Event = "settlement_queued"
)

type Entry struct {
	OrderID       string
	Event         Event
	FromStatus    string
	ToStatus      string
	PaymentStatus string
	Actor         string
	Detail        string
	TraceID       string
	SpanID        string
	RecordedAt    time.Time
}

// Log is the SQLite-backed trail. A nil *Log records nothing.
type Log struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	return &Log{db: db, nowFunc: time.Now}, nil
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends e, stamping time and the active trace.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = l.nowFunc()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}

	const q = `
		INSERT INTO order_transitions
			(order_id, event, from_status, to_status, payment_status, actor, detail, trace_id, span_id, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, q,
		e.OrderID,
		string(e.Event),
		e.FromStatus,
		e.ToStatus,
		e.PaymentStatus,
		e.Actor,
		e.Detail,
		e.TraceID,
		e.SpanID,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: record %s for %q: %w", e.Event, e.OrderID, err)
	}
	return nil
}

// History returns every entry for orderID in insertion order.
func (l *Log) History(ctx context.Context, orderID string) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}

	const q = `
		SELECT order_id, event, from_status, to_status, payment_status, actor, detail,
		       trace_id, span_id, recorded_at
		FROM   order_transitions
		WHERE  order_id = ?
		ORDER  BY id`

	rows, err := l.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, fmt.Errorf("audit: history for %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var event, recordedAt string
		if err := rows.Scan(&e.OrderID, &event, &e.FromStatus, &e.ToStatus, &e.PaymentStatus,
			&e.Actor, &e.Detail, &e.TraceID, &e.SpanID, &recordedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Event = Event(event)
		e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("audit: parse time %q: %w", recordedAt, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
