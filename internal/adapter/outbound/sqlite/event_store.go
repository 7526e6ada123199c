// Package sqlite persists security events in an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pharmalink/pharmagate/internal/domain/audit"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS security_events (
		id            TEXT PRIMARY KEY,
		type          TEXT NOT NULL,
		severity      TEXT NOT NULL,
		severity_rank INTEGER NOT NULL,
		message       TEXT NOT NULL,
		client_ip     TEXT NOT NULL DEFAULT '',
		user_agent    TEXT NOT NULL DEFAULT '',
		method        TEXT NOT NULL DEFAULT '',
		path          TEXT NOT NULL DEFAULT '',
		user_id       TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		ts            INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(type, ts)`,
}

// EventStore implements audit.EventStore on SQLite.
type EventStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*EventStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &EventStore{db: db}, nil
}

// Append implements audit.EventStore. Events are written in one transaction.
func (s *EventStore) Append(ctx context.Context, events ...audit.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO security_events
		(id, type, severity, severity_rank, message, client_ip, user_agent, method, path, user_id, email, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Type), string(e.Severity), e.Severity.Rank(), e.Message,
			e.ClientIP, e.UserAgent, e.Method, e.Path, e.UserID, e.Email,
			e.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// Query implements audit.EventStore. Events are returned newest first.
func (s *EventStore) Query(ctx context.Context, filter audit.Filter) ([]audit.SecurityEvent, error) {
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinSeverity != "" {
		where = append(where, "severity_rank >= ?")
		args = append(args, filter.MinSeverity.Rank())
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := `SELECT id, type, severity, message, client_ip, user_agent, method, path, user_id, email, ts
		FROM security_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []audit.SecurityEvent{}
	for rows.Next() {
		var (
			e        audit.SecurityEvent
			typ, sev string
			ts       int64
		)
		if err := rows.Scan(&e.ID, &typ, &sev, &e.Message, &e.ClientIP, &e.UserAgent,
			&e.Method, &e.Path, &e.UserID, &e.Email, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = audit.EventType(typ)
		e.Severity = audit.Severity(sev)
		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// PurgeOlderThan deletes events recorded before cutoff and returns how
// many were removed.
func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection.
func (s *EventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// Compile-time interface verification.
var _ audit.EventStore = (*EventStore)(nil)
