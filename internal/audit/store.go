// Package audit persists policy decisions, command records, and security
// events to SQLite, and exports them in human-readable or structured form.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"agentguard/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditSink backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy_audit (
		id          TEXT PRIMARY KEY,
		created_at  DATETIME NOT NULL,
		tool_name   TEXT,
		user_id     TEXT,
		request     TEXT NOT NULL,
		action      TEXT,
		reason      TEXT,
		decision    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_policy_time ON policy_audit(created_at);

	CREATE TABLE IF NOT EXISTS command_log (
		id            TEXT PRIMARY KEY,
		created_at    DATETIME NOT NULL,
		user          TEXT,
		command       TEXT NOT NULL,
		blocked       INTEGER NOT NULL DEFAULT 0,
		reason        TEXT,
		execution_ms  INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_command_time ON command_log(created_at);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at  DATETIME NOT NULL,
		severity    TEXT NOT NULL,
		type        TEXT NOT NULL,
		operation   TEXT,
		resource    TEXT,
		result      TEXT,
		details     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LogPolicyEntry(ctx context.Context, entry domain.PolicyAuditEntry) error {
	request, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var action, reason string
	var decision []byte
	if entry.Decision != nil {
		action = string(entry.Decision.Action.Type)
		reason = entry.Decision.Reason
		if decision, err = json.Marshal(entry.Decision); err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO policy_audit (id, created_at, tool_name, user_id, request, action, reason, decision)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Request.ToolName, entry.Request.UserID,
		string(request), action, reason, string(decision),
	)
	return err
}

func (s *SQLiteStore) LogCommand(ctx context.Context, rec domain.CommandRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO command_log (id, created_at, user, command, blocked, reason, execution_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp, rec.User, rec.Command, rec.Blocked, rec.Reason, rec.ExecutionMS,
	)
	return err
}

func (s *SQLiteStore) LogEvent(ctx context.Context, ev domain.AuditEvent) error {
	var details []byte
	if len(ev.Details) > 0 {
		var err error
		if details, err = json.Marshal(ev.Details); err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (created_at, severity, type, operation, resource, result, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, string(ev.Severity), ev.Type, ev.Operation, ev.Resource, ev.Result, string(details),
	)
	return err
}

// RecentCommands returns up to limit command records, newest first.
func (s *SQLiteStore) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, user, command, blocked, reason, execution_ms
		 FROM command_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.CommandRecord
	for rows.Next() {
		var rec domain.CommandRecord
		var reason sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.User, &rec.Command,
			&rec.Blocked, &reason, &rec.ExecutionMS); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, severity, type, operation, resource, result, details
		 FROM events ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var severity string
		var details sql.NullString
		if err := rows.Scan(&ev.Timestamp, &severity, &ev.Type, &ev.Operation,
			&ev.Resource, &ev.Result, &details); err != nil {
			return nil, err
		}
		ev.Severity = domain.AuditSeverity(severity)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PolicyEntries returns up to limit policy audit entries, newest first.
func (s *SQLiteStore) PolicyEntries(ctx context.Context, limit int) ([]domain.PolicyAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, request, decision
		 FROM policy_audit ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PolicyAuditEntry
	for rows.Next() {
		var entry domain.PolicyAuditEntry
		var request string
		var decision sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &request, &decision); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(request), &entry.Request); err != nil {
			return nil, fmt.Errorf("unmarshal request: %w", err)
		}
		if decision.Valid && decision.String != "" {
			var d domain.PolicyDecision
			if err := json.Unmarshal([]byte(decision.String), &d); err != nil {
				return nil, fmt.Errorf("unmarshal decision: %w", err)
			}
			entry.Decision = &d
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// BlockedCount reports how many logged commands were blocked since the
// given time.
func (s *SQLiteStore) BlockedCount(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM command_log WHERE blocked = 1 AND created_at >= ?`, since,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
