package domain

import (
	"context"
	"time"
)

// AuditSeverity grades audit events.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "INFO"
	SeverityWarning  AuditSeverity = "WARNING"
	SeverityError    AuditSeverity = "ERROR"
	SeverityCritical AuditSeverity = "CRITICAL"
)

// AuditEvent is one exportable security event. The exporter renders it as a
// JSON line or as a human-readable line depending on the structured flag.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Severity  AuditSeverity     `json:"severity"`
	Type      string            `json:"type"`
	Operation string            `json:"operation"`
	Resource  string            `json:"resource"`
	Result    string            `json:"result"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditSink receives audit records for persistence. The SQLite store
// implements it; a nil sink disables persistence.
type AuditSink interface {
	LogPolicyEntry(ctx context.Context, entry PolicyAuditEntry) error
	LogCommand(ctx context.Context, record CommandRecord) error
	LogEvent(ctx context.Context, event AuditEvent) error
}
