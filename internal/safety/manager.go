// Package safety is the outer enforcement layer wrapped around command
// execution: throttling, a concurrency ceiling, resource limits, a bounded
// execution history, and an exportable text audit log. It validates commands
// itself even though the sandbox already does, so a bug in one layer does not
// open the other.
package safety

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentguard/internal/domain"
	"agentguard/internal/proc"
	"agentguard/internal/ruleset"
	"agentguard/internal/sandbox"

	"github.com/google/uuid"
)

const (
	defaultCommandInterval = 600 * time.Millisecond
	defaultAPIInterval     = 1200 * time.Millisecond
	defaultMaxConcurrent   = 5
	defaultHistoryCapacity = 1000
)

// Manager coordinates safe command execution.
type Manager struct {
	rules      *ruleset.Rules
	cmdLimiter *intervalLimiter
	apiLimiter *intervalLimiter
	sem        chan struct{}
	history    *historyRing
	logger     *slog.Logger
	audit      domain.AuditSink

	mu     sync.RWMutex
	limits domain.RequestLimits
	stats  domain.SystemStats
}

// Config tunes a new Manager. Zero values take production defaults.
type Config struct {
	// Rules supplies the shared validation predicate. Pass the sandbox's
	// instance so both layers enforce identical rule data.
	Rules *ruleset.Rules

	Limits          domain.RequestLimits
	CommandInterval time.Duration
	APIInterval     time.Duration
	MaxConcurrent   int
	HistoryCapacity int
	Logger          *slog.Logger

	// Audit persists command records and events; nil disables persistence.
	Audit domain.AuditSink
}

// DefaultLimits are the production resource ceilings.
func DefaultLimits() domain.RequestLimits {
	return domain.RequestLimits{
		MaxMemoryMB:          512,
		MaxCPUPercent:        50,
		MaxExecutionTimeSecs: 30,
		MaxOutputSize:        1 << 20,
		MaxProcesses:         5,
	}
}

// New builds a safety manager.
func New(cfg Config) *Manager {
	if cfg.Rules == nil {
		cfg.Rules = ruleset.Default()
	}
	if cfg.Limits == (domain.RequestLimits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.CommandInterval <= 0 {
		cfg.CommandInterval = defaultCommandInterval
	}
	if cfg.APIInterval <= 0 {
		cfg.APIInterval = defaultAPIInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = defaultHistoryCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		rules:      cfg.Rules,
		cmdLimiter: newIntervalLimiter(cfg.CommandInterval),
		apiLimiter: newIntervalLimiter(cfg.APIInterval),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		history:    newHistoryRing(cfg.HistoryCapacity),
		logger:     cfg.Logger,
		audit:      cfg.Audit,
		limits:     cfg.Limits,
	}
}

// CheckCommand validates a raw command line without executing it: parse
// (rejecting shell metacharacters), then blocklist, dangerous patterns, and
// protected paths.
func (m *Manager) CheckCommand(raw string) error {
	program, args, err := sandbox.ParseCommandString(raw)
	if err != nil {
		return err
	}
	return m.rules.Check(program, args)
}

// ExecuteSafeCommand runs a raw command line for user under the full safety
// stack: validate, throttle, reserve a concurrency slot, execute under the
// configured time and output limits, record the outcome, and scan the output.
// Every attempt lands in the history: refusals as a single Blocked record,
// spawned commands as an executed record — followed by a second Blocked
// record when the run fails or its output trips the dangerous-output scan.
func (m *Manager) ExecuteSafeCommand(ctx context.Context, raw, user string) (string, error) {
	start := time.Now()

	program, args, err := sandbox.ParseCommandString(raw)
	if err != nil {
		m.recordBlocked(ctx, raw, user, err, 0)
		return "", err
	}
	if err := m.rules.Check(program, args); err != nil {
		m.recordBlocked(ctx, raw, user, err, 0)
		return "", err
	}

	if err := m.cmdLimiter.wait(ctx); err != nil {
		return "", domain.Errf(domain.KindRateLimited, "rate limit wait canceled: %v", err)
	}

	select {
	case m.sem <- struct{}{}:
	default:
		err := domain.Errf(domain.KindResourceExceeded, "maximum concurrent commands (%d) reached", cap(m.sem))
		m.recordBlocked(ctx, raw, user, err, 0)
		return "", err
	}
	defer func() {
		<-m.sem
		m.setActive(len(m.sem))
	}()
	m.setActive(len(m.sem))

	m.mu.RLock()
	opts := proc.Options{
		Timeout:   time.Duration(m.limits.MaxExecutionTimeSecs) * time.Second,
		MaxOutput: m.limits.MaxOutputSize,
	}
	m.mu.RUnlock()

	m.logger.Info("executing command", "user", user, "command", raw)
	res, runErr := proc.Run(ctx, program, args, opts)

	elapsed := time.Since(start)
	m.recordExecuted(ctx, raw, user, elapsed)

	if runErr != nil {
		m.recordBlocked(ctx, raw, user, runErr, elapsed)
		if res == nil {
			return "", fmt.Errorf("command failed to start: %w", runErr)
		}
		if domain.KindOf(runErr) != domain.KindUnknown {
			return "", runErr
		}
		return "", fmt.Errorf("command failed (exit %d): %w", res.ExitCode, runErr)
	}

	output := string(res.Output)
	if indicator, found := ruleset.ScanOutput(output); found {
		err := domain.Errf(domain.KindDangerousOutput, "command produced dangerous output (%s)", indicator)
		m.recordBlocked(ctx, raw, user, err, elapsed)
		return "", err
	}

	return output, nil
}

// EnforceAPIRateLimit paces upstream model calls; it shares nothing with the
// command limiter, so heavy command traffic cannot starve API calls or vice
// versa.
func (m *Manager) EnforceAPIRateLimit(ctx context.Context) error {
	if err := m.apiLimiter.wait(ctx); err != nil {
		return domain.Errf(domain.KindRateLimited, "rate limit wait canceled: %v", err)
	}
	return nil
}

// recordBlocked logs a blocked outcome: a pre-spawn refusal (elapsed 0) or a
// spawned run that failed or produced dangerous output.
func (m *Manager) recordBlocked(ctx context.Context, raw, user string, cause error, elapsed time.Duration) {
	m.mu.Lock()
	m.stats.TotalCommandsBlocked++
	m.stats.LastUpdated = time.Now().UTC()
	m.mu.Unlock()

	rec := domain.CommandRecord{
		ID:          uuid.NewString(),
		Command:     raw,
		Timestamp:   time.Now().UTC(),
		User:        user,
		Blocked:     true,
		Reason:      cause.Error(),
		ExecutionMS: elapsed.Milliseconds(),
	}
	m.history.add(rec)
	m.logger.Warn("command blocked", "user", user, "command", raw, "reason", cause.Error())
	m.persist(ctx, rec)
}

// recordExecuted logs that a command was spawned.
func (m *Manager) recordExecuted(ctx context.Context, raw, user string, elapsed time.Duration) {
	m.mu.Lock()
	m.stats.TotalCommandsExecuted++
	m.stats.LastUpdated = time.Now().UTC()
	m.mu.Unlock()

	rec := domain.CommandRecord{
		ID:          uuid.NewString(),
		Command:     raw,
		Timestamp:   time.Now().UTC(),
		User:        user,
		ExecutionMS: elapsed.Milliseconds(),
	}
	m.history.add(rec)
	m.persist(ctx, rec)
}

func (m *Manager) persist(ctx context.Context, rec domain.CommandRecord) {
	if m.audit == nil {
		return
	}
	if err := m.audit.LogCommand(ctx, rec); err != nil {
		m.logger.Error("audit persistence failed", "error", err)
	}
}

func (m *Manager) setActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.ActiveCommands = n
}

// Stats returns a snapshot of the observed counters.
func (m *Manager) Stats() domain.SystemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Limits returns the current resource ceilings.
func (m *Manager) Limits() domain.RequestLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// UpdateResourceLimits replaces the resource ceilings. Executions already in
// flight keep the limits they started with.
func (m *Manager) UpdateResourceLimits(limits domain.RequestLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
}

// SetCommandInterval retunes the command throttle at runtime.
func (m *Manager) SetCommandInterval(d time.Duration) {
	m.cmdLimiter.setInterval(d)
}

// AddBlockedCommand adds a program name to the shared blocklist.
func (m *Manager) AddBlockedCommand(name string) {
	m.rules.BlockCommand(name)
}

// AddBlockedPath adds a path prefix to the shared blocked set.
func (m *Manager) AddBlockedPath(prefix string) {
	m.rules.BlockPath(prefix)
}

// CommandHistory returns up to limit records, newest first. limit <= 0 means
// all retained records.
func (m *Manager) CommandHistory(limit int) []domain.CommandRecord {
	return m.history.newestFirst(limit)
}

// ClearHistory drops records older than the given age and reports how many
// were removed.
func (m *Manager) ClearHistory(olderThan time.Duration) int {
	return m.history.clearOlderThan(time.Now().Add(-olderThan))
}

// ExportAuditLog renders the retained history as human-readable lines,
// oldest first.
func (m *Manager) ExportAuditLog() string {
	records := m.history.newestFirst(0)
	var b strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		fmt.Fprintf(&b, "[%s] User: %s | Command: %s | Blocked: %t | Time: %dms",
			rec.Timestamp.Format(time.RFC3339), rec.User, rec.Command, rec.Blocked, rec.ExecutionMS)
		if rec.Reason != "" {
			fmt.Fprintf(&b, " | Reason: %s", rec.Reason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
