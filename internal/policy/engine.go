// Package policy implements the declarative rule evaluator (the decision
// point). Policies are structured data evaluated by descending priority;
// enforcement happens elsewhere.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"agentguard/internal/domain"
)

var (
	// ErrPolicyNotFound is returned by mutations naming an unknown id.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrInvalidPolicy is returned when a policy fails structural validation.
	ErrInvalidPolicy = errors.New("invalid policy")
	// ErrEvaluation is reserved for loader/compilation failures; evaluation
	// itself never fails (unmatched requests default to Allow).
	ErrEvaluation = errors.New("policy evaluation error")
)

// Engine evaluates PolicyRequests against an ordered policy set.
type Engine struct {
	mu       sync.RWMutex
	policies []domain.SecurityPolicy

	trail  *auditTrail
	logger *slog.Logger

	// now is injectable so time_of_day conditions are testable.
	now func() time.Time
}

// New returns an engine preloaded with the built-in policy table, sorted by
// priority descending.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		policies: Builtin(),
		trail:    newAuditTrail(),
		logger:   logger,
		now:      time.Now,
	}
	e.sortLocked()
	return e
}

// sortLocked orders policies by priority descending. Stable so equal
// priorities keep insertion order. Caller holds the write lock (or has
// exclusive access during construction).
func (e *Engine) sortLocked() {
	sort.SliceStable(e.policies, func(i, j int) bool {
		return e.policies[i].Priority > e.policies[j].Priority
	})
}

// EvaluateRequest walks enabled policies in priority order. A policy matches
// when ANY of its conditions matches (OR semantics). Matched actions fold
// into the running decision by severity; Deny short-circuits. The default
// decision is Allow. Every call appends to the audit trail.
func (e *Engine) EvaluateRequest(req domain.PolicyRequest) domain.PolicyDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := domain.PolicyDecision{
		Action:  domain.PolicyAction{Type: domain.ActionAllow},
		Reason:  "request allowed by default policy",
		AuditID: e.trail.logRequest(req),
	}

	var applied []string
	for i := range e.policies {
		p := &e.policies[i]
		if !p.Enabled {
			continue
		}
		if !e.policyMatches(&req, p) {
			continue
		}
		applied = append(applied, p.ID)

		switch p.Action.Type {
		case domain.ActionDeny:
			decision.Action = p.Action
			decision.Reason = fmt.Sprintf("policy %q denied request: %s", p.Name, p.Action.Reason)
		case domain.ActionRequireApproval, domain.ActionEscalate:
			if p.Action.Severity() > decision.Action.Severity() {
				decision.Action = p.Action
				decision.Reason = fmt.Sprintf("policy %q: %s", p.Name, p.Action.Reason)
			}
		case domain.ActionLogOnly:
			if decision.Action.Severity() == 0 {
				decision.Reason = fmt.Sprintf("policy %q logged request", p.Name)
			}
			e.logger.Info("policy log-only match", "policy", p.ID, "tool", req.ToolName)
		case domain.ActionAllow:
			// Explicit allow; keep evaluating in case of a later deny.
		}

		if decision.Action.Type == domain.ActionDeny {
			break
		}
	}

	decision.AppliedPolicies = applied
	e.trail.logDecision(decision)

	if decision.Action.Type == domain.ActionDeny {
		e.logger.Warn("request denied",
			"tool", req.ToolName,
			"reason", decision.Action.Reason,
			"applied", applied,
		)
	}
	return decision
}

// policyMatches reports whether any condition of p matches req.
func (e *Engine) policyMatches(req *domain.PolicyRequest, p *domain.SecurityPolicy) bool {
	for i := range p.Conditions {
		if e.conditionMatches(req, &p.Conditions[i]) {
			return true
		}
	}
	return false
}

func (e *Engine) conditionMatches(req *domain.PolicyRequest, c *domain.PolicyCondition) bool {
	switch c.Type {
	case domain.CondUserID:
		return req.UserID != "" && req.UserID == c.Value
	case domain.CondToolName:
		return req.ToolName == c.Value
	case domain.CondCommandPattern:
		// Substring search over ALL parameter values so a renamed parameter
		// cannot smuggle the pattern past the check.
		for _, v := range req.Parameters {
			if strings.Contains(v, c.Value) {
				return true
			}
		}
		return false
	case domain.CondResourceLimit:
		return checkResourceLimit(req, c.Field, c.Limit)
	case domain.CondTimeOfDay:
		return inTimeWindow(e.now(), c.Start, c.End)
	case domain.CondNetworkAccess:
		return req.NetworkAccess == c.Flag
	case domain.CondFilePath:
		for _, fp := range req.FilePaths {
			if strings.HasPrefix(fp, c.Value) {
				return true
			}
		}
		return false
	case domain.CondContainsSecrets:
		return req.ContainsSecrets == c.Flag
	case domain.CondRiskLevel:
		return req.RiskAssessment.String() == strings.ToLower(c.Value)
	default:
		return false
	}
}

// checkResourceLimit parses limits of the form "<op> <number>" and compares
// the named numeric field of the request's resource limits.
func checkResourceLimit(req *domain.PolicyRequest, field, limit string) bool {
	parts := strings.Fields(limit)
	if len(parts) != 2 {
		return false
	}
	op := parts[0]
	threshold, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return false
	}

	var actual float64
	switch field {
	case "memory":
		actual = float64(req.ResourceLimits.MaxMemoryMB)
	case "cpu":
		actual = req.ResourceLimits.MaxCPUPercent
	case "time":
		actual = float64(req.ResourceLimits.MaxExecutionTimeSecs)
	case "output":
		actual = float64(req.ResourceLimits.MaxOutputSize)
	case "processes":
		actual = float64(req.ResourceLimits.MaxProcesses)
	default:
		return false
	}

	switch op {
	case ">":
		return actual > threshold
	case "<":
		return actual < threshold
	case ">=":
		return actual >= threshold
	case "<=":
		return actual <= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

// inTimeWindow reports whether now falls inside the HH:MM window. Windows
// with start > end wrap past midnight. Malformed bounds never match.
func inTimeWindow(now time.Time, start, end string) bool {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return false
	}
	t, err := time.Parse("15:04", end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	lo := s.Hour()*60 + s.Minute()
	hi := t.Hour()*60 + t.Minute()
	if lo <= hi {
		return cur >= lo && cur <= hi
	}
	return cur >= lo || cur <= hi
}

// AddPolicy validates, appends, and re-sorts.
func (e *Engine) AddPolicy(p domain.SecurityPolicy) error {
	if err := validate(&p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.policies {
		if e.policies[i].ID == p.ID {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidPolicy, p.ID)
		}
	}
	e.policies = append(e.policies, p)
	e.sortLocked()
	e.logger.Info("policy added", "id", p.ID, "priority", p.Priority)
	return nil
}

// RemovePolicy deletes the policy with the given id.
func (e *Engine) RemovePolicy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.policies {
		if e.policies[i].ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			e.sortLocked()
			e.logger.Info("policy removed", "id", id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
}

// SetPolicyEnabled flips a policy on or off.
func (e *Engine) SetPolicyEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.policies {
		if e.policies[i].ID == id {
			e.policies[i].Enabled = enabled
			e.logger.Info("policy toggled", "id", id, "enabled", enabled)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
}

// Policies returns a snapshot in evaluation order.
func (e *Engine) Policies() []domain.SecurityPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.SecurityPolicy, len(e.policies))
	copy(out, e.policies)
	return out
}

// AuditTrail returns a snapshot of all evaluation records.
func (e *Engine) AuditTrail() []domain.PolicyAuditEntry {
	return e.trail.entries()
}

func validate(p *domain.SecurityPolicy) error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPolicy)
	}
	switch p.Action.Type {
	case domain.ActionAllow, domain.ActionDeny, domain.ActionRequireApproval,
		domain.ActionEscalate, domain.ActionLogOnly:
	default:
		return fmt.Errorf("%w: %s: unknown action type %q", ErrInvalidPolicy, p.ID, p.Action.Type)
	}
	for i := range p.Conditions {
		switch p.Conditions[i].Type {
		case domain.CondUserID, domain.CondToolName, domain.CondCommandPattern,
			domain.CondResourceLimit, domain.CondTimeOfDay, domain.CondNetworkAccess,
			domain.CondFilePath, domain.CondContainsSecrets, domain.CondRiskLevel:
		default:
			return fmt.Errorf("%w: %s: unknown condition type %q", ErrInvalidPolicy, p.ID, p.Conditions[i].Type)
		}
	}
	return nil
}
