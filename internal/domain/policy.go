package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel classifies how dangerous a proposed action is.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseRiskLevel parses a lower-case risk level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level: %q", s)
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ConditionType discriminates the PolicyCondition union.
type ConditionType string

const (
	CondUserID          ConditionType = "user_id"
	CondToolName        ConditionType = "tool_name"
	CondCommandPattern  ConditionType = "command_pattern"
	CondResourceLimit   ConditionType = "resource_limit"
	CondTimeOfDay       ConditionType = "time_of_day"
	CondNetworkAccess   ConditionType = "network_access"
	CondFilePath        ConditionType = "file_path"
	CondContainsSecrets ConditionType = "contains_secrets"
	CondRiskLevel       ConditionType = "risk_level"
)

// PolicyCondition is one trigger of a SecurityPolicy. It is a tagged union
// kept as plain structured data so policies can be declared in config or
// YAML packs without any rule language.
//
// Field usage by Type:
//
//	user_id, tool_name, command_pattern, file_path, risk_level: Value
//	resource_limit: Field + Limit ("<op> <number>")
//	time_of_day:    Start + End (HH:MM)
//	network_access, contains_secrets: Flag
type PolicyCondition struct {
	Type  ConditionType `json:"type" yaml:"type"`
	Value string        `json:"value,omitempty" yaml:"value,omitempty"`
	Field string        `json:"field,omitempty" yaml:"field,omitempty"`
	Limit string        `json:"limit,omitempty" yaml:"limit,omitempty"`
	Start string        `json:"start,omitempty" yaml:"start,omitempty"`
	End   string        `json:"end,omitempty" yaml:"end,omitempty"`
	Flag  bool          `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// ActionType is the outcome a matched policy requests.
type ActionType string

const (
	ActionAllow           ActionType = "allow"
	ActionDeny            ActionType = "deny"
	ActionRequireApproval ActionType = "require_approval"
	ActionEscalate        ActionType = "escalate"
	ActionLogOnly         ActionType = "log_only"
)

// PolicyAction pairs an outcome with its human-readable reason.
type PolicyAction struct {
	Type   ActionType `json:"type" yaml:"type"`
	Reason string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Severity orders actions for decision folding: Deny > Escalate >
// RequireApproval > LogOnly/Allow. A running decision may only move to a
// strictly higher severity, never downgrade.
func (a PolicyAction) Severity() int {
	switch a.Type {
	case ActionDeny:
		return 3
	case ActionEscalate:
		return 2
	case ActionRequireApproval:
		return 1
	default:
		return 0
	}
}

// SecurityPolicy is one declarative rule. Conditions are OR-combined: the
// policy matches when any single condition matches the request.
type SecurityPolicy struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []PolicyCondition `json:"conditions" yaml:"conditions"`
	Action      PolicyAction      `json:"action" yaml:"action"`
	Priority    int               `json:"priority" yaml:"priority"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
}

// RequestLimits are the resource ceilings a request asks for. They are
// matched by resource_limit conditions, not enforced here.
type RequestLimits struct {
	MaxMemoryMB          uint64  `json:"max_memory_mb"`
	MaxCPUPercent        float64 `json:"max_cpu_percent"`
	MaxExecutionTimeSecs uint64  `json:"max_execution_time"`
	MaxOutputSize        int     `json:"max_output_size"`
	MaxProcesses         int     `json:"max_processes"`
}

// PolicyRequest describes one candidate action proposed by the agent layer.
// It is ephemeral: nothing beyond the audit log retains it.
type PolicyRequest struct {
	UserID          string            `json:"user_id,omitempty"`
	ToolName        string            `json:"tool_name"`
	Parameters      map[string]string `json:"parameters"`
	ResourceLimits  RequestLimits     `json:"resource_limits"`
	ContainsSecrets bool              `json:"contains_secrets"`
	NetworkAccess   bool              `json:"network_access"`
	FilePaths       []string          `json:"file_paths,omitempty"`
	RiskAssessment  RiskLevel         `json:"risk_assessment"`
}

// PolicyDecision is the outcome of evaluating a request.
type PolicyDecision struct {
	Action          PolicyAction `json:"action"`
	Reason          string       `json:"reason"`
	AppliedPolicies []string     `json:"applied_policies"`
	AuditID         string       `json:"audit_id"`
}

// PolicyAuditEntry records one evaluation for the audit trail.
type PolicyAuditEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Request   PolicyRequest   `json:"request"`
	Decision  *PolicyDecision `json:"decision,omitempty"`
}
