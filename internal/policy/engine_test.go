package policy

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"agentguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func baseRequest() domain.PolicyRequest {
	return domain.PolicyRequest{
		ToolName:   "shell",
		Parameters: map[string]string{"command": "ls -la"},
		ResourceLimits: domain.RequestLimits{
			MaxMemoryMB:          100,
			MaxCPUPercent:        50,
			MaxExecutionTimeSecs: 30,
			MaxOutputSize:        1024,
			MaxProcesses:         10,
		},
		RiskAssessment: domain.RiskLow,
	}
}

// --- Evaluation: defaults and built-ins ---

func TestEvaluate_DefaultAllow(t *testing.T) {
	e := New(testLogger())
	d := e.EvaluateRequest(baseRequest())
	if d.Action.Type != domain.ActionAllow {
		t.Fatalf("expected allow, got %v (%s)", d.Action.Type, d.Reason)
	}
	if len(d.AppliedPolicies) != 0 {
		t.Fatalf("expected no applied policies, got %v", d.AppliedPolicies)
	}
	if d.AuditID == "" {
		t.Error("expected a non-empty audit id")
	}
}

func TestEvaluate_DangerousCommandDenied(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.ToolName = "file_write"
	req.Parameters = map[string]string{"command": "rm -rf /"}
	req.RiskAssessment = domain.RiskHigh

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny, got %v", d.Action.Type)
	}
	if d.Action.Reason != "Command contains destructive operations" {
		t.Fatalf("unexpected deny reason: %q", d.Action.Reason)
	}
}

func TestEvaluate_PatternChecksAllParameterValues(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	// Renaming the parameter must not evade the substring match.
	req.Parameters = map[string]string{"totally_not_a_command": "nohup shutdown -h now"}

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny for renamed parameter, got %v", d.Action.Type)
	}
}

func TestEvaluate_SecretsDenied(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.ContainsSecrets = true

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny for secrets, got %v", d.Action.Type)
	}
}

func TestEvaluate_HighRiskRequiresApproval(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.RiskAssessment = domain.RiskCritical

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionRequireApproval {
		t.Fatalf("expected require_approval, got %v", d.Action.Type)
	}
}

func TestEvaluate_SystemPathDenied(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.FilePaths = []string{"/etc/passwd"}

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny for system path, got %v", d.Action.Type)
	}
}

func TestEvaluate_ResourceLimitDenied(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.ResourceLimits.MaxMemoryMB = 2048

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny for oversized memory request, got %v", d.Action.Type)
	}
}

func TestEvaluate_NetworkAccessLogOnlyStillAllows(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.NetworkAccess = true

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionAllow {
		t.Fatalf("log-only must not change the action, got %v", d.Action.Type)
	}
	if len(d.AppliedPolicies) != 1 || d.AppliedPolicies[0] != "network_restrictions" {
		t.Fatalf("expected [network_restrictions], got %v", d.AppliedPolicies)
	}
}

// --- Evaluation: precedence and folding ---

func TestEvaluate_DenyShortCircuits(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	// Matches both block_dangerous_commands (100, deny) and
	// network_restrictions (70, log-only).
	req.Parameters = map[string]string{"command": "rm -rf /"}
	req.NetworkAccess = true

	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("expected deny, got %v", d.Action.Type)
	}
	if len(d.AppliedPolicies) == 0 || d.AppliedPolicies[len(d.AppliedPolicies)-1] != "block_dangerous_commands" {
		t.Fatalf("evaluation must stop at the deny policy, applied: %v", d.AppliedPolicies)
	}
	for _, id := range d.AppliedPolicies {
		if id == "network_restrictions" {
			t.Fatal("lower-priority policy evaluated after a deny")
		}
	}
}

func TestEvaluate_EscalateUpgradesApproval(t *testing.T) {
	e := New(testLogger())
	if err := e.AddPolicy(domain.SecurityPolicy{
		ID:   "escalate_shell",
		Name: "Escalate Shell",
		Conditions: []domain.PolicyCondition{
			{Type: domain.CondToolName, Value: "shell"},
		},
		Action:   domain.PolicyAction{Type: domain.ActionEscalate, Reason: "shell access is escalated"},
		Priority: 50,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	req := baseRequest()
	req.RiskAssessment = domain.RiskHigh // approval at priority 90
	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionEscalate {
		t.Fatalf("escalate must upgrade require_approval, got %v", d.Action.Type)
	}
}

func TestEvaluate_ApprovalNeverDowngradesEscalate(t *testing.T) {
	e := New(testLogger())
	if err := e.AddPolicy(domain.SecurityPolicy{
		ID:   "escalate_first",
		Name: "Escalate First",
		Conditions: []domain.PolicyCondition{
			{Type: domain.CondToolName, Value: "shell"},
		},
		Action:   domain.PolicyAction{Type: domain.ActionEscalate, Reason: "escalated"},
		Priority: 99,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	req := baseRequest()
	req.RiskAssessment = domain.RiskHigh // approval at priority 90, after escalate
	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionEscalate {
		t.Fatalf("decision downgraded from escalate to %v", d.Action.Type)
	}
}

// --- Conditions ---

func TestConditionResourceLimitOperators(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.ResourceLimits.MaxMemoryMB = 2000

	cases := []struct {
		limit string
		want  bool
	}{
		{"> 1024", true},
		{"< 1024", false},
		{">= 2000", true},
		{"<= 1999", false},
		{"== 2000", true},
		{"!= 2000", false},
		{"garbage", false},
		{"> notanumber", false},
	}
	for _, tc := range cases {
		c := domain.PolicyCondition{Type: domain.CondResourceLimit, Field: "memory", Limit: tc.limit}
		if got := e.conditionMatches(&req, &c); got != tc.want {
			t.Errorf("limit %q: got %v, want %v", tc.limit, got, tc.want)
		}
	}
}

func TestConditionTimeOfDay(t *testing.T) {
	e := New(testLogger())
	e.now = func() time.Time {
		return time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	}
	req := baseRequest()

	day := domain.PolicyCondition{Type: domain.CondTimeOfDay, Start: "09:00", End: "17:00"}
	if e.conditionMatches(&req, &day) {
		t.Error("23:30 should be outside 09:00-17:00")
	}
	night := domain.PolicyCondition{Type: domain.CondTimeOfDay, Start: "22:00", End: "06:00"}
	if !e.conditionMatches(&req, &night) {
		t.Error("23:30 should be inside the overnight window 22:00-06:00")
	}
	bad := domain.PolicyCondition{Type: domain.CondTimeOfDay, Start: "9am", End: "5pm"}
	if e.conditionMatches(&req, &bad) {
		t.Error("malformed window must never match")
	}
}

func TestConditionUserID(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	c := domain.PolicyCondition{Type: domain.CondUserID, Value: "alice"}

	if e.conditionMatches(&req, &c) {
		t.Error("empty request user must not match")
	}
	req.UserID = "alice"
	if !e.conditionMatches(&req, &c) {
		t.Error("matching user id should match")
	}
}

// --- Mutation ---

func TestAddPolicy_ResortsByPriority(t *testing.T) {
	e := New(testLogger())
	if err := e.AddPolicy(domain.SecurityPolicy{
		ID:       "topmost",
		Name:     "Topmost",
		Action:   domain.PolicyAction{Type: domain.ActionLogOnly},
		Priority: 200,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("AddPolicy: %v", err)
	}

	got := e.Policies()
	if got[0].ID != "topmost" {
		t.Fatalf("expected topmost first after re-sort, got %s", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Priority < got[i].Priority {
			t.Fatalf("policies not sorted descending at %d: %d < %d", i, got[i-1].Priority, got[i].Priority)
		}
	}
}

func TestAddPolicy_RejectsInvalid(t *testing.T) {
	e := New(testLogger())
	err := e.AddPolicy(domain.SecurityPolicy{Name: "no id", Action: domain.PolicyAction{Type: domain.ActionAllow}})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	err = e.AddPolicy(domain.SecurityPolicy{ID: "x", Action: domain.PolicyAction{Type: "explode"}})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy for bad action, got %v", err)
	}
	err = e.AddPolicy(domain.SecurityPolicy{ID: "block_dangerous_commands", Action: domain.PolicyAction{Type: domain.ActionAllow}})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy for duplicate id, got %v", err)
	}
}

func TestRemovePolicy_UnknownID(t *testing.T) {
	e := New(testLogger())
	if err := e.RemovePolicy("does_not_exist"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
	if err := e.RemovePolicy("network_restrictions"); err != nil {
		t.Fatalf("RemovePolicy: %v", err)
	}
}

func TestSetPolicyEnabled(t *testing.T) {
	e := New(testLogger())
	if err := e.SetPolicyEnabled("block_dangerous_commands", false); err != nil {
		t.Fatalf("SetPolicyEnabled: %v", err)
	}

	req := baseRequest()
	req.Parameters = map[string]string{"command": "rm -rf /"}
	d := e.EvaluateRequest(req)
	if d.Action.Type == domain.ActionDeny && d.Action.Reason == "Command contains destructive operations" {
		t.Fatal("disabled policy still evaluated")
	}

	if err := e.SetPolicyEnabled("nope", true); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

// --- Audit trail ---

func TestAuditTrail_RecordsRequestAndDecision(t *testing.T) {
	e := New(testLogger())
	req := baseRequest()
	req.Parameters = map[string]string{"command": "rm -rf /"}
	d := e.EvaluateRequest(req)

	trail := e.AuditTrail()
	if len(trail) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(trail))
	}
	entry := trail[0]
	if entry.ID != d.AuditID {
		t.Errorf("audit id mismatch: %s vs %s", entry.ID, d.AuditID)
	}
	if entry.Decision == nil || entry.Decision.Action.Type != domain.ActionDeny {
		t.Error("decision not attached to audit entry")
	}
}
