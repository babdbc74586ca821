package guard

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"agentguard/internal/confirm"
	"agentguard/internal/domain"
	"agentguard/internal/policy"
	"agentguard/internal/ruleset"
	"agentguard/internal/safety"
	"agentguard/internal/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// testAuthorizer builds the full pipeline on one shared rule set, with a
// scripted confirmation answer.
func testAuthorizer(t *testing.T, approve bool) (*Authorizer, *int) {
	t.Helper()
	rules := ruleset.Default()
	box, err := sandbox.New(sandbox.Config{Rules: rules, Logger: testLogger()})
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	prompts := 0
	return New(Options{
		Engine:  policy.New(testLogger()),
		Sandbox: box,
		Safety: safety.New(safety.Config{
			Rules:           rules,
			CommandInterval: time.Millisecond,
			APIInterval:     time.Millisecond,
			Logger:          testLogger(),
		}),
		Confirm: confirm.New(testLogger()),
		Logger:  testLogger(),
		Ask: func(ctx context.Context, prompt string) (bool, error) {
			prompts++
			if !strings.Contains(prompt, "WARNING") {
				t.Errorf("prompt missing WARNING: %q", prompt)
			}
			return approve, nil
		},
	}), &prompts
}

func TestRun_Completed(t *testing.T) {
	a, prompts := testAuthorizer(t, true)
	res, err := a.Run(context.Background(), Request{User: "alice", Command: "echo hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Fatalf("output = %q", res.Output)
	}
	if *prompts != 0 {
		t.Fatalf("benign command must not prompt, got %d prompts", *prompts)
	}
}

func TestRun_PolicyDenied(t *testing.T) {
	a, prompts := testAuthorizer(t, true)
	res, err := a.Run(context.Background(), Request{User: "alice", Command: "rm -rf /tmp/scratch"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDenied {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Reason != "Command contains destructive operations" {
		t.Fatalf("reason = %q", res.Reason)
	}
	if len(res.Decision.AppliedPolicies) == 0 || res.Decision.AppliedPolicies[0] != "block_dangerous_commands" {
		t.Fatalf("applied = %v", res.Decision.AppliedPolicies)
	}
	if *prompts != 0 {
		t.Fatal("denied request must never reach the confirmation gate")
	}
}

func TestRun_SandboxRejected(t *testing.T) {
	a, _ := testAuthorizer(t, true)

	// Policy-clean but not on the sandbox allowlist.
	res, err := a.Run(context.Background(), Request{User: "alice", Command: "nmap localhost"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}

	// Shell metacharacters are rejected at parse time.
	res, err = a.Run(context.Background(), Request{User: "alice", Command: "ls .. && whoami"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
}

func TestRun_ConfirmationDeclined(t *testing.T) {
	a, prompts := testAuthorizer(t, false)

	// Touching a .db file trips the destructive heuristic and high-risk policy.
	res, err := a.Run(context.Background(), Request{User: "alice", Command: "ls backup.db"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDeclined {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if *prompts != 1 {
		t.Fatalf("prompts = %d, want 1", *prompts)
	}
}

func TestRun_ConfirmationApproved(t *testing.T) {
	a, prompts := testAuthorizer(t, true)
	// "update" trips the destructive heuristic; echo still succeeds.
	res, err := a.Run(context.Background(), Request{User: "alice", Command: "echo update notes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if *prompts != 1 {
		t.Fatalf("prompts = %d, want 1", *prompts)
	}
}

func TestRun_NilConfirmFuncFailsClosed(t *testing.T) {
	rules := ruleset.Default()
	box, _ := sandbox.New(sandbox.Config{Rules: rules, Logger: testLogger()})
	a := New(Options{
		Engine:  policy.New(testLogger()),
		Sandbox: box,
		Safety: safety.New(safety.Config{
			Rules: rules, CommandInterval: time.Millisecond, Logger: testLogger(),
		}),
		Logger: testLogger(),
	})

	res, err := a.Run(context.Background(), Request{User: "alice", Command: "ls backup.db"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusDeclined {
		t.Fatalf("status = %s; no confirm channel must mean declined", res.Status)
	}
}

func TestCheck_DryRunNeverExecutes(t *testing.T) {
	a, prompts := testAuthorizer(t, true)

	res, err := a.Check(context.Background(), Request{User: "alice", Command: "echo hi"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusCompleted || res.Output != "" {
		t.Fatalf("res = %+v", res)
	}
	if *prompts != 0 {
		t.Fatal("Check must never prompt")
	}
	if got := a.safety.Stats().TotalCommandsExecuted; got != 0 {
		t.Fatalf("Check must not execute, executed = %d", got)
	}

	res, err = a.Check(context.Background(), Request{User: "alice", Command: "shutdown now"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != StatusDenied {
		t.Fatalf("status = %s", res.Status)
	}
}

// Both enforcement layers must agree on the built-in destructive set: the
// policy engine denies, and the sandbox and safety manager independently
// reject, for every one of these.
func TestDualLayerAgreementOnDestructiveSet(t *testing.T) {
	a, _ := testAuthorizer(t, true)
	commands := []string{
		"rm -rf /tmp/x",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown now",
		"reboot",
	}
	for _, cmd := range commands {
		res, err := a.Run(context.Background(), Request{User: "alice", Command: cmd})
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if res.Status != StatusDenied {
			t.Errorf("%s: policy layer did not deny (status %s)", cmd, res.Status)
		}

		program, args, perr := sandbox.ParseCommandString(cmd)
		if perr == nil {
			if a.sandbox.ValidateCommand(program, args) == nil {
				t.Errorf("%s: sandbox layer did not reject", cmd)
			}
		}
		if a.safety.CheckCommand(cmd) == nil {
			t.Errorf("%s: safety layer did not reject", cmd)
		}
	}
}

func TestAssessRiskLevel(t *testing.T) {
	cases := []struct {
		tool   string
		params map[string]string
		want   domain.RiskLevel
	}{
		{"file_read", map[string]string{"path": "/tmp/a"}, domain.RiskLow},
		{"file_write", map[string]string{"path": "/home/u/notes"}, domain.RiskHigh},
		{"file_write", map[string]string{"path": "/etc/passwd"}, domain.RiskCritical},
		{"shell", map[string]string{"command": "ls -la"}, domain.RiskMedium},
		{"shell", map[string]string{"command": "wipe the cache"}, domain.RiskHigh},
		{"unknown_tool", nil, domain.RiskMedium},
	}
	for _, tc := range cases {
		if got := AssessRiskLevel(tc.tool, tc.params); got != tc.want {
			t.Errorf("AssessRiskLevel(%s, %v) = %s, want %s", tc.tool, tc.params, got, tc.want)
		}
	}
}

func TestIsNetworkCommand(t *testing.T) {
	if !isNetworkCommand("curl https://example.com") {
		t.Fatal("curl must be a network command")
	}
	if isNetworkCommand("ls curl-notes.txt") {
		t.Fatal("only the program position counts")
	}
}
