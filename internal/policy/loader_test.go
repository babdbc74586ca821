package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"agentguard/internal/domain"
)

const packYAML = `policies:
  - id: deny_curl
    name: Deny curl
    conditions:
      - type: command_pattern
        value: "curl"
    action:
      type: deny
      reason: "outbound fetches are not allowed"
    priority: 60
    enabled: true
  - id: log_git
    name: Log git
    conditions:
      - type: command_pattern
        value: "git"
    action:
      type: log_only
    priority: 10
    enabled: true
`

func TestLoadDirectory_LoadsPack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "deny.yaml"), []byte(packYAML), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	e := New(testLogger())
	n, err := LoadDirectory(e, dir, testLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 policies loaded, got %d", n)
	}

	req := baseRequest()
	req.Parameters = map[string]string{"command": "curl https://example.com"}
	d := e.EvaluateRequest(req)
	if d.Action.Type != domain.ActionDeny {
		t.Fatalf("loaded deny policy did not apply, got %v", d.Action.Type)
	}
}

func TestLoadDirectory_MissingDirIsNotError(t *testing.T) {
	e := New(testLogger())
	n, err := LoadDirectory(e, filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 loaded, got %d", n)
	}
}

func TestLoadDirectory_InvalidPolicyAborts(t *testing.T) {
	dir := t.TempDir()
	bad := `policies:
  - id: broken
    action:
      type: frobnicate
    priority: 1
    enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "bad.yml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	e := New(testLogger())
	if _, err := LoadDirectory(e, dir, testLogger()); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestLoadDirectory_IgnoresNonYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	e := New(testLogger())
	n, err := LoadDirectory(e, dir, testLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 loaded, got %d", n)
	}
}
