// Package confirm decides which commands need explicit human approval before
// execution and renders the prompt shown to the user. It is a gate, not a
// validator: commands that reach it have already passed policy and sandbox
// checks.
package confirm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// destructiveVerbs flag an operation for confirmation on a case-insensitive
// substring match. Deliberately coarse: a false positive costs one extra
// prompt, a false negative costs data.
var destructiveVerbs = []string{
	"delete", "remove", "rm", "uninstall", "drop", "destroy", "format",
	"wipe", "clean", "purge", "truncate", "overwrite", "replace", "modify",
	"edit", "update",
}

// systemDirs flag a command that mentions a system directory.
var systemDirs = []string{"/etc/", "/sys/", "/dev/", "/proc/"}

// sensitiveExtensions flag commands touching credential or database files.
// Matched as a suffix of individual arguments, so "app.conf" triggers but
// "app.conf.bak" does not.
var sensitiveExtensions = []string{".db", ".sql", ".key", ".pem", ".crt", ".conf", ".config"}

// Manager gates destructive operations behind a yes/no prompt.
type Manager struct {
	mu       sync.RWMutex
	required bool
	logger   *slog.Logger
}

// New builds a confirmation manager; confirmation starts enabled.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{required: true, logger: logger}
}

// SetRequireConfirmation toggles the gate. With confirmation off, every
// command is treated as pre-approved.
func (m *Manager) SetRequireConfirmation(required bool) {
	m.mu.Lock()
	m.required = required
	m.mu.Unlock()
	m.logger.Info("confirmation requirement changed", "required", required)
}

// RequireConfirmation reports whether the gate is enabled.
func (m *Manager) RequireConfirmation() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.required
}

// RequiresConfirmation reports whether the operation on target must be
// confirmed, and why. It returns false whenever the gate is disabled.
func (m *Manager) RequiresConfirmation(operation, target string) (bool, string) {
	if !m.RequireConfirmation() {
		return false, ""
	}
	return IsDestructive(operation + " " + target)
}

// NeedsConfirmation is the single-string form for full command lines.
func (m *Manager) NeedsConfirmation(command string) (bool, string) {
	if !m.RequireConfirmation() {
		return false, ""
	}
	return IsDestructive(command)
}

// IsDestructive classifies a command line independent of the gate toggle:
// destructive verbs and system directories as case-insensitive substrings,
// sensitive file extensions as suffixes of whitespace-separated arguments.
func IsDestructive(command string) (bool, string) {
	lower := strings.ToLower(command)

	for _, verb := range destructiveVerbs {
		if strings.Contains(lower, verb) {
			return true, fmt.Sprintf("command contains destructive operation %q", verb)
		}
	}
	for _, dir := range systemDirs {
		if strings.Contains(lower, dir) {
			return true, fmt.Sprintf("command touches system directory %s", dir)
		}
	}
	for _, field := range strings.Fields(lower) {
		for _, ext := range sensitiveExtensions {
			if strings.HasSuffix(field, ext) {
				return true, fmt.Sprintf("command touches a sensitive file (%s)", ext)
			}
		}
	}
	return false, ""
}

// Prompt renders the confirmation message shown to the user.
func Prompt(command, reason string) string {
	var b strings.Builder
	b.WriteString("WARNING: This command may modify your system.\n\n")
	fmt.Fprintf(&b, "Command: %s\n", command)
	if reason != "" {
		fmt.Fprintf(&b, "Reason:  %s\n", reason)
	}
	b.WriteString("\nType 'yes' to proceed, anything else to cancel: ")
	return b.String()
}

// ValidateConfirmation reports whether a user response approves execution.
// Only a trimmed, case-insensitive "yes" counts; an empty or garbled response
// is a refusal.
func ValidateConfirmation(response string) bool {
	return strings.EqualFold(strings.TrimSpace(response), "yes")
}
