// Package ruleset holds the shared command-validation predicate used by both
// the sandbox and the safety manager. The two layers keep independent call
// sites (defense in depth) but evaluate one set of rule data, so they cannot
// silently disagree about the built-in destructive set.
package ruleset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"agentguard/internal/domain"
)

// systemPrefixes are always blocked for path-looking arguments, independent
// of the mutable blocked-path set.
var systemPrefixes = []string{"/etc", "/sys", "/dev", "/proc", "/boot"}

// outputIndicators are substrings in combined process output that convert an
// otherwise-successful run into a dangerous-output failure.
var outputIndicators = []string{
	"Permission denied",
	"Operation not permitted",
	"Device or resource busy",
	"Segmentation fault",
	"Bus error",
	"Illegal instruction",
}

// Rules is the mutable rule data: blocked command names, blocked path
// prefixes, and dangerous command-line patterns (compiled once at insert).
type Rules struct {
	mu              sync.RWMutex
	blockedCommands map[string]struct{}
	blockedPaths    []string
	patterns        []*regexp.Regexp
}

// Default returns the production rule set.
func Default() *Rules {
	r := &Rules{blockedCommands: make(map[string]struct{})}

	// Filesystem destruction.
	for _, cmd := range []string{"rm", "rmdir", "del", "deltree", "format", "mkfs"} {
		r.blockedCommands[cmd] = struct{}{}
	}
	// Disk and mount manipulation.
	for _, cmd := range []string{"dd", "fdisk", "mount", "umount"} {
		r.blockedCommands[cmd] = struct{}{}
	}
	// Process manipulation.
	for _, cmd := range []string{"kill", "killall", "pkill", "killpg"} {
		r.blockedCommands[cmd] = struct{}{}
	}
	// System control.
	for _, cmd := range []string{"shutdown", "reboot", "halt", "poweroff"} {
		r.blockedCommands[cmd] = struct{}{}
	}
	// Firewall manipulation.
	for _, cmd := range []string{"iptables", "ufw", "firewall-cmd"} {
		r.blockedCommands[cmd] = struct{}{}
	}

	r.blockedPaths = []string{"/etc", "/sys", "/dev", "/proc", "/boot", "/root"}

	for _, expr := range defaultPatterns() {
		// The defaults are constants; a compile failure is a programming error.
		r.patterns = append(r.patterns, regexp.MustCompile(expr))
	}
	return r
}

func defaultPatterns() []string {
	return []string{
		`rm\s+-rf\s+/`,                    // recursive delete from root
		`rm\s+-rf\s+\*`,                   // recursive delete of everything here
		`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`, // fork bomb
		`>\s*/dev/sd[a-z]`,                // raw disk overwrite
		`dd\s+if=.*of=/dev/`,              // raw disk copy
		`mkfs\.`,                          // filesystem creation
		`chmod\s+777\s+/`,                 // world-writable root
		`chown\s+root`,                    // root ownership grab
		`sudo\s+.*rm`,                     // privileged delete
		`curl.*\|.*bash`,                  // pipe download to shell
		`wget.*\|.*sh`,                    // pipe download to shell
		`\|\s*(ba)?sh\b`,                  // pipe anything to a shell
		`eval\s+`,                         // indirect execution
		`os\.fork`,                        // python fork loops
	}
}

// Empty returns a rule set with no entries, for callers that configure
// everything explicitly.
func Empty() *Rules {
	return &Rules{blockedCommands: make(map[string]struct{})}
}

// CheckBlocked rejects programs on the blocklist. Blocklist membership always
// wins, regardless of any allowlist the caller maintains.
func (r *Rules) CheckBlocked(program string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.blockedCommands[program]; ok {
		return domain.Errf(domain.KindBlockedCommand, "command %q is blocked", program)
	}
	return nil
}

// CheckPatterns rejects command lines matching any dangerous pattern.
func (r *Rules) CheckPatterns(commandLine string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, re := range r.patterns {
		if re.MatchString(commandLine) {
			return domain.Errf(domain.KindDangerousPattern, "command matches dangerous pattern %q", re.String())
		}
	}
	return nil
}

// CheckPaths rejects path-looking arguments under a blocked prefix or a
// hardcoded system prefix.
func (r *Rules) CheckPaths(args []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, arg := range args {
		path, ok := extractPath(arg)
		if !ok {
			continue
		}
		for _, prefix := range r.blockedPaths {
			if strings.HasPrefix(path, prefix) {
				return domain.Errf(domain.KindBlockedPath, "access to protected path %q blocked (prefix %s)", path, prefix)
			}
		}
		for _, prefix := range systemPrefixes {
			if strings.HasPrefix(path, prefix) {
				return domain.Errf(domain.KindBlockedPath, "access to system path %q blocked", path)
			}
		}
	}
	return nil
}

// Check runs all three predicates in order: blocklist, dangerous patterns
// over the joined command line, blocked paths.
func (r *Rules) Check(program string, args []string) error {
	if err := r.CheckBlocked(program); err != nil {
		return err
	}
	if err := r.CheckPatterns(JoinCommand(program, args)); err != nil {
		return err
	}
	return r.CheckPaths(args)
}

// ScanOutput reports the first dangerous indicator found in combined process
// output, if any.
func ScanOutput(output string) (string, bool) {
	for _, indicator := range outputIndicators {
		if strings.Contains(output, indicator) {
			return indicator, true
		}
	}
	return "", false
}

// JoinCommand renders program and args as the single command line the
// dangerous patterns are matched against.
func JoinCommand(program string, args []string) string {
	if len(args) == 0 {
		return program
	}
	return program + " " + strings.Join(args, " ")
}

// extractPath reports whether an argument resembles a filesystem path.
func extractPath(arg string) (string, bool) {
	if strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
		return arg, true
	}
	if strings.Contains(arg, "/") {
		return arg, true
	}
	return "", false
}

// BlockCommand adds a program name to the blocklist.
func (r *Rules) BlockCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedCommands[name] = struct{}{}
}

// UnblockCommand removes a program name from the blocklist.
func (r *Rules) UnblockCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blockedCommands, name)
}

// BlockPath adds a path prefix to the blocked set.
func (r *Rules) BlockPath(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedPaths = append(r.blockedPaths, prefix)
}

// AddPattern compiles and appends a dangerous pattern.
func (r *Rules) AddPattern(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", expr, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, re)
	return nil
}

// BlockedCommands returns the sorted blocklist, for reporting.
func (r *Rules) BlockedCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.blockedCommands))
	for name := range r.blockedCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts reports blocklist, blocked-path, and pattern sizes, for stats.
func (r *Rules) Counts() (commands, paths, patterns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blockedCommands), len(r.blockedPaths), len(r.patterns)
}
