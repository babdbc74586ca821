package guard

import (
	"strings"

	"agentguard/internal/confirm"
	"agentguard/internal/domain"
)

// readOnlyTools never modify state.
var readOnlyTools = map[string]struct{}{
	"file_read": {}, "read_file": {}, "list_directory": {}, "search": {},
	"get_status": {}, "stat": {},
}

// writeTools modify files; writing under a system prefix is critical.
var writeTools = map[string]struct{}{
	"file_write": {}, "write_file": {}, "file_delete": {}, "delete_file": {},
}

var criticalPrefixes = []string{"/etc", "/sys", "/dev", "/proc", "/boot"}

// AssessRiskLevel grades a proposed tool call for the risk_level policy
// condition. The grading is heuristic and errs upward.
func AssessRiskLevel(tool string, params map[string]string) domain.RiskLevel {
	if _, ok := readOnlyTools[tool]; ok {
		return domain.RiskLow
	}

	if _, ok := writeTools[tool]; ok {
		for _, v := range params {
			for _, prefix := range criticalPrefixes {
				if strings.HasPrefix(v, prefix) {
					return domain.RiskCritical
				}
			}
		}
		return domain.RiskHigh
	}

	if tool == "shell" || tool == "execute_command" {
		for _, v := range params {
			if destructive, _ := confirm.IsDestructive(v); destructive {
				return domain.RiskHigh
			}
		}
		return domain.RiskMedium
	}

	return domain.RiskMedium
}
