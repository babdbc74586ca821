package policy

import "agentguard/internal/domain"

// Builtin returns the default policy table. Priorities put destructive
// command patterns first and log-only network monitoring last.
func Builtin() []domain.SecurityPolicy {
	return []domain.SecurityPolicy{
		{
			ID:          "block_dangerous_commands",
			Name:        "Block Dangerous Commands",
			Description: "Block potentially destructive commands",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondCommandPattern, Value: "rm -rf /"},
				{Type: domain.CondCommandPattern, Value: "mkfs"},
				{Type: domain.CondCommandPattern, Value: "dd if="},
				{Type: domain.CondCommandPattern, Value: "shutdown"},
				{Type: domain.CondCommandPattern, Value: "reboot"},
			},
			Action:   domain.PolicyAction{Type: domain.ActionDeny, Reason: "Command contains destructive operations"},
			Priority: 100,
			Enabled:  true,
		},
		{
			ID:          "secrets_deny",
			Name:        "Deny Operations with Secrets",
			Description: "Block operations that contain sensitive information",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondContainsSecrets, Flag: true},
			},
			Action:   domain.PolicyAction{Type: domain.ActionDeny, Reason: "Operation contains sensitive information"},
			Priority: 95,
			Enabled:  true,
		},
		{
			ID:          "high_risk_requires_approval",
			Name:        "High Risk Requires Approval",
			Description: "High-risk operations require explicit approval",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondRiskLevel, Value: "high"},
				{Type: domain.CondRiskLevel, Value: "critical"},
			},
			Action:   domain.PolicyAction{Type: domain.ActionRequireApproval, Reason: "High-risk operation detected"},
			Priority: 90,
			Enabled:  true,
		},
		{
			ID:          "system_paths_protection",
			Name:        "System Paths Protection",
			Description: "Protect system directories from modification",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondFilePath, Value: "/etc"},
				{Type: domain.CondFilePath, Value: "/sys"},
				{Type: domain.CondFilePath, Value: "/dev"},
				{Type: domain.CondFilePath, Value: "/proc"},
				{Type: domain.CondFilePath, Value: "/root"},
			},
			Action:   domain.PolicyAction{Type: domain.ActionDeny, Reason: "Access to system directories is not allowed"},
			Priority: 85,
			Enabled:  true,
		},
		{
			ID:          "resource_limits",
			Name:        "Enforce Resource Limits",
			Description: "Ensure requested resource ceilings stay within safe thresholds",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondResourceLimit, Field: "memory", Limit: "> 1024"},
				{Type: domain.CondResourceLimit, Field: "cpu", Limit: "> 80"},
			},
			Action:   domain.PolicyAction{Type: domain.ActionDeny, Reason: "Resource limits exceed safe thresholds"},
			Priority: 80,
			Enabled:  true,
		},
		{
			ID:          "network_restrictions",
			Name:        "Network Access Restrictions",
			Description: "Log every request that asks for network access",
			Conditions: []domain.PolicyCondition{
				{Type: domain.CondNetworkAccess, Flag: true},
			},
			Action:   domain.PolicyAction{Type: domain.ActionLogOnly},
			Priority: 70,
			Enabled:  true,
		},
	}
}
