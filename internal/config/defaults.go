package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			DefaultUser: "agent",
		},
		Policy: PolicyConfig{
			PackDir: "~/.agentguard/policies",
		},
		Sandbox: SandboxConfig{
			MaxExecutionTimeSecs: 30,
			MaxOutputBytes:       1 << 20,
		},
		Safety: SafetyConfig{
			CommandIntervalMS:     600,
			APIIntervalMS:         1200,
			MaxConcurrentCommands: 5,
			HistoryCapacity:       1000,
			MaxMemoryMB:           512,
			MaxCPUPercent:         50,
		},
		Confirmation: ConfirmationConfig{
			Required: true,
		},
		Audit: AuditConfig{
			Enabled:           true,
			DBPath:            "~/.agentguard/audit.db",
			StructuredLogging: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9090,
		},
	}
}
