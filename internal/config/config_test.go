package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_ExecutionTime_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.Sandbox.MaxExecutionTimeSecs = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxExecutionTimeSeconds=0")
	}
}

func TestValidate_MaxConcurrent_Bounds(t *testing.T) {
	cfg := Defaults()

	cfg.Safety.MaxConcurrentCommands = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentCommands=0")
	}

	cfg.Safety.MaxConcurrentCommands = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentCommands=1 should be valid: %v", err)
	}

	cfg.Safety.MaxConcurrentCommands = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentCommands=101")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Metrics.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_AuditRequiresDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Audit.Enabled = true
	cfg.Audit.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled audit without dbPath")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- Load ---

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"safety": {"commandIntervalMs": 50},
		"audit": {"enabled": false}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Safety.CommandIntervalMS != 50 {
		t.Fatalf("commandIntervalMs = %d", cfg.Safety.CommandIntervalMS)
	}
	// Untouched sections keep their defaults.
	if cfg.Sandbox.MaxExecutionTimeSecs != 30 {
		t.Fatalf("maxExecutionTimeSeconds = %d", cfg.Sandbox.MaxExecutionTimeSecs)
	}
	if cfg.Audit.Enabled {
		t.Fatal("audit.enabled override not applied")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"sandbox": {"maxExecutionTimeSeconds": 0}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

// --- Env expansion ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AG_TEST_VALUE", "expanded")

	if got := ExpandEnvVars("x ${AG_TEST_VALUE} y"); got != "x expanded y" {
		t.Fatalf("got %q", got)
	}
	if got := ExpandEnvVars("${AG_TEST_MISSING:-fallback}"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
	// Unset without default stays verbatim.
	if got := ExpandEnvVars("${AG_TEST_MISSING}"); got != "${AG_TEST_MISSING}" {
		t.Fatalf("got %q", got)
	}
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("AG_TEST_DB", filepath.Join(t.TempDir(), "audit.db"))
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"audit": {"enabled": true, "dbPath": "${AG_TEST_DB}"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Contains(cfg.Audit.DBPath, "${") {
		t.Fatalf("dbPath not expanded: %q", cfg.Audit.DBPath)
	}
}

// --- Accessors ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "safety.maxConcurrentCommands")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if n, ok := v.(float64); !ok || n != 5 {
		t.Fatalf("value = %v (%T)", v, v)
	}
	if _, err := GetByPath(cfg, "safety.nope"); err == nil {
		t.Fatal("expected key-not-found error")
	}
}

func TestSetByPath_RevalidatesResult(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "safety.commandIntervalMs", "250"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Safety.CommandIntervalMS != 250 {
		t.Fatalf("commandIntervalMs = %d", cfg.Safety.CommandIntervalMS)
	}

	// An invalid value must be rejected and leave the config unchanged.
	if err := SetByPath(cfg, "safety.maxConcurrentCommands", "0"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Safety.MaxConcurrentCommands != 5 {
		t.Fatalf("maxConcurrentCommands = %d after failed set", cfg.Safety.MaxConcurrentCommands)
	}
}

func TestListPaths(t *testing.T) {
	paths := ListPaths(Defaults())
	if _, ok := paths["general.logLevel"]; !ok {
		t.Fatal("general.logLevel missing from path listing")
	}
	if _, ok := paths["audit.dbPath"]; !ok {
		t.Fatal("audit.dbPath missing from path listing")
	}
}

// --- Save / roundtrip ---

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Safety.CommandIntervalMS = 123
	cfg.Audit.DBPath = filepath.Join(t.TempDir(), "audit.db")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Safety.CommandIntervalMS != 123 {
		t.Fatalf("roundtrip lost commandIntervalMs: %d", loaded.Safety.CommandIntervalMS)
	}
}
