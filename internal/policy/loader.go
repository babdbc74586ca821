package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"agentguard/internal/domain"

	"gopkg.in/yaml.v3"
)

// policyPack is the on-disk shape of a YAML policy file: either a single
// policy or a `policies:` list. Rules stay plain structured data; there is no
// rule language to compile.
type policyPack struct {
	Policies []domain.SecurityPolicy `yaml:"policies"`
}

// LoadDirectory reads every .yaml/.yml file in dir and registers its policies
// with the engine. A missing directory is not an error. A structurally
// invalid policy aborts the load with ErrInvalidPolicy so a typo cannot
// silently weaken the rule set.
func LoadDirectory(e *Engine, dir string, logger *slog.Logger) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("policy pack directory does not exist, skipping", "dir", dir)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read policy dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		n, err := loadFile(e, path)
		if err != nil {
			return loaded, fmt.Errorf("policy pack %s: %w", path, err)
		}
		logger.Info("loaded policy pack", "path", path, "policies", n)
		loaded += n
	}
	return loaded, nil
}

func loadFile(e *Engine, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var pack policyPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	if len(pack.Policies) == 0 {
		// Allow a file that is one bare policy document.
		var single domain.SecurityPolicy
		if err := yaml.Unmarshal(data, &single); err == nil && single.ID != "" {
			pack.Policies = append(pack.Policies, single)
		}
	}

	for i := range pack.Policies {
		if err := e.AddPolicy(pack.Policies[i]); err != nil {
			return i, err
		}
	}
	return len(pack.Policies), nil
}
