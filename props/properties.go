package props

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a file of rule sets in the same shape the graph API returns them.
type Seed struct {
	RuleSets []map[string]any `yaml:"rule_sets"`
}

// Load reads path and, when ENV is set and a sibling "<name>.<env>.yaml"
// exists, replaces the rule sets with that file's.
func Load(path string) (Seed, error) {
	var seed Seed
	if err := loadYAML(path, &seed); err != nil {
		return Seed{}, err
	}

	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		return seed, nil
	}
	ext := filepath.Ext(path)
	envFile := strings.TrimSuffix(path, ext) + "." + env + ext
	if _, err := os.Stat(envFile); err == nil {
		var override Seed
		if err := loadYAML(envFile, &override); err != nil {
			return Seed{}, err
		}
		seed.RuleSets = override.RuleSets
	}
	return seed, nil
}

func loadYAML(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	return nil
}
