package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Bundle is a tenant's critical-flag rule set, loaded from a JSON file.
// Bundles extend the default rules; they never replace them.
type Bundle struct {
	Tenant  string `json:"tenant"`
	Version string `json:"version"`
	Rules   []Rule `json:"rules"`
}

// LoadBundles reads every .json bundle under dir and returns the
// default rules followed by the tenant rules in file order. Rule
// expressions are not compiled here; NewEvaluator rejects malformed
// ones at startup.
func LoadBundles(dir string) ([]Rule, error) {
	rules := DefaultRules()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		bundle, err := loadBundle(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rules = append(rules, bundle.Rules...)
	}
	return rules, nil
}

func loadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle %s: %w", path, err)
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("policy: parse bundle %s: %w", path, err)
	}
	for i, r := range bundle.Rules {
		if r.Flag == "" || r.Expr == "" {
			return nil, fmt.Errorf("policy: bundle %s rule %d: flag and expr are required", path, i)
		}
	}
	return &bundle, nil
}
