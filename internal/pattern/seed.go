package pattern

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedCreator marks rules that came from a seed file
const SeedCreator = "system"

// DefaultSeed returns the built-in golden rule set
func DefaultSeed() ([]Rule, error) {
	return parseSeed(defaultSeed)
}

// LoadSeedFile reads a YAML rule list from path
func LoadSeedFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing seed rules: %w", err)
	}
	for i := range rules {
		c, ok := ParseCategory(string(rules[i].Category))
		if !ok {
			return nil, fmt.Errorf("seed rule %q: unknown category %q", rules[i].Name, rules[i].Category)
		}
		rules[i].Category = c
		if rules[i].CreatedBy == "" {
			rules[i].CreatedBy = SeedCreator
		}
	}
	return rules, nil
}
