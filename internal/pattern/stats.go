package pattern

import (
	"fmt"
	"strings"
)

// CategoryStats breaks registry counts down for one category
type CategoryStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Uses   int `json:"uses"`
}

// Stats summarises the registry for the admin surface
type Stats struct {
	TotalPatterns          int                        `json:"total_patterns"`
	ActivePatterns         int                        `json:"active_patterns"`
	GoldenPatternsComplete bool                       `json:"golden_patterns_complete"`
	SnapshotVersion        uint64                     `json:"snapshot_version"`
	Categories             map[Category]CategoryStats `json:"categories"`
}

// Stats aggregates stored rules and the usage log. The golden set is
// complete when every seed rule is present by name and active.
func (r *Registry) Stats() (*Stats, error) {
	rules, err := r.store.ListRules()
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	uses, err := r.store.UsageCounts()
	if err != nil {
		return nil, fmt.Errorf("reading usage log: %w", err)
	}

	stats := &Stats{Categories: make(map[Category]CategoryStats, len(Categories))}
	for _, c := range Categories {
		stats.Categories[c] = CategoryStats{}
	}

	activeByName := make(map[string]bool, len(rules))
	for _, rule := range rules {
		cs := stats.Categories[rule.Category]
		cs.Total++
		cs.Uses += uses[rule.ID]
		stats.TotalPatterns++
		if rule.Active {
			cs.Active++
			stats.ActivePatterns++
			activeByName[strings.ToLower(rule.Name)] = true
		}
		stats.Categories[rule.Category] = cs
	}

	stats.GoldenPatternsComplete = len(r.seed) > 0
	for _, seed := range r.seed {
		if !activeByName[strings.ToLower(strings.TrimSpace(seed.Name))] {
			stats.GoldenPatternsComplete = false
			break
		}
	}

	if st := r.current.Load(); st != nil && st.snap != nil {
		stats.SnapshotVersion = st.snap.Version
	}
	return stats, nil
}
