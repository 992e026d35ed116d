package pattern

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// CompiledRule is a rule with its regexes compiled. It is immutable.
type CompiledRule struct {
	Rule     Rule
	re       *regexp.Regexp
	validate *regexp.Regexp
}

// Match returns the captured value of the first match in text. A match
// whose value is blank or fails the validation pattern does not count.
func (c *CompiledRule) Match(text string) (string, bool) {
	m := c.re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	value := strings.TrimSpace(m[c.Rule.CaptureGroup])
	if value == "" {
		return "", false
	}
	if c.validate != nil && !c.validate.MatchString(value) {
		return "", false
	}
	return value, true
}

// Snapshot is a point-in-time copy of the active rule set. Nothing mutates a
// Snapshot after it is published.
type Snapshot struct {
	Version    uint64
	BuiltAt    time.Time
	byCategory map[Category][]*CompiledRule
	size       int
}

// NewSnapshot compiles a standalone snapshot from rules, outside any registry
func NewSnapshot(rules []Rule) (*Snapshot, error) {
	ptrs := make([]*Rule, len(rules))
	for i := range rules {
		r := rules[i]
		r.normalize()
		ptrs[i] = &r
	}
	return newSnapshot(0, time.Time{}, ptrs)
}

func newSnapshot(version uint64, builtAt time.Time, rules []*Rule) (*Snapshot, error) {
	s := &Snapshot{
		Version:    version,
		BuiltAt:    builtAt,
		byCategory: make(map[Category][]*CompiledRule),
	}
	for _, r := range rules {
		if !r.Active {
			continue
		}
		c, err := compileRule(*r)
		if err != nil {
			return nil, err
		}
		s.byCategory[r.Category] = append(s.byCategory[r.Category], c)
		s.size++
	}
	for _, list := range s.byCategory {
		slices.SortStableFunc(list, func(a, b *CompiledRule) int {
			if a.Rule.Priority != b.Rule.Priority {
				return a.Rule.Priority - b.Rule.Priority
			}
			return strings.Compare(a.Rule.Name, b.Rule.Name)
		})
	}
	return s, nil
}

// RulesFor returns the active rules of a category by ascending priority
func (s *Snapshot) RulesFor(category Category) []*CompiledRule {
	return slices.Clone(s.byCategory[category])
}

// Len is the number of active rules in the snapshot
func (s *Snapshot) Len() int {
	return s.size
}
