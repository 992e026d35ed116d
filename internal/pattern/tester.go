package pattern

import (
	"fmt"
	"strings"
)

// TestResult is the outcome of running an ad-hoc pattern against sample text
type TestResult struct {
	Matched    bool     `json:"matched"`
	Value      string   `json:"value,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Diagnostic string   `json:"diagnostic,omitempty"`
}

// Test compiles pattern with flags (a subset of "ims") under the same safety
// limits as stored rules and matches it against sample. Value is the first
// capture group when the pattern has one, else the whole match. Compile
// problems are reported through Diagnostic.
func Test(pattern, flags, sample string) TestResult {
	flags = strings.ToLower(strings.TrimSpace(flags))
	for _, f := range flags {
		if !strings.ContainsRune("ims", f) {
			return TestResult{Diagnostic: fmt.Sprintf("unsupported flag %q, allowed flags are i, m and s", f)}
		}
	}

	re, err := compilePattern(pattern, flags)
	if err != nil {
		return TestResult{Diagnostic: err.Error()}
	}

	m := re.FindStringSubmatch(sample)
	if m == nil {
		return TestResult{Diagnostic: "no match"}
	}

	result := TestResult{Matched: true, Value: m[0]}
	if len(m) > 1 {
		result.Groups = m[1:]
		result.Value = m[1]
	}
	return result
}
