package pattern

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

const (
	maxPatternLength   = 512
	maxProgramSize     = 4000
	maxRepetitionDepth = 2
)

// compilePattern compiles p after the bounded safety check. flags is a
// subset of "ims" applied as an inline group.
func compilePattern(p string, flags string) (*regexp.Regexp, error) {
	if strings.TrimSpace(p) == "" {
		return nil, fmt.Errorf("pattern is empty")
	}
	if len(p) > maxPatternLength {
		return nil, fmt.Errorf("pattern is %d bytes, limit is %d", len(p), maxPatternLength)
	}
	if flags != "" {
		p = "(?" + flags + ")" + p
	}

	parsed, err := syntax.Parse(p, syntax.Perl)
	if err != nil {
		return nil, err
	}
	if depth := repetitionDepth(parsed); depth > maxRepetitionDepth {
		return nil, fmt.Errorf("repetition nested %d deep, limit is %d", depth, maxRepetitionDepth)
	}
	prog, err := syntax.Compile(parsed.Simplify())
	if err != nil {
		return nil, err
	}
	if len(prog.Inst) > maxProgramSize {
		return nil, fmt.Errorf("compiled program has %d instructions, limit is %d", len(prog.Inst), maxProgramSize)
	}

	return regexp.Compile(p)
}

// repetitionDepth is the deepest nesting of unbounded or counted repeats
func repetitionDepth(re *syntax.Regexp) int {
	deepest := 0
	for _, sub := range re.Sub {
		if d := repetitionDepth(sub); d > deepest {
			deepest = d
		}
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpRepeat:
		return deepest + 1
	}
	return deepest
}

// compileRule validates every regex-bearing field of rule
func compileRule(rule Rule) (*CompiledRule, error) {
	flags := "i"
	if rule.CaseSensitive {
		flags = ""
	}

	re, err := compilePattern(rule.Pattern, flags)
	if err != nil {
		return nil, &InvalidPatternError{Rule: rule.Name, Reason: "pattern rejected", Err: err}
	}
	if rule.CaptureGroup < 0 || rule.CaptureGroup > re.NumSubexp() {
		return nil, &InvalidPatternError{
			Rule:   rule.Name,
			Reason: fmt.Sprintf("capture group %d out of range (pattern has %d)", rule.CaptureGroup, re.NumSubexp()),
		}
	}

	compiled := &CompiledRule{Rule: rule, re: re}
	if rule.ValidationPattern != "" {
		v, err := compilePattern(rule.ValidationPattern, flags)
		if err != nil {
			return nil, &InvalidPatternError{Rule: rule.Name, Reason: "validation pattern rejected", Err: err}
		}
		compiled.validate = v
	}
	return compiled, nil
}
