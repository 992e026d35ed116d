package pattern

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPattern is wrapped by every InvalidPatternError
	ErrInvalidPattern = errors.New("invalid pattern")

	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleInUse rejects deletion of a rule that has usage history
	ErrRuleInUse = errors.New("rule has usage history; deactivate it instead")

	// ErrRegistryUnavailable means no trustworthy snapshot can be served
	ErrRegistryUnavailable = errors.New("pattern registry unavailable")
)

// InvalidPatternError is returned when a rule is rejected at the admin boundary
type InvalidPatternError struct {
	Rule   string
	Reason string
	Err    error
}

func (e *InvalidPatternError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid pattern for rule %q: %s: %v", e.Rule, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid pattern for rule %q: %s", e.Rule, e.Reason)
}

func (e *InvalidPatternError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidPattern, e.Err}
	}
	return []error{ErrInvalidPattern}
}
