package extraction

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var decimalComma = regexp.MustCompile(`^[0-9]+(?:\.[0-9]{3})*,[0-9]{1,2}$|^[0-9]+,[0-9]{2}$`)

// ParseAmount reads a monetary amount, tolerating symbols, ISO codes,
// thousands separators and decimal commas
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", s)
	}

	if decimalComma.MatchString(cleaned) {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return d, nil
}

// dateLayouts are tried in order after a rule's own layout. Month-first
// numeric forms come before day-first ones.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"01/02/06",
	"1/2/06",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2.1.2006",
	"02-01-2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02 Jan 2006",
}

var spaces = regexp.MustCompile(`\s+`)

// ParseDate reads a calendar date. layout, when set, is tried first.
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// "Jan. 5, 2025"
	s = strings.Replace(s, ". ", " ", 1)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
