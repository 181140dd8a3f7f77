// Package timeexpr parses the natural-language time bounds accepted by syncctl.
package timeexpr

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/markusmobius/go-dateparser"
)

// Range is a half-open interval [From, To). Zero values are open ends.
type Range struct {
	From time.Time
	To   time.Time
}

var periodRegex = regexp.MustCompile(`(?i)^(this|current|last|previous)\s+(day|week|month|year)$`)

var layouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

// Period resolves "today", "yesterday", "this week", "last month" and similar into a range.
// Weeks start on Monday.
func Period(expr string, now time.Time) (Range, bool) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch expr {
	case "today":
		return Range{From: day, To: day.AddDate(0, 0, 1)}, true
	case "yesterday":
		return Range{From: day.AddDate(0, 0, -1), To: day}, true
	}

	match := periodRegex.FindStringSubmatch(expr)
	if match == nil {
		return Range{}, false
	}
	previous := match[1] == "last" || match[1] == "previous"

	var r Range
	switch match[2] {
	case "day":
		r = Range{From: day, To: day.AddDate(0, 0, 1)}
		if previous {
			r = Range{From: day.AddDate(0, 0, -1), To: day}
		}
	case "week":
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := day.AddDate(0, 0, 1-weekday)
		if previous {
			start = start.AddDate(0, 0, -7)
		}
		r = Range{From: start, To: start.AddDate(0, 0, 7)}
	case "month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		if previous {
			start = start.AddDate(0, -1, 0)
		}
		r = Range{From: start, To: start.AddDate(0, 1, 0)}
	case "year":
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		if previous {
			start = start.AddDate(-1, 0, 0)
		}
		r = Range{From: start, To: start.AddDate(1, 0, 0)}
	}
	return r, true
}

// Parse resolves a single instant. Periods resolve to their start.
func Parse(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, nil
	}
	if strings.EqualFold(expr, "now") {
		return now, nil
	}
	if r, ok := Period(expr, now); ok {
		return r.From, nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, expr, now.Location()); err == nil {
			return t, nil
		}
	}

	result, err := dateparser.Parse(&dateparser.Configuration{CurrentTime: now}, expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse time %q: %w", expr, err)
	}
	return result.Time, nil
}

// ParseRange resolves --from and --to. A period given as from with no to covers the whole
// period; a period given as to ends where the period ends.
func ParseRange(from, to string, now time.Time) (Range, error) {
	if strings.TrimSpace(to) == "" {
		if r, ok := Period(from, now); ok {
			return r, nil
		}
	}

	var out Range
	var err error
	if out.From, err = Parse(from, now); err != nil {
		return Range{}, err
	}
	if r, ok := Period(to, now); ok {
		out.To = r.To
	} else if out.To, err = Parse(to, now); err != nil {
		return Range{}, err
	}

	if !out.From.IsZero() && !out.To.IsZero() && !out.To.After(out.From) {
		return Range{}, fmt.Errorf("range end %s is not after start %s", out.To.Format(time.RFC3339), out.From.Format(time.RFC3339))
	}
	return out, nil
}
