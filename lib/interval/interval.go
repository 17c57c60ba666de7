package interval

import (
	"fmt"
	"strconv"
	"time"
	"unicode"
)

// Interval represents a parsed polling interval
type Interval struct {
	count int
	unit  byte // 'm' or 'h'

	// Store original expression for debugging
	original string
}

// Parse parses a polling interval expression of the form "<count><unit>"
// where count is a positive integer and unit is 'm' (minutes) or 'h' (hours).
// Returns error if:
// - The expression is empty
// - The count is missing, non-numeric, or zero
// - The unit is missing or not one of m/h
func Parse(expr string) (*Interval, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty interval expression")
	}

	// Split into digit prefix and unit suffix
	digitEnd := 0
	for digitEnd < len(expr) && unicode.IsDigit(rune(expr[digitEnd])) {
		digitEnd++
	}

	if digitEnd == 0 {
		return nil, fmt.Errorf("invalid interval %q: missing count", expr)
	}

	if digitEnd == len(expr) {
		return nil, fmt.Errorf("invalid interval %q: missing unit", expr)
	}

	if digitEnd != len(expr)-1 {
		return nil, fmt.Errorf("invalid interval %q: unit must be a single character", expr)
	}

	count, err := strconv.Atoi(expr[:digitEnd])
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
	}

	if count <= 0 {
		return nil, fmt.Errorf("invalid interval %q: count must be positive", expr)
	}

	unit := expr[digitEnd]
	if unit != 'm' && unit != 'h' {
		return nil, fmt.Errorf("invalid interval %q: unit must be 'm' or 'h'", expr)
	}

	return &Interval{
		count:    count,
		unit:     unit,
		original: expr,
	}, nil
}

// Duration returns the interval as a time.Duration
func (iv *Interval) Duration() time.Duration {
	switch iv.unit {
	case 'h':
		return time.Duration(iv.count) * time.Hour
	default:
		return time.Duration(iv.count) * time.Minute
	}
}

// Due reports whether a sync is due at 'now' given the time of the last sync.
// A zero lastSynced means the automation has never synced and is always due.
func (iv *Interval) Due(now, lastSynced time.Time) bool {
	if lastSynced.IsZero() {
		return true
	}
	return now.After(lastSynced.Add(iv.Duration()))
}

// String returns the original expression
func (iv *Interval) String() string {
	return iv.original
}

// Format renders a duration back into interval syntax. Durations that are
// whole hours use the hour unit, everything else is truncated to minutes.
func Format(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
