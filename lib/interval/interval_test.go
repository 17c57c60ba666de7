package interval

import (
	"testing"
	"time"
)

func TestParse_ValidExpressions(t *testing.T) {
	tests := []struct {
		expr     string
		expected time.Duration
	}{
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"30m", 30 * time.Minute},
		{"90m", 90 * time.Minute},
		{"1h", time.Hour},
		{"12h", 12 * time.Hour},
		{"24h", 24 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			iv, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("unexpected error parsing %q: %v", tc.expr, err)
			}
			if iv.Duration() != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, iv.Duration())
			}
			if iv.String() != tc.expr {
				t.Errorf("expected original %q, got %q", tc.expr, iv.String())
			}
		})
	}
}

func TestParse_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"missing count", "m"},
		{"missing unit", "5"},
		{"bad unit", "5s"},
		{"seconds not supported", "30s"},
		{"days not supported", "1d"},
		{"zero count", "0m"},
		{"trailing garbage", "5mm"},
		{"unit before count", "m5"},
		{"negative count", "-5m"},
		{"whitespace", "5 m"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.expr); err == nil {
				t.Errorf("expected error parsing %q, got nil", tc.expr)
			}
		})
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		expr       string
		lastSynced time.Time
		expected   bool
	}{
		{"never synced", "5m", time.Time{}, true},
		{"just synced", "5m", now, false},
		{"synced within interval", "5m", now.Add(-3 * time.Minute), false},
		{"exactly at boundary", "5m", now.Add(-5 * time.Minute), false},
		{"past boundary", "5m", now.Add(-5*time.Minute - time.Second), true},
		{"hour interval not due", "1h", now.Add(-30 * time.Minute), false},
		{"hour interval due", "1h", now.Add(-2 * time.Hour), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			iv, err := Parse(tc.expr)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if got := iv.Due(now, tc.lastSynced); got != tc.expected {
				t.Errorf("Due(%v, %v) = %v, expected %v", now, tc.lastSynced, got, tc.expected)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{5 * time.Minute, "5m"},
		{90 * time.Minute, "90m"},
		{time.Hour, "1h"},
		{6 * time.Hour, "6h"},
	}

	for _, tc := range tests {
		if got := Format(tc.d); got != tc.expected {
			t.Errorf("Format(%v) = %q, expected %q", tc.d, got, tc.expected)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	durations := []time.Duration{time.Minute, 15 * time.Minute, time.Hour, 8 * time.Hour}

	for _, d := range durations {
		iv, err := Parse(Format(d))
		if err != nil {
			t.Fatalf("round trip parse failed for %v: %v", d, err)
		}
		if iv.Duration() != d {
			t.Errorf("round trip for %v produced %v", d, iv.Duration())
		}
	}
}
