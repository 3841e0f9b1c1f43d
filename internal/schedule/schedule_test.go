package schedule

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestMatchesVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		expr    string
		instant string
		want    bool
	}{
		{name: "daily preset at nine", expr: "0 9 * * *", instant: "2026-01-19T09:00:00Z", want: true},
		{name: "daily preset one minute late", expr: "0 9 * * *", instant: "2026-01-19T09:01:00Z", want: false},
		{name: "daily preset wrong hour", expr: "0 9 * * *", instant: "2026-01-19T10:00:00Z", want: false},
		{name: "seconds are irrelevant", expr: "0 9 * * *", instant: "2026-01-19T09:00:45Z", want: true},
		{name: "wildcard everything", expr: "* * * * *", instant: "2026-06-03T23:59:00Z", want: true},
		{name: "every five minutes hit", expr: "*/5 * * * *", instant: "2026-01-19T17:25:00Z", want: true},
		{name: "every five minutes miss", expr: "*/5 * * * *", instant: "2026-01-19T17:26:00Z", want: false},
		{name: "step matches zero", expr: "*/15 * * * *", instant: "2026-01-19T17:00:00Z", want: true},
		{name: "minute list hit", expr: "0,30 * * * *", instant: "2026-01-19T17:30:00Z", want: true},
		{name: "minute list miss", expr: "0,30 * * * *", instant: "2026-01-19T17:31:00Z", want: false},
		{name: "hour range hit", expr: "0 9-17 * * *", instant: "2026-01-19T13:00:00Z", want: true},
		{name: "hour range edge", expr: "0 9-17 * * *", instant: "2026-01-19T17:00:00Z", want: true},
		{name: "hour range miss", expr: "0 9-17 * * *", instant: "2026-01-19T18:00:00Z", want: false},
		{name: "list of ranges", expr: "0 1-2,9-10 * * *", instant: "2026-01-19T10:00:00Z", want: true},
		// 2026-01-19 is a Monday, 2026-01-18 a Sunday.
		{name: "weekly preset on monday", expr: "0 9 * * 1", instant: "2026-01-19T09:00:00Z", want: true},
		{name: "weekly preset on sunday", expr: "0 9 * * 1", instant: "2026-01-18T09:00:00Z", want: false},
		{name: "sunday is zero", expr: "0 9 * * 0", instant: "2026-01-18T09:00:00Z", want: true},
		{name: "monthly preset on the first", expr: "0 9 1 * *", instant: "2026-02-01T09:00:00Z", want: true},
		{name: "monthly preset mid month", expr: "0 9 1 * *", instant: "2026-02-15T09:00:00Z", want: false},
		{name: "month field", expr: "0 9 * 6 *", instant: "2026-06-10T09:00:00Z", want: true},
		{name: "month field miss", expr: "0 9 * 6 *", instant: "2026-07-10T09:00:00Z", want: false},
		{name: "range step form never matches", expr: "1-30/5 * * * *", instant: "2026-01-19T17:05:00Z", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Matches(tt.expr, mustParse(t, tt.instant))
			if err != nil {
				t.Fatalf("Matches(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Fatalf("Matches(%q, %s) = %v, want %v", tt.expr, tt.instant, got, tt.want)
			}
		})
	}
}

func TestMatchesEvaluatesInUTC(t *testing.T) {
	t.Parallel()
	// 09:00 UTC expressed with a +02:00 offset.
	instant := mustParse(t, "2026-01-19T11:00:00+02:00")
	got, err := Matches("0 9 * * *", instant)
	if err != nil {
		t.Fatalf("Matches error: %v", err)
	}
	if !got {
		t.Fatal("expected offset instant to match its UTC minute")
	}
}

func TestMatchesMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
	}{
		{name: "too few fields", expr: "0 9 * *"},
		{name: "too many fields", expr: "0 9 * * * *"},
		{name: "empty", expr: ""},
		{name: "garbage literal", expr: "x 9 * * *"},
		{name: "garbage range", expr: "1-x 9 * * *"},
		{name: "zero step", expr: "*/0 * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Matches(tt.expr, time.Now())
			if err == nil {
				t.Fatalf("Matches(%q): expected error", tt.expr)
			}
			if got {
				t.Fatalf("Matches(%q): malformed expression must never match", tt.expr)
			}
		})
	}
}

func TestEffectiveCron(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		scheduleType string
		cronExpr     string
		want         string
	}{
		{name: "daily preset", scheduleType: TypeDaily, want: "0 9 * * *"},
		{name: "weekly preset", scheduleType: TypeWeekly, want: "0 9 * * 1"},
		{name: "monthly preset", scheduleType: TypeMonthly, want: "0 9 1 * *"},
		{name: "explicit wins over preset", scheduleType: TypeDaily, cronExpr: "30 6 * * *", want: "30 6 * * *"},
		{name: "custom with expression", scheduleType: TypeCustom, cronExpr: "*/10 * * * *", want: "*/10 * * * *"},
		{name: "custom without expression", scheduleType: TypeCustom, want: ""},
		{name: "none", scheduleType: TypeNone, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EffectiveCron(tt.scheduleType, tt.cronExpr); got != tt.want {
				t.Fatalf("EffectiveCron(%q, %q) = %q, want %q", tt.scheduleType, tt.cronExpr, got, tt.want)
			}
		})
	}
}

func TestSameMinute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "same minute different seconds", a: "2026-01-19T17:25:15Z", b: "2026-01-19T17:25:45Z", want: true},
		{name: "adjacent minutes", a: "2026-01-19T17:24:00Z", b: "2026-01-19T17:25:00Z", want: false},
		{name: "midnight boundary", a: "2026-01-19T23:59:59Z", b: "2026-01-20T00:00:00Z", want: false},
		{name: "identical", a: "2026-01-19T17:25:00Z", b: "2026-01-19T17:25:00Z", want: true},
		{name: "offset normalized to utc", a: "2026-01-19T19:25:10+02:00", b: "2026-01-19T17:25:50Z", want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SameMinute(mustParse(t, tt.a), mustParse(t, tt.b)); got != tt.want {
				t.Fatalf("SameMinute(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestMinuteKeyDiscardsSeconds(t *testing.T) {
	t.Parallel()
	a := MinuteKey(mustParse(t, "2026-01-19T17:25:15Z"))
	b := MinuteKey(mustParse(t, "2026-01-19T17:25:59Z"))
	if a != b {
		t.Fatalf("keys differ for the same minute: %q vs %q", a, b)
	}
	if a != "2026-01-19T17:25:00Z" {
		t.Fatalf("unexpected key %q", a)
	}
}
