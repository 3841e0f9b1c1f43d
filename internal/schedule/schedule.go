// Package schedule evaluates task schedules against trigger instants.
//
// The evaluator deliberately supports the same restricted 5-field cron
// grammar the rest of the system produces: *, literals, comma lists,
// inclusive ranges, and */n steps. Anything else is a configuration
// error, never a crash.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule type presets. Tasks created with a preset and no explicit
// cron expression fire at 09:00 UTC.
const (
	TypeDaily   = "daily"
	TypeWeekly  = "weekly"
	TypeMonthly = "monthly"
	TypeCustom  = "custom"
	TypeNone    = "none"
)

var presetCrons = map[string]string{
	TypeDaily:   "0 9 * * *",
	TypeWeekly:  "0 9 * * 1", // Monday
	TypeMonthly: "0 9 1 * *",
}

// EffectiveCron resolves a schedule_type/cron_expression pair to the
// expression actually evaluated. An explicit expression always wins over
// the preset. Returns "" when the task has no runnable schedule.
func EffectiveCron(scheduleType, cronExpression string) string {
	if cronExpression != "" {
		return cronExpression
	}
	return presetCrons[scheduleType]
}

// Matches reports whether the 5-field cron expression matches the given
// instant, evaluated in UTC. A malformed expression returns false along
// with the parse error; callers treat that as a configuration problem,
// not a crash.
func Matches(expr string, instant time.Time) (bool, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return false, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}

	t := instant.UTC()
	values := [5]int{
		t.Minute(),
		t.Hour(),
		t.Day(),
		int(t.Month()),
		int(t.Weekday()), // 0=Sunday, matching cron convention
	}

	for i, field := range fields {
		ok, err := matchField(field, values[i])
		if err != nil {
			return false, fmt.Errorf("cron expression %q: %w", expr, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Validate parses the expression without evaluating it.
func Validate(expr string) error {
	_, err := Matches(expr, time.Unix(0, 0))
	return err
}

func matchField(field string, value int) (bool, error) {
	if field == "*" {
		return true, nil
	}

	// Steps: only the */n form is supported. a-b/n is out of scope and
	// never matches.
	if base, step, found := strings.Cut(field, "/"); found {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false, fmt.Errorf("bad step in field %q", field)
		}
		if base != "*" {
			return false, nil
		}
		return value%n == 0, nil
	}

	for _, part := range strings.Split(field, ",") {
		if lo, hi, found := strings.Cut(part, "-"); found {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				return false, fmt.Errorf("bad range in field %q", field)
			}
			if start <= value && value <= end {
				return true, nil
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return false, fmt.Errorf("bad value in field %q", field)
		}
		if value == n {
			return true, nil
		}
	}
	return false, nil
}

// SameMinute reports whether two instants fall in the same UTC calendar
// minute. Seconds and sub-second components are ignored. This is the
// fast-skip predicate: a task whose last_run_at is already in the
// trigger's minute has nothing left to do this firing.
func SameMinute(a, b time.Time) bool {
	return a.UTC().Truncate(time.Minute).Equal(b.UTC().Truncate(time.Minute))
}

// MinuteKey renders the instant truncated to minute resolution as the
// canonical claim key component. Every invoker computing a key for "the
// same" trigger minute must arrive at the same string, so the format is
// fixed RFC3339 UTC.
func MinuteKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(time.RFC3339)
}
