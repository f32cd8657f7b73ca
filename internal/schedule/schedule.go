package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies a recurrence shape.
type Type string

const (
	OneTime   Type = "one_time"
	EveryN    Type = "every_n"
	DailyAt   Type = "daily_at"
	WeeklyOn  Type = "weekly_on"
	MonthlyOn Type = "monthly_on"
)

// Spec describes when a task should run. Only the fields relevant to Type
// are consulted. Times of day are local to Timezone; computed triggers are
// always returned in UTC.
type Spec struct {
	Type            Type           `json:"type"`
	RunAt           string         `json:"run_at,omitempty"`           // one_time: RFC 3339
	IntervalSeconds int            `json:"interval_seconds,omitempty"` // every_n
	TimeOfDay       string         `json:"time_of_day,omitempty"`      // "HH:MM"
	Weekdays        []time.Weekday `json:"weekdays,omitempty"`         // weekly_on, 0=Sunday
	DayOfMonth      int            `json:"day_of_month,omitempty"`     // monthly_on
	Timezone        string         `json:"timezone,omitempty"`         // IANA, default UTC
}

// Validate rejects specs that could never produce a trigger.
func (s Spec) Validate() error {
	switch s.Type {
	case OneTime:
		if s.RunAt != "" {
			if _, err := time.Parse(time.RFC3339, s.RunAt); err != nil {
				return fmt.Errorf("run_at must be RFC 3339: %w", err)
			}
		}
	case EveryN:
		if s.IntervalSeconds <= 0 {
			return fmt.Errorf("interval_seconds must be positive")
		}
	case DailyAt:
		if s.TimeOfDay == "" {
			return fmt.Errorf("time_of_day is required for daily_at")
		}
	case WeeklyOn:
		if len(s.Weekdays) == 0 {
			return fmt.Errorf("weekly_on needs at least one weekday")
		}
	case MonthlyOn:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("day_of_month must be in 1..31")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
		}
	}
	return nil
}

// location resolves the spec's timezone, falling back to UTC.
func (s Spec) location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// clockTime parses "HH:MM", clamping out-of-range components instead of
// failing. Unparseable input clamps to 00:00.
func clockTime(s string) (hour, min int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 {
		hour, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
		min, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	if hour < 0 {
		hour = 0
	} else if hour > 23 {
		hour = 23
	}
	if min < 0 {
		min = 0
	} else if min > 59 {
		min = 59
	}
	return hour, min
}

// NextRun computes the trigger after from, in UTC. ok=false means the
// schedule is terminal (one_time, or a descriptor that cannot produce a next
// run). NextRun computes subsequent triggers only; the first trigger comes
// from FirstRun at scheduling time.
func NextRun(s Spec, from time.Time) (next time.Time, ok bool) {
	loc := s.location()
	local := from.In(loc)

	switch s.Type {
	case OneTime:
		return time.Time{}, false

	case EveryN:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, false
		}
		return from.Add(time.Duration(s.IntervalSeconds) * time.Second).UTC(), true

	case DailyAt:
		h, m := clockTime(s.TimeOfDay)
		cand := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, loc)
		if !cand.After(local) {
			cand = cand.AddDate(0, 0, 1)
		}
		return cand.UTC(), true

	case WeeklyOn:
		if len(s.Weekdays) == 0 {
			return time.Time{}, false
		}
		h, m := clockTime(s.TimeOfDay)
		days := make(map[time.Weekday]bool, len(s.Weekdays))
		for _, d := range s.Weekdays {
			days[d] = true
		}
		for i := 0; i <= 14; i++ {
			day := local.AddDate(0, 0, i)
			if !days[day.Weekday()] {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
			if cand.After(local) {
				return cand.UTC(), true
			}
		}
		return time.Time{}, false

	case MonthlyOn:
		if s.DayOfMonth < 1 {
			return time.Time{}, false
		}
		h, m := clockTime(s.TimeOfDay)
		for i := 0; i <= 24; i++ {
			first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, i, 0)
			day := s.DayOfMonth
			if last := daysInMonth(first.Year(), first.Month()); day > last {
				day = last
			}
			cand := time.Date(first.Year(), first.Month(), day, h, m, 0, 0, loc)
			if cand.After(local) {
				return cand.UTC(), true
			}
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}

// FirstRun computes the initial trigger when a task is created. For one_time
// it honours run_at (or fires immediately when absent); recurring specs
// start at their next natural occurrence.
func FirstRun(s Spec, now time.Time) (time.Time, bool) {
	if s.Type == OneTime {
		if s.RunAt == "" {
			return now.UTC(), true
		}
		at, err := time.Parse(time.RFC3339, s.RunAt)
		if err != nil {
			return time.Time{}, false
		}
		return at.UTC(), true
	}
	return NextRun(s, now)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseWeekday maps an English weekday name (full or 3-letter) to its Go
// value.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// Describe renders a human-readable summary for task listings.
func (s Spec) Describe() string {
	switch s.Type {
	case OneTime:
		if s.RunAt != "" {
			return "once at " + s.RunAt
		}
		return "once"
	case EveryN:
		return fmt.Sprintf("every %ds", s.IntervalSeconds)
	case DailyAt:
		return fmt.Sprintf("daily at %s (%s)", s.TimeOfDay, s.locationName())
	case WeeklyOn:
		names := make([]string, 0, len(s.Weekdays))
		for _, d := range s.Weekdays {
			names = append(names, d.String()[:3])
		}
		return fmt.Sprintf("weekly on %s at %s (%s)", strings.Join(names, ","), s.TimeOfDay, s.locationName())
	case MonthlyOn:
		return fmt.Sprintf("monthly on day %d at %s (%s)", s.DayOfMonth, s.TimeOfDay, s.locationName())
	}
	return string(s.Type)
}

func (s Spec) locationName() string {
	if s.Timezone == "" {
		return "UTC"
	}
	return s.Timezone
}
