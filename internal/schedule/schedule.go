package schedule

import (
	"fmt"
	"time"
)

const (
	TypeDaily   = "daily"
	TypeWeekly  = "weekly"
	TypeMonthly = "monthly"
)

// Spec is one clause of a rule's recurrence: a tagged union over
// daily/weekly/monthly, discriminated by Type. Days holds days of week
// (0=Sunday..6=Saturday) for weekly specs; Dates holds days of month
// (1..31) for monthly specs.
type Spec struct {
	Type  string `json:"type"`
	Time  string `json:"time"`
	Days  []int  `json:"days,omitempty"`
	Dates []int  `json:"dates,omitempty"`
}

// Matches reports whether any spec fires at now. Matching is exact to the
// minute: a spec whose HH:MM differs from now's is disqualified outright.
// The first matching spec wins; specs are ORed, never combined.
func Matches(specs []Spec, now time.Time) bool {
	hhmm := now.Format("15:04")
	dow := int(now.Weekday())
	dom := now.Day()

	for _, s := range specs {
		if s.Time != hhmm {
			continue
		}
		switch s.Type {
		case TypeDaily:
			return true
		case TypeWeekly:
			if containsInt(s.Days, dow) {
				return true
			}
		case TypeMonthly:
			if containsInt(s.Dates, dom) {
				return true
			}
		}
	}
	return false
}

// DueDate adds day then hour offsets to firedAt. Both zero means no
// deadline. Offsets are validated at rule creation, not here.
func DueDate(days, hours int, firedAt time.Time) *time.Time {
	if days == 0 && hours == 0 {
		return nil
	}
	due := firedAt.AddDate(0, 0, days).Add(time.Duration(hours) * time.Hour)
	return &due
}

// Validate rejects malformed specs so the evaluation engine never sees
// them: unknown type, unparseable time, day-of-week outside 0..6,
// day-of-month outside 1..31, or an empty day/date set for the variants
// that require one.
func Validate(specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("at least one schedule entry is required")
	}
	for i, s := range specs {
		if _, err := time.Parse("15:04", s.Time); err != nil {
			return fmt.Errorf("schedule %d: invalid time %q (want HH:MM)", i, s.Time)
		}
		switch s.Type {
		case TypeDaily:
		case TypeWeekly:
			if len(s.Days) == 0 {
				return fmt.Errorf("schedule %d: weekly requires days", i)
			}
			for _, d := range s.Days {
				if d < 0 || d > 6 {
					return fmt.Errorf("schedule %d: day of week %d out of range 0..6", i, d)
				}
			}
		case TypeMonthly:
			if len(s.Dates) == 0 {
				return fmt.Errorf("schedule %d: monthly requires dates", i)
			}
			for _, d := range s.Dates {
				if d < 1 || d > 31 {
					return fmt.Errorf("schedule %d: day of month %d out of range 1..31", i, d)
				}
			}
		default:
			return fmt.Errorf("schedule %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// ValidateDueOffsets rejects negative due offsets at rule-creation time.
func ValidateDueOffsets(days, hours int) error {
	if days < 0 {
		return fmt.Errorf("due_duration_days must not be negative")
	}
	if hours < 0 {
		return fmt.Errorf("due_duration_hours must not be negative")
	}
	return nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
