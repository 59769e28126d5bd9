package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a local wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", value)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// On returns ref's calendar date at this time of day
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Window is a daily time range during which a break may start
type Window struct {
	Start        TimeOfDay
	End          TimeOfDay
	EndInclusive bool
}

// Contains reports whether now falls inside the window on now's date
func (w Window) Contains(now time.Time) bool {
	start := w.Start.On(now)
	end := w.End.On(now)
	if now.Before(start) {
		return false
	}
	if w.EndInclusive {
		return !now.After(end)
	}
	return now.Before(end)
}

// BreakRule describes the quota, limits and wording for one break type
type BreakRule struct {
	Type  BreakType
	Label string
	Emoji string
	Quota int

	// Limit bounds the break's duration; zero means the window end bounds it instead
	Limit time.Duration
	// Window restricts when the break may start; nil means any time
	Window *Window

	QuotaMessage    string
	WindowName      string
	ReminderMessage string
}

// ShiftPolicy holds the shift timings and break rules
type ShiftPolicy struct {
	WorkStart    TimeOfDay
	ReminderLead time.Duration
	Rules        map[BreakType]BreakRule
}

// DefaultShiftPolicy returns the standard shift: 11:00 start, 6×10 min toilet,
// dinner 22:00–22:30 and rest 16:15–17:45
func DefaultShiftPolicy() ShiftPolicy {
	return ShiftPolicy{
		WorkStart:    TimeOfDay{Hour: 11, Minute: 0},
		ReminderLead: time.Minute,
		Rules: map[BreakType]BreakRule{
			BreakToilet: {
				Type:            BreakToilet,
				Label:           "Toilet",
				Emoji:           "🚽",
				Quota:           6,
				Limit:           10 * time.Minute,
				QuotaMessage:    "You have reached the maximum of 6 toilet breaks for today.",
				ReminderMessage: "🚨 Reminder: You have 1 minute left on your toilet break.",
			},
			BreakEat: {
				Type:  BreakEat,
				Label: "Eat",
				Emoji: "🍔",
				Quota: 1,
				Window: &Window{
					Start: TimeOfDay{Hour: 22, Minute: 0},
					End:   TimeOfDay{Hour: 22, Minute: 30},
				},
				QuotaMessage:    "You have already taken your dinner break for today.",
				WindowName:      "Dinner break",
				ReminderMessage: "🚨 Reminder: The dinner break period ends in 1 minute.",
			},
			BreakRest: {
				Type:  BreakRest,
				Label: "Rest",
				Emoji: "🛌",
				Quota: 1,
				Window: &Window{
					Start:        TimeOfDay{Hour: 16, Minute: 15},
					End:          TimeOfDay{Hour: 17, Minute: 45},
					EndInclusive: true,
				},
				QuotaMessage:    "You have already taken your rest break for today.",
				WindowName:      "Rest break",
				ReminderMessage: "🚨 Reminder: The rest break period ends in 1 minute.",
			},
		},
	}
}

// Rule returns the rule for b
func (p ShiftPolicy) Rule(b BreakType) (BreakRule, bool) {
	rule, ok := p.Rules[b]
	return rule, ok
}
