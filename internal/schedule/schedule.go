// Package schedule holds the temporal restriction primitives shared by
// access groups and credentials: a daily clock window and a weekday set.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Clock is a time of day expressed as minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

var ErrInvalidClock = errors.New("schedule: invalid clock value")

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock(h*60 + m), nil
}

// ClockOf extracts the clock component of a timestamp.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a half-open daily interval [Start, End).
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Valid reports whether the window is well formed (start strictly before end).
func (w Window) Valid() bool {
	return w.Start >= 0 && w.End <= minutesPerDay && w.Start < w.End
}

// Contains reports whether the clock component of t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	c := ClockOf(t)
	return c >= w.Start && c < w.End
}

// Weekdays is a set of permitted weekdays stored as a bitmask
// (bit 0 = Sunday, matching time.Weekday). The zero value means
// "no restriction": Allows returns true for every day.
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// WeekdaysOf builds a set from the given days.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			w |= 1 << uint(d)
		}
	}
	return w
}

// Allows reports whether d is a member. An empty set allows every day.
func (w Weekdays) Allows(d time.Weekday) bool {
	if w == 0 || w == allWeekdays {
		return true
	}
	return w&(1<<uint(d)) != 0
}

// IsZero reports whether no restriction is configured.
func (w Weekdays) IsZero() bool { return w == 0 }

// Days lists the members in Sunday..Saturday order.
func (w Weekdays) Days() []time.Weekday {
	if w == 0 {
		return nil
	}
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}

func (w Weekdays) MarshalJSON() ([]byte, error) {
	if w == 0 {
		return []byte("null"), nil
	}
	days := w.Days()
	ints := make([]int, len(days))
	for i, d := range days {
		ints[i] = int(d)
	}
	return json.Marshal(ints)
}

func (w *Weekdays) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*w = 0
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	var set Weekdays
	for _, d := range ints {
		if d < 0 || d > 6 {
			return fmt.Errorf("schedule: weekday out of range: %d", d)
		}
		set |= 1 << uint(d)
	}
	*w = set
	return nil
}

// SameOrAfterDay reports whether the calendar date of t is on or after
// the calendar date of ref.
func SameOrAfterDay(t, ref time.Time) bool {
	return !truncateDay(t).Before(truncateDay(ref))
}

// SameOrBeforeDay reports whether the calendar date of t is on or before
// the calendar date of ref.
func SameOrBeforeDay(t, ref time.Time) bool {
	return !truncateDay(t).After(truncateDay(ref))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
