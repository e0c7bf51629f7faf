package schedule

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := map[string]struct {
		want Clock
		ok   bool
	}{
		"08:00":  {want: 480, ok: true},
		"00:00":  {want: 0, ok: true},
		"23:59":  {want: 1439, ok: true},
		"24:00":  {ok: false},
		"12:60":  {ok: false},
		"siesta": {ok: false},
	}
	for input, tc := range cases {
		got, err := ParseClock(input)
		if tc.ok && err != nil {
			t.Fatalf("ParseClock(%q): %v", input, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseClock(%q): expected error", input)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseClock(%q)=%d, want %d", input, got, tc.want)
		}
	}
}

func TestWindowHalfOpen(t *testing.T) {
	w := Window{Start: 480, End: 1080} // [08:00, 18:00)
	at := func(h, m int) time.Time {
		return time.Date(2025, 1, 3, h, m, 0, 0, time.UTC)
	}
	if !w.Contains(at(8, 0)) {
		t.Fatal("start boundary should be inside")
	}
	if w.Contains(at(18, 0)) {
		t.Fatal("end boundary should be outside")
	}
	if !w.Contains(at(17, 59)) {
		t.Fatal("17:59 should be inside")
	}
	if w.Contains(at(7, 59)) {
		t.Fatal("07:59 should be outside")
	}
}

func TestWeekdaysEmptyAllowsAll(t *testing.T) {
	var w Weekdays
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !w.Allows(d) {
			t.Fatalf("empty set should allow %v", d)
		}
	}
}

func TestWeekdaysMembership(t *testing.T) {
	w := WeekdaysOf(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	if w.Allows(time.Saturday) || w.Allows(time.Sunday) {
		t.Fatal("weekend should not be allowed")
	}
	if !w.Allows(time.Tuesday) {
		t.Fatal("Tuesday should be allowed")
	}
}

func TestWeekdaysJSONRoundTrip(t *testing.T) {
	w := WeekdaysOf(time.Monday, time.Friday)
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[1,5]" {
		t.Fatalf("unexpected encoding: %s", data)
	}
	var back Weekdays
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != w {
		t.Fatalf("round trip mismatch: %v != %v", back, w)
	}
}

func TestDayComparisons(t *testing.T) {
	end := time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
	sameDayLater := time.Date(2025, 1, 7, 23, 30, 0, 0, time.UTC)
	nextDay := time.Date(2025, 1, 8, 0, 1, 0, 0, time.UTC)

	if !SameOrBeforeDay(sameDayLater, end) {
		t.Fatal("late on the end date should still count")
	}
	if SameOrBeforeDay(nextDay, end) {
		t.Fatal("the day after the end date should not count")
	}
	if !SameOrAfterDay(sameDayLater, end) {
		t.Fatal("end date itself should be on-or-after")
	}
}
