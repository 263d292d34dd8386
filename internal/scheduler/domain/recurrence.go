package domain

import (
	"fmt"
	"time"
)

// Recurrence kinds.
const (
	KindDaily   = "daily"
	KindWeekly  = "weekly"
	KindMonthly = "monthly"
)

// Recurrence re-arms a job after each successful fire. All math runs in
// one fixed location and preserves the wall-clock hour across DST.
type Recurrence struct {
	Kind string `json:"kind"`

	// Weekdays restricts weekly fires to a subset (time.Weekday values,
	// 0=Sunday). Empty means every 7 days from the previous fire.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// DayOfMonth pins monthly fires to a day 1..31. Zero means "same day
	// as the previous fire". Clamp shortens to the last valid day in
	// short months; without it an overflowing day rolls into the next
	// month per calendar arithmetic.
	DayOfMonth int  `json:"day_of_month,omitempty"`
	Clamp      bool `json:"clamp,omitempty"`

	// At most one bound: fire until a timestamp, or a fixed number of
	// fires counting the first one.
	Until *time.Time `json:"until,omitempty"`
	Count *int       `json:"count,omitempty"`
}

func (r *Recurrence) Validate() error {
	switch r.Kind {
	case KindDaily, KindWeekly, KindMonthly:
	default:
		return fmt.Errorf("recurrence: unknown kind %q", r.Kind)
	}
	for _, d := range r.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("recurrence: invalid weekday %d", d)
		}
	}
	if len(r.Weekdays) > 0 && r.Kind != KindWeekly {
		return fmt.Errorf("recurrence: weekdays only apply to weekly")
	}
	if r.DayOfMonth != 0 && (r.DayOfMonth < 1 || r.DayOfMonth > 31) {
		return fmt.Errorf("recurrence: day_of_month must be 1..31")
	}
	if r.DayOfMonth != 0 && r.Kind != KindMonthly {
		return fmt.Errorf("recurrence: day_of_month only applies to monthly")
	}
	if r.Count != nil && *r.Count < 1 {
		return fmt.Errorf("recurrence: count must be at least 1")
	}
	if r.Count != nil && r.Until != nil {
		return fmt.Errorf("recurrence: until and count are mutually exclusive")
	}
	return nil
}

// Next computes the fire following prev. Decomposing to wall-clock fields
// and rebuilding with time.Date keeps the local hour stable when a DST
// transition falls inside the step.
func (r *Recurrence) Next(prev time.Time, loc *time.Location) time.Time {
	t := prev.In(loc)
	switch r.Kind {
	case KindDaily:
		return addWall(t, 0, 0, 1, loc)
	case KindWeekly:
		if len(r.Weekdays) == 0 {
			return addWall(t, 0, 0, 7, loc)
		}
		for i := 1; i <= 7; i++ {
			n := addWall(t, 0, 0, i, loc)
			if r.allowsWeekday(n.Weekday()) {
				return n
			}
		}
		return addWall(t, 0, 0, 7, loc)
	case KindMonthly:
		day := r.DayOfMonth
		if day == 0 {
			day = t.Day()
		}
		y, m, _ := t.Date()
		m++
		if r.Clamp {
			if last := daysIn(y, m, loc); day > last {
				day = last
			}
		}
		return time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return t
}

func (r *Recurrence) allowsWeekday(d time.Weekday) bool {
	for _, w := range r.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func addWall(t time.Time, years, months, days int, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y+years, m+time.Month(months), d+days,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day zero of the following month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 12, 0, 0, 0, loc).Day()
}
