package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, loc *time.Location, y int, m time.Month, d, hour int) time.Time {
	t.Helper()
	return time.Date(y, m, d, hour, 0, 0, 0, loc)
}

func TestDailyNextAddsOneDay(t *testing.T) {
	r := &Recurrence{Kind: KindDaily}
	start := date(t, time.UTC, 2025, time.January, 1, 9)

	fire := start
	for k := 1; k <= 3; k++ {
		fire = r.Next(fire, time.UTC)
		assert.Equal(t, start.AddDate(0, 0, k), fire, "fire %d", k)
	}
}

func TestDailyPreservesWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	r := &Recurrence{Kind: KindDaily}

	// DST starts 2025-03-30 in Berlin.
	prev := date(t, loc, 2025, time.March, 29, 9)
	next := r.Next(prev, loc)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Day())
}

func TestWeeklyWithoutSubsetAddsSevenDays(t *testing.T) {
	r := &Recurrence{Kind: KindWeekly}
	prev := date(t, time.UTC, 2025, time.January, 6, 8) // Monday
	assert.Equal(t, date(t, time.UTC, 2025, time.January, 13, 8), r.Next(prev, time.UTC))
}

func TestWeeklySubsetScansToNextAllowedDay(t *testing.T) {
	r := &Recurrence{Kind: KindWeekly, Weekdays: []time.Weekday{time.Monday, time.Friday}}

	monday := date(t, time.UTC, 2025, time.January, 6, 8)
	friday := r.Next(monday, time.UTC)
	assert.Equal(t, time.Friday, friday.Weekday())
	assert.Equal(t, 10, friday.Day())

	nextMonday := r.Next(friday, time.UTC)
	assert.Equal(t, time.Monday, nextMonday.Weekday())
	assert.Equal(t, 13, nextMonday.Day())
}

func TestMonthlyClampShortMonth(t *testing.T) {
	r := &Recurrence{Kind: KindMonthly, DayOfMonth: 31, Clamp: true}

	prev := date(t, time.UTC, 2025, time.January, 31, 10)
	feb := r.Next(prev, time.UTC)
	assert.Equal(t, date(t, time.UTC, 2025, time.February, 28, 10), feb)

	mar := r.Next(feb, time.UTC)
	assert.Equal(t, date(t, time.UTC, 2025, time.March, 31, 10), mar)
}

func TestMonthlyWithoutPinKeepsDay(t *testing.T) {
	r := &Recurrence{Kind: KindMonthly}
	prev := date(t, time.UTC, 2025, time.April, 15, 7)
	assert.Equal(t, date(t, time.UTC, 2025, time.May, 15, 7), r.Next(prev, time.UTC))
}

func TestValidate(t *testing.T) {
	one := 1
	zero := 0
	now := time.Now()

	cases := []struct {
		name string
		r    Recurrence
		ok   bool
	}{
		{"daily", Recurrence{Kind: KindDaily}, true},
		{"weekly with subset", Recurrence{Kind: KindWeekly, Weekdays: []time.Weekday{time.Monday}}, true},
		{"monthly clamped", Recurrence{Kind: KindMonthly, DayOfMonth: 31, Clamp: true}, true},
		{"unknown kind", Recurrence{Kind: "hourly"}, false},
		{"weekdays on daily", Recurrence{Kind: KindDaily, Weekdays: []time.Weekday{time.Monday}}, false},
		{"day of month on weekly", Recurrence{Kind: KindWeekly, DayOfMonth: 5}, false},
		{"day of month out of range", Recurrence{Kind: KindMonthly, DayOfMonth: 32}, false},
		{"zero count", Recurrence{Kind: KindDaily, Count: &zero}, false},
		{"count and until", Recurrence{Kind: KindDaily, Count: &one, Until: &now}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.r.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
