package util

import (
	"sync"
	"time"
)

// TradingCalendar answers which days the US equity market is open. It covers
// weekends and the fixed NYSE holiday schedule; ad-hoc closures (e.g.
// mourning days) are not modelled and surface as gaps to be re-checked.
// Safe for concurrent use: one calendar is shared by all collector workers.
type TradingCalendar struct {
	mu           sync.Mutex
	holidayCache map[int]map[string]struct{}
}

// NewTradingCalendar creates a calendar with an empty per-year holiday cache.
func NewTradingCalendar() *TradingCalendar {
	return &TradingCalendar{holidayCache: make(map[int]map[string]struct{})}
}

// IsTradingDay reports whether t falls on a regular US trading day.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := tc.holidays(t.Year())[t.Format("2006-01-02")]
	return !holiday
}

// TradingDays returns every trading day in [start, end], normalized to
// midnight UTC, in ascending order.
func (tc *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for ; !d.After(last); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// holidays returns the observed market holidays for a year, keyed by
// YYYY-MM-DD. The returned map is never mutated after construction, so
// callers may read it without holding the lock.
func (tc *TradingCalendar) holidays(year int) map[string]struct{} {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if h, ok := tc.holidayCache[year]; ok {
		return h
	}

	var dates []time.Time

	dates = append(dates,
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),   // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),                     // MLK Day
		nthWeekday(year, time.February, time.Monday, 3),                    // Presidents' Day
		goodFriday(year),                                                   //
		lastWeekday(year, time.May, time.Monday),                           // Memorial Day
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),                   // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),                  // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)), // Christmas
	)
	if year >= 2022 {
		dates = append(dates, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC))) // Juneteenth
	}

	h := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		h[d.Format("2006-01-02")] = struct{}{}
	}
	tc.holidayCache[year] = h
	return h
}

// observed shifts a fixed-date holiday that lands on a weekend to the
// adjacent weekday (Saturday -> Friday, Sunday -> Monday).
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday returns Good Friday for a year, two days before Easter Sunday
// (anonymous Gregorian computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
