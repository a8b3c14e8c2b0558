package util

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterTokens(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	if rl.Remaining() != 2 {
		t.Errorf("Remaining = %d, want 2", rl.Remaining())
	}
	if !rl.TryTake() || !rl.TryTake() {
		t.Fatal("expected two tokens available")
	}
	if rl.TryTake() {
		t.Error("bucket should be empty after burst is consumed")
	}
	if !rl.Throttled() {
		t.Error("limiter should report throttled when empty")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.TryTake() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait should return the context error when cancelled")
	}
}

func TestTradingDaysSkipsWeekendsAndHolidays(t *testing.T) {
	cal := NewTradingCalendar()

	// 2021-01-04 (Mon) .. 2021-01-08 (Fri): five straight trading days.
	days := cal.TradingDays(
		time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 8, 0, 0, 0, 0, time.UTC),
	)
	if len(days) != 5 {
		t.Fatalf("TradingDays returned %d days, want 5", len(days))
	}

	// New Year's Day 2021 (Friday) is a holiday.
	if cal.IsTradingDay(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("2021-01-01 should be a holiday")
	}
	// Saturday.
	if cal.IsTradingDay(time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("2021-01-02 is a Saturday")
	}
	// Good Friday 2021 was April 2.
	if cal.IsTradingDay(time.Date(2021, 4, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("2021-04-02 (Good Friday) should be a holiday")
	}
	// Juneteenth observed from 2022: 2023-06-19 is a Monday holiday.
	if cal.IsTradingDay(time.Date(2023, 6, 19, 0, 0, 0, 0, time.UTC)) {
		t.Error("2023-06-19 (Juneteenth) should be a holiday")
	}
	// Juneteenth was not observed in 2021.
	if !cal.IsTradingDay(time.Date(2021, 6, 18, 0, 0, 0, 0, time.UTC)) {
		t.Error("2021-06-18 should be a trading day")
	}
}

func TestTradingCalendarConcurrentAccess(t *testing.T) {
	cal := NewTradingCalendar()

	// Collector workers share one calendar; uncached years must be safe to
	// populate from many goroutines at once.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(year int) {
			defer wg.Done()
			for y := year; y < year+4; y++ {
				days := cal.TradingDays(
					time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC),
				)
				if len(days) < 245 || len(days) > 255 {
					t.Errorf("year %d: %d trading days", y, len(days))
				}
			}
		}(2015 + i)
	}
	wg.Wait()
}

func TestThanksgivingAndChristmas(t *testing.T) {
	cal := NewTradingCalendar()

	if cal.IsTradingDay(time.Date(2021, 11, 25, 0, 0, 0, 0, time.UTC)) {
		t.Error("Thanksgiving 2021 should be a holiday")
	}
	// Christmas 2021 fell on Saturday, observed Friday Dec 24.
	if cal.IsTradingDay(time.Date(2021, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Error("2021-12-24 (observed Christmas) should be a holiday")
	}
}
