package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
)

// dayBar builds a clean daily bar: non-integer prices, healthy volume.
func dayBar(day time.Time, close float64) domain.MarketBar {
	c := decimal.NewFromFloat(close)
	spread := decimal.NewFromFloat(0.75)
	return domain.MarketBar{
		Symbol:    "SPY",
		Timestamp: day,
		Open:      c.Sub(decimal.NewFromFloat(0.25)),
		High:      c.Add(spread),
		Low:       c.Sub(spread),
		Close:     c,
		Volume:    50_000_000,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestValidateCleanWeek(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 8)

	var bars []domain.MarketBar
	for i := 0; i < 5; i++ {
		bars = append(bars, dayBar(start.AddDate(0, 0, i), 370.12+float64(i)*0.4))
	}

	r := e.Validate("SPY", bars, start, end, domain.IntervalDaily)

	if r.ExpectedDays != 5 || r.ActualDays != 5 {
		t.Errorf("days = %d/%d, want 5/5", r.ActualDays, r.ExpectedDays)
	}
	if len(r.Gaps) != 0 {
		t.Errorf("gaps = %v, want none", r.Gaps)
	}
	if len(r.Anomalies) != 0 {
		t.Errorf("anomalies = %v, want none", r.Anomalies)
	}
	if r.QualityScore < 0.9 {
		t.Errorf("QualityScore = %v, want >= 0.9", r.QualityScore)
	}
	if len(r.Accepted()) != 5 {
		t.Errorf("accepted = %d bars, want 5", len(r.Accepted()))
	}
}

func TestValidateGapCoalescing(t *testing.T) {
	e := NewEngine()
	// 2021-01-04..2021-01-15: ten straight trading days.
	start, end := day(2021, 1, 4), day(2021, 1, 15)

	// Bars present on trading days 1-3 and 7-10; days 4-6 missing.
	present := []time.Time{
		day(2021, 1, 4), day(2021, 1, 5), day(2021, 1, 6),
		day(2021, 1, 12), day(2021, 1, 13), day(2021, 1, 14), day(2021, 1, 15),
	}
	var bars []domain.MarketBar
	for i, d := range present {
		bars = append(bars, dayBar(d, 370.12+float64(i)*0.4))
	}

	r := e.Validate("SPY", bars, start, end, domain.IntervalDaily)

	if len(r.Gaps) != 1 {
		t.Fatalf("gaps = %d, want exactly one coalesced run: %v", len(r.Gaps), r.Gaps)
	}
	g := r.Gaps[0]
	if !g.Start.Equal(day(2021, 1, 7)) || !g.End.Equal(day(2021, 1, 11)) {
		t.Errorf("gap = %s..%s, want 2021-01-07..2021-01-11", g.Start, g.End)
	}
	if g.Days != 3 {
		t.Errorf("gap Days = %d, want 3 trading days", g.Days)
	}
	if r.ExpectedDays != 10 || r.ActualDays != 7 {
		t.Errorf("days = %d/%d, want 7/10", r.ActualDays, r.ExpectedDays)
	}
}

func TestValidateInvalidOHLCRejected(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 5)

	good := dayBar(day(2021, 1, 4), 370.12)
	bad := dayBar(day(2021, 1, 5), 370.52)
	bad.High = decimal.NewFromFloat(10.1)
	bad.Low = decimal.NewFromFloat(12.1)
	bad.Open = decimal.NewFromFloat(11.1)
	bad.Close = decimal.NewFromFloat(11.1)

	r := e.Validate("SPY", []domain.MarketBar{good, bad}, start, end, domain.IntervalDaily)

	found := false
	for _, a := range r.Anomalies {
		if a.Type == domain.AnomalyInvalidOHLC && a.Severity == domain.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Error("expected a high-severity InvalidOHLC anomaly")
	}
	if len(r.Accepted()) != 1 {
		t.Fatalf("accepted = %d bars, want 1 (invalid bar excluded)", len(r.Accepted()))
	}
	if !r.Accepted()[0].Timestamp.Equal(good.Timestamp) {
		t.Error("wrong bar excluded")
	}
}

func TestValidateAnomalyRules(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 8)

	bars := []domain.MarketBar{
		dayBar(day(2021, 1, 4), 100.13),
		dayBar(day(2021, 1, 5), 130.13), // +30% move
		dayBar(day(2021, 1, 6), 130.33),
		dayBar(day(2021, 1, 7), 130.53),
		dayBar(day(2021, 1, 8), 130.73),
	}
	// Whole-number OHLC on one bar.
	bars[2].Open = decimal.NewFromInt(130)
	bars[2].High = decimal.NewFromInt(131)
	bars[2].Low = decimal.NewFromInt(129)
	bars[2].Close = decimal.NewFromInt(130)
	// Zero volume on another.
	bars[3].Volume = 0

	r := e.Validate("SPY", bars, start, end, domain.IntervalDaily)

	types := map[domain.AnomalyType]domain.Severity{}
	for _, a := range r.Anomalies {
		types[a.Type] = a.Severity
	}
	if types[domain.AnomalyExtremePriceMovement] != domain.SeverityMedium {
		t.Errorf("ExtremePriceMovement severity = %q, want medium", types[domain.AnomalyExtremePriceMovement])
	}
	if types[domain.AnomalySuspiciousRounding] != domain.SeverityLow {
		t.Errorf("SuspiciousRounding severity = %q, want low", types[domain.AnomalySuspiciousRounding])
	}
	if types[domain.AnomalyZeroVolume] != domain.SeverityMedium {
		t.Errorf("ZeroVolume severity = %q, want medium", types[domain.AnomalyZeroVolume])
	}
	// Soft anomalies never reject bars.
	if len(r.Accepted()) != 5 {
		t.Errorf("accepted = %d bars, want 5", len(r.Accepted()))
	}
}

func TestValidateVolumeSpike(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 15)

	days := []time.Time{
		day(2021, 1, 4), day(2021, 1, 5), day(2021, 1, 6), day(2021, 1, 7),
		day(2021, 1, 8), day(2021, 1, 11), day(2021, 1, 12), day(2021, 1, 13),
		day(2021, 1, 14), day(2021, 1, 15),
	}
	var bars []domain.MarketBar
	for i, d := range days {
		bars = append(bars, dayBar(d, 370.12+float64(i)*0.3))
	}
	bars[9].Volume = 50_000_000 * 11 // 11x the steady median

	r := e.Validate("SPY", bars, start, end, domain.IntervalDaily)

	found := false
	for _, a := range r.Anomalies {
		if a.Type == domain.AnomalyExtremeVolume && a.Severity == domain.SeverityLow {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ExtremeVolume anomaly, got %v", r.Anomalies)
	}
}

func TestValidatePartialDayMinuteCoverage(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 4)

	// 200 of 390 regular-session minutes: present but thin.
	open := time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC)
	var bars []domain.MarketBar
	for i := 0; i < 200; i++ {
		b := dayBar(day(2021, 1, 4), 370.12)
		b.Timestamp = open.Add(time.Duration(i) * time.Minute)
		bars = append(bars, b)
	}

	r := e.Validate("SPY", bars, start, end, domain.IntervalMinute)

	if len(r.Gaps) != 1 || r.Gaps[0].Type != domain.GapPartialDay {
		t.Fatalf("gaps = %v, want one partial-day gap", r.Gaps)
	}
	// The day still counts toward completeness.
	if r.ActualDays != 1 {
		t.Errorf("ActualDays = %d, want 1", r.ActualDays)
	}
}

func TestValidateEmptyBatch(t *testing.T) {
	e := NewEngine()
	start, end := day(2021, 1, 4), day(2021, 1, 8)

	r := e.Validate("SPY", nil, start, end, domain.IntervalDaily)

	if r.QualityScore != 0 {
		t.Errorf("QualityScore = %v, want 0 for empty batch", r.QualityScore)
	}
	if len(r.Gaps) != 1 || r.Gaps[0].Days != 5 {
		t.Errorf("gaps = %v, want one 5-day run", r.Gaps)
	}
}
