// Package validate checks retrieved bar batches for missing trading days and
// per-bar anomalies, and scores overall data quality. The engine is pure: it
// performs no I/O and never fails. Malformed input produces anomalies, not
// errors.
package validate

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
	"marketvault/internal/util"
)

// Scoring and detection constants.
const (
	gapPenalty     = 0.1
	highPenalty    = 0.2
	mediumPenalty  = 0.1
	lowPenalty     = 0.05
	volumeWindow   = 20  // trailing bars for the volume median
	minVolumePrior = 5   // don't judge volume spikes without history
	minuteBarsFull = 390 // 9:30-16:00 ET regular session
	partialDayMin  = 0.85
)

// extremeMove is the close-to-close fraction beyond which a bar is flagged.
var extremeMove = decimal.NewFromFloat(0.20)

// volumeSpike flags volume above this multiple of the trailing median.
const volumeSpike = 10

// Engine validates bar batches against the trading calendar.
type Engine struct {
	cal *util.TradingCalendar
}

// NewEngine creates a validation engine with a fresh trading calendar.
func NewEngine() *Engine {
	return &Engine{cal: util.NewTradingCalendar()}
}

// Validate examines bars retrieved for [start, end] and reports gaps,
// anomalies, and a composite quality score in [0, 1]. Bars carrying a
// high-severity OHLC or price anomaly are excluded from the accepted set.
func (e *Engine) Validate(symbol string, bars []domain.MarketBar, start, end time.Time, interval domain.Interval) domain.ValidationReport {
	report := domain.ValidationReport{
		Symbol: domain.NormalizeTicker(symbol),
		Start:  start,
		End:    end,
	}

	sorted := make([]domain.MarketBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	barsPerDay := make(map[string]int)
	for _, b := range sorted {
		barsPerDay[b.Timestamp.UTC().Format("2006-01-02")]++
	}

	expected := e.cal.TradingDays(start, end)
	report.ExpectedDays = len(expected)
	report.Gaps = detectGaps(expected, barsPerDay, interval)

	for _, day := range expected {
		if barsPerDay[day.Format("2006-01-02")] > 0 {
			report.ActualDays++
		}
	}

	anomalies, rejected := detectAnomalies(sorted)
	report.Anomalies = anomalies

	accepted := make([]domain.MarketBar, 0, len(sorted))
	for i, b := range sorted {
		if !rejected[i] {
			accepted = append(accepted, b)
		}
	}
	report.SetAccepted(accepted)

	report.Completeness = 1.0
	if report.ExpectedDays > 0 {
		report.Completeness = float64(report.ActualDays) / float64(report.ExpectedDays)
	}
	report.QualityScore = score(report)

	return report
}

// detectGaps coalesces runs of expected trading days with zero bars into
// single gaps. For minute data, days with thin coverage (below 85% of the
// regular session) are flagged as partial-day gaps.
func detectGaps(expected []time.Time, barsPerDay map[string]int, interval domain.Interval) []domain.Gap {
	var gaps []domain.Gap
	var runStart time.Time
	runDays := 0

	flush := func(lastMissing time.Time) {
		if runDays > 0 {
			gaps = append(gaps, domain.Gap{
				Start: runStart,
				End:   lastMissing,
				Days:  runDays,
				Type:  domain.GapMissingDays,
			})
			runDays = 0
		}
	}

	var prevMissing time.Time
	for _, day := range expected {
		n := barsPerDay[day.Format("2006-01-02")]
		if n == 0 {
			if runDays == 0 {
				runStart = day
			}
			runDays++
			prevMissing = day
			continue
		}
		flush(prevMissing)

		if interval == domain.IntervalMinute && float64(n) < partialDayMin*minuteBarsFull {
			gaps = append(gaps, domain.Gap{Start: day, End: day, Days: 1, Type: domain.GapPartialDay})
		}
	}
	flush(prevMissing)

	return gaps
}

// detectAnomalies applies the per-bar rules in order and returns the
// anomalies plus the set of bar indexes that must be rejected outright
// (high-severity OHLC or price violations).
func detectAnomalies(sorted []domain.MarketBar) ([]domain.Anomaly, map[int]bool) {
	var anomalies []domain.Anomaly
	rejected := make(map[int]bool)

	add := func(i int, typ domain.AnomalyType, sev domain.Severity, detail string) {
		anomalies = append(anomalies, domain.Anomaly{
			Timestamp: sorted[i].Timestamp,
			Type:      typ,
			Severity:  sev,
			Detail:    detail,
		})
		if sev == domain.SeverityHigh {
			rejected[i] = true
		}
	}

	for i, b := range sorted {
		// (a) inverted range, (b) open/close outside it.
		if b.High.LessThan(b.Low) {
			add(i, domain.AnomalyInvalidOHLC, domain.SeverityHigh,
				fmt.Sprintf("high %s below low %s", b.High, b.Low))
		} else if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) ||
			b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
			add(i, domain.AnomalyInvalidOHLC, domain.SeverityHigh, "open/close outside [low, high]")
		}

		// (c) non-positive prices.
		if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
			add(i, domain.AnomalyInvalidPrice, domain.SeverityHigh, "price <= 0")
		}

		// (d) extreme close-to-close movement.
		if i > 0 && sorted[i-1].Close.IsPositive() {
			move := b.Close.Sub(sorted[i-1].Close).Abs().Div(sorted[i-1].Close)
			if move.GreaterThan(extremeMove) {
				add(i, domain.AnomalyExtremePriceMovement, domain.SeverityMedium,
					fmt.Sprintf("close moved %s%%", move.Mul(decimal.NewFromInt(100)).StringFixed(1)))
			}
		}

		// (e) all four prices are exact integers: likely synthetic data.
		if b.Open.IsInteger() && b.High.IsInteger() && b.Low.IsInteger() && b.Close.IsInteger() {
			add(i, domain.AnomalySuspiciousRounding, domain.SeverityLow, "all OHLC values are whole numbers")
		}

		// (f) zero volume on an active day.
		if b.Volume == 0 {
			add(i, domain.AnomalyZeroVolume, domain.SeverityMedium, "zero volume")
		}

		// (g) volume spike against the trailing median.
		if med := trailingVolumeMedian(sorted, i); med > 0 && b.Volume > volumeSpike*med {
			add(i, domain.AnomalyExtremeVolume, domain.SeverityLow,
				fmt.Sprintf("volume %d above 10x median %d", b.Volume, med))
		}
	}

	return anomalies, rejected
}

// trailingVolumeMedian returns the median volume of up to volumeWindow bars
// before index i, or 0 when there is too little history to judge.
func trailingVolumeMedian(sorted []domain.MarketBar, i int) int64 {
	lo := i - volumeWindow
	if lo < 0 {
		lo = 0
	}
	window := sorted[lo:i]
	if len(window) < minVolumePrior {
		return 0
	}
	vols := make([]int64, len(window))
	for j, b := range window {
		vols[j] = b.Volume
	}
	sort.Slice(vols, func(a, b int) bool { return vols[a] < vols[b] })
	return vols[len(vols)/2]
}

// score computes the composite quality score: gap and anomaly penalties off
// a 1.0 base, scaled by trading-day completeness, clamped to [0, 1].
func score(r domain.ValidationReport) float64 {
	s := 1.0
	s -= gapPenalty * float64(len(r.Gaps))
	for _, a := range r.Anomalies {
		switch a.Severity {
		case domain.SeverityHigh:
			s -= highPenalty
		case domain.SeverityMedium:
			s -= mediumPenalty
		default:
			s -= lowPenalty
		}
	}
	s *= r.Completeness
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}
