// Package domain defines the core types shared across the acquisition,
// validation, and storage layers: market bars, symbols, acquisition chunks,
// and validation reports.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Bars and symbols
// ---------------------------------------------------------------------------

// Interval is the bar resolution requested from a provider.
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalDaily  Interval = "1d"
)

// MarketBar is one symbol's trading activity at one timestamp. Prices are
// fixed-point decimals so that decades of bars accumulate no float drift.
// Bars are unique per (Symbol, Timestamp).
type MarketBar struct {
	Symbol       string
	Timestamp    time.Time // UTC
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	VWAP         decimal.Decimal
	QualityScore float64 // 0..1, set by the collector after validation
	Source       string  // provider name, or "consolidated"
}

// Valid reports whether the bar satisfies the OHLC invariant
// low <= {open, close} <= high and all prices are positive.
func (b MarketBar) Valid() bool {
	if !b.Low.IsPositive() {
		return false
	}
	if b.High.LessThan(b.Low) {
		return false
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// Symbol is the normalized reference entity for a ticker. Bar rows reference
// symbols by ID so ticker strings are not repeated across billions of rows.
type Symbol struct {
	ID     int64
	Ticker string
	Name   string
	Sector string
}

// NormalizeTicker upper-cases a ticker and strips the index prefix, so that
// "^VIX" and "vix" both address the same stored symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(ticker), "^"))
}

// ---------------------------------------------------------------------------
// Acquisition chunks
// ---------------------------------------------------------------------------

// Priority orders chunks within an acquisition plan. Recent, high-liquidity
// eras are fetched first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// AcquisitionChunk is one bounded unit of acquisition work: a symbol set and
// a date range. Chunks exist only during planning and execution; completion
// is tracked per (symbol, chunk key) in the progress ledger.
type AcquisitionChunk struct {
	Symbols  []string
	Start    time.Time
	End      time.Time
	Priority Priority
}

// Key returns the ledger key for this chunk's date range.
func (c AcquisitionChunk) Key() string {
	return c.Start.Format("2006-01-02") + ".." + c.End.Format("2006-01-02")
}

// ---------------------------------------------------------------------------
// Validation results
// ---------------------------------------------------------------------------

// AnomalyType classifies a per-bar data quality issue.
type AnomalyType string

const (
	AnomalyInvalidOHLC          AnomalyType = "invalid_ohlc"
	AnomalyInvalidPrice         AnomalyType = "invalid_price"
	AnomalyExtremePriceMovement AnomalyType = "extreme_price_movement"
	AnomalySuspiciousRounding   AnomalyType = "suspicious_rounding"
	AnomalyZeroVolume           AnomalyType = "zero_volume"
	AnomalyExtremeVolume        AnomalyType = "extreme_volume"
)

// Severity ranks how strongly an anomaly discounts the quality score.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Anomaly is one detected data quality issue on a single bar.
type Anomaly struct {
	Timestamp time.Time
	Type      AnomalyType
	Severity  Severity
	Detail    string
}

// GapType distinguishes fully missing trading days from days with thin
// intraday coverage.
type GapType string

const (
	GapMissingDays GapType = "missing_days"
	GapPartialDay  GapType = "partial_day"
)

// Gap is a coalesced run of expected trading days with missing or partial
// data.
type Gap struct {
	Start time.Time
	End   time.Time
	Days  int
	Type  GapType
}

// String renders the gap for run logs.
func (g Gap) String() string {
	return fmt.Sprintf("%s %s..%s (%d days)",
		g.Type, g.Start.Format("2006-01-02"), g.End.Format("2006-01-02"), g.Days)
}

// ValidationReport summarizes data quality for one (symbol, date range)
// batch. It is produced fresh per validation pass and is not persisted;
// its QualityScore is stamped onto the accepted bars.
type ValidationReport struct {
	Symbol       string
	Start        time.Time
	End          time.Time
	Gaps         []Gap
	Anomalies    []Anomaly
	ExpectedDays int
	ActualDays   int
	Completeness float64 // actual/expected trading days, 0..1
	QualityScore float64 // 0..1 composite
	accepted     []MarketBar
}

// SetAccepted records the bars that passed hard-rejection rules.
func (r *ValidationReport) SetAccepted(bars []MarketBar) { r.accepted = bars }

// Accepted returns the bars that survived validation: everything except bars
// carrying a high-severity OHLC or price anomaly.
func (r *ValidationReport) Accepted() []MarketBar { return r.accepted }

// ---------------------------------------------------------------------------
// Options chain (pass-through capability; pricing is out of scope)
// ---------------------------------------------------------------------------

// OptionQuote is one strike's quote within an options chain snapshot.
type OptionQuote struct {
	Symbol     string
	Strike     decimal.Decimal
	Expiry     time.Time
	Call       bool
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	OpenInt    int64
	LastVolume int64
}

// OptionsChain is a snapshot of an underlying's option quotes for one date.
// The acquisition core only transports chains; pricing them is a consumer
// concern.
type OptionsChain struct {
	Underlying string
	AsOf       time.Time
	Quotes     []OptionQuote
	Source     string
}
