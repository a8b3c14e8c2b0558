package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bar(open, high, low, close float64) MarketBar {
	return MarketBar{
		Symbol:    "SPY",
		Timestamp: time.Date(2021, 1, 4, 14, 30, 0, 0, time.UTC),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    1000,
	}
}

func TestMarketBarValid(t *testing.T) {
	if !bar(370.5, 372.0, 369.0, 371.25).Valid() {
		t.Error("well-formed bar should be valid")
	}
	if bar(10, 10, 12, 10).Valid() {
		t.Error("high < low should be invalid")
	}
	if bar(15, 12, 10, 11).Valid() {
		t.Error("open above high should be invalid")
	}
	if bar(11, 12, 10, 9).Valid() {
		t.Error("close below low should be invalid")
	}
	if bar(0, 0, 0, 0).Valid() {
		t.Error("non-positive prices should be invalid")
	}
}

func TestNormalizeTicker(t *testing.T) {
	cases := map[string]string{
		"spy":    "SPY",
		"^VIX":   "VIX",
		" ^vix ": "VIX",
		"QQQ":    "QQQ",
	}
	for in, want := range cases {
		if got := NormalizeTicker(in); got != want {
			t.Errorf("NormalizeTicker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAcquisitionChunkKey(t *testing.T) {
	c := AcquisitionChunk{
		Start: time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	if got := c.Key(); got != "2021-01-04..2021-03-31" {
		t.Errorf("Key() = %q", got)
	}
}

func TestPriorityString(t *testing.T) {
	if PriorityHigh.String() != "high" || PriorityMedium.String() != "medium" || PriorityLow.String() != "low" {
		t.Error("Priority strings have unexpected values")
	}
}
