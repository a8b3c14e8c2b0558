package provider

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*StooqProvider)(nil)

const stooqDefaultBaseURL = "https://stooq.com"

// StooqProvider fetches daily bars from the Stooq CSV endpoint. Stooq serves
// no intraday history, so minute requests fail fast as unsupported.
type StooqProvider struct {
	adapterState
	client *resty.Client
}

// NewStooqProvider creates a Stooq adapter. baseURL may be empty to use the
// public endpoint.
func NewStooqProvider(baseURL string, ratePerMin int) *StooqProvider {
	if baseURL == "" {
		baseURL = stooqDefaultBaseURL
	}
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // the pool owns retry/failover policy

	return &StooqProvider{
		adapterState: newAdapterState(ratePerMin, ratePerMin),
		client:       client,
	}
}

// Name returns the provider identifier.
func (p *StooqProvider) Name() string { return "stooq" }

// FetchBars retrieves daily bars for one symbol within [start, end].
func (p *StooqProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.MarketBar, error) {
	if interval != domain.IntervalDaily {
		return nil, fmt.Errorf("stooq: interval %s: %w", interval, errors.ErrUnsupported)
	}
	if !p.take() {
		return nil, fmt.Errorf("stooq: %w", errThrottled)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"s":  stooqSymbol(symbol),
			"d1": start.Format("20060102"),
			"d2": end.Format("20060102"),
			"i":  "d",
		}).
		Get("/q/d/l/")
	if err != nil {
		p.recordOutcome(err)
		return nil, fmt.Errorf("stooq GET %s: %w", symbol, err)
	}
	if resp.StatusCode() != 200 {
		err = fmt.Errorf("stooq GET %s: status %d", symbol, resp.StatusCode())
		p.recordOutcome(err)
		return nil, err
	}

	bars, err := parseStooqCSV(domain.NormalizeTicker(symbol), resp.String())
	p.recordOutcome(err)
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// FetchOptionsChain is unavailable on Stooq.
func (p *StooqProvider) FetchOptionsChain(_ context.Context, symbol string, _ time.Time) (*domain.OptionsChain, error) {
	return nil, fmt.Errorf("stooq: options chain for %s: %w", symbol, errors.ErrUnsupported)
}

// stooqSymbol maps a normalized ticker to Stooq's naming: US equities get a
// ".us" suffix, index symbols keep a "^" prefix.
func stooqSymbol(symbol string) string {
	s := domain.NormalizeTicker(symbol)
	switch s {
	case "VIX", "SPX", "NDX", "DJI":
		return "^" + strings.ToLower(s)
	}
	return strings.ToLower(s) + ".us"
}

// parseStooqCSV decodes the Date,Open,High,Low,Close,Volume CSV body.
func parseStooqCSV(symbol, body string) ([]domain.MarketBar, error) {
	r := csv.NewReader(strings.NewReader(body))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stooq csv for %s: %w", symbol, err)
	}
	if len(rows) < 2 {
		return nil, nil // header only: no data for the range
	}

	var bars []domain.MarketBar
	for _, row := range rows[1:] {
		if len(row) < 5 {
			continue
		}
		ts, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			continue
		}
		open, err1 := decimal.NewFromString(row[1])
		high, err2 := decimal.NewFromString(row[2])
		low, err3 := decimal.NewFromString(row[3])
		closeP, err4 := decimal.NewFromString(row[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		var volume int64
		if len(row) >= 6 && row[5] != "" {
			volume, _ = strconv.ParseInt(row[5], 10, 64)
		}
		bars = append(bars, domain.MarketBar{
			Symbol:    symbol,
			Timestamp: ts.UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
			Source:    "stooq",
		})
	}
	return bars, nil
}
