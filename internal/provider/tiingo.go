package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*TiingoProvider)(nil)

const tiingoDefaultBaseURL = "https://api.tiingo.com"

// TiingoProvider fetches bars from the Tiingo REST API: the IEX endpoint for
// intraday bars and the end-of-day endpoint for daily bars.
type TiingoProvider struct {
	adapterState
	client *resty.Client
}

// NewTiingoProvider creates a Tiingo adapter.
func NewTiingoProvider(apiKey, baseURL string, ratePerMin int) *TiingoProvider {
	if baseURL == "" {
		baseURL = tiingoDefaultBaseURL
	}
	if ratePerMin <= 0 {
		ratePerMin = 50
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetQueryParam("token", apiKey)

	return &TiingoProvider{
		adapterState: newAdapterState(ratePerMin, ratePerMin),
		client:       client,
	}
}

// Name returns the provider identifier.
func (p *TiingoProvider) Name() string { return "tiingo" }

// tiingoBar matches both the IEX intraday and EOD daily response rows.
type tiingoBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// FetchBars retrieves bars for one symbol within [start, end].
func (p *TiingoProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.MarketBar, error) {
	if !p.take() {
		return nil, fmt.Errorf("tiingo: %w", errThrottled)
	}

	ticker := domain.NormalizeTicker(symbol)
	req := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"startDate": start.Format("2006-01-02"),
			"endDate":   end.Format("2006-01-02"),
		})

	var path string
	if interval == domain.IntervalMinute {
		path = "/iex/" + ticker + "/prices"
		req.SetQueryParam("resampleFreq", "1min")
	} else {
		path = "/tiingo/daily/" + ticker + "/prices"
	}

	resp, err := req.Get(path)
	if err != nil {
		p.recordOutcome(err)
		return nil, fmt.Errorf("tiingo GET %s: %w", ticker, err)
	}
	if resp.StatusCode() == 404 {
		p.recordOutcome(nil) // unknown symbol is an answer, not an outage
		return nil, nil
	}
	if resp.StatusCode() != 200 {
		err = fmt.Errorf("tiingo GET %s: status %d", ticker, resp.StatusCode())
		p.recordOutcome(err)
		return nil, err
	}

	var rows []tiingoBar
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		p.recordOutcome(err)
		return nil, fmt.Errorf("tiingo decode %s: %w", ticker, err)
	}
	p.recordOutcome(nil)

	bars := make([]domain.MarketBar, 0, len(rows))
	for _, row := range rows {
		ts, err := parseTiingoDate(row.Date)
		if err != nil {
			continue
		}
		bars = append(bars, domain.MarketBar{
			Symbol:    ticker,
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
			Source:    p.Name(),
		})
	}
	return bars, nil
}

// FetchOptionsChain is unavailable on Tiingo.
func (p *TiingoProvider) FetchOptionsChain(_ context.Context, symbol string, _ time.Time) (*domain.OptionsChain, error) {
	return nil, fmt.Errorf("tiingo: options chain for %s: %w", symbol, errors.ErrUnsupported)
}

// parseTiingoDate accepts both the EOD ("2021-01-04T00:00:00.000Z") and IEX
// timestamp forms.
func parseTiingoDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized tiingo date %q", s)
}
