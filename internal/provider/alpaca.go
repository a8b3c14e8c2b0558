package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider fetches bars from the Alpaca market-data API.
type AlpacaProvider struct {
	adapterState
	client *marketdata.Client
}

// AlpacaOpts configures an AlpacaProvider.
type AlpacaOpts struct {
	APIKey          string
	APISecret       string
	DataURL         string
	RateLimitPerMin int // Alpaca free tier: 200/min
}

// NewAlpacaProvider creates an adapter backed by the Alpaca market-data
// client.
func NewAlpacaProvider(opts AlpacaOpts) *AlpacaProvider {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}

	return &AlpacaProvider{
		adapterState: newAdapterState(perMin, perMin),
		client:       marketdata.NewClient(clientOpts),
	}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchBars retrieves bars for one symbol within [start, end].
func (p *AlpacaProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.MarketBar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !p.take() {
		return nil, fmt.Errorf("alpaca: %w", errThrottled)
	}

	timeframe := marketdata.OneDay
	if interval == domain.IntervalMinute {
		timeframe = marketdata.OneMin
	}

	alpacaBars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: timeframe,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	p.recordOutcome(err)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.MarketBar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.MarketBar{
			Symbol:    domain.NormalizeTicker(symbol),
			Timestamp: ab.Timestamp.UTC(),
			Open:      decimal.NewFromFloat(ab.Open),
			High:      decimal.NewFromFloat(ab.High),
			Low:       decimal.NewFromFloat(ab.Low),
			Close:     decimal.NewFromFloat(ab.Close),
			Volume:    int64(ab.Volume),
			VWAP:      decimal.NewFromFloat(ab.VWAP),
			Source:    p.Name(),
		})
	}
	return bars, nil
}

// FetchOptionsChain is not available on the Alpaca market-data plan this
// adapter targets.
func (p *AlpacaProvider) FetchOptionsChain(_ context.Context, symbol string, _ time.Time) (*domain.OptionsChain, error) {
	return nil, fmt.Errorf("alpaca: options chain for %s: %w", symbol, errors.ErrUnsupported)
}
