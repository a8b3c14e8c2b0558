// Package provider wraps upstream market-data sources behind a uniform
// capability contract and layers failover, caching, and per-provider
// performance tracking on top of them.
package provider

import (
	"context"
	"time"

	"marketvault/internal/domain"
)

// Provider is the capability contract one upstream source must satisfy.
// Implementations own their request shaping (auth, pagination, throttling)
// and must be safe for concurrent use across symbols.
type Provider interface {
	// Name returns the stable provider identifier recorded on bars.
	Name() string

	// FetchBars retrieves bars for the symbol within [start, end].
	FetchBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.MarketBar, error)

	// FetchOptionsChain retrieves an options chain snapshot for a date.
	// Providers without chain data return errors.ErrUnsupported.
	FetchOptionsChain(ctx context.Context, symbol string, date time.Time) (*domain.OptionsChain, error)

	// Health reports whether the provider looks usable and how many calls
	// in a row have failed.
	Health() (healthy bool, consecutiveFailures int)

	// RateLimit reports remaining request tokens and whether the provider
	// is currently throttled. A throttled provider is skipped for the
	// cycle, never blocked on.
	RateLimit() (remaining int, throttled bool)
}

// FetchStatus tags the outcome of a pool fetch. Provider failures are data,
// not errors: the pool never propagates an upstream exception to callers.
type FetchStatus int

const (
	// FetchOK means bars were retrieved and passed structural validation.
	FetchOK FetchStatus = iota
	// FetchNoData means every usable provider answered but none had bars.
	FetchNoData
	// FetchAllFailed means every usable provider errored or returned a
	// structurally invalid response.
	FetchAllFailed
)

// String returns the status name for run logs.
func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchNoData:
		return "no_data"
	default:
		return "all_failed"
	}
}

// FetchResult is the pool's answer to a bar request.
type FetchResult struct {
	Bars   []domain.MarketBar
	Source string
	Status FetchStatus
	Reason string // populated for non-OK statuses
}
