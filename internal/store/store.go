// Package store is the durable time-series home for market bars. The SQLite
// engine exposes two operating profiles (bulk-load for sequential ingest,
// query for point/range lookups) plus a parquet snapshot exporter.
package store

import (
	"context"
	"time"

	"marketvault/internal/domain"
)

// Stats summarizes the stored dataset; callers use it to verify acquisition
// completeness.
type Stats struct {
	RecordCount  int64
	SymbolCount  int64
	EarliestDate time.Time
	LatestDate   time.Time
	SizeBytes    int64
}

// BarStore persists and retrieves market bars.
type BarStore interface {
	// UpsertBars writes a batch atomically, keyed on (symbol, timestamp):
	// writing the same batch twice leaves the store unchanged.
	UpsertBars(ctx context.Context, bars []domain.MarketBar) error

	// GetRange returns bars for the symbol within [start, end] in ascending
	// timestamp order. Correct in both operating modes.
	GetRange(ctx context.Context, symbol string, start, end time.Time) ([]domain.MarketBar, error)

	// ListSymbols returns all tickers with at least one stored bar.
	ListSymbols(ctx context.Context) ([]string, error)

	// GetStats reports record count, date coverage, and on-disk size.
	GetStats(ctx context.Context) (Stats, error)

	// BeginBulkLoad switches to the ingest profile: relaxed durability,
	// journaled crash safety, no secondary index maintenance. Idempotent.
	BeginBulkLoad(ctx context.Context) error

	// OptimizeForQuerying switches to the query profile: rebuilds secondary
	// indexes, recomputes planner statistics, compacts the journal, and
	// restores normal durability. Idempotent and safe to call repeatedly.
	OptimizeForQuerying(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}

// SymbolStore manages the normalized symbol reference table.
type SymbolStore interface {
	// EnsureSymbol returns the id for a ticker, creating it if needed.
	EnsureSymbol(ctx context.Context, ticker string) (int64, error)

	// UpsertSymbol creates or updates a symbol's reference metadata.
	UpsertSymbol(ctx context.Context, sym domain.Symbol) error

	// GetSymbol returns the reference entity for a ticker.
	GetSymbol(ctx context.Context, ticker string) (*domain.Symbol, error)
}
