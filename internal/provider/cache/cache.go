// Package cache provides the bounded-TTL fetch cache used by the provider
// pool, with in-memory and Redis backends.
package cache

import (
	"context"
	"fmt"
	"time"

	"marketvault/internal/domain"
)

// Cache stores fetched bar series for a bounded TTL so repeated requests for
// the same range do not hit upstream providers.
type Cache interface {
	// Get returns the cached bars for key and whether the entry was live.
	Get(ctx context.Context, key string) ([]domain.MarketBar, bool)

	// Set stores bars under key for the cache's TTL.
	Set(ctx context.Context, key string, bars []domain.MarketBar)
}

// Key builds the cache key for a bar request.
func Key(symbol string, start, end time.Time, interval domain.Interval) string {
	return fmt.Sprintf("bars:%s:%d:%d:%s",
		domain.NormalizeTicker(symbol), start.Unix(), end.Unix(), interval)
}
