package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
	"marketvault/internal/provider/cache"
)

// maxSingleStepMove rejects a batch where one close-to-close step exceeds
// 50%: real symbols do not halve or double between adjacent bars without a
// corporate action, so the feed is suspect.
var maxSingleStepMove = decimal.NewFromFloat(0.5)

// defaultCallTimeout bounds one in-flight provider call.
const defaultCallTimeout = 2 * time.Minute

// Pool holds a set of provider adapters, ranks them by recent performance,
// and serves bar requests with first-success failover or consensus
// consolidation. All provider exceptions stop here: callers only ever see a
// FetchResult.
type Pool struct {
	entries     []*poolEntry
	cache       cache.Cache
	interval    domain.Interval
	callTimeout time.Duration
	log         *slog.Logger
}

type poolEntry struct {
	provider Provider
	weight   int // static priority, lower preferred
	metrics  *Metrics
}

// NewPool creates a Pool serving the given bar interval, caching results in c.
func NewPool(c cache.Cache, interval domain.Interval) *Pool {
	return &Pool{
		cache:       c,
		interval:    interval,
		callTimeout: defaultCallTimeout,
		log:         slog.Default().With("component", "provider-pool"),
	}
}

// Register adds a provider with a static priority weight (lower = preferred
// when performance is equal).
func (p *Pool) Register(prov Provider, weight int) {
	p.entries = append(p.entries, &poolEntry{
		provider: prov,
		weight:   weight,
		metrics:  NewMetrics(),
	})
}

// MetricsFor returns the rolling metrics for a registered provider, or nil.
func (p *Pool) MetricsFor(name string) *Metrics {
	for _, e := range p.entries {
		if e.provider.Name() == name {
			return e.metrics
		}
	}
	return nil
}

// score ranks an entry: lower is tried first. Static weight, discounted by
// recent success rate, penalized by failure streaks and latency.
func (e *poolEntry) score() float64 {
	rate := e.metrics.SuccessRate()
	streak := float64(e.metrics.ConsecutiveFailures())
	latencyPenalty := e.metrics.AvgLatency().Seconds() * 10
	return float64(e.weight) - 50*rate + 20*streak + latencyPenalty
}

// usable returns registered adapters that are not rate-throttled, ranked
// best-first. Throttled adapters are excluded for the cycle without any
// metric penalty.
func (p *Pool) usable() []*poolEntry {
	var out []*poolEntry
	for _, e := range p.entries {
		if _, throttled := e.provider.RateLimit(); throttled {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score() < out[j].score() })
	return out
}

// ---------------------------------------------------------------------------
// First-success failover
// ---------------------------------------------------------------------------

// GetBars serves a bar request: cache first, then ranked adapters in order
// until one returns a structurally valid series. Exhaustion yields an
// explicit no-data result, never an error.
func (p *Pool) GetBars(ctx context.Context, symbol string, start, end time.Time) FetchResult {
	key := cache.Key(symbol, start, end, p.interval)
	if bars, ok := p.cache.Get(ctx, key); ok {
		src := ""
		if len(bars) > 0 {
			src = bars[0].Source
		}
		return FetchResult{Bars: bars, Source: src, Status: FetchOK}
	}

	sawEmpty := false
	for _, e := range p.usable() {
		if ctx.Err() != nil {
			return FetchResult{Status: FetchAllFailed, Reason: ctx.Err().Error()}
		}

		bars, latency, err := p.callProvider(ctx, e.provider, symbol, start, end)
		if err != nil {
			// A throttle hit mid-flight is a skip, not a failure.
			if errors.Is(err, errThrottled) {
				continue
			}
			e.metrics.RecordFailure()
			p.log.Warn("provider fetch failed",
				"provider", e.provider.Name(), "symbol", symbol, "err", err)
			continue
		}

		if ok, reason := structurallyValid(bars); !ok {
			// Invalid shape is a provider failure, not a data failure.
			e.metrics.RecordFailure()
			if len(bars) == 0 {
				sawEmpty = true
			} else {
				p.log.Warn("provider returned invalid data",
					"provider", e.provider.Name(), "symbol", symbol, "reason", reason)
			}
			continue
		}

		e.metrics.RecordSuccess(latency)
		p.cache.Set(ctx, key, bars)
		return FetchResult{Bars: bars, Source: e.provider.Name(), Status: FetchOK}
	}

	if sawEmpty {
		return FetchResult{Status: FetchNoData, Reason: "no provider had bars for the range"}
	}
	return FetchResult{Status: FetchAllFailed, Reason: "all providers failed or returned invalid data"}
}

// callProvider runs one fetch on its own goroutine with a bounded timeout.
// On timeout the in-flight call is abandoned to finish on its own rather
// than hard-killed.
func (p *Pool) callProvider(ctx context.Context, prov Provider, symbol string, start, end time.Time) ([]domain.MarketBar, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	type answer struct {
		bars []domain.MarketBar
		err  error
	}
	ch := make(chan answer, 1)
	began := time.Now()
	go func() {
		bars, err := prov.FetchBars(callCtx, symbol, start, end, p.interval)
		ch <- answer{bars, err}
	}()

	select {
	case a := <-ch:
		return a.bars, time.Since(began), a.err
	case <-callCtx.Done():
		return nil, time.Since(began), fmt.Errorf("provider %s: %w", prov.Name(), callCtx.Err())
	}
}

// structurallyValid checks a batch before it is accepted from a provider:
// non-empty, every bar honors the OHLC invariant, and no close moves more
// than 50% in a single step.
func structurallyValid(bars []domain.MarketBar) (bool, string) {
	if len(bars) == 0 {
		return false, "empty response"
	}
	for i, b := range bars {
		if !b.Valid() {
			return false, fmt.Sprintf("bar %d violates OHLC invariant", i)
		}
		if i > 0 {
			prev := bars[i-1].Close
			if prev.IsPositive() {
				move := b.Close.Sub(prev).Abs().Div(prev)
				if move.GreaterThan(maxSingleStepMove) {
					return false, fmt.Sprintf("bar %d: %s%% single-step move", i, move.Mul(decimal.NewFromInt(100)).StringFixed(1))
				}
			}
		}
	}
	return true, ""
}

// ---------------------------------------------------------------------------
// Consolidation
// ---------------------------------------------------------------------------

// ConsolidatedBars fans out to every healthy, non-throttled adapter
// concurrently and merges the structurally valid responses into a consensus
// series: per-timestamp median of each OHLC field, mean volume. It trades
// latency and request budget for robustness against a single bad feed.
func (p *Pool) ConsolidatedBars(ctx context.Context, symbol string, start, end time.Time) FetchResult {
	var candidates []*poolEntry
	for _, e := range p.usable() {
		if healthy, _ := e.provider.Health(); healthy {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return FetchResult{Status: FetchAllFailed, Reason: "no healthy providers"}
	}

	type response struct {
		entry   *poolEntry
		bars    []domain.MarketBar
		latency time.Duration
		err     error
	}

	responses := make([]response, len(candidates))
	var wg sync.WaitGroup
	for i, e := range candidates {
		wg.Add(1)
		go func(i int, e *poolEntry) {
			defer wg.Done()
			bars, latency, err := p.callProvider(ctx, e.provider, symbol, start, end)
			responses[i] = response{entry: e, bars: bars, latency: latency, err: err}
		}(i, e)
	}
	wg.Wait()

	var valid [][]domain.MarketBar
	sawEmpty := false
	for _, r := range responses {
		if r.err != nil {
			if !errors.Is(r.err, errThrottled) {
				r.entry.metrics.RecordFailure()
			}
			continue
		}
		if ok, _ := structurallyValid(r.bars); !ok {
			r.entry.metrics.RecordFailure()
			if len(r.bars) == 0 {
				sawEmpty = true
			}
			continue
		}
		r.entry.metrics.RecordSuccess(r.latency)
		valid = append(valid, r.bars)
	}

	if len(valid) == 0 {
		if sawEmpty {
			return FetchResult{Status: FetchNoData, Reason: "no provider had bars for the range"}
		}
		return FetchResult{Status: FetchAllFailed, Reason: "all providers failed or returned invalid data"}
	}

	merged := mergeConsensus(domain.NormalizeTicker(symbol), valid)
	p.cache.Set(ctx, cache.Key(symbol, start, end, p.interval), merged)
	return FetchResult{Bars: merged, Source: "consolidated", Status: FetchOK}
}

// mergeConsensus merges per-provider series into one: bars are grouped by
// timestamp, each OHLC/VWAP field takes the median across providers, volume
// takes the mean.
func mergeConsensus(symbol string, series [][]domain.MarketBar) []domain.MarketBar {
	byTS := make(map[int64][]domain.MarketBar)
	for _, bars := range series {
		for _, b := range bars {
			ts := b.Timestamp.UnixMilli()
			byTS[ts] = append(byTS[ts], b)
		}
	}

	merged := make([]domain.MarketBar, 0, len(byTS))
	for ts, group := range byTS {
		var volume int64
		opens := make([]decimal.Decimal, 0, len(group))
		highs := make([]decimal.Decimal, 0, len(group))
		lows := make([]decimal.Decimal, 0, len(group))
		closes := make([]decimal.Decimal, 0, len(group))
		vwaps := make([]decimal.Decimal, 0, len(group))
		for _, b := range group {
			opens = append(opens, b.Open)
			highs = append(highs, b.High)
			lows = append(lows, b.Low)
			closes = append(closes, b.Close)
			vwaps = append(vwaps, b.VWAP)
			volume += b.Volume
		}
		merged = append(merged, domain.MarketBar{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(ts).UTC(),
			Open:      median(opens),
			High:      median(highs),
			Low:       median(lows),
			Close:     median(closes),
			VWAP:      median(vwaps),
			Volume:    volume / int64(len(group)),
			Source:    "consolidated",
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// median returns the middle value of ds (mean of the middle pair for even
// counts).
func median(ds []decimal.Decimal) decimal.Decimal {
	if len(ds) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// ---------------------------------------------------------------------------
// Options chains
// ---------------------------------------------------------------------------

// GetOptionsChain tries ranked adapters until one returns a chain. Adapters
// without chain data are skipped without penalty. A false return means no
// registered provider could serve the request.
func (p *Pool) GetOptionsChain(ctx context.Context, symbol string, date time.Time) (*domain.OptionsChain, bool) {
	for _, e := range p.usable() {
		if ctx.Err() != nil {
			return nil, false
		}
		chain, err := e.provider.FetchOptionsChain(ctx, symbol, date)
		if err != nil {
			if !errors.Is(err, errors.ErrUnsupported) {
				e.metrics.RecordFailure()
				p.log.Warn("options chain fetch failed",
					"provider", e.provider.Name(), "symbol", symbol, "err", err)
			}
			continue
		}
		return chain, true
	}
	return nil, false
}
