package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"marketvault/internal/domain"
	"marketvault/internal/provider"
	"marketvault/internal/store"
	"marketvault/internal/util"
	"marketvault/internal/validate"
)

// Options tune one collector instance. Zero values fall back to the defaults
// below.
type Options struct {
	QualityFloor    float64       // batches scoring below this are not stored
	MaxWorkers      int           // concurrent symbols per chunk
	CheckpointEvery int           // chunks between ledger checkpoints
	RequestDelay    time.Duration // pause between provider requests per worker
	Consolidate     bool          // consensus merge instead of first-success
	Interval        domain.Interval
}

const (
	defaultQualityFloor    = 0.5
	defaultMaxWorkers      = 4
	defaultCheckpointEvery = 10
)

func (o *Options) applyDefaults() {
	if o.QualityFloor == 0 {
		o.QualityFloor = defaultQualityFloor
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = defaultMaxWorkers
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = defaultCheckpointEvery
	}
	if o.Interval == "" {
		o.Interval = domain.IntervalDaily
	}
}

// RunSummary reports one acquisition run.
type RunSummary struct {
	RunID          string
	Started        time.Time
	Finished       time.Time
	ChunksPlanned  int
	UnitsTotal     int // (symbol, chunk) work units
	UnitsCompleted int
	UnitsSkipped   int // already completed in a previous run
	UnitsFailed    int
	BarsStored     int64
}

// Collector drives acquisition runs end to end: plan, fetch, validate, gate,
// store, checkpoint.
type Collector struct {
	pool   *provider.Pool
	engine *validate.Engine
	bars   store.BarStore
	ledger *Ledger
	opts   Options
	log    *slog.Logger
}

// NewCollector assembles a collector from its parts.
func NewCollector(pool *provider.Pool, bars store.BarStore, ledger *Ledger, opts Options) *Collector {
	opts.applyDefaults()
	return &Collector{
		pool:   pool,
		engine: validate.NewEngine(),
		bars:   bars,
		ledger: ledger,
		opts:   opts,
		log:    slog.Default().With("component", "collector"),
	}
}

// Run plans chunks for [start, end] and executes them. Units recorded
// complete in the ledger are skipped, so calling Run again after an
// interruption resumes from the last checkpoint.
func (c *Collector) Run(ctx context.Context, symbols []string, start, end time.Time) (RunSummary, error) {
	c.ledger.RecordPlan(symbols, start, end)
	chunks := PlanChunks(symbols, start, end, time.Now().UTC())
	return c.execute(ctx, chunks)
}

// Resume replays the last plan recorded in the ledger, picking up the units
// that did not complete.
func (c *Collector) Resume(ctx context.Context) (RunSummary, error) {
	symbols, start, end, ok := c.ledger.LastPlan()
	if !ok {
		return RunSummary{}, errors.New("no previous run recorded in the progress ledger")
	}
	return c.Run(ctx, symbols, start, end)
}

// CollectRange executes a single ad-hoc chunk covering exactly [start, end].
func (c *Collector) CollectRange(ctx context.Context, symbols []string, start, end time.Time) (RunSummary, error) {
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = domain.NormalizeTicker(s)
	}
	chunk := domain.AcquisitionChunk{
		Symbols:  normalized,
		Start:    start,
		End:      end,
		Priority: domain.PriorityHigh,
	}
	return c.execute(ctx, []domain.AcquisitionChunk{chunk})
}

func (c *Collector) execute(ctx context.Context, chunks []domain.AcquisitionChunk) (RunSummary, error) {
	summary := RunSummary{
		RunID:         uuid.NewString(),
		Started:       time.Now().UTC(),
		ChunksPlanned: len(chunks),
	}
	log := c.log.With("run_id", summary.RunID)
	log.Info("acquisition run starting",
		"chunks", len(chunks), "interval", c.opts.Interval, "consolidate", c.opts.Consolidate)

	if err := c.bars.BeginBulkLoad(ctx); err != nil {
		return summary, fmt.Errorf("entering bulk-load mode: %w", err)
	}

	var completed, skipped, failed, stored int64
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		summary.UnitsTotal += len(chunk.Symbols)

		c.runChunk(ctx, log, chunk, &completed, &skipped, &failed, &stored)

		if (i+1)%c.opts.CheckpointEvery == 0 {
			if err := c.ledger.Checkpoint(); err != nil {
				log.Error("checkpoint failed", "err", err)
			}
		}
	}

	// Final checkpoint covers partial progress on interruption too.
	if err := c.ledger.Checkpoint(); err != nil {
		log.Error("final checkpoint failed", "err", err)
	}

	// Switch back with a fresh context so a canceled run still leaves the
	// store queryable.
	optCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	if err := c.bars.OptimizeForQuerying(optCtx); err != nil {
		return summary, fmt.Errorf("restoring query mode: %w", err)
	}

	summary.UnitsCompleted = int(completed)
	summary.UnitsSkipped = int(skipped)
	summary.UnitsFailed = int(failed)
	summary.BarsStored = stored
	summary.Finished = time.Now().UTC()
	log.Info("acquisition run finished",
		"completed", summary.UnitsCompleted, "skipped", summary.UnitsSkipped,
		"failed", summary.UnitsFailed, "bars", summary.BarsStored,
		"elapsed", summary.Finished.Sub(summary.Started))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// runChunk processes one chunk's symbols through a bounded worker pool.
func (c *Collector) runChunk(ctx context.Context, log *slog.Logger, chunk domain.AcquisitionChunk, completed, skipped, failed, stored *int64) {
	sem := make(chan struct{}, c.opts.MaxWorkers)
	var wg sync.WaitGroup

	for _, symbol := range chunk.Symbols {
		if ctx.Err() != nil {
			break
		}
		if c.ledger.IsDone(symbol, chunk) {
			atomic.AddInt64(skipped, 1)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := c.collectUnit(ctx, log, symbol, chunk)
			if err != nil {
				atomic.AddInt64(failed, 1)
				c.ledger.MarkFailed(symbol, chunk, err.Error())
				log.Warn("unit failed", "symbol", symbol, "chunk", chunk.Key(), "err", err)
				return
			}
			atomic.AddInt64(completed, 1)
			atomic.AddInt64(stored, n)
			c.ledger.MarkCompleted(symbol, chunk)

			if c.opts.RequestDelay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(c.opts.RequestDelay):
				}
			}
		}(symbol)
	}
	wg.Wait()
}

// collectUnit fetches, validates, gates, and stores one (symbol, chunk) unit,
// returning the number of bars stored.
func (c *Collector) collectUnit(ctx context.Context, log *slog.Logger, symbol string, chunk domain.AcquisitionChunk) (int64, error) {
	var result provider.FetchResult
	if c.opts.Consolidate {
		result = c.pool.ConsolidatedBars(ctx, symbol, chunk.Start, chunk.End)
	} else {
		result = c.pool.GetBars(ctx, symbol, chunk.Start, chunk.End)
	}

	switch result.Status {
	case provider.FetchAllFailed:
		return 0, fmt.Errorf("fetch failed: %s", result.Reason)
	case provider.FetchNoData:
		// Left incomplete so a future resume can retry once the symbol's
		// listing history is known.
		return 0, fmt.Errorf("no data: %s", result.Reason)
	}

	report := c.engine.Validate(symbol, result.Bars, chunk.Start, chunk.End, c.opts.Interval)
	if report.QualityScore < c.opts.QualityFloor {
		return 0, fmt.Errorf("quality %.2f below floor %.2f (gaps=%d anomalies=%d)",
			report.QualityScore, c.opts.QualityFloor, len(report.Gaps), len(report.Anomalies))
	}
	for _, g := range report.Gaps {
		log.Debug("gap detected", "symbol", symbol, "gap", g.String())
	}

	accepted := report.Accepted()
	for i := range accepted {
		accepted[i].QualityScore = report.QualityScore
		if accepted[i].Source == "" {
			accepted[i].Source = result.Source
		}
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	// One retry absorbs transient SQLITE_BUSY contention.
	err := util.Retry(ctx, 2, 200*time.Millisecond, func() error {
		return c.bars.UpsertBars(ctx, accepted)
	})
	if err != nil {
		return 0, fmt.Errorf("storing %d bars: %w", len(accepted), err)
	}
	return int64(len(accepted)), nil
}
