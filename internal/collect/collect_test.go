package collect

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketvault/internal/domain"
	"marketvault/internal/provider"
	"marketvault/internal/provider/cache"
	"marketvault/internal/store"
)

// stubProvider serves canned bars and counts calls. With serveWeek set it
// synthesizes a clean trading week for whatever symbol is requested.
type stubProvider struct {
	name      string
	bars      []domain.MarketBar
	serveWeek bool
	calls     atomic.Int64
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchBars(_ context.Context, symbol string, start, end time.Time, _ domain.Interval) ([]domain.MarketBar, error) {
	s.calls.Add(1)
	source := s.bars
	if s.serveWeek {
		source = weekOf(symbol)
	}
	var out []domain.MarketBar
	for _, b := range source {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubProvider) FetchOptionsChain(context.Context, string, time.Time) (*domain.OptionsChain, error) {
	return nil, nil
}

func (s *stubProvider) Health() (bool, int)    { return true, 0 }
func (s *stubProvider) RateLimit() (int, bool) { return 100, false }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cleanBar(symbol string, ts time.Time, close float64) domain.MarketBar {
	c := decimal.NewFromFloat(close)
	return domain.MarketBar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      c.Sub(decimal.NewFromFloat(0.25)),
		High:      c.Add(decimal.NewFromFloat(0.75)),
		Low:       c.Sub(decimal.NewFromFloat(0.75)),
		Close:     c,
		Volume:    50_000_000,
		Source:    "stub",
	}
}

// weekOf returns clean daily bars for 2021-01-04..08.
func weekOf(symbol string) []domain.MarketBar {
	var bars []domain.MarketBar
	for i := 0; i < 5; i++ {
		bars = append(bars, cleanBar(symbol, day(2021, 1, 4+i), 370.12+float64(i)*0.4))
	}
	return bars
}

func newTestCollector(t *testing.T, stub *stubProvider, opts Options) (*Collector, store.BarStore, *Ledger) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.NewSQLiteStore(filepath.Join(dir, "bars.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ledger, err := OpenLedger(filepath.Join(dir, "progress.json"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}

	pool := provider.NewPool(cache.NewMemoryCache(time.Minute), domain.IntervalDaily)
	pool.Register(stub, 1)

	return NewCollector(pool, s, ledger, opts), s, ledger
}

func TestCollectRangeEndToEnd(t *testing.T) {
	stub := &stubProvider{name: "stub", bars: weekOf("SPY")}
	c, s, ledger := newTestCollector(t, stub, Options{})
	ctx := context.Background()

	summary, err := c.CollectRange(ctx, []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("CollectRange: %v", err)
	}

	if summary.UnitsCompleted != 1 || summary.UnitsFailed != 0 {
		t.Errorf("summary = %+v, want 1 completed / 0 failed", summary)
	}
	if summary.BarsStored != 5 {
		t.Errorf("BarsStored = %d, want 5", summary.BarsStored)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.RecordCount != 5 {
		t.Errorf("RecordCount = %d, want 5", stats.RecordCount)
	}

	got, err := s.GetRange(ctx, "SPY", day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	for _, b := range got {
		if b.QualityScore < 0.9 {
			t.Errorf("stored quality = %v at %s, want >= 0.9", b.QualityScore, b.Timestamp)
		}
	}

	if !ledger.IsDone("SPY", domain.AcquisitionChunk{Start: day(2021, 1, 4), End: day(2021, 1, 8)}) {
		t.Error("ledger does not record the unit as completed")
	}
}

func TestRunResumesFromLedger(t *testing.T) {
	stub := &stubProvider{name: "stub", bars: weekOf("SPY")}
	c, _, _ := newTestCollector(t, stub, Options{})
	ctx := context.Background()

	if _, err := c.CollectRange(ctx, []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8)); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := stub.calls.Load()
	if firstCalls == 0 {
		t.Fatal("provider never called on first run")
	}

	summary, err := c.CollectRange(ctx, []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.UnitsSkipped != 1 || summary.UnitsCompleted != 0 {
		t.Errorf("summary = %+v, want 1 skipped / 0 completed", summary)
	}
	if stub.calls.Load() != firstCalls {
		t.Errorf("provider called %d more times on resumed run", stub.calls.Load()-firstCalls)
	}
}

func TestQualityFloorGatesStorage(t *testing.T) {
	// Only two of five trading days present: completeness 0.4 scores well
	// below the default floor.
	thin := []domain.MarketBar{
		cleanBar("SPY", day(2021, 1, 4), 370.12),
		cleanBar("SPY", day(2021, 1, 5), 370.52),
	}
	stub := &stubProvider{name: "stub", bars: thin}
	c, s, ledger := newTestCollector(t, stub, Options{})
	ctx := context.Background()

	summary, err := c.CollectRange(ctx, []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("CollectRange: %v", err)
	}

	if summary.UnitsFailed != 1 || summary.UnitsCompleted != 0 {
		t.Errorf("summary = %+v, want 1 failed / 0 completed", summary)
	}
	if summary.BarsStored != 0 {
		t.Errorf("BarsStored = %d, want 0 below the quality floor", summary.BarsStored)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.RecordCount != 0 {
		t.Errorf("RecordCount = %d, want 0", stats.RecordCount)
	}
	if ledger.IsDone("SPY", domain.AcquisitionChunk{Start: day(2021, 1, 4), End: day(2021, 1, 8)}) {
		t.Error("gated unit must stay incomplete so the next run retries it")
	}
}

func TestCollectRangeConcurrentSymbols(t *testing.T) {
	stub := &stubProvider{name: "stub", serveWeek: true}
	c, s, _ := newTestCollector(t, stub, Options{MaxWorkers: 4})
	ctx := context.Background()

	symbols := []string{"SPY", "QQQ", "IWM", "DIA"}
	summary, err := c.CollectRange(ctx, symbols, day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("CollectRange: %v", err)
	}

	if summary.UnitsCompleted != 4 || summary.UnitsFailed != 0 {
		t.Errorf("summary = %+v, want 4 completed / 0 failed", summary)
	}
	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.RecordCount != 20 {
		t.Errorf("RecordCount = %d, want 20", stats.RecordCount)
	}
	if stats.SymbolCount != 4 {
		t.Errorf("SymbolCount = %d, want 4", stats.SymbolCount)
	}
}

func TestNoDataRecordedAsFailure(t *testing.T) {
	stub := &stubProvider{name: "stub"} // nothing listed anywhere
	c, _, ledger := newTestCollector(t, stub, Options{})

	summary, err := c.CollectRange(context.Background(), []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8))
	if err != nil {
		t.Fatalf("CollectRange: %v", err)
	}
	if summary.UnitsFailed != 1 || summary.UnitsCompleted != 0 {
		t.Errorf("summary = %+v, want 1 failed / 0 completed", summary)
	}
	if ledger.IsDone("SPY", domain.AcquisitionChunk{Start: day(2021, 1, 4), End: day(2021, 1, 8)}) {
		t.Error("no-data unit must stay incomplete for a future resume")
	}
}

func TestPlanChunksEraTiers(t *testing.T) {
	now := day(2026, 1, 1)
	chunks := PlanChunks([]string{"spy"}, day(2010, 1, 1), day(2025, 12, 31), now)
	if len(chunks) == 0 {
		t.Fatal("no chunks planned")
	}

	// Recent-first ordering and contiguous coverage.
	if !chunks[0].End.Equal(day(2025, 12, 31)) {
		t.Errorf("first chunk ends %s, want 2025-12-31", chunks[0].End)
	}
	last := chunks[len(chunks)-1]
	if !last.Start.Equal(day(2010, 1, 1)) {
		t.Errorf("last chunk starts %s, want 2010-01-01", last.Start)
	}
	for i := 1; i < len(chunks); i++ {
		want := chunks[i-1].Start.AddDate(0, 0, -1)
		if !chunks[i].End.Equal(want) {
			t.Errorf("chunk %d ends %s, want %s (contiguous)", i, chunks[i].End, want)
		}
	}

	for _, ch := range chunks {
		if ch.Symbols[0] != "SPY" {
			t.Fatalf("symbols not normalized: %v", ch.Symbols)
		}
		switch {
		case ch.End.After(day(2023, 1, 1)):
			if ch.Priority != domain.PriorityHigh {
				t.Errorf("chunk %s priority = %s, want high", ch.Key(), ch.Priority)
			}
			if ch.End.Sub(ch.Start) > 95*24*time.Hour {
				t.Errorf("recent chunk %s wider than 3 months", ch.Key())
			}
		case ch.End.After(day(2016, 1, 1)):
			if ch.Priority != domain.PriorityMedium {
				t.Errorf("chunk %s priority = %s, want medium", ch.Key(), ch.Priority)
			}
		default:
			if ch.Priority != domain.PriorityLow {
				t.Errorf("chunk %s priority = %s, want low", ch.Key(), ch.Priority)
			}
		}
	}
}

func TestResumeReplaysRecordedPlan(t *testing.T) {
	stub := &stubProvider{name: "stub", bars: weekOf("SPY")}
	c, _, ledger := newTestCollector(t, stub, Options{})
	ctx := context.Background()

	if _, err := c.Run(ctx, []string{"SPY"}, day(2021, 1, 4), day(2021, 1, 8)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The plan survives the checkpoint, so Resume needs no arguments.
	symbols, start, end, ok := ledger.LastPlan()
	if !ok || len(symbols) != 1 || !start.Equal(day(2021, 1, 4)) || !end.Equal(day(2021, 1, 8)) {
		t.Fatalf("LastPlan = (%v, %s, %s, %v)", symbols, start, end, ok)
	}

	summary, err := c.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if summary.UnitsCompleted != 0 || summary.UnitsSkipped == 0 {
		t.Errorf("resumed summary = %+v, want all units skipped", summary)
	}
}

func TestResumeWithoutPlan(t *testing.T) {
	stub := &stubProvider{name: "stub"}
	c, _, _ := newTestCollector(t, stub, Options{})

	if _, err := c.Resume(context.Background()); err == nil {
		t.Fatal("Resume without a recorded plan should fail")
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}
	opts.applyDefaults()

	if opts.Interval != domain.IntervalDaily {
		t.Errorf("Interval default = %q, want %q (must match the config default)", opts.Interval, domain.IntervalDaily)
	}
	if opts.QualityFloor != 0.5 || opts.MaxWorkers != 4 || opts.CheckpointEvery != 10 {
		t.Errorf("defaults = %+v", opts)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	chunk := domain.AcquisitionChunk{Start: day(2021, 1, 4), End: day(2021, 1, 8)}

	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	l.MarkCompleted("SPY", chunk)
	l.MarkFailed("QQQ", chunk, "fetch failed")
	if err := l.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	reopened, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("reopening ledger: %v", err)
	}
	if !reopened.IsDone("SPY", chunk) {
		t.Error("completed unit lost across reopen")
	}
	if reopened.IsDone("QQQ", chunk) {
		t.Error("failed unit must not read as done")
	}
	done, failed := reopened.Counts()
	if done != 1 || failed != 1 {
		t.Errorf("counts = %d/%d, want 1/1", done, failed)
	}

	// Completion clears an earlier failure.
	reopened.MarkCompleted("QQQ", chunk)
	done, failed = reopened.Counts()
	if done != 2 || failed != 0 {
		t.Errorf("counts after retry = %d/%d, want 2/0", done, failed)
	}
}
