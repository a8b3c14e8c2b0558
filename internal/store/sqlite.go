package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketvault/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ BarStore = (*SQLiteStore)(nil)
var _ SymbolStore = (*SQLiteStore)(nil)

// priceScale is the number of implied decimal places for stored prices.
// Prices round-trip exactly through INTEGER columns at this scale.
const priceScale = 4

const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	id     INTEGER PRIMARY KEY,
	ticker TEXT NOT NULL UNIQUE,
	name   TEXT NOT NULL DEFAULT '',
	sector TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bars (
	symbol_id INTEGER NOT NULL REFERENCES symbols(id),
	ts        INTEGER NOT NULL, -- unix milliseconds UTC
	open      INTEGER NOT NULL,
	high      INTEGER NOT NULL,
	low       INTEGER NOT NULL,
	close     INTEGER NOT NULL,
	vwap      INTEGER NOT NULL DEFAULT 0,
	volume    INTEGER NOT NULL,
	quality   INTEGER NOT NULL DEFAULT 0, -- 0..100
	source    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol_id, ts)
) WITHOUT ROWID;
`

// SQLiteStore implements BarStore and SymbolStore on a single SQLite file.
// The (symbol_id, ts) primary key doubles as the clustered (symbol, date)
// index; the secondary timestamp index exists only in query mode.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	symbolIDs map[string]int64
	bulkMode  bool
}

// NewSQLiteStore opens (or creates) the bar database at dbPath in query
// mode.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes batch writes; batches from different
	// symbols queue here instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, symbolIDs: make(map[string]int64)}

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(ts)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ts index: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Operating modes
// ---------------------------------------------------------------------------

// BeginBulkLoad relaxes durability for sequential ingest: WAL journaling
// stays on for crash safety, per-transaction fsync is deferred, the write
// cache grows, and the secondary timestamp index is dropped so inserts do
// not maintain it row by row.
func (s *SQLiteStore) BeginBulkLoad(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulkMode {
		return nil
	}

	for _, stmt := range []string{
		"PRAGMA synchronous=OFF",
		"PRAGMA cache_size=-65536", // 64 MiB
		"DROP INDEX IF EXISTS idx_bars_ts",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("entering bulk-load mode (%q): %w", stmt, err)
		}
	}
	s.bulkMode = true
	return nil
}

// OptimizeForQuerying restores the query profile: rebuilds the secondary
// index, refreshes planner statistics, truncates the WAL, and re-enables
// normal durability. Safe to call any number of times, including after
// incremental top-ups.
func (s *SQLiteStore) OptimizeForQuerying(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(ts)",
		"ANALYZE",
		"PRAGMA optimize",
		"PRAGMA wal_checkpoint(TRUNCATE)",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-2000",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("optimizing for querying (%q): %w", stmt, err)
		}
	}
	s.bulkMode = false
	return nil
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

// EnsureSymbol returns the id for a ticker, inserting the symbol row on
// first sight. IDs are cached per store instance.
func (s *SQLiteStore) EnsureSymbol(ctx context.Context, ticker string) (int64, error) {
	ticker = domain.NormalizeTicker(ticker)

	s.mu.Lock()
	if id, ok := s.symbolIDs[ticker]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO symbols (ticker) VALUES (?) ON CONFLICT(ticker) DO NOTHING", ticker); err != nil {
		return 0, fmt.Errorf("inserting symbol %s: %w", ticker, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM symbols WHERE ticker = ?", ticker).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolving symbol %s: %w", ticker, err)
	}

	s.mu.Lock()
	s.symbolIDs[ticker] = id
	s.mu.Unlock()
	return id, nil
}

// UpsertSymbol creates or updates a symbol's reference metadata.
func (s *SQLiteStore) UpsertSymbol(ctx context.Context, sym domain.Symbol) error {
	ticker := domain.NormalizeTicker(sym.Ticker)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (ticker, name, sector) VALUES (?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET name = excluded.name, sector = excluded.sector`,
		ticker, sym.Name, sym.Sector)
	if err != nil {
		return fmt.Errorf("upserting symbol %s: %w", ticker, err)
	}
	return nil
}

// GetSymbol returns the reference entity for a ticker.
func (s *SQLiteStore) GetSymbol(ctx context.Context, ticker string) (*domain.Symbol, error) {
	ticker = domain.NormalizeTicker(ticker)
	sym := &domain.Symbol{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, ticker, name, sector FROM symbols WHERE ticker = ?", ticker).
		Scan(&sym.ID, &sym.Ticker, &sym.Name, &sym.Sector)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading symbol %s: %w", ticker, err)
	}
	return sym, nil
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// UpsertBars writes a batch in one transaction keyed on (symbol_id, ts).
// Re-writing a batch after a crash between write and checkpoint is safe:
// conflicting rows are replaced, never duplicated.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []domain.MarketBar) error {
	if len(bars) == 0 {
		return nil
	}

	// Resolve symbol ids outside the write transaction.
	ids := make(map[string]int64)
	for _, b := range bars {
		ticker := domain.NormalizeTicker(b.Symbol)
		if _, ok := ids[ticker]; ok {
			continue
		}
		id, err := s.EnsureSymbol(ctx, ticker)
		if err != nil {
			return err
		}
		ids[ticker] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bar transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol_id, ts, open, high, low, close, vwap, volume, quality, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol_id, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, vwap = excluded.vwap, volume = excluded.volume,
			quality = excluded.quality, source = excluded.source`)
	if err != nil {
		return fmt.Errorf("preparing bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			ids[domain.NormalizeTicker(b.Symbol)],
			b.Timestamp.UTC().UnixMilli(),
			scalePrice(b.Open), scalePrice(b.High), scalePrice(b.Low), scalePrice(b.Close),
			scalePrice(b.VWAP),
			b.Volume,
			int(math.Round(b.QualityScore*100)),
			b.Source,
		)
		if err != nil {
			return fmt.Errorf("upserting bar %s@%s: %w", b.Symbol, b.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bar batch: %w", err)
	}
	return nil
}

// GetRange returns bars for the symbol within [start, end], ascending by
// timestamp.
func (s *SQLiteStore) GetRange(ctx context.Context, symbol string, start, end time.Time) ([]domain.MarketBar, error) {
	ticker := domain.NormalizeTicker(symbol)

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.ts, b.open, b.high, b.low, b.close, b.vwap, b.volume, b.quality, b.source
		FROM bars b JOIN symbols s ON s.id = b.symbol_id
		WHERE s.ticker = ? AND b.ts >= ? AND b.ts <= ?
		ORDER BY b.ts ASC`,
		ticker, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying range %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.MarketBar
	for rows.Next() {
		var (
			ts, open, high, low, closeP, vwap, volume int64
			quality                                   int
			source                                    string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closeP, &vwap, &volume, &quality, &source); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		bars = append(bars, domain.MarketBar{
			Symbol:       ticker,
			Timestamp:    time.UnixMilli(ts).UTC(),
			Open:         unscalePrice(open),
			High:         unscalePrice(high),
			Low:          unscalePrice(low),
			Close:        unscalePrice(closeP),
			VWAP:         unscalePrice(vwap),
			Volume:       volume,
			QualityScore: float64(quality) / 100,
			Source:       source,
		})
	}
	return bars, rows.Err()
}

// ListSymbols returns all tickers with at least one stored bar, sorted.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.ticker FROM symbols s
		JOIN bars b ON b.symbol_id = s.id
		ORDER BY s.ticker`)
	if err != nil {
		return nil, fmt.Errorf("listing symbols: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// GetStats reports record count, symbol count, date coverage, and on-disk
// size.
func (s *SQLiteStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats

	var minTS, maxTS sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(ts), MAX(ts) FROM bars").
		Scan(&stats.RecordCount, &minTS, &maxTS)
	if err != nil {
		return Stats{}, fmt.Errorf("counting bars: %w", err)
	}
	if minTS.Valid {
		stats.EarliestDate = time.UnixMilli(minTS.Int64).UTC()
	}
	if maxTS.Valid {
		stats.LatestDate = time.UnixMilli(maxTS.Int64).UTC()
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT symbol_id) FROM bars").Scan(&stats.SymbolCount); err != nil {
		return Stats{}, fmt.Errorf("counting symbols: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return Stats{}, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("reading page_size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize

	return stats, nil
}

// ---------------------------------------------------------------------------
// Price scaling
// ---------------------------------------------------------------------------

// scalePrice converts a decimal price to its integer-scaled column value.
func scalePrice(d decimal.Decimal) int64 {
	return d.Shift(priceScale).Round(0).IntPart()
}

// unscalePrice converts an integer-scaled column value back to a decimal.
func unscalePrice(v int64) decimal.Decimal {
	return decimal.New(v, -priceScale)
}
