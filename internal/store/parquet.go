package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"marketvault/internal/domain"
)

// BarRecord is the Parquet schema for exported bar snapshots. Prices are
// float64 here: the snapshot is an analytics artifact, the SQLite store
// remains the fixed-point source of truth.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	VWAP      float64 `parquet:"vwap"`
	Volume    int64   `parquet:"volume"`
	Quality   float64 `parquet:"quality"`
	Source    string  `parquet:"source"`
}

// ExportParquet writes per-symbol, per-year parquet snapshots of stored bars
// under <dataDir>/bars/<SYMBOL>/<YYYY>.parquet and returns the number of
// files written. An empty symbol list exports every stored symbol.
func ExportParquet(ctx context.Context, s BarStore, dataDir string, symbols []string) (int, error) {
	if len(symbols) == 0 {
		var err error
		symbols, err = s.ListSymbols(ctx)
		if err != nil {
			return 0, fmt.Errorf("listing symbols for export: %w", err)
		}
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading stats for export: %w", err)
	}
	if stats.RecordCount == 0 {
		return 0, nil
	}

	wrote := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return wrote, ctx.Err()
		}

		bars, err := s.GetRange(ctx, sym, stats.EarliestDate, stats.LatestDate)
		if err != nil {
			return wrote, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if len(bars) == 0 {
			continue
		}

		byYear := make(map[int][]BarRecord)
		for _, b := range bars {
			byYear[b.Timestamp.Year()] = append(byYear[b.Timestamp.Year()], toRecord(b))
		}

		ticker := domain.NormalizeTicker(sym)
		for year, records := range byYear {
			path := filepath.Join(dataDir, "bars", ticker, fmt.Sprintf("%d.parquet", year))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return wrote, fmt.Errorf("creating export dir for %s: %w", ticker, err)
			}
			if err := parquet.WriteFile(path, records); err != nil {
				return wrote, fmt.Errorf("writing %s: %w", path, err)
			}
			wrote++
		}
	}
	return wrote, nil
}

// ReadParquetYear reads one exported snapshot back, mainly for verification
// tooling.
func ReadParquetYear(dataDir, symbol string, year int) ([]BarRecord, error) {
	path := filepath.Join(dataDir, "bars", domain.NormalizeTicker(symbol), fmt.Sprintf("%d.parquet", year))
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

func toRecord(b domain.MarketBar) BarRecord {
	return BarRecord{
		Symbol:    b.Symbol,
		Timestamp: b.Timestamp.UTC().UnixMilli(),
		Open:      b.Open.InexactFloat64(),
		High:      b.High.InexactFloat64(),
		Low:       b.Low.InexactFloat64(),
		Close:     b.Close.InexactFloat64(),
		VWAP:      b.VWAP.InexactFloat64(),
		Volume:    b.Volume,
		Quality:   b.QualityScore,
		Source:    b.Source,
	}
}
