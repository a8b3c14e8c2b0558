package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExportParquet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dataDir := t.TempDir()

	if err := s.UpsertBars(ctx, weekBars("SPY")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	wrote, err := ExportParquet(ctx, s, dataDir, nil)
	if err != nil {
		t.Fatalf("ExportParquet: %v", err)
	}
	if wrote != 1 {
		t.Fatalf("wrote %d files, want 1", wrote)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "bars", "SPY", "2021.parquet")); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}

	records, err := ReadParquetYear(dataDir, "SPY", 2021)
	if err != nil {
		t.Fatalf("ReadParquetYear: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("read %d records, want 5", len(records))
	}
	first := records[0]
	if first.Symbol != "SPY" || first.Volume != 50_000_000 {
		t.Errorf("first record = %+v", first)
	}
	if first.Close < 370.12 || first.Close > 370.13 {
		t.Errorf("first close = %v, want ~370.1234", first.Close)
	}
}

func TestExportParquetEmptyStore(t *testing.T) {
	s := newTestStore(t)

	wrote, err := ExportParquet(context.Background(), s, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ExportParquet: %v", err)
	}
	if wrote != 0 {
		t.Errorf("wrote %d files on an empty store, want 0", wrote)
	}
}
