package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"marketvault/internal/config"
	"marketvault/internal/store"
	"marketvault/internal/util"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default config/marketvault.yaml, or $VAULT_CONFIG)")
	symbolsFlag := flag.String("symbols", "", "comma-separated tickers to export (default: all stored)")
	outFlag := flag.String("out", "", "export root (default: storage.data_dir from config)")
	flag.Parse()

	cfgPath := "config/marketvault.yaml"
	if p := os.Getenv("VAULT_CONFIG"); p != "" {
		cfgPath = p
	}
	if *configFlag != "" {
		cfgPath = *configFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	dataDir := cfg.Storage.DataDir
	if *outFlag != "" {
		dataDir = *outFlag
	}
	if dataDir == "" {
		log.Fatal("no export root: set storage.data_dir or pass -out")
	}

	var symbols []string
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}

	barStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer barStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Exports read a lot of rows; make sure the query profile is active.
	if err := barStore.OptimizeForQuerying(ctx); err != nil {
		log.Fatalf("failed to prepare store for reads: %v", err)
	}

	stats, err := barStore.GetStats(ctx)
	if err != nil {
		log.Fatalf("failed to read stats: %v", err)
	}
	slog.Info("exporting snapshots",
		"records", stats.RecordCount, "symbols", stats.SymbolCount,
		"earliest", stats.EarliestDate.Format("2006-01-02"),
		"latest", stats.LatestDate.Format("2006-01-02"),
		"out", dataDir)

	wrote, err := store.ExportParquet(ctx, barStore, dataDir, symbols)
	if err != nil {
		log.Fatalf("export failed after %d files: %v", wrote, err)
	}
	slog.Info("export done", "files", wrote)
}
