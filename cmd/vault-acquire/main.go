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
	"time"

	"marketvault/internal/collect"
	"marketvault/internal/config"
	"marketvault/internal/domain"
	"marketvault/internal/provider"
	"marketvault/internal/provider/cache"
	"marketvault/internal/store"
	"marketvault/internal/util"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default config/marketvault.yaml, or $VAULT_CONFIG)")
	symbolsFlag := flag.String("symbols", "", "comma-separated tickers to acquire")
	startFlag := flag.String("start", "", "range start, YYYY-MM-DD")
	endFlag := flag.String("end", "", "range end, YYYY-MM-DD (defaults to yesterday)")
	resume := flag.Bool("resume", false, "replay the last recorded run from the progress ledger")
	adhoc := flag.Bool("adhoc", false, "fetch the range as one chunk instead of a planned run")
	consolidate := flag.Bool("consolidate", false, "merge all healthy providers instead of first-success failover")
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

	var symbols []string
	var start, end time.Time
	if !*resume {
		if *symbolsFlag == "" || *startFlag == "" {
			flag.Usage()
			os.Exit(2)
		}
		symbols = strings.Split(*symbolsFlag, ",")

		start, err = time.Parse("2006-01-02", *startFlag)
		if err != nil {
			log.Fatalf("bad -start: %v", err)
		}
		end = time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		if *endFlag != "" {
			end, err = time.Parse("2006-01-02", *endFlag)
			if err != nil {
				log.Fatalf("bad -end: %v", err)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, closeCache, err := buildPool(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build provider pool: %v", err)
	}
	defer closeCache()

	barStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer barStore.Close()

	ledger, err := collect.OpenLedger(cfg.Collector.ProgressPath)
	if err != nil {
		log.Fatalf("failed to open progress ledger: %v", err)
	}

	collector := collect.NewCollector(pool, barStore, ledger, collect.Options{
		QualityFloor:    cfg.Collector.QualityFloor,
		MaxWorkers:      cfg.Collector.MaxWorkers,
		CheckpointEvery: cfg.Collector.CheckpointEvery,
		RequestDelay:    time.Duration(cfg.Collector.RequestDelayMillis) * time.Millisecond,
		Consolidate:     cfg.Collector.Consolidate || *consolidate,
		Interval:        domain.Interval(cfg.Collector.Interval),
	})

	var summary collect.RunSummary
	switch {
	case *resume:
		slog.Info("resuming last recorded acquisition")
		summary, err = collector.Resume(ctx)
	case *adhoc:
		slog.Info("starting ad-hoc acquisition",
			"symbols", symbols, "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		summary, err = collector.CollectRange(ctx, symbols, start, end)
	default:
		slog.Info("starting acquisition",
			"symbols", symbols, "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		summary, err = collector.Run(ctx, symbols, start, end)
	}
	if err != nil {
		slog.Error("acquisition ended early", "err", err,
			"completed", summary.UnitsCompleted, "failed", summary.UnitsFailed)
		os.Exit(1)
	}
	slog.Info("acquisition done",
		"run_id", summary.RunID, "bars", summary.BarsStored,
		"completed", summary.UnitsCompleted, "skipped", summary.UnitsSkipped,
		"failed", summary.UnitsFailed)
}

// buildPool assembles the provider pool from the enabled adapters, backed by
// Redis when configured and the in-process cache otherwise.
func buildPool(ctx context.Context, cfg *config.Config) (*provider.Pool, func(), error) {
	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute

	var barCache cache.Cache
	closeCache := func() {}
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB, ttl)
		if err != nil {
			return nil, nil, err
		}
		barCache = rc
		closeCache = func() { rc.Close() }
	} else {
		barCache = cache.NewMemoryCache(ttl)
	}

	pool := provider.NewPool(barCache, domain.Interval(cfg.Collector.Interval))

	if a := cfg.Providers.Alpaca; a.Enabled {
		pool.Register(provider.NewAlpacaProvider(provider.AlpacaOpts{
			APIKey:          a.APIKey,
			APISecret:       a.APISecret,
			DataURL:         a.DataURL,
			RateLimitPerMin: a.RateLimitPerMin,
		}), a.PriorityWeight)
	}
	if s := cfg.Providers.Stooq; s.Enabled {
		pool.Register(provider.NewStooqProvider(s.BaseURL, s.RateLimitPerMin), s.PriorityWeight)
	}
	if t := cfg.Providers.Tiingo; t.Enabled {
		pool.Register(provider.NewTiingoProvider(t.APIKey, t.BaseURL, t.RateLimitPerMin), t.PriorityWeight)
	}

	return pool, closeCache, nil
}
