package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/0xc0d3d00d/marketcore/internal/aggregator"
	"github.com/0xc0d3d00d/marketcore/internal/api"
	"github.com/0xc0d3d00d/marketcore/internal/domain"
	"github.com/0xc0d3d00d/marketcore/internal/feed"
	"github.com/0xc0d3d00d/marketcore/internal/indicator"
	"github.com/0xc0d3d00d/marketcore/internal/metrics"
	"github.com/0xc0d3d00d/marketcore/internal/storage"
)

type config struct {
	DataDir         string        `env:"DATA_DIR" envDefault:"./data"`
	ListenAddress   string        `env:"ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Symbols         []string      `env:"SYMBOLS" envDefault:"BTCUSDT,ETHUSDT"`
	FeedEndpoint    string        `env:"FEED_ENDPOINT" envDefault:"wss://stream.binance.com:9443"`
	FeedEnabled     bool          `env:"FEED_ENABLED" envDefault:"true"`
	DepthLevels     int           `env:"DEPTH_LEVELS" envDefault:"20"`
	CandleCooldown  time.Duration `env:"CANDLE_SAVE_COOLDOWN" envDefault:"30s"`
	RetentionDays   int           `env:"RETENTION_DAYS" envDefault:"7"`
	MaxFilesPerKey  int           `env:"MAX_FILES_PER_KEY" envDefault:"50"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	HistoryMaxAge   time.Duration `env:"HISTORY_MAX_AGE" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config{}
	if err := loadConfig(&cfg); err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// set global logger with custom options
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLogLevel(cfg.LogLevel),
			TimeFormat: time.DateTime,
		}),
	))

	fs := afero.NewOsFs()
	met := metrics.New(prometheus.DefaultRegisterer)

	candleStore, err := storage.New[*domain.Candle](fs, storage.Config{
		Dir:            path.Join(cfg.DataDir, "candles"),
		Name:           "candles",
		SaveCooldown:   cfg.CandleCooldown,
		RetentionDays:  cfg.RetentionDays,
		MaxFilesPerKey: cfg.MaxFilesPerKey,
		SweepInterval:  cfg.SweepInterval,
	}, storage.CandleCodec{}, met)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create candle store", "error", err)
		os.Exit(1)
	}

	sampleStore, err := storage.New[*domain.IndicatorSample](fs, storage.Config{
		Dir:            path.Join(cfg.DataDir, "indicators"),
		Name:           "indicators",
		RetentionDays:  cfg.RetentionDays,
		MaxFilesPerKey: cfg.MaxFilesPerKey,
		SweepInterval:  cfg.SweepInterval,
	}, storage.SampleCodec{}, met)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create indicator store", "error", err)
		os.Exit(1)
	}

	agg := aggregator.New(met)
	engine := indicator.New(sampleStore, met)

	for _, calc := range []indicator.Calculator{
		indicator.NewSpreadCalculator(),
		indicator.NewDepthImbalanceCalculator(cfg.DepthLevels),
		indicator.NewVolumeDeltaCalculator(),
	} {
		if err := engine.RegisterIndicator(calc); err != nil {
			slog.ErrorContext(ctx, "failed to register indicator", "name", calc.Name(), "error", err)
			os.Exit(1)
		}
	}

	// Closed candles go to disk (cooldown-gated) and to the indicator close
	// hooks. Both run off the ingestion path.
	agg.OnCandleClose(func(ctx context.Context, symbol string, candle *domain.Candle) error {
		err := candleStore.Save(symbol, candle.Timeframe, candle)
		if err != nil && !errors.Is(err, storage.ErrSaveCooldown) {
			return err
		}
		return nil
	})
	agg.OnCandleClose(func(ctx context.Context, symbol string, candle *domain.Candle) error {
		engine.ProcessCandleCloseForAllIndicators(symbol, candle.Timeframe, candle)
		return nil
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: api.NewServer(agg, candleStore, sampleStore, engine).Router(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.InfoContext(ctx, "starting server", "listen_address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return err
		}
		return nil
	})

	g.Go(func() error {
		candleStore.RunRetention(gCtx)
		return nil
	})
	g.Go(func() error {
		sampleStore.RunRetention(gCtx)
		return nil
	})
	g.Go(func() error {
		agg.RunCleanup(gCtx, cfg.CleanupInterval, cfg.HistoryMaxAge)
		return nil
	})

	if cfg.FeedEnabled {
		client := feed.NewClient(feed.Config{
			Endpoint:    cfg.FeedEndpoint,
			Symbols:     cfg.Symbols,
			DepthLevels: cfg.DepthLevels,
		}, agg, engine)
		g.Go(func() error {
			client.Run(gCtx)
			return nil
		})
	}

	// Handle graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down server gracefully")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server terminated", "err", err)
	}
}

func parseLogLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadConfig(config any) error {
	// Ignore error if .env is missing
	err := godotenv.Load()

	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// Parse for built-in types
	if err := env.Parse(config); err != nil {
		return err
	}

	return nil
}
