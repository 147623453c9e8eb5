// The brain daemon consumes chat lines from the IN stream, decides when to
// speak, generates replies, and publishes them to the OUT stream for the
// gateway to deliver.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/go-banter/internal/brain"
	"github.com/basket/go-banter/internal/bus"
	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/engine"
	"github.com/basket/go-banter/internal/filters"
	otelPkg "github.com/basket/go-banter/internal/otel"
	"github.com/basket/go-banter/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBrain()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger := telemetry.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	provider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer provider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	b, err := bus.Connect(ctx, cfg.RedisURL)
	if err != nil {
		fatalStartup(logger, "E_BUS_CONNECT", err)
	}
	defer b.Close()

	if err := b.EnsureGroup(ctx, cfg.StreamIn, cfg.Group); err != nil {
		fatalStartup(logger, "E_BUS_GROUP", err)
	}
	if err := b.Bootstrap(ctx, cfg.StreamOut); err != nil {
		fatalStartup(logger, "E_BUS_BOOTSTRAP", err)
	}

	flt := filters.New(cfg.Banwords, cfg.BotNick, cfg.MinTextLen)
	if cfg.BanwordsFile != "" {
		watcher := filters.NewWatcher(cfg.BanwordsFile, flt, logger)
		if err := watcher.Start(ctx); err != nil {
			fatalStartup(logger, "E_BANWORDS_LOAD", err)
		}
	}

	gen := engine.New(engine.Config{
		Ollama:         cfg.Ollama,
		MaxContextMsgs: cfg.MaxContextMsgs,
		Logger:         logger,
		Tracer:         provider.Tracer,
		Metrics:        metrics,
	})

	svc := brain.New(cfg, brain.Deps{
		Bus:       b,
		Filters:   flt,
		Generator: gen,
		Logger:    logger,
		Tracer:    provider.Tracer,
		Metrics:   metrics,
	})

	logger.Info("brain starting", "bot", cfg.BotNick, "allowlist", cfg.Allowlist)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("brain stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("brain stopped")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure reason_code=%s error=%q\n", reasonCode, message)
	}
	os.Exit(1)
}
