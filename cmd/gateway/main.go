// The gateway daemon bridges Twitch chat and the stream bus: it joins the
// configured channels, publishes chat lines to the IN stream, and delivers
// brain replies from the OUT stream back to chat.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/go-banter/internal/auth"
	"github.com/basket/go-banter/internal/bus"
	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/cron"
	"github.com/basket/go-banter/internal/gateway"
	otelPkg "github.com/basket/go-banter/internal/otel"
	"github.com/basket/go-banter/internal/ratelimit"
	"github.com/basket/go-banter/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadGateway()
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

	if err := b.EnsureGroup(ctx, cfg.StreamOut, cfg.Group); err != nil {
		fatalStartup(logger, "E_BUS_GROUP", err)
	}
	if err := b.Bootstrap(ctx, cfg.StreamIn); err != nil {
		fatalStartup(logger, "E_BUS_BOOTSTRAP", err)
	}

	creds := credentialSource(cfg, logger)

	// With a managed token, revalidate on a schedule so an expiring
	// credential is refreshed before the next reconnect needs it.
	if cfg.TokenFile != "" {
		sched := cron.NewScheduler(cron.Config{Logger: logger})
		err := sched.AddJob("revalidate-token", cfg.RevalidateCron, func(ctx context.Context) {
			if _, err := creds.IRCPass(ctx, false); err != nil {
				logger.Warn("token revalidation failed", "error", err)
			}
		})
		if err != nil {
			fatalStartup(logger, "E_CRON_EXPR", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	svc := gateway.New(cfg, gateway.Deps{
		Bus:     b,
		Creds:   creds,
		Bucket:  ratelimit.NewTokenBucket(cfg.RateLimitCount, cfg.RateLimitWindowSec),
		Logger:  logger,
		Tracer:  provider.Tracer,
		Metrics: metrics,
	})

	logger.Info("gateway starting", "nick", cfg.Nick, "channels", cfg.Channels, "transport", cfg.Transport)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, auth.ErrWrongAccount) {
			logger.Error("credential belongs to another account, re-consent required", "error", err)
			os.Exit(1)
		}
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func credentialSource(cfg config.Gateway, logger *slog.Logger) auth.Source {
	if cfg.OAuth != "" {
		return auth.StaticToken(cfg.OAuth)
	}
	return auth.NewManager(auth.Config{
		TokenFile:     cfg.TokenFile,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		ExpectedLogin: cfg.Nick,
		MinTTLSec:     int64(cfg.TokenMinTTLSec),
		Logger:        logger,
	})
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
