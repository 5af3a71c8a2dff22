package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/statuswatch/statuswatch/internal/config"
	"github.com/statuswatch/statuswatch/internal/logging"
	"github.com/statuswatch/statuswatch/internal/metrics"
	"github.com/statuswatch/statuswatch/internal/notify"
	"github.com/statuswatch/statuswatch/internal/observations"
	"github.com/statuswatch/statuswatch/internal/probe"
	"github.com/statuswatch/statuswatch/internal/registry"
	"github.com/statuswatch/statuswatch/internal/scheduler"
	"github.com/statuswatch/statuswatch/internal/server"
	"github.com/statuswatch/statuswatch/internal/state"
)

func main() {
	logger := logging.NewWithLevel(os.Getenv("SW_LOG_LEVEL"))
	logger.Info().Msg("statuswatch starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.NewFileRegistry(cfg.ServicesFile)
	if _, err := reg.Enabled(ctx); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ServicesFile).Msg("cannot load service registry")
	}

	st := state.New()
	store := observations.NewStore(cfg.ObservationsPath, logging.Component(logger, "observations"),
		observations.WithHistoryLimit(cfg.HistoryLimit),
		observations.WithFlapWindow(cfg.FlapWindow),
		observations.WithFlapThreshold(cfg.FlapThreshold),
		observations.WithTimestampsLimit(cfg.FlapTimestampsLimit),
	)

	metricsCollector := metrics.New()
	prober := probe.NewHTTPProber(logging.Component(logger, "probe"))
	fanOut := probe.NewFanOut(logging.Component(logger, "probe"), prober, cfg.MaxConcurrency, cfg.ProbeTimeout,
		probe.WithTimeoutHook(metricsCollector.IncProbeTimeouts))

	notifier := notify.NewSlackNotifier(logging.Component(logger, "notify"), cfg.SlackWebhookURL)

	sched := scheduler.New(
		logging.Component(logger, "scheduler"),
		cfg.RefreshInterval,
		reg,
		fanOut,
		st,
		scheduler.WithObservationSink(store),
		scheduler.WithNotifier(notifier),
		scheduler.WithMetrics(metricsCollector),
	)

	handlers := server.NewHandlers(logging.Component(logger, "server"), st, store, cfg.RefreshInterval)
	server.Start(ctx, logger, handlers, metricsCollector, cfg.HTTPPort, cfg.MetricsPort)

	if err := sched.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler failed")
	}

	logger.Info().Msg("statuswatch stopped")
}
