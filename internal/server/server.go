package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/statuswatch/statuswatch/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Start launches the API server, plus a separate metrics server when the
// metrics port differs from the API port. A metrics port of zero serves
// /metrics on the API server.
func Start(ctx context.Context, logger zerolog.Logger, handlers *Handlers, metricsCollector *metrics.Metrics, apiPort, metricsPort int) {
	if metricsPort == 0 || metricsPort == apiPort {
		mux := http.NewServeMux()
		handlers.Routes(mux)
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, logger, mux, apiPort, "api/metrics")
		return
	}

	apiMux := http.NewServeMux()
	handlers.Routes(apiMux)
	startServer(ctx, logger, apiMux, apiPort, "api")

	metricsMux := http.NewServeMux()
	registerMetricsRoute(metricsMux, metricsCollector)
	startServer(ctx, logger, metricsMux, metricsPort, "metrics")
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
