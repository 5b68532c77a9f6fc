// Command defensor runs the tax-compliance workflow engine: the scoring
// endpoint, the phase-advance endpoint and the per-project SSE event
// feed.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tributo-labs/defensor/pkg/api"
	"github.com/tributo-labs/defensor/pkg/config"
	"github.com/tributo-labs/defensor/pkg/observability"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "defensor-engine",
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:     1.0,
		Enabled:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:       true,
	}, logger)
	if err != nil {
		logger.Error("observability init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	core, err := buildCore(ctx, cfg, logger, obs)
	if err != nil {
		logger.Error("engine init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Expired discretionary reviews are swept in the background.
	go sweepReviews(ctx, core, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewMux(core.ScoreLimits, core.Hub, core, core, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("defensor engine listening", slog.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func sweepReviews(ctx context.Context, core *Core, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := core.Reviews.CheckDeadlines(ctx)
			if err != nil {
				logger.Warn("review deadline sweep failed", slog.Any("error", err))
			}
			for _, r := range expired {
				logger.Info("human review expired",
					slog.String("project_id", r.ProjectID),
					slog.String("review_id", r.ID))
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
