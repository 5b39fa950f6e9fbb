package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unnati-rahatwal/Techvanza/internal/app"
	"github.com/unnati-rahatwal/Techvanza/internal/config"
	"github.com/unnati-rahatwal/Techvanza/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/notify-relay.yaml", "path to relay config")
	metricsAddr := flag.String("metrics-listen", "", "optional address for the /metrics endpoint")
	flag.Parse()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.Logging.Level)
	logger := logging.NewJSONLogger(level).With(
		slog.String("service", cfg.Logging.Service),
		slog.String("instance", cfg.Logging.Instance),
	)

	reg := prometheus.NewRegistry()
	application, err := app.BuildNotifyRelay(context.Background(), cfg, reg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener stopped", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("notification relay started",
		slog.Int("batch_size", cfg.Relay.BatchSize),
		slog.Int("max_attempts", cfg.Relay.MaxAttempts),
		slog.Float64("sends_per_second", cfg.Relay.SendsPerSecond),
	)
	if err := application.Relay.Run(ctx, time.Duration(cfg.Relay.PollIntervalSeconds)*time.Second); err != nil {
		logger.Error("notification relay stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("notification relay stopped")
}
