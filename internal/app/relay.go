package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unnati-rahatwal/Techvanza/internal/config"
	"github.com/unnati-rahatwal/Techvanza/internal/notify"
	"github.com/unnati-rahatwal/Techvanza/internal/storage/postgres"
)

type RelayApplication struct {
	Relay *notify.Relay
	Store *postgres.Store
}

func BuildNotifyRelay(ctx context.Context, cfg *config.RelayConfig, reg prometheus.Registerer, logger *slog.Logger) (*RelayApplication, error) {
	store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	relay, err := notify.NewRelay(notify.RelayParams{
		Outbox:         store,
		Sender:         notify.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber),
		BatchSize:      cfg.Relay.BatchSize,
		MaxAttempts:    cfg.Relay.MaxAttempts,
		Concurrency:    cfg.Relay.Concurrency,
		MaxBackoff:     time.Duration(cfg.Relay.MaxBackoffSeconds) * time.Second,
		SendsPerSecond: cfg.Relay.SendsPerSecond,
		Registerer:     reg,
		Logger:         logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build notification relay: %w", err)
	}
	return &RelayApplication{Relay: relay, Store: store}, nil
}

func (a *RelayApplication) Close() {
	a.Store.Close()
}
