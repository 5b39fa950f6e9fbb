package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unnati-rahatwal/Techvanza/internal/api"
	"github.com/unnati-rahatwal/Techvanza/internal/chain"
	"github.com/unnati-rahatwal/Techvanza/internal/config"
	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/payment"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/service"
	"github.com/unnati-rahatwal/Techvanza/internal/storage/postgres"
	"github.com/unnati-rahatwal/Techvanza/internal/storage/sqlite"
)

// EventStore is an event log that can also summarize itself.
type EventStore interface {
	provenance.EventLog
	provenance.Snapshotter
}

// Core is the storage and provenance stack shared by the server and the
// timeline CLI.
type Core struct {
	Store        *postgres.Store
	Events       EventStore
	Chain        *chain.Adapter
	Orchestrator *provenance.Orchestrator
	Reconciler   *provenance.Reconciler
	Tracking     *service.Tracking

	closers []func()
}

// OpenCore opens the marketplace store, the configured event log and the chain
// adapter. reg may be nil.
func OpenCore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*Core, error) {
	store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	core := &Core{Store: store}
	core.closers = append(core.closers, store.Close)

	switch cfg.Storage.EventLog.Driver {
	case config.EventLogSQLite:
		events, err := sqlite.Open(ctx, cfg.Storage.EventLog.SQLitePath)
		if err != nil {
			core.Close()
			return nil, fmt.Errorf("open sqlite event log: %w", err)
		}
		core.Events = events
		core.closers = append(core.closers, func() { _ = events.Close() })
	default:
		core.Events = store.EventLog()
	}

	adapter, err := chain.New(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		PrivateKey:      cfg.Chain.PrivateKey,
		ContractAddress: cfg.Chain.ContractAddress,
		ChainID:         cfg.Chain.ChainID,
	}, core.Events)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build chain adapter: %w", err)
	}
	core.Chain = adapter
	core.closers = append(core.closers, adapter.Close)
	if !adapter.Available() {
		logger.Warn("chain not configured, provenance events will be simulated")
	}

	orch, err := provenance.NewOrchestrator(provenance.OrchestratorParams{
		Ledger:  adapter,
		Log:     core.Events,
		Timeout: time.Duration(cfg.Chain.TimeoutSeconds) * time.Second,
		Breaker: provenance.NewBreaker(cfg.Chain.BreakerFailureThreshold, time.Duration(cfg.Chain.BreakerResetSeconds)*time.Second),
		Metrics: provenance.NewMetrics(reg),
		Logger:  logger,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build provenance orchestrator: %w", err)
	}
	core.Orchestrator = orch
	core.Reconciler = provenance.NewReconciler(orch)

	core.Tracking, err = service.NewTracking(service.TrackingParams{
		Store:      store,
		Timelines:  core.Reconciler,
		Provenance: orch,
		Chain:      orch,
		Events:     core.Events,
		Logger:     logger,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build tracking service: %w", err)
	}
	return core, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

type Application struct {
	Server *http.Server
	Core   *Core
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	core, err := OpenCore(ctx, cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	marketplace, err := service.NewMarketplace(service.MarketplaceParams{
		Store:         core.Store,
		Provenance:    core.Orchestrator,
		NotifyEnabled: *cfg.Notify.Enabled,
		CountryCode:   cfg.Notify.DefaultCountryCode,
		Logger:        logger,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build marketplace service: %w", err)
	}
	checkout, err := service.NewCheckout(service.CheckoutParams{
		Store:      core.Store,
		Gateway:    payment.NewRazorpayGateway(cfg.Payment.KeyID, cfg.Payment.KeySecret),
		Provenance: core.Orchestrator,
		KeyID:      cfg.Payment.KeyID,
		KeySecret:  cfg.Payment.KeySecret,
		Currency:   cfg.Payment.Currency,
		Logger:     logger,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	handler, err := api.NewHandler(api.HandlerParams{
		Marketplace:  marketplace,
		Checkout:     checkout,
		Tracking:     core.Tracking,
		Store:        core.Store,
		Chain:        core.Orchestrator,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		AdminToken:   cfg.Security.BearerToken,
		AdminCIDRs:   cfg.Security.TrustedCIDRs,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ServiceName:  cfg.Logging.Service,
		Version:      cfg.Logging.Version,
		Logger:       logger,
	})
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	env := logging.Environment{
		Service:  cfg.Logging.Service,
		Version:  cfg.Logging.Version,
		Commit:   cfg.Logging.Commit,
		Region:   cfg.Logging.Region,
		Instance: cfg.Logging.Instance,
	}
	root := logging.Middleware(logger, env)(handler.Router())

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, Core: core}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Core.Close()
	return a.Server.Shutdown(ctx)
}
