package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unnati-rahatwal/Techvanza/internal/storage"
	"github.com/unnati-rahatwal/Techvanza/internal/storage/postgres"
)

type Outbox interface {
	FetchPendingOutbox(ctx context.Context, limit int) ([]postgres.NotificationOutboxItem, error)
	MarkOutboxSent(ctx context.Context, id int64, providerRef string) error
	MarkOutboxRetry(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastError string) error
	MarkOutboxFailed(ctx context.Context, id int64, attempts int, lastError string) error
}

type RelayParams struct {
	Outbox         Outbox
	Sender         Sender
	BatchSize      int
	MaxAttempts    int
	Concurrency    int
	MaxBackoff     time.Duration
	SendsPerSecond float64
	Registerer     prometheus.Registerer
	Logger         *slog.Logger
}

// Relay drains the notification outbox. Failed deliveries are retried with
// exponential backoff until MaxAttempts, then marked failed.
type Relay struct {
	outbox      Outbox
	sender      Sender
	batchSize   int
	maxAttempts int
	concurrency int
	maxBackoff  time.Duration
	limiter     *rate.Limiter
	deliveries  *prometheus.CounterVec
	logger      *slog.Logger
	now         func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	if p.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if p.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Minute
	}
	limit := rate.Inf
	burst := 1
	if p.SendsPerSecond > 0 {
		limit = rate.Limit(p.SendsPerSecond)
		burst = max(1, int(p.SendsPerSecond))
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_deliveries_total",
		Help: "Notification delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	if p.Registerer != nil {
		p.Registerer.MustRegister(deliveries)
	}
	return &Relay{
		outbox:      p.Outbox,
		sender:      p.Sender,
		batchSize:   p.BatchSize,
		maxAttempts: p.MaxAttempts,
		concurrency: p.Concurrency,
		maxBackoff:  p.MaxBackoff,
		limiter:     rate.NewLimiter(limit, burst),
		deliveries:  deliveries,
		logger:      p.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Relay) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := r.ProcessBatch(ctx); err != nil {
		r.logger.Error("notification batch failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("notification batch failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Relay) ProcessBatch(ctx context.Context) error {
	items, err := r.outbox.FetchPendingOutbox(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, item := range items {
		g.Go(func() error {
			if err := r.processItem(ctx, item); err != nil {
				r.logger.Error("notification item failed",
					slog.Int64("outbox_id", item.ID),
					slog.String("channel", item.Channel),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Relay) processItem(ctx context.Context, item postgres.NotificationOutboxItem) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	ref, sendErr := r.deliver(ctx, item)
	if sendErr == nil {
		if err := r.outbox.MarkOutboxSent(ctx, item.ID, ref); err != nil {
			return err
		}
		r.deliveries.WithLabelValues(item.Channel, "sent").Inc()
		r.logger.Info("notification sent",
			slog.Int64("outbox_id", item.ID),
			slog.String("channel", item.Channel),
			slog.String("listing_id", item.ListingID),
		)
		return nil
	}

	attempts := item.Attempts + 1
	lastError := truncate(sendErr.Error(), 1500)
	if attempts >= r.maxAttempts {
		r.deliveries.WithLabelValues(item.Channel, "failed").Inc()
		r.logger.Warn("notification abandoned",
			slog.Int64("outbox_id", item.ID),
			slog.String("channel", item.Channel),
			slog.Int("attempts", attempts),
			slog.String("error", lastError),
		)
		return r.outbox.MarkOutboxFailed(ctx, item.ID, attempts, lastError)
	}
	r.deliveries.WithLabelValues(item.Channel, "retry").Inc()
	next := r.now().Add(computeBackoff(attempts, r.maxBackoff))
	return r.outbox.MarkOutboxRetry(ctx, item.ID, attempts, next, lastError)
}

func (r *Relay) deliver(ctx context.Context, item postgres.NotificationOutboxItem) (string, error) {
	switch item.Channel {
	case storage.ChannelSMS:
		return r.sender.SendSMS(ctx, item.Recipient, item.Body)
	case storage.ChannelVoice:
		return r.sender.Call(ctx, item.Recipient, item.Body)
	default:
		return "", fmt.Errorf("unsupported channel %q", item.Channel)
	}
}

func computeBackoff(attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(1<<uint(min(attempts, 10))) * 5 * time.Second
	if backoff > max {
		return max
	}
	return backoff
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
