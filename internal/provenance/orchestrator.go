package provenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MetadataUnconfirmedTx holds the hash of a submitted transaction whose
// confirmation failed before the write fell back to the local log.
const MetadataUnconfirmedTx = "unconfirmed_tx_reference"

// Ledger is the external distributed ledger behind a capability check.
// Failures are reported as *ChainError; any other error from a write means the
// chain accepted it but the local mirror append failed.
type Ledger interface {
	Available() bool
	RecordCreate(ctx context.Context, in CreateIntent) (Event, error)
	RecordPurchase(ctx context.Context, itemID, actorHash string) (Event, error)
	RecordTransition(ctx context.Context, itemID string, state EventType, actorHash string) (Event, error)
	FetchHistory(ctx context.Context, itemID string) ([]Event, error)
}

// CreateIntent describes a newly listed item. Price is in minor currency units.
type CreateIntent struct {
	ItemID    string
	ActorHash string
	Price     int64
	Quantity  int64
	Metadata  map[string]any
}

type OrchestratorParams struct {
	Ledger  Ledger
	Log     EventLog
	Timeout time.Duration
	Breaker *Breaker
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator routes each provenance write and read to the chain when it can
// and to the local event log when it cannot. Ledger failures never reach the
// caller; event log failures always do.
type Orchestrator struct {
	ledger  Ledger
	log     EventLog
	timeout time.Duration
	breaker *Breaker
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Log == nil {
		return nil, errors.New("event log is required")
	}
	if p.Timeout <= 0 {
		p.Timeout = 20 * time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		ledger:  p.Ledger,
		log:     p.Log,
		timeout: p.Timeout,
		breaker: p.Breaker,
		metrics: p.Metrics,
		logger:  p.Logger,
		now:     p.Now,
	}, nil
}

func (o *Orchestrator) RecordCreate(ctx context.Context, in CreateIntent) (Event, error) {
	meta := copyMetadata(in.Metadata)
	meta["price"] = in.Price
	meta["quantity"] = in.Quantity
	intent := Event{
		ItemID:    in.ItemID,
		Type:      EventCreated,
		ActorHash: in.ActorHash,
		Metadata:  meta,
	}
	return o.write(ctx, "create", intent, func(ctx context.Context) (Event, error) {
		return o.ledger.RecordCreate(ctx, in)
	})
}

func (o *Orchestrator) RecordPurchase(ctx context.Context, itemID, buyerHash string, metadata map[string]any) (Event, error) {
	intent := Event{
		ItemID:    itemID,
		Type:      EventPurchased,
		ActorHash: buyerHash,
		Metadata:  copyMetadata(metadata),
	}
	return o.write(ctx, "purchase", intent, func(ctx context.Context) (Event, error) {
		return o.ledger.RecordPurchase(ctx, itemID, buyerHash)
	})
}

func (o *Orchestrator) RecordTransition(ctx context.Context, itemID string, state EventType, actorHash string) (Event, error) {
	if !state.Known() {
		return Event{}, fmt.Errorf("unknown lifecycle state %d", state)
	}
	intent := Event{
		ItemID:    itemID,
		Type:      state,
		ActorHash: actorHash,
		Metadata:  map[string]any{},
	}
	return o.write(ctx, "transition", intent, func(ctx context.Context) (Event, error) {
		return o.ledger.RecordTransition(ctx, itemID, state, actorHash)
	})
}

func (o *Orchestrator) write(ctx context.Context, op string, intent Event, attempt func(context.Context) (Event, error)) (Event, error) {
	if !o.chainAvailable() {
		o.logger.Debug("chain not configured, recording simulated event",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
		)
		return o.simulate(ctx, op, intent)
	}
	if !o.breaker.Allow() {
		o.logger.Debug("chain breaker open, recording simulated event",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
		)
		return o.simulate(ctx, op, intent)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	start := o.now()
	ev, err := attempt(callCtx)
	cancel()
	o.metrics.observeChainLatency(op, o.now().Sub(start).Seconds())
	if err == nil {
		o.breaker.Success()
		o.metrics.setBreaker(o.breaker.State())
		o.metrics.observeWrite(op, pathChain)
		return ev, nil
	}

	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		// The ledger confirmed the transaction; only the mirror append failed.
		o.breaker.Success()
		o.metrics.setBreaker(o.breaker.State())
		o.logger.Error("chain write confirmed but mirror append failed",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
			slog.String("error", err.Error()),
		)
		return Event{}, StoreFailure("mirror "+op, err)
	}

	o.metrics.observeChainFailure(op, chainErr.Kind)
	switch {
	case chainErr.Kind == ChainUnavailable:
		o.logger.Debug("chain unavailable, recording simulated event",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
		)
	case ctx.Err() != nil:
		// The caller went away; that says nothing about the chain.
		o.breaker.Release()
		o.logger.Debug("chain write abandoned by caller",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
			slog.String("error", ctx.Err().Error()),
		)
	default:
		o.breaker.Failure()
		o.metrics.setBreaker(o.breaker.State())
		o.logger.Warn("chain write failed, recording simulated event",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
			slog.String("kind", chainErr.Kind.String()),
			slog.String("error", err.Error()),
		)
	}
	if chainErr.TxReference != "" {
		intent.Metadata = copyMetadata(intent.Metadata)
		intent.Metadata[MetadataUnconfirmedTx] = chainErr.TxReference
	}
	return o.simulate(ctx, op, intent)
}

// History holds both sources for an item. ChainRead is false when the chain
// was skipped or its read failed; Chain is then empty.
type History struct {
	Chain     []Event
	ChainRead bool
	Local     []Event
}

// History reads the chain first, falling back silently, and always reads the
// local log.
func (o *Orchestrator) History(ctx context.Context, itemID string) (History, error) {
	var h History
	if o.chainAvailable() && o.breaker.Allow() {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		start := o.now()
		events, err := o.ledger.FetchHistory(callCtx, itemID)
		cancel()
		o.metrics.observeChainLatency("history", o.now().Sub(start).Seconds())
		if err == nil {
			o.breaker.Success()
			h.Chain = events
			h.ChainRead = true
		} else {
			kind, ok := chainErrorKind(err)
			if !ok {
				kind = ChainReadFailed
			}
			o.metrics.observeChainFailure("history", kind)
			if ctx.Err() != nil {
				o.breaker.Release()
			} else if kind != ChainUnavailable {
				o.breaker.Failure()
				o.logger.Warn("chain history read failed, using event log",
					slog.String("item_id", itemID),
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		o.metrics.setBreaker(o.breaker.State())
	}

	local, err := o.log.Query(ctx, itemID)
	if err != nil {
		o.logger.Error("event log query failed",
			slog.String("item_id", itemID),
			slog.String("error", err.Error()),
		)
		return History{}, StoreFailure("query events", err)
	}
	h.Local = local
	return h, nil
}

type ChainStatus struct {
	Configured bool
	Breaker    BreakerState
}

func (o *Orchestrator) ChainStatus() ChainStatus {
	return ChainStatus{
		Configured: o.chainAvailable(),
		Breaker:    o.breaker.State(),
	}
}

func (o *Orchestrator) simulate(ctx context.Context, op string, intent Event) (Event, error) {
	intent.IsSimulated = true
	intent.TxReference = ""
	intent.OccurredAt = o.now()
	stored, err := o.log.Append(ctx, intent)
	if err != nil {
		o.logger.Error("event log append failed",
			slog.String("op", op),
			slog.String("item_id", intent.ItemID),
			slog.String("error", err.Error()),
		)
		return Event{}, StoreFailure("append simulated "+op, err)
	}
	o.metrics.observeWrite(op, pathSimulated)
	return stored, nil
}

func (o *Orchestrator) chainAvailable() bool {
	return o.ledger != nil && o.ledger.Available()
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
