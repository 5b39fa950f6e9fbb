// Package chain records provenance events on the waste tracking contract.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
)

const mirrorTimeout = 10 * time.Second

// Config is the connectivity the adapter needs. The adapter is available only
// when all three of RPCURL, PrivateKey and ContractAddress are set.
type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ChainID         int64
}

func (c Config) Complete() bool {
	return strings.TrimSpace(c.RPCURL) != "" &&
		strings.TrimSpace(c.PrivateKey) != "" &&
		strings.TrimSpace(c.ContractAddress) != ""
}

// Adapter implements provenance.Ledger. Every confirmed write is mirrored to
// the event log as a non-simulated event.
type Adapter struct {
	contract contractClient
	mirror   provenance.EventLog
	now      func() time.Time
	closer   func()
}

// New builds an adapter for cfg. An incomplete config yields an adapter that
// reports itself unavailable; a complete but malformed one is an error.
func New(ctx context.Context, cfg Config, mirror provenance.EventLog) (*Adapter, error) {
	if mirror == nil {
		return nil, fmt.Errorf("mirror event log is required")
	}
	a := &Adapter{
		mirror: mirror,
		now:    func() time.Time { return time.Now().UTC() },
		closer: func() {},
	}
	if !cfg.Complete() {
		return a, nil
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	contract, err := dialContract(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.contract = contract
	a.closer = contract.Close
	return a, nil
}

func (a *Adapter) Available() bool {
	return a.contract != nil
}

func (a *Adapter) Close() {
	a.closer()
}

func (a *Adapter) RecordCreate(ctx context.Context, in provenance.CreateIntent) (provenance.Event, error) {
	meta := map[string]any{"price": in.Price, "quantity": in.Quantity}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	return a.write(ctx, "create", provenance.Event{
		ItemID:    in.ItemID,
		Type:      provenance.EventCreated,
		ActorHash: in.ActorHash,
		Metadata:  meta,
	}, methodCreate, in.ItemID, in.ActorHash, big.NewInt(in.Price), big.NewInt(in.Quantity))
}

func (a *Adapter) RecordPurchase(ctx context.Context, itemID, actorHash string) (provenance.Event, error) {
	return a.write(ctx, "purchase", provenance.Event{
		ItemID:    itemID,
		Type:      provenance.EventPurchased,
		ActorHash: actorHash,
	}, methodPurchase, itemID, actorHash)
}

func (a *Adapter) RecordTransition(ctx context.Context, itemID string, state provenance.EventType, actorHash string) (provenance.Event, error) {
	return a.write(ctx, "transition", provenance.Event{
		ItemID:    itemID,
		Type:      state,
		ActorHash: actorHash,
	}, methodUpdate, itemID, uint8(state))
}

func (a *Adapter) write(ctx context.Context, op string, ev provenance.Event, method string, args ...any) (provenance.Event, error) {
	if !a.Available() {
		return provenance.Event{}, &provenance.ChainError{Kind: provenance.ChainUnavailable, Op: op}
	}
	txHash, err := a.contract.Transact(ctx, method, args...)
	if err != nil {
		return provenance.Event{}, &provenance.ChainError{
			Kind:        provenance.ChainWriteFailed,
			Op:          op,
			TxReference: txHash,
			Err:         err,
		}
	}
	ev.TxReference = txHash
	ev.IsSimulated = false
	ev.OccurredAt = a.now()
	// The transaction is on chain; the mirror must not inherit the chain
	// deadline or the caller's cancellation.
	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	return a.mirror.Append(mirrorCtx, ev)
}

func (a *Adapter) FetchHistory(ctx context.Context, itemID string) ([]provenance.Event, error) {
	if !a.Available() {
		return nil, &provenance.ChainError{Kind: provenance.ChainUnavailable, Op: "history"}
	}
	entries, err := a.contract.History(ctx, itemID)
	if err != nil {
		return nil, &provenance.ChainError{Kind: provenance.ChainReadFailed, Op: "history", Err: err}
	}
	events := make([]provenance.Event, 0, len(entries))
	for _, e := range entries {
		var occurred time.Time
		if e.Timestamp != nil && e.Timestamp.IsInt64() {
			occurred = time.Unix(e.Timestamp.Int64(), 0).UTC()
		}
		events = append(events, provenance.Event{
			ItemID:      itemID,
			Type:        provenance.EventType(e.State),
			TxReference: e.TxHash,
			OccurredAt:  occurred,
			Metadata:    map[string]any{"updated_by": e.UpdatedBy.Hex()},
		})
	}
	return events, nil
}
