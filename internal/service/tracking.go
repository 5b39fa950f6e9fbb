package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unnati-rahatwal/Techvanza/internal/logging"
	"github.com/unnati-rahatwal/Techvanza/internal/protocol"
	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

type TimelineReader interface {
	Timeline(ctx context.Context, item provenance.Item) (provenance.Timeline, error)
}

type ChainStatusReader interface {
	ChainStatus() provenance.ChainStatus
}

type TrackingParams struct {
	Store      storage.Store
	Timelines  TimelineReader
	Provenance ProvenanceWriter
	Chain      ChainStatusReader
	Events     provenance.Snapshotter
	Logger     *slog.Logger
}

type Tracking struct {
	store      storage.Store
	timelines  TimelineReader
	provenance ProvenanceWriter
	chain      ChainStatusReader
	events     provenance.Snapshotter
	logger     *slog.Logger
}

func NewTracking(p TrackingParams) (*Tracking, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if p.Timelines == nil {
		return nil, fmt.Errorf("timeline reader is required")
	}
	if p.Provenance == nil {
		return nil, fmt.Errorf("provenance writer is required")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Tracking{
		store:      p.Store,
		timelines:  p.Timelines,
		provenance: p.Provenance,
		chain:      p.Chain,
		events:     p.Events,
		logger:     p.Logger,
	}, nil
}

// Timeline returns the reconciled provenance history of a listing.
func (t *Tracking) Timeline(ctx context.Context, itemID string) (protocol.TrackingResponse, error) {
	listing, err := t.listing(ctx, itemID)
	if err != nil {
		return protocol.TrackingResponse{}, err
	}
	logging.AddField(ctx, "listing_id", listing.ID)

	item := provenance.Item{
		ID:        listing.ID,
		CreatedAt: listing.CreatedAt,
		Sold:      listing.Status == protocol.ListingSold,
	}
	if listing.SoldAt != nil {
		item.SoldAt = *listing.SoldAt
	}
	tl, err := t.timelines.Timeline(ctx, item)
	if err != nil {
		return protocol.TrackingResponse{}, fromStore("read provenance history", err)
	}
	logging.AddField(ctx, "chain_read", tl.ChainRead)

	history := make([]protocol.TimelineEntry, 0, len(tl.Entries))
	for _, e := range tl.Entries {
		history = append(history, protocol.TimelineEntry{
			State:       e.Label,
			Timestamp:   e.OccurredAt,
			TxReference: e.TxReference,
			IsSimulated: e.IsSimulated,
			Synthetic:   e.Marker.String(),
			Source:      string(e.Source),
			ActorHash:   e.ActorHash,
		})
	}
	return protocol.TrackingResponse{
		Listing:   t.summary(ctx, listing),
		History:   history,
		ChainRead: tl.ChainRead,
	}, nil
}

// RecordTransition appends an operator-reported lifecycle state. Only the
// post-purchase states are accepted here.
func (t *Tracking) RecordTransition(ctx context.Context, itemID string, req protocol.StateUpdateRequest) (protocol.ProvenanceReceipt, error) {
	state, err := provenance.ParseEventType(strings.ToUpper(strings.TrimSpace(req.State)))
	if err != nil {
		return protocol.ProvenanceReceipt{}, BadRequest("state is not a known lifecycle state")
	}
	switch state {
	case provenance.EventProcessing, provenance.EventShipped, provenance.EventDelivered, provenance.EventCancelled:
	default:
		return protocol.ProvenanceReceipt{}, BadRequest("state must be PROCESSING, SHIPPED, DELIVERED or CANCELLED")
	}
	listing, err := t.listing(ctx, itemID)
	if err != nil {
		return protocol.ProvenanceReceipt{}, err
	}
	logging.AddField(ctx, "listing_id", listing.ID)
	logging.AddField(ctx, "state", state.String())

	var actor string
	if id := strings.TrimSpace(req.ActorID); id != "" {
		actor = protocol.ActorHash(id)
	}
	ev, err := t.provenance.RecordTransition(ctx, listing.ID, state, actor)
	if err != nil {
		return protocol.ProvenanceReceipt{}, fromStore("record transition", err)
	}
	return *receipt(ev), nil
}

func (t *Tracking) Status(ctx context.Context) (protocol.ProvenanceStatusResponse, error) {
	var resp protocol.ProvenanceStatusResponse
	if t.chain != nil {
		st := t.chain.ChainStatus()
		resp.ChainConfigured = st.Configured
		resp.Breaker = string(st.Breaker)
	}
	if t.events != nil {
		snap, err := t.events.Snapshot(ctx)
		if err != nil {
			return protocol.ProvenanceStatusResponse{}, fromStore("summarize event log", err)
		}
		resp.TotalEvents = snap.TotalEvents
		resp.SimulatedEvents = snap.SimulatedEvents
		resp.ConfirmedEvents = snap.ConfirmedEvents
		resp.LatestEventAt = snap.LatestAt
	}
	return resp, nil
}

func (t *Tracking) listing(ctx context.Context, id string) (protocol.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return protocol.Listing{}, BadRequest("item id is required")
	}
	l, ok, err := t.store.GetListing(ctx, id)
	if err != nil {
		return protocol.Listing{}, Internal("load listing", err)
	}
	if !ok {
		return protocol.Listing{}, NotFound("item not found")
	}
	return l, nil
}

// summary resolves party names best effort; a failed lookup leaves the name
// empty.
func (t *Tracking) summary(ctx context.Context, l protocol.Listing) protocol.ListingSummary {
	out := protocol.ListingSummary{
		ID:       l.ID,
		Title:    l.Title,
		Quantity: l.Quantity,
		Status:   l.Status,
	}
	out.Supplier = t.userName(ctx, l.SupplierID)
	if l.BuyerID != "" {
		out.Buyer = t.userName(ctx, l.BuyerID)
	}
	return out
}

func (t *Tracking) userName(ctx context.Context, id string) string {
	u, ok, err := t.store.GetUser(ctx, id)
	if err != nil {
		t.logger.Debug("user lookup failed", slog.String("user_id", id), slog.String("error", err.Error()))
		return ""
	}
	if !ok {
		return ""
	}
	return u.Name
}
