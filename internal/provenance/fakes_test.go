package provenance

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memLog struct {
	mu        sync.Mutex
	events    []Event
	appendErr error
	queryErr  error
	appends   int
}

func (m *memLog) Append(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return Event{}, m.appendErr
	}
	stored, err := PrepareAppend(ev, time.Now().UTC())
	if err != nil {
		return Event{}, err
	}
	m.events = append(m.events, stored)
	m.appends++
	return stored, nil
}

func (m *memLog) Query(_ context.Context, itemID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make([]Event, 0)
	for _, ev := range m.events {
		if ev.ItemID == itemID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

type fakeLedger struct {
	available bool
	mirror    EventLog
	txRef     string
	writeErr  error
	history   []Event
	readErr   error
	block     bool
	calls     int
}

func (f *fakeLedger) Available() bool { return f.available }

func (f *fakeLedger) RecordCreate(ctx context.Context, in CreateIntent) (Event, error) {
	return f.record(ctx, "create", Event{ItemID: in.ItemID, Type: EventCreated, ActorHash: in.ActorHash})
}

func (f *fakeLedger) RecordPurchase(ctx context.Context, itemID, actorHash string) (Event, error) {
	return f.record(ctx, "purchase", Event{ItemID: itemID, Type: EventPurchased, ActorHash: actorHash})
}

func (f *fakeLedger) RecordTransition(ctx context.Context, itemID string, state EventType, actorHash string) (Event, error) {
	return f.record(ctx, "transition", Event{ItemID: itemID, Type: state, ActorHash: actorHash})
}

func (f *fakeLedger) FetchHistory(ctx context.Context, _ string) ([]Event, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, &ChainError{Kind: ChainReadFailed, Op: "history", Err: ctx.Err()}
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.history, nil
}

func (f *fakeLedger) record(ctx context.Context, op string, ev Event) (Event, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return Event{}, &ChainError{Kind: ChainWriteFailed, Op: op, Err: ctx.Err()}
	}
	if f.writeErr != nil {
		return Event{}, f.writeErr
	}
	ev.TxReference = f.txRef
	ev.IsSimulated = false
	return f.mirror.Append(ctx, ev)
}
