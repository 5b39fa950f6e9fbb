package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
)

// EventLog is the provenance event log backed by the provenance_events table.
// seq is the insertion order and breaks occurred_at ties.
type EventLog struct {
	store *Store
	now   func() time.Time
}

func (s *Store) EventLog() *EventLog {
	return &EventLog{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (l *EventLog) Append(ctx context.Context, ev provenance.Event) (provenance.Event, error) {
	ev, err := provenance.PrepareAppend(ev, l.now())
	if err != nil {
		return provenance.Event{}, err
	}
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return provenance.Event{}, fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = l.store.pool.Exec(ctx, `
INSERT INTO provenance_events (item_id, event_type, actor_hash, tx_reference, is_simulated, occurred_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
`, ev.ItemID, int16(ev.Type), ev.ActorHash, ev.TxReference, ev.IsSimulated, ev.OccurredAt, meta)
	if err != nil {
		return provenance.Event{}, provenance.StoreFailure("insert provenance event", err)
	}
	return ev, nil
}

func (l *EventLog) Query(ctx context.Context, itemID string) ([]provenance.Event, error) {
	rows, err := l.store.pool.Query(ctx, `
SELECT item_id, event_type, actor_hash, tx_reference, is_simulated, occurred_at, metadata
FROM provenance_events
WHERE item_id = $1
ORDER BY occurred_at ASC, seq ASC
`, itemID)
	if err != nil {
		return nil, provenance.StoreFailure("query provenance events", err)
	}
	defer rows.Close()
	out := make([]provenance.Event, 0)
	for rows.Next() {
		var ev provenance.Event
		var typ int16
		var meta []byte
		if err := rows.Scan(&ev.ItemID, &typ, &ev.ActorHash, &ev.TxReference, &ev.IsSimulated, &ev.OccurredAt, &meta); err != nil {
			return nil, provenance.StoreFailure("scan provenance event", err)
		}
		ev.Type = provenance.EventType(typ)
		ev.OccurredAt = ev.OccurredAt.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, provenance.StoreFailure("iterate provenance events", err)
	}
	return out, nil
}

func (l *EventLog) Snapshot(ctx context.Context) (provenance.Snapshot, error) {
	var snap provenance.Snapshot
	var latest *time.Time
	err := l.store.pool.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE is_simulated),
       COUNT(*) FILTER (WHERE NOT is_simulated),
       MAX(occurred_at)
FROM provenance_events
`).Scan(&snap.TotalEvents, &snap.SimulatedEvents, &snap.ConfirmedEvents, &latest)
	if err != nil {
		return snap, provenance.StoreFailure("snapshot provenance events", err)
	}
	if latest != nil {
		t := latest.UTC()
		snap.LatestAt = &t
	}
	return snap, nil
}
