// Package sqlite is a single-file provenance event log for deployments and
// tools that run without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unnati-rahatwal/Techvanza/internal/provenance"
)

const schema = `
CREATE TABLE IF NOT EXISTS provenance_events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  item_id TEXT NOT NULL,
  event_type INTEGER NOT NULL,
  actor_hash TEXT NOT NULL DEFAULT '',
  tx_reference TEXT NOT NULL,
  is_simulated INTEGER NOT NULL,
  occurred_at INTEGER NOT NULL,
  metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS provenance_events_item_idx ON provenance_events (item_id, occurred_at, seq);
CREATE TRIGGER IF NOT EXISTS provenance_events_no_update
  BEFORE UPDATE ON provenance_events
  BEGIN SELECT RAISE(ABORT, 'provenance_events is append-only'); END;
CREATE TRIGGER IF NOT EXISTS provenance_events_no_delete
  BEFORE DELETE ON provenance_events
  BEGIN SELECT RAISE(ABORT, 'provenance_events is append-only'); END;
`

type EventLog struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the event log file at path.
func Open(ctx context.Context, path string) (*EventLog, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite event log: %w", err)
	}
	// one writer keeps inserts serialized without SQLITE_BUSY retries
	db.SetMaxOpenConns(1)
	l, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB) (*EventLog, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate sqlite event log: %w", err)
	}
	return &EventLog{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (l *EventLog) Close() error {
	return l.db.Close()
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
	_, err = l.db.ExecContext(ctx, `
INSERT INTO provenance_events (item_id, event_type, actor_hash, tx_reference, is_simulated, occurred_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ItemID, int(ev.Type), ev.ActorHash, ev.TxReference, boolToInt(ev.IsSimulated), ev.OccurredAt.UnixMicro(), string(meta))
	if err != nil {
		return provenance.Event{}, provenance.StoreFailure("insert provenance event", err)
	}
	return ev, nil
}

func (l *EventLog) Query(ctx context.Context, itemID string) ([]provenance.Event, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT item_id, event_type, actor_hash, tx_reference, is_simulated, occurred_at, metadata
FROM provenance_events
WHERE item_id = ?
ORDER BY occurred_at ASC, seq ASC`, itemID)
	if err != nil {
		return nil, provenance.StoreFailure("query provenance events", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]provenance.Event, 0)
	for rows.Next() {
		var ev provenance.Event
		var typ, simulated int
		var occurred int64
		var meta string
		if err := rows.Scan(&ev.ItemID, &typ, &ev.ActorHash, &ev.TxReference, &simulated, &occurred, &meta); err != nil {
			return nil, provenance.StoreFailure("scan provenance event", err)
		}
		ev.Type = provenance.EventType(typ)
		ev.IsSimulated = simulated != 0
		ev.OccurredAt = time.UnixMicro(occurred).UTC()
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
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
	var latest sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN is_simulated = 1 THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN is_simulated = 0 THEN 1 ELSE 0 END), 0),
       MAX(occurred_at)
FROM provenance_events`).Scan(&snap.TotalEvents, &snap.SimulatedEvents, &snap.ConfirmedEvents, &latest)
	if err != nil {
		return snap, provenance.StoreFailure("snapshot provenance events", err)
	}
	if latest.Valid {
		t := time.UnixMicro(latest.Int64).UTC()
		snap.LatestAt = &t
	}
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
