package provenance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EventType is the lifecycle state of a traded item. The numeric values match
// the state enum of the tracking contract.
type EventType uint8

const (
	EventCreated EventType = iota
	EventPurchased
	EventProcessing
	EventShipped
	EventDelivered
	EventCancelled
)

var eventTypeLabels = [...]string{
	EventCreated:    "CREATED",
	EventPurchased:  "PURCHASED",
	EventProcessing: "PROCESSING",
	EventShipped:    "SHIPPED",
	EventDelivered:  "DELIVERED",
	EventCancelled:  "CANCELLED",
}

// UnknownLabel is reported for event types outside the closed enumeration.
const UnknownLabel = "UNKNOWN"

func (t EventType) String() string {
	if int(t) < len(eventTypeLabels) {
		return eventTypeLabels[t]
	}
	return UnknownLabel
}

func (t EventType) Known() bool {
	return int(t) < len(eventTypeLabels)
}

// ParseEventType accepts a label in any case.
func ParseEventType(label string) (EventType, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	for i, l := range eventTypeLabels {
		if l == label {
			return EventType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", label)
}

// Event is one immutable provenance record for an item.
type Event struct {
	ItemID      string
	Type        EventType
	ActorHash   string
	TxReference string
	IsSimulated bool
	OccurredAt  time.Time
	Metadata    map[string]any
}

// EventLog is the append-only local record of provenance events.
type EventLog interface {
	Append(ctx context.Context, ev Event) (Event, error)
	Query(ctx context.Context, itemID string) ([]Event, error)
}

// Snapshotter is implemented by event logs that can summarize their contents.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

type Snapshot struct {
	TotalEvents     int64
	SimulatedEvents int64
	ConfirmedEvents int64
	LatestAt        *time.Time
}

const txReferenceBytes = 32

// NewTxReference returns a pseudo transaction hash shaped like an EVM tx hash:
// "0x" followed by 64 lowercase hex characters.
func NewTxReference() (string, error) {
	buf := make([]byte, txReferenceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tx reference: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// PrepareAppend validates ev and fills the fields a store owns before the
// insert. Timestamps are truncated to microseconds so that every backend
// round-trips them exactly.
func PrepareAppend(ev Event, now time.Time) (Event, error) {
	ev.ItemID = strings.TrimSpace(ev.ItemID)
	if ev.ItemID == "" {
		return ev, fmt.Errorf("event item id is required")
	}
	if strings.TrimSpace(ev.TxReference) == "" {
		ref, err := NewTxReference()
		if err != nil {
			return ev, err
		}
		ev.TxReference = ref
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	ev.OccurredAt = ev.OccurredAt.UTC().Truncate(time.Microsecond)
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	return ev, nil
}
