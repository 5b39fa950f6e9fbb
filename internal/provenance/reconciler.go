package provenance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SyntheticTxMarker tags timeline entries that were synthesized rather than
// read from either source.
type SyntheticTxMarker uint8

const (
	MarkerNone SyntheticTxMarker = iota
	MarkerGenesis
	MarkerPending
)

func (m SyntheticTxMarker) String() string {
	switch m {
	case MarkerGenesis:
		return "genesis"
	case MarkerPending:
		return "pending"
	default:
		return ""
	}
}

// DisplayReference is the tx reference shown for a synthesized entry.
func (m SyntheticTxMarker) DisplayReference() string {
	switch m {
	case MarkerGenesis:
		return "Genesis"
	case MarkerPending:
		return "Pending..."
	default:
		return ""
	}
}

func (m SyntheticTxMarker) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SyntheticTxMarker) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "":
		*m = MarkerNone
	case "genesis":
		*m = MarkerGenesis
	case "pending":
		*m = MarkerPending
	default:
		return fmt.Errorf("unknown synthetic marker %q", string(b))
	}
	return nil
}

type Source string

const (
	SourceChain       Source = "chain"
	SourceLocal       Source = "local"
	SourceSynthesized Source = "synthesized"
)

// Item is the part of a listing the reconciler needs.
type Item struct {
	ID        string
	CreatedAt time.Time
	Sold      bool
	SoldAt    time.Time
}

type TimelineEntry struct {
	Event
	Label  string
	Source Source
	Marker SyntheticTxMarker
}

type Timeline struct {
	ItemID    string
	ChainRead bool
	Entries   []TimelineEntry
}

type HistoryReader interface {
	History(ctx context.Context, itemID string) (History, error)
}

type Reconciler struct {
	reader HistoryReader
}

func NewReconciler(reader HistoryReader) *Reconciler {
	return &Reconciler{reader: reader}
}

// Timeline returns the ordered, de-duplicated history of item. It fails only
// when the event log cannot be read.
func (r *Reconciler) Timeline(ctx context.Context, item Item) (Timeline, error) {
	h, err := r.reader.History(ctx, item.ID)
	if err != nil {
		return Timeline{}, err
	}
	return Timeline{
		ItemID:    item.ID,
		ChainRead: h.ChainRead,
		Entries:   Reconcile(item, h),
	}, nil
}

// Reconcile merges both sources, synthesizes missing CREATED and PURCHASED
// entries, and orders the result by occurrence. Entries with equal timestamps
// keep their merge order.
func Reconcile(item Item, h History) []TimelineEntry {
	entries := merge(h)

	if len(entries) == 0 {
		entries = append(entries, synthesize(item.ID, EventCreated, MarkerGenesis, item.CreatedAt))
	}
	if item.Sold && !containsType(entries, EventPurchased) {
		at := item.SoldAt
		if at.IsZero() {
			at = item.CreatedAt
		}
		entries = append(entries, synthesize(item.ID, EventPurchased, MarkerPending, at))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})
	for i := range entries {
		entries[i].Label = entries[i].Type.String()
	}
	return entries
}

// merge lays chain events first and then any local events the chain did not
// report. A local event matches a chain event by tx reference, including the
// reference of a transaction whose confirmation timed out. Chain events without
// a reference take it from the first unmatched local mirror of the same type.
func merge(h History) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(h.Chain)+len(h.Local))
	if !h.ChainRead {
		for _, ev := range h.Local {
			out = append(out, TimelineEntry{Event: ev, Source: SourceLocal})
		}
		return out
	}

	used := make([]bool, len(h.Local))
	byRef := make(map[string]int, len(h.Local))
	for i, ev := range h.Local {
		if key := refKey(ev.TxReference); key != "" {
			if _, ok := byRef[key]; !ok {
				byRef[key] = i
			}
		}
		if pending, ok := ev.Metadata[MetadataUnconfirmedTx].(string); ok {
			if key := refKey(pending); key != "" {
				if _, exists := byRef[key]; !exists {
					byRef[key] = i
				}
			}
		}
	}

	for _, ce := range h.Chain {
		idx := -1
		if key := refKey(ce.TxReference); key != "" {
			if i, ok := byRef[key]; ok && !used[i] {
				idx = i
			}
		} else {
			for i, ev := range h.Local {
				if !used[i] && !ev.IsSimulated && ev.Type == ce.Type {
					idx = i
					break
				}
			}
		}
		entry := TimelineEntry{Event: ce, Source: SourceChain}
		entry.IsSimulated = false
		if idx >= 0 {
			used[idx] = true
			local := h.Local[idx]
			if entry.TxReference == "" {
				entry.TxReference = local.TxReference
			}
			if entry.ActorHash == "" {
				entry.ActorHash = local.ActorHash
			}
			// Block timestamps have whole-second precision.
			if sameSecond(entry.OccurredAt, local.OccurredAt) {
				entry.OccurredAt = local.OccurredAt
			}
			entry.Metadata = mergeMetadata(local.Metadata, ce.Metadata)
		}
		out = append(out, entry)
	}
	for i, ev := range h.Local {
		if !used[i] {
			out = append(out, TimelineEntry{Event: ev, Source: SourceLocal})
		}
	}
	return out
}

func synthesize(itemID string, t EventType, marker SyntheticTxMarker, at time.Time) TimelineEntry {
	return TimelineEntry{
		Event: Event{
			ItemID:      itemID,
			Type:        t,
			TxReference: marker.DisplayReference(),
			IsSimulated: true,
			OccurredAt:  at.UTC(),
		},
		Source: SourceSynthesized,
		Marker: marker,
	}
}

func sameSecond(chain, local time.Time) bool {
	if chain.IsZero() || local.IsZero() {
		return false
	}
	return chain.Unix() == local.Unix()
}

func containsType(entries []TimelineEntry, t EventType) bool {
	for _, e := range entries {
		if e.Type == t {
			return true
		}
	}
	return false
}

func refKey(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}

func mergeMetadata(local, chain map[string]any) map[string]any {
	if len(local) == 0 && len(chain) == 0 {
		return nil
	}
	out := make(map[string]any, len(local)+len(chain))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range chain {
		out[k] = v
	}
	return out
}
