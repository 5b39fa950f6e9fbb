package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeLabels(t *testing.T) {
	cases := map[EventType]string{
		EventCreated:    "CREATED",
		EventPurchased:  "PURCHASED",
		EventProcessing: "PROCESSING",
		EventShipped:    "SHIPPED",
		EventDelivered:  "DELIVERED",
		EventCancelled:  "CANCELLED",
		EventType(6):    "UNKNOWN",
		EventType(255):  "UNKNOWN",
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.String())
	}
}

func TestParseEventType(t *testing.T) {
	typ, err := ParseEventType(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, EventShipped, typ)

	_, err = ParseEventType("RETURNED")
	assert.Error(t, err)
}

func TestNewTxReferenceLooksLikeChainHash(t *testing.T) {
	a, err := NewTxReference()
	require.NoError(t, err)
	b, err := NewTxReference()
	require.NoError(t, err)
	assert.Regexp(t, txRefPattern, a)
	assert.Len(t, a, 66)
	assert.NotEqual(t, a, b)
}

func TestPrepareAppend(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 678901234, time.FixedZone("IST", 19800))

	ev, err := PrepareAppend(Event{ItemID: " item "}, now)
	require.NoError(t, err)
	assert.Equal(t, "item", ev.ItemID)
	assert.Regexp(t, txRefPattern, ev.TxReference)
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())
	assert.Equal(t, 678901000, ev.OccurredAt.Nanosecond())
	assert.NotNil(t, ev.Metadata)

	kept, err := PrepareAppend(Event{ItemID: "item", TxReference: "0xabc"}, now)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", kept.TxReference)

	_, err = PrepareAppend(Event{}, now)
	assert.Error(t, err)
}
