package lists

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-lists/internal/types"
)

func listEvent(id, listID string, createdAt int64) types.Event {
	return types.Event{
		ID:        id,
		PubKey:    alicePubkey,
		CreatedAt: createdAt,
		Kind:      types.KindCategorizedPeopleList,
		Tags:      [][]string{{"d", listID}, {"p", bobPubkey}},
	}
}

func TestIndexKeepsNewestPerIdentifier(t *testing.T) {
	events := []types.Event{
		listEvent("e1", "X", 100),
		listEvent("e2", "X", 200),
	}
	index := IndexLatestByIdentifier(events)
	require.Len(t, index, 1)
	assert.Equal(t, "e2", index["X"].ID)

	// arrival order does not matter when timestamps differ
	index = IndexLatestByIdentifier([]types.Event{events[1], events[0]})
	assert.Equal(t, "e2", index["X"].ID)
}

func TestIndexTieKeepsLaterEvent(t *testing.T) {
	index := IndexLatestByIdentifier([]types.Event{
		listEvent("first", "X", 100),
		listEvent("second", "X", 100),
	})
	assert.Equal(t, "second", index["X"].ID)
}

func TestIndexSkipsEventsWithoutIdentifier(t *testing.T) {
	noTag := listEvent("e1", "X", 100)
	noTag.Tags = [][]string{{"p", bobPubkey}}

	index := IndexLatestByIdentifier([]types.Event{noTag, listEvent("e2", "Y", 50)})
	require.Len(t, index, 1)
	assert.Contains(t, index, "Y")
}

func TestIndexIsIdempotent(t *testing.T) {
	events := []types.Event{
		listEvent("e1", "X", 100),
		listEvent("e2", "Y", 300),
		listEvent("e3", "X", 200),
	}
	first := IndexLatestByIdentifier(events)

	var values []types.Event
	for _, evt := range first {
		values = append(values, evt)
	}
	assert.Equal(t, first, IndexLatestByIdentifier(values))
}

func TestSummariesAreSorted(t *testing.T) {
	locked := listEvent("e2", "alpha", 300)
	locked.Content = "sealed"
	index := IndexLatestByIdentifier([]types.Event{
		listEvent("e1", "zeta", 100),
		locked,
	})

	summaries := Summaries(index)
	require.Len(t, summaries, 2)
	assert.Equal(t, Summary{ListID: "alpha", EventID: "e2", CreatedAt: 300, Public: 1, Encrypted: true}, summaries[0])
	assert.Equal(t, "zeta", summaries[1].ListID)
	assert.False(t, summaries[1].Encrypted)
}
