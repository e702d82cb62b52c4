package lists

import (
	"sort"

	"nostr-lists/internal/types"
)

// IndexLatestByIdentifier keeps the newest event per list identifier. When
// two events share a timestamp the one seen later wins, so the result then
// depends on relay delivery order.
func IndexLatestByIdentifier(events []types.Event) map[string]types.Event {
	index := make(map[string]types.Event)
	for _, evt := range events {
		listID, ok := evt.TagValue(types.TagListID)
		if !ok {
			continue
		}
		if current, exists := index[listID]; exists && evt.CreatedAt < current.CreatedAt {
			continue
		}
		index[listID] = evt
	}
	return index
}

// Summary is the display row for one indexed list
type Summary struct {
	ListID    string
	EventID   string
	CreatedAt int64
	Public    int
	Encrypted bool
}

// Summaries returns the index sorted by list identifier
func Summaries(index map[string]types.Event) []Summary {
	out := make([]Summary, 0, len(index))
	for listID, evt := range index {
		out = append(out, Summary{
			ListID:    listID,
			EventID:   evt.ID,
			CreatedAt: evt.CreatedAt,
			Public:    len(evt.TagValues(types.TagMember)),
			Encrypted: evt.Content != "",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListID < out[j].ListID })
	return out
}
