package testutil

import (
	"encoding/json"
	"time"

	"stash/internal/feed"
)

// Epoch is the fixed "now" used by fixtures.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Item builds a ready, unflagged item created minutesAgo before Epoch.
func Item(id string, minutesAgo int, title string) feed.Item {
	t, _ := json.Marshal(title)
	return feed.Item{
		ID:        id,
		CreatedAt: Epoch.Add(-time.Duration(minutesAgo) * time.Minute),
		Status:    feed.StatusReady,
		Extra:     map[string]json.RawMessage{"title": t},
	}
}

// IDs lists the ids of items in order.
func IDs(items []feed.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
