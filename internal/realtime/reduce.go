package realtime

import (
	"encoding/json"
	"net/url"
	"time"

	"stash/internal/feed"
)

// Enrichment fields are filled in by background processing after a capture
// lands. Until then an inserted row carries these empty values.
var neutralExtra = map[string]json.RawMessage{
	"title":   json.RawMessage(`""`),
	"summary": json.RawMessage(`""`),
	"tags":    json.RawMessage(`[]`),
}

// NewItem builds a full display item from an insert payload.
func NewItem(id string, p feed.Patch) feed.Item {
	it := feed.Item{ID: id, Status: feed.StatusPending}
	it = p.Apply(it)
	for k, v := range neutralExtra {
		if _, ok := it.Extra[k]; ok {
			continue
		}
		if it.Extra == nil {
			it.Extra = make(map[string]json.RawMessage, len(neutralExtra))
		}
		it.Extra[k] = v
	}
	return it
}

// Capture builds the pending row for user input: an http(s) URL is stored
// under "url", anything else becomes the title.
func Capture(id, text string, now time.Time) feed.Item {
	key := "title"
	if u, err := url.Parse(text); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		key = "url"
	}
	raw, _ := json.Marshal(text)
	created := now.UTC()
	return NewItem(id, feed.Patch{
		CreatedAt: &created,
		Extra:     map[string]json.RawMessage{key: raw},
	})
}

// Reduce applies one notification to s and returns the next state. It never
// fails: an insert for a known id, an update for an unknown one and a
// delete of a missing one all return s unchanged.
func Reduce(s feed.State, n Notification) feed.State {
	next, _ := reduce(s, n)
	return next
}

// reduce also reports whether the state changed.
func reduce(s feed.State, n Notification) (feed.State, bool) {
	switch n.Kind {
	case KindInsert:
		return s.WithInserted(NewItem(n.ID, n.Patch))
	case KindUpdate:
		next, _, ok := s.WithMerged(n.ID, n.Patch)
		return next, ok
	case KindDelete:
		next, _, ok := s.WithRemoved(n.ID)
		return next, ok
	}
	return s, false
}
