package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Item is one captured record. Extra carries display fields (title, url,
// summary, tags, ...) that the list never interprets.
type Item struct {
	ID        string                     `json:"id"`
	CreatedAt time.Time                  `json:"created_at"`
	Starred   bool                       `json:"starred"`
	Archived  bool                       `json:"archived"`
	Published bool                       `json:"published"`
	Status    Status                     `json:"status"`
	Extra     map[string]json.RawMessage `json:"-"`
}

var reservedKeys = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"starred":    {},
	"archived":   {},
	"published":  {},
	"status":     {},
}

// Text returns Extra[key] decoded as a string, or "" when it is absent or
// not a JSON string.
func (it Item) Text(key string) string {
	raw, ok := it.Extra[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (it Item) Title() string {
	if t := strings.TrimSpace(it.Text("title")); t != "" {
		return t
	}
	if u := strings.TrimSpace(it.Text("url")); u != "" {
		return u
	}
	return it.ID
}

func (it Item) Flag(f Field) (bool, error) {
	switch f {
	case FieldStarred:
		return it.Starred, nil
	case FieldArchived:
		return it.Archived, nil
	case FieldPublished:
		return it.Published, nil
	}
	return false, fmt.Errorf("unknown field %q", f)
}

// WithFlag returns a copy of it with field f set to v.
func (it Item) WithFlag(f Field, v bool) (Item, error) {
	switch f {
	case FieldStarred:
		it.Starred = v
	case FieldArchived:
		it.Archived = v
	case FieldPublished:
		it.Published = v
	default:
		return it, fmt.Errorf("unknown field %q", f)
	}
	return it, nil
}

func (it Item) clone() Item {
	if it.Extra == nil {
		return it
	}
	extra := make(map[string]json.RawMessage, len(it.Extra))
	for k, v := range it.Extra {
		extra[k] = v
	}
	it.Extra = extra
	return it
}

func (it Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Extra)+6)
	for k, v := range it.Extra {
		out[k] = v
	}
	out["id"] = it.ID
	out["created_at"] = it.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["starred"] = it.Starred
	out["archived"] = it.Archived
	out["published"] = it.Published
	out["status"] = it.Status
	return json.Marshal(out)
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("item: missing id")
	}
	*it = p.Apply(Item{ID: p.ID})
	return nil
}

type Field string

const (
	FieldStarred   Field = "starred"
	FieldArchived  Field = "archived"
	FieldPublished Field = "published"
)

func (f Field) Valid() bool {
	switch f {
	case FieldStarred, FieldArchived, FieldPublished:
		return true
	}
	return false
}

func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}
