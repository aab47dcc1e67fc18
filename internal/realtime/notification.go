// Package realtime applies server-pushed change notifications to the
// shared list and carries them over a websocket.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stash/internal/feed"
)

// DefaultTable is the collection the client subscribes to.
const DefaultTable = "captures"

// ErrMalformed marks a frame that cannot be applied. Such frames are
// dropped, never fatal.
var ErrMalformed = errors.New("malformed notification")

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

type Notification struct {
	Kind  Kind
	Table string
	ID    string
	// Patch holds the new field values for insert and update.
	Patch feed.Patch
}

type wireMessage struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Decode parses one frame. Inserts need an id and created_at, updates an
// id, deletes an id in old_record (or record).
func Decode(data []byte) (Notification, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Notification{}, malformed("%v", err)
	}
	n := Notification{
		Kind:  Kind(strings.ToUpper(strings.TrimSpace(msg.Type))),
		Table: msg.Table,
	}
	switch n.Kind {
	case KindInsert, KindUpdate:
		if len(msg.Record) == 0 {
			return Notification{}, malformed("%s without record", n.Kind)
		}
		if err := json.Unmarshal(msg.Record, &n.Patch); err != nil {
			return Notification{}, malformed("record: %v", err)
		}
		n.ID = n.Patch.ID
		if n.Kind == KindInsert && n.Patch.CreatedAt == nil {
			return Notification{}, malformed("insert %s without created_at", n.ID)
		}
	case KindDelete:
		src := msg.OldRecord
		if len(src) == 0 {
			src = msg.Record
		}
		if len(src) == 0 {
			return Notification{}, malformed("delete without old_record")
		}
		var old feed.Patch
		if err := json.Unmarshal(src, &old); err != nil {
			return Notification{}, malformed("old_record: %v", err)
		}
		n.ID = old.ID
	default:
		return Notification{}, malformed("unknown type %q", msg.Type)
	}
	if n.ID == "" {
		return Notification{}, malformed("%s without id", n.Kind)
	}
	return n, nil
}

// Encode renders n in the wire format Decode accepts.
func Encode(n Notification) ([]byte, error) {
	msg := wireMessage{Type: string(n.Kind), Table: n.Table}
	if msg.Table == "" {
		msg.Table = DefaultTable
	}
	switch n.Kind {
	case KindInsert, KindUpdate:
		p := n.Patch
		p.ID = n.ID
		rec, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		msg.Record = rec
	case KindDelete:
		old, err := json.Marshal(map[string]string{"id": n.ID})
		if err != nil {
			return nil, err
		}
		msg.OldRecord = old
	default:
		return nil, fmt.Errorf("encode: unknown kind %q", n.Kind)
	}
	return json.Marshal(msg)
}

// ItemNotification builds a full-row insert or update for it.
func ItemNotification(kind Kind, it feed.Item) Notification {
	created := it.CreatedAt
	starred, archived, published, status := it.Starred, it.Archived, it.Published, it.Status
	p := feed.Patch{
		ID:        it.ID,
		CreatedAt: &created,
		Starred:   &starred,
		Archived:  &archived,
		Published: &published,
		Extra:     it.Extra,
	}
	if status != "" {
		p.Status = &status
	}
	return Notification{Kind: kind, Table: DefaultTable, ID: it.ID, Patch: p}
}
