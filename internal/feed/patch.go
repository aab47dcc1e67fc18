package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Patch is a partial field set. Nil pointers leave the target untouched;
// Extra keys overwrite the matching display fields.
type Patch struct {
	ID        string
	CreatedAt *time.Time
	Starred   *bool
	Archived  *bool
	Published *bool
	Status    *Status
	Extra     map[string]json.RawMessage
}

func FlagPatch(f Field, v bool) Patch {
	var p Patch
	switch f {
	case FieldStarred:
		p.Starred = &v
	case FieldArchived:
		p.Archived = &v
	case FieldPublished:
		p.Published = &v
	}
	return p
}

func (p Patch) Empty() bool {
	return p.CreatedAt == nil && p.Starred == nil && p.Archived == nil &&
		p.Published == nil && p.Status == nil && len(p.Extra) == 0
}

// Apply returns it with the patch merged in. The ID is never changed.
func (p Patch) Apply(it Item) Item {
	it = it.clone()
	if p.CreatedAt != nil {
		it.CreatedAt = *p.CreatedAt
	}
	if p.Starred != nil {
		it.Starred = *p.Starred
	}
	if p.Archived != nil {
		it.Archived = *p.Archived
	}
	if p.Published != nil {
		it.Published = *p.Published
	}
	if p.Status != nil {
		it.Status = *p.Status
	}
	if len(p.Extra) > 0 {
		if it.Extra == nil {
			it.Extra = make(map[string]json.RawMessage, len(p.Extra))
		}
		for k, v := range p.Extra {
			it.Extra[k] = v
		}
	}
	return it
}

func (p Patch) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+6)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.ID != "" {
		out["id"] = p.ID
	}
	if p.CreatedAt != nil {
		out["created_at"] = p.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if p.Starred != nil {
		out["starred"] = *p.Starred
	}
	if p.Archived != nil {
		out["archived"] = *p.Archived
	}
	if p.Published != nil {
		out["published"] = *p.Published
	}
	if p.Status != nil {
		out["status"] = *p.Status
	}
	return json.Marshal(out)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Patch
	for k, v := range raw {
		if _, ok := reservedKeys[k]; !ok {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[k] = v
			continue
		}
		if string(v) == "null" {
			continue
		}
		if err := out.setReserved(k, v); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	*p = out
	return nil
}

func (p *Patch) setReserved(key string, v json.RawMessage) error {
	switch key {
	case "id":
		// Accept numeric ids from row-oriented sources as well as strings.
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			p.ID = s
			return nil
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		p.ID = n.String()
	case "created_at":
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		p.CreatedAt = &t
	case "starred", "archived", "published":
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		switch key {
		case "starred":
			p.Starred = &b
		case "archived":
			p.Archived = &b
		default:
			p.Published = &b
		}
	case "status":
		var s Status
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", s)
		}
		p.Status = &s
	}
	return nil
}
