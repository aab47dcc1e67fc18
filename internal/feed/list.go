package feed

import (
	"sync"
)

// State is an immutable snapshot of the list: items in reverse
// chronological order plus the active filter. Every With* method returns a
// new State and leaves the receiver untouched.
type State struct {
	Items  []Item
	Filter Filter
}

func (s State) Index(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) Get(id string) (Item, bool) {
	i := s.Index(id)
	if i < 0 {
		return Item{}, false
	}
	return s.Items[i], true
}

// WithInserted puts it at the front. It is a no-op when the id is already
// present or the filter excludes the item.
func (s State) WithInserted(it Item) (State, bool) {
	if it.ID == "" || s.Index(it.ID) >= 0 || !s.Filter.Match(it) {
		return s, false
	}
	items := make([]Item, 0, len(s.Items)+1)
	items = append(items, it.clone())
	items = append(items, s.Items...)
	return State{Items: items, Filter: s.Filter}, true
}

// WithMerged merges p into the item with the given id, then drops the item
// if it no longer satisfies the filter. ok is false when the id is unknown.
func (s State) WithMerged(id string, p Patch) (next State, merged Item, ok bool) {
	i := s.Index(id)
	if i < 0 {
		return s, Item{}, false
	}
	merged = p.Apply(s.Items[i])
	merged.ID = id
	if !s.Filter.Match(merged) {
		return s.without(i), merged, true
	}
	return s.replaced(i, merged), merged, true
}

// WithUpdated replaces the item with fn(item). The item is kept even if it
// stops matching the filter: Visible hides it, and a rollback can still
// find it. A later merge or refresh evicts it for good.
// WithRestored puts it back at its chronological position, for an item
// that left the list and is being brought back. Like WithInserted it is a
// no-op for a known id or an item the filter excludes.
func (s State) WithRestored(it Item) (State, bool) {
	if it.ID == "" || s.Index(it.ID) >= 0 || !s.Filter.Match(it) {
		return s, false
	}
	at := len(s.Items)
	for i := range s.Items {
		if s.Items[i].CreatedAt.Before(it.CreatedAt) {
			at = i
			break
		}
	}
	items := make([]Item, 0, len(s.Items)+1)
	items = append(items, s.Items[:at]...)
	items = append(items, it.clone())
	items = append(items, s.Items[at:]...)
	return State{Items: items, Filter: s.Filter}, true
}

func (s State) WithUpdated(id string, fn func(Item) Item) (State, bool) {
	i := s.Index(id)
	if i < 0 {
		return s, false
	}
	next := fn(s.Items[i].clone())
	next.ID = id
	return s.replaced(i, next), true
}

func (s State) WithRemoved(id string) (State, Item, bool) {
	i := s.Index(id)
	if i < 0 {
		return s, Item{}, false
	}
	return s.without(i), s.Items[i], true
}

// WithAppended adds an older page at the tail, skipping ids already present
// and items the filter excludes.
func (s State) WithAppended(page []Item) State {
	items := make([]Item, len(s.Items), len(s.Items)+len(page))
	copy(items, s.Items)
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it.ID] = struct{}{}
	}
	for _, it := range page {
		if _, ok := seen[it.ID]; ok || it.ID == "" || !s.Filter.Match(it) {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it.clone())
	}
	return State{Items: items, Filter: s.Filter}
}

// Visible returns the items matching the filter in display order: starred
// items first, each partition keeping its reverse chronological order.
func (s State) Visible() []Item {
	out := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		if it.Starred && s.Filter.Match(it) {
			out = append(out, it)
		}
	}
	for _, it := range s.Items {
		if !it.Starred && s.Filter.Match(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s State) replaced(i int, it Item) State {
	items := make([]Item, len(s.Items))
	copy(items, s.Items)
	items[i] = it
	return State{Items: items, Filter: s.Filter}
}

func (s State) without(i int) State {
	items := make([]Item, 0, len(s.Items)-1)
	items = append(items, s.Items[:i]...)
	items = append(items, s.Items[i+1:]...)
	return State{Items: items, Filter: s.Filter}
}

// List is the single owned store shared by the dispatcher, the reconciler
// and the presentation layer. Each operation swaps the snapshot atomically.
//
// The cursor is the server offset of the next page. Rows that appear or
// disappear after the first page shift the server's offsets, so every local
// insert or removal moves the cursor by one. A local removal the server
// refused leaves it one short, which only re-fetches a row the page merge
// skips. Changes missed while the realtime channel was down can leave it
// ahead; the client reloads from the first page on reconnect.
type List struct {
	mu     sync.RWMutex
	state  State
	cursor int
}

func NewList(f Filter) *List {
	return &List{state: State{Filter: f}}
}

func (l *List) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Items returns the visible ordering.
func (l *List) Items() []Item {
	return l.Snapshot().Visible()
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.state.Items)
}

func (l *List) Get(id string) (Item, bool) {
	return l.Snapshot().Get(id)
}

func (l *List) Filter() Filter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Filter
}

func (l *List) Cursor() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

// SetFilter clears the list and resets the pagination cursor. The caller
// repopulates it with AppendPage.
func (l *List) SetFilter(f Filter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = State{Filter: f}
	l.cursor = 0
}

// AppendPage adds a page fetched at the given filter and advances the
// cursor by the raw page length, duplicates included, since the server
// counted them. Pages fetched for a filter that is no longer active are
// discarded.
func (l *List) AppendPage(f Filter, page []Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f != l.state.Filter {
		return false
	}
	l.state = l.state.WithAppended(page)
	l.cursor += len(page)
	return true
}

func (l *List) Insert(it Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, ok := l.state.WithInserted(it)
	l.replace(next)
	return ok
}

// Restore brings back an item at its chronological position.
func (l *List) Restore(it Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, ok := l.state.WithRestored(it)
	l.replace(next)
	return ok
}

func (l *List) Merge(id string, p Patch) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, merged, ok := l.state.WithMerged(id, p)
	l.replace(next)
	return merged, ok
}

func (l *List) Update(id string, fn func(Item) Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, ok := l.state.WithUpdated(id, fn)
	l.replace(next)
	return ok
}

func (l *List) Remove(id string) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, removed, ok := l.state.WithRemoved(id)
	l.replace(next)
	return removed, ok
}

// Swap replaces the state with fn(state) under the lock. It is the escape
// hatch for reducers that are written as pure functions over State.
func (l *List) Swap(fn func(State) State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := fn(l.state)
	next.Filter = l.state.Filter
	l.replace(next)
}

// replace installs next and shifts the cursor by the change in length.
// Before the first page there is nothing to shift.
func (l *List) replace(next State) {
	if l.cursor > 0 {
		l.cursor += len(next.Items) - len(l.state.Items)
		if l.cursor < 0 {
			l.cursor = 0
		}
	}
	l.state = next
}
