// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"stash/internal/feed"
	"stash/internal/remote"
)

// ErrRejected stands in for a non-success response.
var ErrRejected = errors.New("rejected")

// FakeRemote is an in-memory remote with per-call error injection. It
// satisfies dispatch.Remote and the paging query of remote.Client.
type FakeRemote struct {
	mu    sync.Mutex
	items map[string]feed.Item

	// Error injection, keyed by item id; "*" matches every id.
	UpdateErr map[string]error
	DeleteErr map[string]error
	CreateErr error
	QueryErr  error

	// Gate, when set, is received from before each Update returns so a
	// test can decide the completion order of concurrent calls.
	Gate chan struct{}

	Updates []feed.Patch
	Deletes []string
}

func NewFakeRemote(items ...feed.Item) *FakeRemote {
	f := &FakeRemote{
		items:     make(map[string]feed.Item),
		UpdateErr: make(map[string]error),
		DeleteErr: make(map[string]error),
	}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func lookupErr(m map[string]error, id string) error {
	if err, ok := m[id]; ok {
		return err
	}
	return m["*"]
}

func (f *FakeRemote) Update(ctx context.Context, id string, p feed.Patch) error {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates = append(f.Updates, p)
	if err := lookupErr(f.UpdateErr, id); err != nil {
		return err
	}
	it, ok := f.items[id]
	if !ok {
		return feed.NotFoundError{ID: id}
	}
	f.items[id] = p.Apply(it)
	return nil
}

func (f *FakeRemote) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes = append(f.Deletes, id)
	if err := lookupErr(f.DeleteErr, id); err != nil {
		return err
	}
	if _, ok := f.items[id]; !ok {
		return feed.NotFoundError{ID: id}
	}
	delete(f.items, id)
	return nil
}

func (f *FakeRemote) Create(ctx context.Context, it feed.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.items[it.ID] = it
	return nil
}

// Query returns a newest-first page of the items matching filter.
func (f *FakeRemote) Query(ctx context.Context, filter feed.Filter, offset, limit int) (remote.Page, error) {
	if f.QueryErr != nil {
		return remote.Page{}, f.QueryErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []feed.Item
	for _, it := range f.items {
		if filter.Match(it) {
			all = append(all, it)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return remote.Page{Items: []feed.Item{}, Next: offset}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return remote.Page{Items: all[offset:end], Next: end}, nil
}

// Item returns the remote copy of an item.
func (f *FakeRemote) Item(id string) (feed.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	return it, ok
}
