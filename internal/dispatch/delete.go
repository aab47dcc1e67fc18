package dispatch

import (
	"context"
	"errors"
	"fmt"

	"stash/internal/feed"
)

// DeleteError is a remote delete failure. The item has already left the
// local list and is not put back; it reappears on the next refresh.
type DeleteError struct {
	ID  string
	Err error
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.ID, e.Err)
}

func (e DeleteError) Unwrap() error { return e.Err }

type Deletion struct {
	ID      string
	Item    feed.Item
	Removed bool
}

// ApplyDelete removes the item from the local list.
func (d *Dispatcher) ApplyDelete(id string) Deletion {
	it, ok := d.list.Remove(id)
	return Deletion{ID: id, Item: it, Removed: ok}
}

func (d *Dispatcher) CommitDelete(ctx context.Context, del Deletion) error {
	err := d.remote.Delete(ctx, del.ID)
	switch {
	case err == nil:
		mutationsTotal.WithLabelValues("delete", "", "ok").Inc()
		return nil
	case errors.Is(err, feed.ErrNotFound):
		mutationsTotal.WithLabelValues("delete", "", "not_found").Inc()
		return nil
	}
	mutationsTotal.WithLabelValues("delete", "", "failed").Inc()
	d.log.Warn("delete failed", "id", del.ID, "err", err)
	return DeleteError{ID: del.ID, Err: err}
}

func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	return d.CommitDelete(ctx, d.ApplyDelete(id))
}

// CreateError is a failed capture. The optimistic row has been withdrawn.
type CreateError struct {
	ID  string
	Err error
}

func (e CreateError) Error() string {
	return fmt.Sprintf("create %s: %v", e.ID, e.Err)
}

func (e CreateError) Unwrap() error { return e.Err }

// ApplyCreate inserts a freshly captured item at the front of the list.
// It is a no-op if the push channel already delivered the same id.
func (d *Dispatcher) ApplyCreate(it feed.Item) bool {
	return d.list.Insert(it)
}

func (d *Dispatcher) CommitCreate(ctx context.Context, it feed.Item) error {
	if err := d.remote.Create(ctx, it); err != nil {
		d.list.Remove(it.ID)
		mutationsTotal.WithLabelValues("create", "", "failed").Inc()
		d.log.Warn("create failed", "id", it.ID, "err", err)
		return CreateError{ID: it.ID, Err: err}
	}
	mutationsTotal.WithLabelValues("create", "", "ok").Inc()
	return nil
}

func (d *Dispatcher) Create(ctx context.Context, it feed.Item) error {
	d.ApplyCreate(it)
	return d.CommitCreate(ctx, it)
}
