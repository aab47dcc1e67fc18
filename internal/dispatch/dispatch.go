// Package dispatch applies user mutations to the shared list before the
// server confirms them and rolls them back when the server refuses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stash/internal/feed"
)

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stash_mutations_total",
	Help: "Optimistic mutations by operation, field and result",
}, []string{"op", "field", "result"})

// Remote is the server side of a mutation. Implementations return an error
// wrapping feed.ErrNotFound when the item no longer exists.
type Remote interface {
	Update(ctx context.Context, id string, p feed.Patch) error
	Delete(ctx context.Context, id string) error
	Create(ctx context.Context, it feed.Item) error
}

// Mutation records one optimistic toggle. Previous is captured when the
// toggle is applied, never when it resolves.
type Mutation struct {
	ID       string
	Field    feed.Field
	Applied  bool
	Previous bool
	Seq      uint64
}

func (m Mutation) Patch() feed.Patch {
	p := feed.FlagPatch(m.Field, m.Applied)
	p.ID = m.ID
	return p
}

// Revert returns it with the mutated field put back to Previous.
func (m Mutation) Revert(it feed.Item) feed.Item {
	out, err := it.WithFlag(m.Field, m.Previous)
	if err != nil {
		return it
	}
	return out
}

type key struct {
	id    string
	field feed.Field
}

type Dispatcher struct {
	list   *feed.List
	remote Remote
	log    *slog.Logger

	mu     sync.Mutex
	seq    uint64
	latest map[key]uint64
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func New(list *feed.List, remote Remote, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		list:   list,
		remote: remote,
		log:    slog.Default(),
		latest: make(map[key]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply flips field on the local item from current to !current and returns
// the mutation to hand to Commit.
func (d *Dispatcher) Apply(id string, field feed.Field, current bool) (Mutation, error) {
	if !field.Valid() {
		return Mutation{}, fmt.Errorf("toggle %s: unknown field %q", id, field)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m := Mutation{ID: id, Field: field, Applied: !current, Previous: current}
	ok := d.list.Update(id, func(it feed.Item) feed.Item {
		out, _ := it.WithFlag(field, m.Applied)
		return out
	})
	if !ok {
		return m, feed.NotFoundError{ID: id}
	}
	d.seq++
	m.Seq = d.seq
	d.latest[key{id, field}] = m.Seq
	return m, nil
}

// Restore sets field to value on it, an item that has already left the
// list, and puts the result back. The returned mutation is committed like
// any toggle; its rollback finds the restored item hidden again. The
// remote write is due even when the filter keeps the item out of view.
func (d *Dispatcher) Restore(it feed.Item, field feed.Field, value bool) (Mutation, error) {
	restored, err := it.WithFlag(field, value)
	if err != nil {
		return Mutation{}, fmt.Errorf("restore %s: %w", it.ID, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.list.Restore(restored) {
		d.log.Debug("restored item not shown", "id", it.ID, "field", field)
	}
	d.seq++
	m := Mutation{ID: it.ID, Field: field, Applied: value, Previous: !value, Seq: d.seq}
	d.latest[key{it.ID, field}] = m.Seq
	return m, nil
}

// Commit sends m to the remote. Not-found counts as success. Any other
// failure rolls the local field back and is returned for logging; callers
// need not surface it.
func (d *Dispatcher) Commit(ctx context.Context, m Mutation) error {
	err := d.remote.Update(ctx, m.ID, m.Patch())
	field := string(m.Field)
	switch {
	case err == nil:
		d.settle(m)
		mutationsTotal.WithLabelValues("toggle", field, "ok").Inc()
		return nil
	case errors.Is(err, feed.ErrNotFound):
		d.settle(m)
		mutationsTotal.WithLabelValues("toggle", field, "not_found").Inc()
		d.log.Debug("toggle target gone remotely", "id", m.ID, "field", field)
		return nil
	}
	if d.Rollback(m) {
		mutationsTotal.WithLabelValues("toggle", field, "reverted").Inc()
		d.log.Info("toggle reverted", "id", m.ID, "field", field, "value", m.Previous, "err", err)
	} else {
		mutationsTotal.WithLabelValues("toggle", field, "superseded").Inc()
		d.log.Info("toggle failed after being superseded", "id", m.ID, "field", field, "err", err)
	}
	return fmt.Errorf("toggle %s on %s: %w", field, m.ID, err)
}

// Toggle is Apply followed by Commit. A locally missing item is a no-op.
func (d *Dispatcher) Toggle(ctx context.Context, id string, field feed.Field, current bool) (Mutation, error) {
	m, err := d.Apply(id, field, current)
	if errors.Is(err, feed.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return m, err
	}
	return m, d.Commit(ctx, m)
}

// Rollback restores m.Previous, but only while m is still the newest
// toggle issued for its item and field. A later toggle's result is never
// overwritten, and an item that left the list stays gone.
func (d *Dispatcher) Rollback(m Mutation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{m.ID, m.Field}
	if seq, ok := d.latest[k]; !ok || seq != m.Seq {
		return false
	}
	delete(d.latest, k)
	return d.list.Update(m.ID, m.Revert)
}

func (d *Dispatcher) settle(m Mutation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{m.ID, m.Field}
	if d.latest[k] == m.Seq {
		delete(d.latest, k)
	}
}

// InFlight reports how many item fields have an unresolved toggle.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.latest)
}
