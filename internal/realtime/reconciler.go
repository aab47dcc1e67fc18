package realtime

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stash/internal/feed"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stash_notifications_total",
	Help: "Realtime notifications by type and result",
}, []string{"type", "result"})

// Reconciler applies notifications for one table to a shared list, in the
// order they are handed to it.
type Reconciler struct {
	list  *feed.List
	table string
	log   *slog.Logger
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTable changes the table whose notifications are applied.
func WithTable(table string) Option {
	return func(r *Reconciler) { r.table = table }
}

func NewReconciler(list *feed.List, opts ...Option) *Reconciler {
	r := &Reconciler{list: list, table: DefaultTable, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply reduces n into the list. It reports whether the list changed.
func (r *Reconciler) Apply(n Notification) bool {
	if n.Table != "" && !strings.EqualFold(n.Table, r.table) {
		notificationsTotal.WithLabelValues(string(n.Kind), "other_table").Inc()
		return false
	}
	changed := false
	r.list.Swap(func(s feed.State) feed.State {
		var next feed.State
		next, changed = reduce(s, n)
		return next
	})
	result := "applied"
	if !changed {
		result = "noop"
	}
	notificationsTotal.WithLabelValues(string(n.Kind), result).Inc()
	r.log.Debug("notification", "type", n.Kind, "id", n.ID, "result", result)
	return changed
}

// HandleFrame decodes and applies one raw frame. Malformed frames are
// dropped and reported as an error wrapping ErrMalformed.
func (r *Reconciler) HandleFrame(data []byte) (Notification, bool, error) {
	n, err := Decode(data)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			notificationsTotal.WithLabelValues("unknown", "malformed").Inc()
			r.log.Debug("dropping notification", "err", err)
		}
		return Notification{}, false, err
	}
	return n, r.Apply(n), nil
}
