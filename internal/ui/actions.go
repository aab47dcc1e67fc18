package ui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"stash/internal/dispatch"
	"stash/internal/feed"
	"stash/internal/realtime"
	"stash/internal/remote"
	"stash/internal/undo"
)

// Source is the server as seen by the list: the mutation endpoints plus
// the paged query.
type Source interface {
	dispatch.Remote
	Query(ctx context.Context, f feed.Filter, offset, limit int) (remote.Page, error)
}

// pageMsg answers a fetch. gen identifies the list load it belongs to, so
// a page requested before a reload is dropped.
type pageMsg struct {
	gen    int
	filter feed.Filter
	offset int
	page   remote.Page
	err    error
}

type mutationMsg struct {
	mutation dispatch.Mutation
	err      error
}

type deleteMsg struct {
	id    string
	title string
	err   error
}

type createMsg struct {
	item feed.Item
	err  error
}

type noticeExpiredMsg struct {
	seq uint64
}

type selectMsg struct {
	id string
}

// RealtimeMsg carries a pushed notification into the program.
type RealtimeMsg struct {
	Notification realtime.Notification
}

// ConnectionMsg reports the realtime channel going up or down.
type ConnectionMsg struct {
	Connected bool
}

// effects collects commands produced from inside synchronous callbacks
// (gesture hooks, undo reversals) so Update can return them.
type effects struct {
	cmds []tea.Cmd
}

func (e *effects) push(c tea.Cmd) {
	if c != nil {
		e.cmds = append(e.cmds, c)
	}
}

func (e *effects) drain() tea.Cmd {
	if len(e.cmds) == 0 {
		return nil
	}
	cmds := e.cmds
	e.cmds = nil
	return tea.Batch(cmds...)
}

// actions holds everything the list operations share. Model is copied on
// every Update, so it keeps a pointer to one actions value.
type actions struct {
	list     *feed.List
	source   Source
	dispatch *dispatch.Dispatcher
	undo     *undo.Coordinator
	fx       *effects
	log      *slog.Logger
	timeout  time.Duration
}

func (a *actions) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

func (a *actions) fetch(gen int, f feed.Filter, offset, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.ctx()
		defer cancel()
		page, err := a.source.Query(ctx, f, offset, limit)
		return pageMsg{gen: gen, filter: f, offset: offset, page: page, err: err}
	}
}

func (a *actions) commit(m dispatch.Mutation) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := a.ctx()
		defer cancel()
		return mutationMsg{mutation: m, err: a.dispatch.Commit(ctx, m)}
	}
}

// toggle flips field on id right away and sends the write. Star and archive
// get an undo notice whose reversal toggles the field back.
func (a *actions) toggle(id string, field feed.Field) {
	it, ok := a.list.Get(id)
	if !ok {
		return
	}
	current, err := it.Flag(field)
	if err != nil {
		a.log.Error("toggle", "id", id, "err", err)
		return
	}
	m, err := a.dispatch.Apply(id, field, current)
	if err != nil {
		a.log.Debug("toggle skipped", "id", id, "field", field, "err", err)
		return
	}
	a.fx.push(a.commit(m))
	if field == feed.FieldPublished {
		return
	}
	a.notify(toggleMessage(field, m.Applied, it.Title()), func() { a.revert(it, field, m.Applied) })
}

// revert is the undo reversal: a fresh toggle back, issued only if the
// field still holds the value the undone action set. An item the action
// pushed out of the list (an archive echoed by the server, an unstar under
// the starred filter) is restored from its snapshot instead.
func (a *actions) revert(snap feed.Item, field feed.Field, applied bool) {
	it, ok := a.list.Get(snap.ID)
	if !ok {
		m, err := a.dispatch.Restore(snap, field, !applied)
		if err != nil {
			a.log.Error("undo", "id", snap.ID, "err", err)
			return
		}
		a.fx.push(a.commit(m))
		return
	}
	current, err := it.Flag(field)
	if err != nil || current != applied {
		return
	}
	m, err := a.dispatch.Apply(snap.ID, field, current)
	if err != nil {
		return
	}
	a.fx.push(a.commit(m))
}

func (a *actions) remove(id string) {
	del := a.dispatch.ApplyDelete(id)
	if !del.Removed {
		return
	}
	title := del.Item.Title()
	a.fx.push(func() tea.Msg {
		ctx, cancel := a.ctx()
		defer cancel()
		return deleteMsg{id: id, title: title, err: a.dispatch.CommitDelete(ctx, del)}
	})
}

func (a *actions) capture(it feed.Item) {
	if !a.dispatch.ApplyCreate(it) {
		a.log.Debug("capture hidden by filter", "id", it.ID)
	}
	a.fx.push(func() tea.Msg {
		ctx, cancel := a.ctx()
		defer cancel()
		return createMsg{item: it, err: a.dispatch.CommitCreate(ctx, it)}
	})
}

// notify shows a notice and schedules its expiry on the program's clock.
func (a *actions) notify(message string, reverse func()) {
	n := a.undo.Show(message, reverse)
	seq := n.Seq
	a.fx.push(tea.Tick(a.undo.Duration(), func(time.Time) tea.Msg {
		return noticeExpiredMsg{seq: seq}
	}))
}

func toggleMessage(field feed.Field, applied bool, title string) string {
	verb := map[feed.Field][2]string{
		feed.FieldStarred:  {"Unstarred", "Starred"},
		feed.FieldArchived: {"Restored", "Archived"},
	}[field]
	v := verb[0]
	if applied {
		v = verb[1]
	}
	return fmt.Sprintf("%s %q", v, title)
}
