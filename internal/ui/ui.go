package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stash/internal/config"
	"stash/internal/dispatch"
	"stash/internal/feed"
	"stash/internal/realtime"
	"stash/internal/swipe"
	"stash/internal/undo"
)

type mode int

const (
	modeList mode = iota
	modeCapture
)

const (
	headerLines = 2
	footerLines = 4
)

type Model struct {
	cfg      config.Config
	list     *feed.List
	act      *actions
	rec      *realtime.Reconciler
	gestures *swipe.Group
	log      *slog.Logger
	now      func() time.Time

	cursor     int
	top        int
	width      int
	height     int
	mode       mode
	input      textinput.Model
	status     string
	confirmDel bool
	pendingDel string
	gen        int
	loading    bool
	exhausted  bool
	connected  bool
	dropped    bool
	narrowWarn bool
}

type Option func(*Model)

func WithLogger(l *slog.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

func New(cfg config.Config, source Source, opts ...Option) Model {
	f, err := feed.ParseFilter(cfg.DefaultFilter)
	if err != nil {
		f = feed.FilterActive
	}

	ti := textinput.New()
	ti.Placeholder = "URL or note"
	ti.CharLimit = 2048
	ti.Width = 40

	m := Model{
		cfg:     cfg,
		list:    feed.NewList(f),
		log:     slog.Default(),
		now:     time.Now,
		input:   ti,
		mode:    modeList,
		status:  "Swipe or use keys to act on items.",
		loading: true,
	}
	for _, opt := range opts {
		opt(&m)
	}

	undoFor := time.Duration(cfg.UndoSeconds * float64(time.Second))
	m.act = &actions{
		list:     m.list,
		source:   source,
		dispatch: dispatch.New(m.list, source, dispatch.WithLogger(m.log)),
		// The program's own ticks drive expiry; see noticeExpiredMsg.
		undo:    undo.New(undoFor, undo.WithAfterFunc(nil), undo.WithClock(m.now)),
		fx:      &effects{},
		log:     m.log,
		timeout: 15 * time.Second,
	}
	m.rec = realtime.NewReconciler(m.list, realtime.WithLogger(m.log))

	act := m.act
	m.gestures = swipe.NewGroup(cfg.Gesture.Swipe(), swipe.Hooks{
		OnTap: func(id string) {
			act.fx.push(func() tea.Msg { return selectMsg{id: id} })
		},
		OnCommitLeft: func(id string) {
			act.toggle(id, feed.FieldArchived)
		},
		OnCommitRight: func(id string) {
			act.toggle(id, feed.FieldStarred)
		},
		OnRevealChange: func(id string, side swipe.Side) {
			act.log.Debug("reveal", "id", id, "side", side)
		},
	})
	return m
}

// List is the shared store the program renders.
func (m Model) List() *feed.List { return m.list }

// Init loads the first page; New has already marked it in flight.
func (m Model) Init() tea.Cmd {
	return m.act.fetch(m.gen, m.list.Filter(), 0, m.cfg.PageSize)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.update(msg)
	return next, tea.Batch(cmd, next.act.fx.drain())
}

func (m Model) update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.handleKey(msg)
	case tea.MouseMsg:
		return m.handleMouse(msg), nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 10
		m.checkSurface()
		m.clamp()
	case pageMsg:
		return m.applyPage(msg)
	case mutationMsg:
		if msg.err != nil {
			// The row is already back to its previous value.
			m.log.Debug("toggle failed", "id", msg.mutation.ID, "err", msg.err)
		}
	case deleteMsg:
		if msg.err != nil {
			m.act.notify(fmt.Sprintf("Couldn't delete %q", msg.title), nil)
		}
	case createMsg:
		if msg.err != nil {
			m.act.notify("Capture failed", nil)
		}
		m.clamp()
	case noticeExpiredMsg:
		m.act.undo.Expire(msg.seq)
	case selectMsg:
		if i := m.indexOf(msg.id); i >= 0 {
			m.cursor = i
			m.status = m.describe(m.visible()[i])
			m.clamp()
		}
	case RealtimeMsg:
		m.rec.Apply(msg.Notification)
		if _, ok := m.list.Get(msg.Notification.ID); !ok {
			m.gestures.Forget(msg.Notification.ID)
		}
		m.clamp()
	case ConnectionMsg:
		if !msg.Connected {
			m.dropped = m.dropped || m.connected
			m.connected = false
			return m, nil
		}
		m.connected = true
		if m.dropped {
			// Notifications sent while offline are gone; start over.
			m.dropped = false
			m.status = "Reconnected"
			return m.reload()
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	key := msg.String()
	if m.mode == modeCapture {
		return m.updateCaptureMode(key, msg)
	}
	return m.updateListMode(key)
}

func (m Model) updateCaptureMode(key string, msg tea.KeyMsg) (Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.status = "Nothing to capture"
			return m, nil
		}
		m.act.capture(m.newCapture(text))
		m.input.SetValue("")
		m.input.Blur()
		m.mode = modeList
		m.cursor = 0
		m.status = "Captured"
		m.clamp()
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) updateListMode(key string) (Model, tea.Cmd) {
	keys := m.cfg.Keys
	switch key {
	case "ctrl+c", keys.Quit:
		return m, tea.Quit
	case keys.Down, "down":
		if m.cursor >= len(m.visible())-1 {
			cmd := m.fetchNext()
			return m, cmd
		}
		m.cursor++
		m.clamp()
	case keys.Up, "up":
		if m.cursor > 0 {
			m.cursor--
			m.clamp()
		}
	case keys.Star:
		if id, ok := m.selectedID(); ok {
			m.gestures.Close(id)
			m.act.toggle(id, feed.FieldStarred)
		}
	case keys.Archive:
		if id, ok := m.selectedID(); ok {
			m.gestures.Close(id)
			m.act.toggle(id, feed.FieldArchived)
			m.clamp()
		}
	case keys.Publish:
		if id, ok := m.selectedID(); ok {
			m.act.toggle(id, feed.FieldPublished)
		}
	case keys.Delete:
		if it, ok := m.selected(); ok {
			m = m.askDelete(it)
		}
	case keys.Undo:
		if !m.act.undo.Undo() {
			m.status = "Nothing to undo"
		}
	case keys.Filter:
		return m.setFilter(m.list.Filter().Next())
	case keys.LoadMore:
		cmd := m.fetchNext()
		return m, cmd
	case keys.Capture:
		m.mode = modeCapture
		m.input.Focus()
		m.status = "Capture: paste a URL or type a note, enter to save"
		return m, textinput.Blink
	case keys.Reveal:
		id, ok := m.selectedID()
		if !ok {
			return m, nil
		}
		if m.gestures.Revealed(id) {
			m.gestures.Close(id)
		} else {
			m.gestures.Reveal(id, swipe.SideLeft)
		}
	case keys.Cancel:
		m.gestures.CloseAll()
		m.act.undo.Dismiss()
	}
	return m, nil
}

func (m Model) askDelete(it feed.Item) Model {
	m.confirmDel = true
	m.pendingDel = it.ID
	m.status = fmt.Sprintf("Delete %q? y/n", it.Title())
	return m
}

func (m Model) updateDeleteConfirm(key string) (Model, tea.Cmd) {
	switch key {
	case "n", "N", m.cfg.Keys.Cancel:
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = ""
		return m, nil
	case "y", "Y":
		if m.pendingDel == "" {
			m.status = "Nothing to delete"
			m.confirmDel = false
			return m, nil
		}
		m.gestures.Forget(m.pendingDel)
		m.act.remove(m.pendingDel)
		m.confirmDel = false
		m.pendingDel = ""
		m.status = "Deleted"
		m.clamp()
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) setFilter(f feed.Filter) (Model, tea.Cmd) {
	m.list.SetFilter(f)
	m.status = "Filter: " + string(f)
	return m.reload()
}

// reload empties the list under its current filter and fetches the first
// page. Pages still in flight from the previous load are ignored.
func (m Model) reload() (Model, tea.Cmd) {
	m.gestures.CloseAll()
	m.list.SetFilter(m.list.Filter())
	m.gen++
	m.cursor, m.top = 0, 0
	m.exhausted = false
	m.loading = false
	cmd := m.fetchNext()
	return m, cmd
}

func (m *Model) fetchNext() tea.Cmd {
	if m.loading || m.exhausted {
		return nil
	}
	m.loading = true
	return m.act.fetch(m.gen, m.list.Filter(), m.list.Cursor(), m.cfg.PageSize)
}

func (m Model) applyPage(msg pageMsg) (Model, tea.Cmd) {
	if msg.gen != m.gen || msg.filter != m.list.Filter() {
		// A page for a load the user already left.
		return m, nil
	}
	m.loading = false
	if msg.err != nil {
		m.status = fmt.Sprintf("load failed: %v", msg.err)
		return m, nil
	}
	m.list.AppendPage(msg.filter, msg.page.Items)
	if len(msg.page.Items) < m.cfg.PageSize {
		m.exhausted = true
	}
	m.clamp()
	return m, nil
}

func (m Model) newCapture(text string) feed.Item {
	return realtime.Capture(uuid.NewString(), text, m.now())
}

func (m Model) visible() []feed.Item {
	return m.list.Items()
}

func (m Model) selected() (feed.Item, bool) {
	items := m.visible()
	if m.cursor < 0 || m.cursor >= len(items) {
		return feed.Item{}, false
	}
	return items[m.cursor], true
}

func (m Model) selectedID() (string, bool) {
	it, ok := m.selected()
	return it.ID, ok
}

func (m Model) indexOf(id string) int {
	for i, it := range m.visible() {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) rowsAvailable() int {
	if m.height == 0 {
		return 1 << 20
	}
	if n := m.height - headerLines - footerLines; n > 0 {
		return n
	}
	return 1
}

// clamp keeps the cursor on an item and inside the scrolled window.
func (m *Model) clamp() {
	m.cursor = clampCursor(m.cursor, len(m.visible()))
	rows := m.rowsAvailable()
	if m.cursor < m.top {
		m.top = m.cursor
	}
	if m.cursor >= m.top+rows {
		m.top = m.cursor - rows + 1
	}
	if m.top < 0 {
		m.top = 0
	}
}

func (m *Model) checkSurface() {
	w := m.surfaceWidth()
	if m.narrowWarn || w <= 0 || m.gestures.Config().RevealReachable(w) {
		return
	}
	m.narrowWarn = true
	m.log.Warn("terminal too narrow for swipe reveal; long swipes always commit", "width", m.width)
}

func (m Model) describe(it feed.Item) string {
	parts := []string{it.Title(), string(it.Status)}
	if u := it.Text("url"); u != "" && u != it.Title() {
		parts = append(parts, u)
	}
	return strings.Join(parts, " • ")
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}

// Run starts the program and forwards realtime notifications into it
// until it exits.
func Run(ctx context.Context, m Model, sub *realtime.Subscriber) error {
	g, gctx := errgroup.WithContext(ctx)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(gctx))

	subCtx, stopSub := context.WithCancel(gctx)
	if sub != nil {
		sub.Handler = func(n realtime.Notification) { program.Send(RealtimeMsg{Notification: n}) }
		sub.OnState = func(up bool) { program.Send(ConnectionMsg{Connected: up}) }
		g.Go(func() error {
			if err := sub.Run(subCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopSub()
		_, err := program.Run()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}
