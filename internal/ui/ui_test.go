package ui

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stash/internal/config"
	"stash/internal/feed"
	"stash/internal/logging"
	"stash/internal/realtime"
	"stash/internal/remote"
	"stash/internal/testutil"
)

// collect runs cmd and any batch it returns. Commands that do not finish
// quickly (undo ticks, cursor blink) are dropped so tests stay in control
// of expiry.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		if batch, ok := msg.(tea.BatchMsg); ok {
			var out []tea.Msg
			for _, c := range batch {
				out = append(out, collect(c)...)
			}
			return out
		}
		if msg == nil {
			return nil
		}
		return []tea.Msg{msg}
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func settle(m Model, cmd tea.Cmd) Model {
	for i := 0; i < 10 && cmd != nil; i++ {
		var cmds []tea.Cmd
		for _, msg := range collect(cmd) {
			next, c := m.Update(msg)
			m = next.(Model)
			cmds = append(cmds, c)
		}
		cmd = tea.Batch(cmds...)
	}
	return m
}

func send(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m Model, s string) Model {
	m, cmd := send(m, key(s))
	return settle(m, cmd)
}

func mouse(action tea.MouseAction, x, y int) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: action, Button: tea.MouseButtonLeft}
}

func newModel(t *testing.T, items ...feed.Item) (Model, *testutil.FakeRemote) {
	t.Helper()
	remote := testutil.NewFakeRemote(items...)
	cfg := config.Default()
	cfg.PageSize = 10
	m := New(cfg, remote,
		WithLogger(logging.NewWriter(io.Discard, slog.LevelDebug)),
		WithClock(func() time.Time { return testutil.Epoch }))
	m, _ = send(m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m = settle(m, m.Init())
	require.False(t, m.loading)
	return m, remote
}

func fixtures() []feed.Item {
	a := testutil.Item("a", 1, "Alpha")
	b := testutil.Item("b", 2, "Bravo")
	c := testutil.Item("c", 3, "Charlie")
	c.Starred = true
	return []feed.Item{a, b, c}
}

func TestInit_LoadsFirstPageStarredFirst(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	assert.Equal(t, []string{"c", "a", "b"}, testutil.IDs(m.visible()))
	assert.True(t, m.exhausted)

	view := m.View()
	assert.Contains(t, view, "Alpha")
	assert.Contains(t, view, "filter: active")
}

func TestStar_IsOptimisticAndUndoable(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m = press(m, "j") // cursor on a

	m, cmd := send(m, key("s"))
	it, _ := m.list.Get("a")
	assert.True(t, it.Starred, "visible before the write resolves")
	n, live := m.act.undo.Current()
	require.True(t, live)
	assert.True(t, n.Undoable)
	assert.Contains(t, m.View(), "Starred")

	m = settle(m, cmd)
	onServer, _ := remote.Item("a")
	assert.True(t, onServer.Starred)

	m = press(m, "u")
	it, _ = m.list.Get("a")
	assert.False(t, it.Starred)
	onServer, _ = remote.Item("a")
	assert.False(t, onServer.Starred)
	_, live = m.act.undo.Current()
	assert.False(t, live)
}

func TestArchive_RejectedComesBack(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	remote.UpdateErr["*"] = testutil.ErrRejected
	m = press(m, "j")

	m, cmd := send(m, key("a"))
	assert.Equal(t, []string{"c", "b"}, testutil.IDs(m.visible()), "archived row leaves the active view at once")

	m = settle(m, cmd)
	assert.Equal(t, []string{"c", "a", "b"}, testutil.IDs(m.visible()))
	it, _ := m.list.Get("a")
	assert.False(t, it.Archived)
}

func TestUndoNotice_ExpiresOnTick(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	m, _ = send(m, key("s"))
	n, live := m.act.undo.Current()
	require.True(t, live)

	m, _ = send(m, noticeExpiredMsg{seq: n.Seq - 1})
	_, live = m.act.undo.Current()
	assert.True(t, live, "stale tick ignored")

	m, _ = send(m, noticeExpiredMsg{seq: n.Seq})
	_, live = m.act.undo.Current()
	assert.False(t, live)
	m = press(m, "u")
	assert.Equal(t, "Nothing to undo", m.status)
}

func TestDelete_FailureShowsNoticeAndStaysGone(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	remote.DeleteErr["c"] = testutil.ErrRejected

	m = press(m, "d")
	assert.True(t, m.confirmDel)
	m = press(m, "y")

	_, ok := m.list.Get("c")
	assert.False(t, ok)
	n, live := m.act.undo.Current()
	require.True(t, live)
	assert.False(t, n.Undoable)
	assert.Contains(t, n.Message, "Couldn't delete")
}

func TestDelete_Cancelled(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m = press(m, "d")
	m = press(m, "n")
	assert.Len(t, m.visible(), 3)
	assert.Empty(t, remote.Deletes)
}

func TestSwipe_CommitLeftArchives(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	row := headerLines + 1 // a

	m, _ = send(m, mouse(tea.MouseActionPress, 60, row))
	m, _ = send(m, mouse(tea.MouseActionMotion, 50, row))
	m, cmd := send(m, mouse(tea.MouseActionRelease, 10, row))
	m = settle(m, cmd)

	assert.Equal(t, []string{"c", "b"}, testutil.IDs(m.visible()))
	onServer, _ := remote.Item("a")
	assert.True(t, onServer.Archived)
	assert.Equal(t, float64(0), m.gestures.Offset("a"))
}

func TestSwipe_CommitRightStars(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	row := headerLines + 2 // b

	m, _ = send(m, mouse(tea.MouseActionPress, 10, row))
	m, _ = send(m, mouse(tea.MouseActionMotion, 20, row))
	m, cmd := send(m, mouse(tea.MouseActionRelease, 60, row))
	m = settle(m, cmd)

	onServer, _ := remote.Item("b")
	assert.True(t, onServer.Starred)
	assert.Equal(t, []string{"b", "c", "a"}, testutil.IDs(m.visible()))
}

func TestSwipe_RevealShowsPanelAndIsExclusive(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	rowA, rowB := headerLines+1, headerLines+2

	m, _ = send(m, mouse(tea.MouseActionPress, 60, rowA))
	m, _ = send(m, mouse(tea.MouseActionMotion, 48, rowA))
	m, _ = send(m, mouse(tea.MouseActionRelease, 48, rowA))
	assert.True(t, m.gestures.Revealed("a"))
	assert.Contains(t, m.View(), "arch")

	m, _ = send(m, mouse(tea.MouseActionPress, 40, rowB))
	m, _ = send(m, mouse(tea.MouseActionMotion, 52, rowB))
	m, _ = send(m, mouse(tea.MouseActionRelease, 52, rowB))
	assert.True(t, m.gestures.Revealed("b"))
	assert.False(t, m.gestures.Revealed("a"))
	assert.Equal(t, float64(0), m.gestures.Offset("a"))
}

func TestSwipe_TapSelectsRow(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	row := headerLines + 2

	m, _ = send(m, mouse(tea.MouseActionPress, 40, row))
	m, cmd := send(m, mouse(tea.MouseActionRelease, 40, row))
	m = settle(m, cmd)
	assert.Equal(t, 2, m.cursor)
	assert.Contains(t, m.status, "Bravo")
}

func TestSwipe_EdgePressIgnored(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	row := headerLines

	m, _ = send(m, mouse(tea.MouseActionPress, 1, row))
	_, active := m.gestures.Active()
	assert.False(t, active)
}

func TestRealtime_InsertAndArchive(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	created := testutil.Epoch
	archived := true

	m, _ = send(m, RealtimeMsg{Notification: realtime.Notification{
		Kind: realtime.KindInsert, Table: realtime.DefaultTable, ID: "n",
		Patch: feed.Patch{ID: "n", CreatedAt: &created},
	}})
	assert.Equal(t, []string{"c", "n", "a", "b"}, testutil.IDs(m.visible()))

	m, _ = send(m, RealtimeMsg{Notification: realtime.Notification{
		Kind: realtime.KindUpdate, Table: realtime.DefaultTable, ID: "a",
		Patch: feed.Patch{ID: "a", Archived: &archived},
	}})
	assert.Equal(t, []string{"c", "n", "b"}, testutil.IDs(m.visible()))

	m, _ = send(m, ConnectionMsg{Connected: true})
	assert.NotContains(t, m.View(), "offline")
}

func TestFilter_CyclesAndReloads(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	m = press(m, "f")
	assert.Equal(t, feed.FilterStarred, m.list.Filter())
	assert.Equal(t, []string{"c"}, testutil.IDs(m.visible()))
}

func TestCapture_InsertsAtFront(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m = press(m, "c")
	require.Equal(t, modeCapture, m.mode)
	for _, r := range "https://go.dev" {
		m, _ = send(m, key(string(r)))
	}
	m = press(m, "enter")

	items := m.visible()
	require.Len(t, items, 4)
	fresh := items[1]
	assert.Equal(t, "https://go.dev", fresh.Text("url"))
	assert.Equal(t, feed.StatusPending, fresh.Status)
	_, ok := remote.Item(fresh.ID)
	assert.True(t, ok)
}

func TestLoadMore_Pages(t *testing.T) {
	var items []feed.Item
	for i := 0; i < 15; i++ {
		items = append(items, testutil.Item(string(rune('a'+i)), i, strings.Repeat("x", i+1)))
	}
	m, _ := newModel(t, items...)
	assert.Len(t, m.visible(), 10)
	assert.False(t, m.exhausted)

	m = press(m, "m")
	assert.Len(t, m.visible(), 15)
	assert.True(t, m.exhausted)
}

func TestUndo_ArchiveSurvivesServerEcho(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m = press(m, "j")
	m = press(m, "a")

	row, _ := remote.Item("a")
	require.True(t, row.Archived)
	m, _ = send(m, RealtimeMsg{Notification: realtime.ItemNotification(realtime.KindUpdate, row)})
	_, held := m.list.Get("a")
	require.False(t, held, "echo evicts the archived row")

	m = press(m, "u")
	row, _ = remote.Item("a")
	assert.False(t, row.Archived)
	assert.Equal(t, []string{"c", "a", "b"}, testutil.IDs(m.visible()))
	assert.NotEqual(t, "Nothing to undo", m.status)
}

func TestUndo_UnstarUnderStarredFilterSurvivesEcho(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m = press(m, "f")
	require.Equal(t, []string{"c"}, testutil.IDs(m.visible()))

	m = press(m, "s")
	row, _ := remote.Item("c")
	require.False(t, row.Starred)
	m, _ = send(m, RealtimeMsg{Notification: realtime.ItemNotification(realtime.KindUpdate, row)})
	require.Empty(t, m.visible())

	m = press(m, "u")
	row, _ = remote.Item("c")
	assert.True(t, row.Starred)
	assert.Equal(t, []string{"c"}, testutil.IDs(m.visible()))
}

func TestReconnect_ReloadsMissedChanges(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	m, _ = send(m, ConnectionMsg{Connected: true})
	assert.Equal(t, 0, m.gen, "first connect keeps the initial load")

	m, _ = send(m, ConnectionMsg{Connected: false})
	assert.Contains(t, m.View(), "offline")

	archived := true
	require.NoError(t, remote.Update(context.Background(), "b", feed.Patch{Archived: &archived}))

	m, cmd := send(m, ConnectionMsg{Connected: true})
	require.NotNil(t, cmd)
	m = settle(m, cmd)
	assert.Equal(t, []string{"c", "a"}, testutil.IDs(m.visible()))
	assert.NotContains(t, m.View(), "offline")
}

func TestReconnect_DropsPageFromEarlierLoad(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	stale := pageMsg{gen: m.gen, filter: m.list.Filter(), page: remote.Page{Items: []feed.Item{testutil.Item("old", 60, "Old")}}}

	m, _ = send(m, ConnectionMsg{Connected: true})
	m, _ = send(m, ConnectionMsg{Connected: false})
	m, cmd := send(m, ConnectionMsg{Connected: true})
	m = settle(m, cmd)

	m, _ = send(m, stale)
	_, ok := m.list.Get("old")
	assert.False(t, ok)
}

func revealLeft(t *testing.T, m Model, row int) Model {
	t.Helper()
	m, _ = send(m, mouse(tea.MouseActionPress, 60, row))
	m, _ = send(m, mouse(tea.MouseActionMotion, 48, row))
	m, _ = send(m, mouse(tea.MouseActionRelease, 48, row))
	require.NotEmpty(t, m.gestures.RevealedID())
	return m
}

func TestPanel_ArchiveButton(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	row := headerLines + 1
	m = revealLeft(t, m, row)

	m, cmd := send(m, mouse(tea.MouseActionPress, 72, row))
	m, _ = send(m, mouse(tea.MouseActionRelease, 72, row))
	m = settle(m, cmd)

	onServer, _ := remote.Item("a")
	assert.True(t, onServer.Archived)
	assert.False(t, m.gestures.Revealed("a"))
	assert.Equal(t, []string{"c", "b"}, testutil.IDs(m.visible()))
}

func TestPanel_DeleteButtonAsksFirst(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	row := headerLines + 1
	m = revealLeft(t, m, row)

	m, _ = send(m, mouse(tea.MouseActionPress, 77, row))
	m, _ = send(m, mouse(tea.MouseActionRelease, 77, row))
	require.True(t, m.confirmDel)
	assert.Equal(t, "a", m.pendingDel)
	assert.Empty(t, remote.Deletes)

	m = press(m, "y")
	assert.Equal(t, []string{"a"}, remote.Deletes)
	assert.Equal(t, []string{"c", "b"}, testutil.IDs(m.visible()))
}

func TestPanel_StarButton(t *testing.T) {
	m, remote := newModel(t, fixtures()...)
	row := headerLines + 2
	m, _ = send(m, mouse(tea.MouseActionPress, 40, row))
	m, _ = send(m, mouse(tea.MouseActionMotion, 52, row))
	m, _ = send(m, mouse(tea.MouseActionRelease, 52, row))
	require.True(t, m.gestures.Revealed("b"))

	m, cmd := send(m, mouse(tea.MouseActionPress, 3, row))
	m = settle(m, cmd)
	onServer, _ := remote.Item("b")
	assert.True(t, onServer.Starred)
}

func TestPanel_BodyTapStillCloses(t *testing.T) {
	m, _ := newModel(t, fixtures()...)
	row := headerLines + 1
	m = revealLeft(t, m, row)

	m, _ = send(m, mouse(tea.MouseActionPress, 30, row))
	m, _ = send(m, mouse(tea.MouseActionRelease, 30, row))
	assert.False(t, m.gestures.Revealed("a"))
	a, _ := m.list.Get("a")
	assert.False(t, a.Archived)
}
