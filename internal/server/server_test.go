package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stash/internal/dispatch"
	"stash/internal/feed"
	"stash/internal/realtime"
	"stash/internal/remote"
	"stash/internal/storage"
	"stash/internal/testutil"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *storage.Store, *remote.Client, string) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "stash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := New(store, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	client, err := remote.New(ts.URL)
	require.NoError(t, err)
	return srv, store, client, ts.URL
}

func TestItems_CRUDThroughClient(t *testing.T) {
	_, store, client, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, client.Create(ctx, testutil.Item("a", 2, "A")))
	require.NoError(t, client.Create(ctx, testutil.Item("b", 1, "B")))
	require.NoError(t, client.Create(ctx, testutil.Item("b", 1, "B")), "retried create is accepted")

	page, err := client.Query(ctx, feed.FilterActive, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, testutil.IDs(page.Items))
	assert.Equal(t, 2, page.Next)

	require.NoError(t, client.Update(ctx, "a", feed.FlagPatch(feed.FieldArchived, true)))
	stored, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stored.Archived)

	page, err = client.Query(ctx, feed.FilterArchived, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, testutil.IDs(page.Items))

	require.NoError(t, client.Delete(ctx, "a"))
	assert.ErrorIs(t, client.Delete(ctx, "a"), feed.ErrNotFound)
	assert.ErrorIs(t, client.Update(ctx, "a", feed.FlagPatch(feed.FieldStarred, true)), feed.ErrNotFound)
}

func TestItems_Paging(t *testing.T) {
	_, _, client, _ := newTestServer(t, WithPageSize(2))
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, client.Create(ctx, testutil.Item(id, 10-i, id)))
	}

	first, err := client.Query(ctx, feed.FilterAll, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, testutil.IDs(first.Items))

	second, err := client.Query(ctx, feed.FilterAll, first.Next, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, testutil.IDs(second.Items))
	assert.Equal(t, 3, second.Next)
}

func TestItems_BadQuery(t *testing.T) {
	_, _, _, base := newTestServer(t)
	for _, q := range []string{"filter=bogus", "offset=-1", "limit=zero"} {
		resp, err := http.Get(base + "/items?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestCreate_AssignsIDAndTime(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	_, store, _, base := newTestServer(t, WithClock(func() time.Time { return now }))

	resp, err := http.Post(base+"/items", "application/json", strings.NewReader(`{"url":"https://go.dev"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	items, err := store.Query(context.Background(), feed.FilterAll, 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].ID)
	assert.True(t, now.Equal(items[0].CreatedAt))
	assert.Equal(t, feed.StatusPending, items[0].Status)
	assert.Equal(t, "https://go.dev", items[0].Title())
}

func TestRejectRate_FailsWritesAndClientReverts(t *testing.T) {
	_, store, client, _ := newTestServer(t, WithRejectRate(1, 1))
	ctx := context.Background()
	_, err := store.Insert(ctx, testutil.Item("a", 1, "A"))
	require.NoError(t, err)

	list := feed.NewList(feed.FilterAll)
	page, err := client.Query(ctx, feed.FilterAll, 0, 10)
	require.NoError(t, err)
	list.AppendPage(feed.FilterAll, page.Items)

	d := dispatch.New(list, client)
	_, err = d.Toggle(ctx, "a", feed.FieldStarred, false)
	var rejected remote.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusServiceUnavailable, rejected.StatusCode)

	it, _ := list.Get("a")
	assert.False(t, it.Starred)
}

func TestRealtime_BroadcastsChanges(t *testing.T) {
	srv, _, client, base := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := feed.NewList(feed.FilterActive)
	rec := realtime.NewReconciler(list)
	wsURL, err := realtime.ChannelURL(base)
	require.NoError(t, err)

	applied := make(chan realtime.Notification, 8)
	connected := make(chan bool, 4)
	sub := &realtime.Subscriber{
		URL:     wsURL,
		Retry:   10 * time.Millisecond,
		OnState: func(up bool) { connected <- up },
		Handler: func(n realtime.Notification) {
			rec.Apply(n)
			applied <- n
		},
	}
	go func() { _ = sub.Run(ctx) }()
	require.True(t, <-connected)
	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Create(ctx, testutil.Item("a", 1, "A")))
	require.NoError(t, client.Update(ctx, "a", feed.FlagPatch(feed.FieldArchived, true)))

	var kinds []realtime.Kind
	for len(kinds) < 2 {
		select {
		case n := <-applied:
			kinds = append(kinds, n.Kind)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %v", kinds)
		}
	}
	assert.Equal(t, []realtime.Kind{realtime.KindInsert, realtime.KindUpdate}, kinds)
	assert.Empty(t, list.Items(), "archived item left the active view")
}

func TestServe_StopsOnCancel(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "stash.db"))
	require.NoError(t, err)
	defer store.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
