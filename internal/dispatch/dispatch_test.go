package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stash/internal/feed"
	"stash/internal/testutil"
)

func setup(items ...feed.Item) (*feed.List, *testutil.FakeRemote, *Dispatcher) {
	list := feed.NewList(feed.FilterAll)
	list.AppendPage(feed.FilterAll, items)
	remote := testutil.NewFakeRemote(items...)
	return list, remote, New(list, remote)
}

func mustGet(t *testing.T, l *feed.List, id string) feed.Item {
	t.Helper()
	it, ok := l.Get(id)
	require.True(t, ok, "item %s missing", id)
	return it
}

func TestToggle_SuccessKeepsOptimisticValue(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"))

	m, err := d.Toggle(context.Background(), "a", feed.FieldStarred, false)
	require.NoError(t, err)
	assert.True(t, m.Applied)
	assert.False(t, m.Previous)
	assert.True(t, mustGet(t, list, "a").Starred)

	remoteItem, _ := remote.Item("a")
	assert.True(t, remoteItem.Starred)
	assert.Equal(t, 0, d.InFlight())
}

func TestToggle_RejectedRevertsOnlyThatField(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"), testutil.Item("b", 2, "B"))
	remote.UpdateErr["a"] = testutil.ErrRejected
	before := list.Snapshot()

	_, err := d.Toggle(context.Background(), "a", feed.FieldArchived, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, testutil.ErrRejected))

	after := list.Snapshot()
	assert.Equal(t, before.Items, after.Items, "every item and field is back to its pre-toggle value")
}

func TestApply_IsVisibleBeforeCommit(t *testing.T) {
	list, _, d := setup(testutil.Item("a", 1, "A"))

	m, err := d.Apply("a", feed.FieldPublished, false)
	require.NoError(t, err)
	assert.True(t, mustGet(t, list, "a").Published)
	assert.Equal(t, 1, d.InFlight())
	assert.Equal(t, uint64(1), m.Seq)
}

// Star A and B concurrently; the server rejects A only and answers A last.
func TestConcurrentToggles_FailureOnAOnlyRevertsA(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"), testutil.Item("b", 2, "B"))
	remote.UpdateErr["a"] = testutil.ErrRejected
	remote.Gate = make(chan struct{})

	ma, err := d.Apply("a", feed.FieldStarred, false)
	require.NoError(t, err)
	mb, err := d.Apply("b", feed.FieldStarred, false)
	require.NoError(t, err)
	assert.True(t, mustGet(t, list, "a").Starred)
	assert.True(t, mustGet(t, list, "b").Starred)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, m := range []Mutation{ma, mb} {
		wg.Add(1)
		go func(i int, m Mutation) {
			defer wg.Done()
			errs[i] = d.Commit(context.Background(), m)
		}(i, m)
	}
	remote.Gate <- struct{}{}
	remote.Gate <- struct{}{}
	wg.Wait()

	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	assert.False(t, mustGet(t, list, "a").Starred)
	assert.True(t, mustGet(t, list, "b").Starred)
}

func TestRollback_NeverRevertsALaterToggle(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"))
	remote.UpdateErr["a"] = testutil.ErrRejected

	first, err := d.Apply("a", feed.FieldStarred, false)
	require.NoError(t, err)
	second, err := d.Apply("a", feed.FieldStarred, true)
	require.NoError(t, err)
	third, err := d.Apply("a", feed.FieldStarred, false)
	require.NoError(t, err)
	require.True(t, mustGet(t, list, "a").Starred)

	// The oldest toggle is superseded, so its failure leaves the newest
	// value alone.
	require.Error(t, d.Commit(context.Background(), first))
	assert.True(t, mustGet(t, list, "a").Starred)

	require.Error(t, d.Commit(context.Background(), third))
	assert.True(t, mustGet(t, list, "a").Starred == third.Previous)

	require.Error(t, d.Commit(context.Background(), second))
	assert.Equal(t, third.Previous, mustGet(t, list, "a").Starred)
}

func TestRollback_CapturesPreviousAtCallTime(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"))
	remote.UpdateErr["a"] = testutil.ErrRejected

	m, err := d.Apply("a", feed.FieldStarred, false)
	require.NoError(t, err)
	// Something else (a push update) changes an unrelated field meanwhile.
	list.Update("a", func(it feed.Item) feed.Item { it.Published = true; return it })

	require.Error(t, d.Commit(context.Background(), m))
	it := mustGet(t, list, "a")
	assert.False(t, it.Starred)
	assert.True(t, it.Published)
}

func TestRollback_ItemGoneIsNoop(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"))
	remote.UpdateErr["a"] = testutil.ErrRejected

	m, err := d.Apply("a", feed.FieldArchived, false)
	require.NoError(t, err)
	list.Remove("a")

	require.Error(t, d.Commit(context.Background(), m))
	_, ok := list.Get("a")
	assert.False(t, ok)
}

func TestCommit_RemoteNotFoundIsSuccess(t *testing.T) {
	list, _, d := setup(testutil.Item("a", 1, "A"))
	remote := testutil.NewFakeRemote()
	d = New(list, remote)

	_, err := d.Toggle(context.Background(), "a", feed.FieldStarred, false)
	assert.NoError(t, err)
	assert.True(t, mustGet(t, list, "a").Starred)
}

func TestToggle_LocallyMissingIsNoop(t *testing.T) {
	_, remote, d := setup()
	_, err := d.Toggle(context.Background(), "ghost", feed.FieldStarred, false)
	assert.NoError(t, err)
	assert.Empty(t, remote.Updates)
}

func TestApply_UnknownField(t *testing.T) {
	_, _, d := setup(testutil.Item("a", 1, "A"))
	_, err := d.Apply("a", feed.Field("pinned"), false)
	assert.Error(t, err)
}

func TestMutation_RevertIsPure(t *testing.T) {
	it := testutil.Item("a", 1, "A")
	it.Starred = true
	m := Mutation{ID: "a", Field: feed.FieldStarred, Applied: true, Previous: false}

	out := m.Revert(it)
	assert.False(t, out.Starred)
	assert.True(t, it.Starred, "input untouched")
}

func TestCommit_ContextCancelledReverts(t *testing.T) {
	list, remote, d := setup(testutil.Item("a", 1, "A"))
	remote.Gate = make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Toggle(ctx, "a", feed.FieldStarred, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mustGet(t, list, "a").Starred)
}

func TestRestore_BringsBackAnEvictedItem(t *testing.T) {
	a := testutil.Item("a", 1, "A")
	a.Archived = true
	list := feed.NewList(feed.FilterActive)
	remote := testutil.NewFakeRemote(a)
	d := New(list, remote)

	m, err := d.Restore(a, feed.FieldArchived, false)
	require.NoError(t, err)
	assert.False(t, m.Applied)
	assert.True(t, m.Previous)
	assert.Equal(t, []string{"a"}, testutil.IDs(list.Items()))

	require.NoError(t, d.Commit(context.Background(), m))
	onServer, _ := remote.Item("a")
	assert.False(t, onServer.Archived)
	assert.Zero(t, d.InFlight())
}

func TestRestore_RejectedHidesItAgain(t *testing.T) {
	a := testutil.Item("a", 1, "A")
	a.Archived = true
	list := feed.NewList(feed.FilterActive)
	remote := testutil.NewFakeRemote(a)
	remote.UpdateErr["a"] = testutil.ErrRejected
	d := New(list, remote)

	m, err := d.Restore(a, feed.FieldArchived, false)
	require.NoError(t, err)
	require.Len(t, list.Items(), 1)

	assert.Error(t, d.Commit(context.Background(), m))
	assert.Empty(t, list.Items())
	it, ok := list.Get("a")
	require.True(t, ok)
	assert.True(t, it.Archived)
}
