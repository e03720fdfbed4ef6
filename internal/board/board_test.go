package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

func snapshot() []domain.Action {
	return []domain.Action{
		{ID: "a1", Status: domain.StatusOpen},
		{ID: "a2", Status: domain.StatusInProgress},
		{ID: "a3", Status: domain.StatusClosed},
	}
}

func TestResolveTransition(t *testing.T) {
	cases := []struct {
		name    string
		dragged string
		target  string
		want    domain.Status
		ok      bool
	}{
		{"bare column", "a1", "in_progress", domain.StatusInProgress, true},
		{"column scoped id", "a1", ColumnID(domain.StatusUnderReview), domain.StatusUnderReview, true},
		{"custom column suffix", "a1", "verified:lane-2", domain.StatusVerified, true},
		{"onto another card", "a1", "a3", domain.StatusClosed, true},
		{"back to own column", "a1", "open", "", false},
		{"onto card in own column", "a2", "a2", "", false},
		{"unknown target", "a1", "nowhere", "", false},
		{"prefix without separator", "a1", "openish", "", false},
		{"unknown dragged", "zz", "closed", "", false},
		{"closed back to open is allowed", "a3", "open", domain.StatusOpen, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveTransition(tc.dragged, tc.target, snapshot())
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestColumnsAlwaysHasSevenColumns(t *testing.T) {
	cols := Columns(snapshot())
	require.Len(t, cols, 7)
	for i, c := range cols {
		assert.Equal(t, domain.Statuses[i], c.Status)
		assert.Equal(t, len(c.Actions), c.Count)
	}
	assert.Equal(t, 1, cols[domain.StatusOpen.Index()].Count)
	assert.Equal(t, 0, cols[domain.StatusAssigned.Index()].Count)
	assert.Equal(t, "In Progress", cols[domain.StatusInProgress.Index()].Title)
}

type fakeSource struct {
	mu      sync.Mutex
	actions []domain.Action
	fail    error
	gate    map[string]chan struct{}
}

func (f *fakeSource) ListActions(ctx context.Context, orgID string, flt query.Filter) (domain.ActionList, error) {
	f.mu.Lock()
	gate := f.gate[flt.Search]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return domain.ActionList{}, f.fail
	}
	out := query.Apply(f.actions, flt, time.Now())
	return domain.ActionList{Actions: out, Total: len(out)}, nil
}

func (f *fakeSource) GetStats(ctx context.Context, orgID string) (stats.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return stats.Compute(f.actions, time.Now()), nil
}

func TestViewKeepsLastGoodSnapshotOnFailure(t *testing.T) {
	src := &fakeSource{actions: snapshot()}
	v := NewView(src, "org", query.Filter{})
	require.NoError(t, v.Refresh(context.Background()))

	src.mu.Lock()
	src.fail = errors.New("backend down")
	src.mu.Unlock()
	err := v.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, err, v.Err())

	snap, ok := v.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Actions, 3)
	assert.Equal(t, 3, snap.Stats.TotalActions)

	src.mu.Lock()
	src.fail = nil
	src.mu.Unlock()
	require.NoError(t, v.Refresh(context.Background()))
	assert.NoError(t, v.Err())
}

func TestViewStatsIgnoreFilter(t *testing.T) {
	src := &fakeSource{actions: snapshot()}
	v := NewView(src, "org", query.Filter{Status: domain.StatusOpen})
	require.NoError(t, v.Refresh(context.Background()))
	snap, _ := v.Snapshot()
	assert.Len(t, snap.Actions, 1)
	assert.Equal(t, 3, snap.Stats.TotalActions)
}

func TestViewLatestRefreshWins(t *testing.T) {
	slow := make(chan struct{})
	src := &fakeSource{actions: snapshot(), gate: map[string]chan struct{}{"slow": slow}}
	v := NewView(src, "org", query.Filter{Search: "slow"})

	done := make(chan error, 1)
	go func() { done <- v.Refresh(context.Background()) }()

	// Let the first refresh register its sequence number before the second.
	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.issued == 1
	}, time.Second, time.Millisecond)

	v.SetFilter(query.Filter{Status: domain.StatusClosed})
	require.NoError(t, v.Refresh(context.Background()))
	close(slow)
	require.NoError(t, <-done)

	snap, _ := v.Snapshot()
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, "a3", snap.Actions[0].ID)
}

func TestViewResolve(t *testing.T) {
	v := NewView(&fakeSource{actions: snapshot()}, "org", query.Filter{})
	require.NoError(t, v.Refresh(context.Background()))
	a, st, ok := v.Resolve("a1", ColumnID(domain.StatusInProgress))
	require.True(t, ok)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, domain.StatusInProgress, st)

	_, _, ok = v.Resolve("a2", "in_progress")
	assert.False(t, ok)
}

type getterFunc func(ctx context.Context, orgID, id string) (domain.Action, error)

func (f getterFunc) GetAction(ctx context.Context, orgID, id string) (domain.Action, error) {
	return f(ctx, orgID, id)
}

func TestMissing(t *testing.T) {
	snap := snapshot()
	assert.Empty(t, Missing("a1", "a2", snap))
	assert.Empty(t, Missing("a1", ColumnID(domain.StatusClosed), snap))
	assert.Equal(t, []string{"a9"}, Missing("a9", "resolved", snap))
	assert.Equal(t, []string{"a8", "a9"}, Missing("a8", "a9", nil))
	assert.Equal(t, []string{"a8"}, Missing("a8", "a8", nil))
}

func TestLoadSkipsUnknownAndReturnsFailures(t *testing.T) {
	ctx := context.Background()
	store := map[string]domain.Action{"a1": {ID: "a1", Status: domain.StatusOpen}}
	get := getterFunc(func(_ context.Context, _, id string) (domain.Action, error) {
		if a, ok := store[id]; ok {
			return a, nil
		}
		return domain.Action{}, domain.NotFoundError{Kind: "action", ID: id}
	})
	got, err := Load(ctx, get, "org", []string{"a1", "gone"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)

	failing := getterFunc(func(context.Context, string, string) (domain.Action, error) {
		return domain.Action{}, context.DeadlineExceeded
	})
	_, err = Load(ctx, failing, "org", []string{"a1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
