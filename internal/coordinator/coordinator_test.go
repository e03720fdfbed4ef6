package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedyboard/internal/board"
	"remedyboard/internal/config"
	"remedyboard/internal/coordinator"
	"remedyboard/internal/db"
	"remedyboard/internal/domain"
	"remedyboard/internal/engine"
	"remedyboard/internal/migrate"
	"remedyboard/internal/query"
	"remedyboard/internal/session"
)

const orgID = "org-1"

func newEngine(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default(orgID)
	cfg.Directory.Users = []config.DirectoryUser{{ID: "alice", Name: "Alice"}}
	eng := engine.New(conn, cfg)
	ctx := session.With(context.Background(), session.Session{OrgID: orgID, ActorID: "tester"})
	_, err = eng.InitOrg(ctx, cfg)
	require.NoError(t, err)
	return eng, ctx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinator(t *testing.T, svc coordinator.Service) (*coordinator.Coordinator, *board.View) {
	t.Helper()
	view := board.NewView(svc, orgID, query.Filter{})
	return coordinator.New(svc, orgID, view, quietLogger()), view
}

// countingService counts status writes and can fail or block them.
type countingService struct {
	coordinator.Service
	statusCalls atomic.Int32
	failStatus  atomic.Int32
	block       chan struct{}
}

func (s *countingService) SetActionStatus(ctx context.Context, org, id string, st domain.Status, comment string) (domain.Action, error) {
	s.statusCalls.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.failStatus.Load() > 0 {
		s.failStatus.Add(-1)
		return domain.Action{}, domain.TransportError{Op: "set status", Err: errors.New("connection reset")}
	}
	return s.Service.SetActionStatus(ctx, org, id, st, comment)
}

func TestCreateThenDropRefreshesBoard(t *testing.T) {
	eng, ctx := newEngine(t)
	c, view := newCoordinator(t, eng)

	out := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "Fix SQLi", Description: "login form", Priority: domain.PriorityHigh}))
	require.True(t, out.OK(), "%v", out.Err)
	snap, ok := view.Snapshot()
	require.True(t, ok)
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, 1, view.Columns()[domain.StatusOpen.Index()].Count)

	out = c.Drop(ctx, out.Action.ID, board.ColumnID(domain.StatusInProgress))
	require.True(t, out.OK(), "%v", out.Err)
	assert.False(t, out.NoOp)
	snap, _ = view.Snapshot()
	assert.Equal(t, domain.StatusInProgress, snap.Actions[0].Status)
	assert.Equal(t, 50, snap.Actions[0].Progress())
	assert.Equal(t, 1, snap.Stats.InProgressActions)
}

func TestDropOntoOwnColumnSendsNothing(t *testing.T) {
	eng, ctx := newEngine(t)
	svc := &countingService{Service: eng}
	c, view := newCoordinator(t, svc)

	out := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))
	require.True(t, out.OK())
	require.NoError(t, view.Refresh(ctx))

	res := c.Drop(ctx, out.Action.ID, "open")
	assert.True(t, res.NoOp)
	res = c.Drop(ctx, out.Action.ID, "nowhere")
	assert.True(t, res.NoOp)
	assert.Equal(t, int32(0), svc.statusCalls.Load())
}

func TestDropResolvesActionOutsideListingPage(t *testing.T) {
	eng, ctx := newEngine(t)
	maxLimit := eng.Config.Load().Listing.MaxLimit
	ids := make([]string, 0, maxLimit+1)
	for i := 0; i <= maxLimit; i++ {
		a, err := eng.CreateAction(ctx, orgID, domain.ActionInput{Title: fmt.Sprintf("finding %d", i), Description: "d"})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	view := board.NewView(eng, orgID, query.Filter{Limit: 1 << 20})
	require.NoError(t, view.Refresh(ctx))
	snap, _ := view.Snapshot()
	require.Len(t, snap.Actions, maxLimit)
	shown := map[string]bool{}
	for _, a := range snap.Actions {
		shown[a.ID] = true
	}
	var hidden string
	for _, id := range ids {
		if !shown[id] {
			hidden = id
		}
	}
	require.NotEmpty(t, hidden)

	c := coordinator.New(eng, orgID, view, quietLogger())
	out := c.Drop(ctx, hidden, board.ColumnID(domain.StatusInProgress))
	require.True(t, out.OK(), "%v", out.Err)
	assert.False(t, out.NoOp)
	got, err := eng.GetAction(ctx, orgID, hidden)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)

	// Dropping a listed card onto the hidden one adopts its column.
	out = c.Drop(ctx, snap.Actions[0].ID, hidden)
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, domain.StatusInProgress, out.Action.Status)
}

func TestDropWithoutViewLoadsActions(t *testing.T) {
	eng, ctx := newEngine(t)
	a, err := eng.CreateAction(ctx, orgID, domain.ActionInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	c := coordinator.New(eng, orgID, nil, quietLogger())

	out := c.Drop(ctx, a.ID, "resolved")
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, domain.StatusResolved, out.Action.Status)
	assert.True(t, c.Drop(ctx, "missing", "resolved").NoOp)
}

// slowLookupService fails GetAction the way a timed out request does.
type slowLookupService struct {
	*countingService
}

func (s slowLookupService) GetAction(ctx context.Context, org, id string) (domain.Action, error) {
	return domain.Action{}, domain.TransportError{Op: "get action", Err: context.DeadlineExceeded}
}

func TestDropSurfacesLookupFailure(t *testing.T) {
	eng, ctx := newEngine(t)
	a, err := eng.CreateAction(ctx, orgID, domain.ActionInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	inner := &countingService{Service: eng}
	c, view := newCoordinator(t, slowLookupService{inner})
	require.NoError(t, view.Refresh(ctx))

	// The dragged card is on the board; the card it lands on is not.
	out := c.Drop(ctx, a.ID, "some-other-card")
	assert.False(t, out.NoOp)
	assert.Equal(t, coordinator.KindTransport, out.Kind)
	assert.Equal(t, int32(0), inner.statusCalls.Load())
}

func TestUnconfirmedDeleteIsRejectedLocally(t *testing.T) {
	eng, ctx := newEngine(t)
	c, _ := newCoordinator(t, eng)
	created := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))
	require.True(t, created.OK())

	out := c.Submit(ctx, coordinator.Delete(created.Action.ID, false))
	assert.Equal(t, coordinator.KindValidation, out.Kind)
	_, err := eng.GetAction(ctx, orgID, created.Action.ID)
	require.NoError(t, err)

	out = c.Submit(ctx, coordinator.Delete(created.Action.ID, true))
	require.True(t, out.OK())
	out = c.Submit(ctx, coordinator.Update(created.Action.ID, domain.ActionPatch{Notes: ptr("x")}))
	assert.Equal(t, coordinator.KindNotFound, out.Kind)
}

func TestAssignAdvancesOpenAction(t *testing.T) {
	eng, ctx := newEngine(t)
	c, _ := newCoordinator(t, eng)
	created := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))
	require.True(t, created.OK())

	out := c.Submit(ctx, coordinator.Assign(created.Action.ID, "alice", ""))
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, domain.StatusAssigned, out.Action.Status)

	c.AdvanceOnAssign = false
	second := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t2", Description: "d"}))
	out = c.Submit(ctx, coordinator.Assign(second.Action.ID, "alice", ""))
	require.True(t, out.OK())
	assert.Equal(t, domain.StatusOpen, out.Action.Status)
}

func TestInvalidStatusIsAFailureOutcome(t *testing.T) {
	eng, ctx := newEngine(t)
	c, _ := newCoordinator(t, eng)
	created := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))
	out := c.Submit(ctx, coordinator.SetStatus(created.Action.ID, domain.Status("done"), ""))
	assert.False(t, out.OK())
	assert.Equal(t, coordinator.KindInvalidStatus, out.Kind)
}

func TestPendingIsPerSlot(t *testing.T) {
	eng, ctx := newEngine(t)
	svc := &countingService{Service: eng, block: make(chan struct{})}
	c, _ := newCoordinator(t, svc)
	created := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))
	require.True(t, created.OK())

	done := make(chan coordinator.Outcome, 1)
	go func() { done <- c.Submit(ctx, coordinator.SetStatus(created.Action.ID, domain.StatusInProgress, "")) }()

	require.Eventually(t, func() bool { return c.Pending(coordinator.SlotTransition) }, time.Second, time.Millisecond)
	assert.False(t, c.Pending(coordinator.SlotCreate))

	// Other slots keep working while a transition is outstanding.
	other := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t2", Description: "d"}))
	assert.True(t, other.OK())

	close(svc.block)
	out := <-done
	assert.True(t, out.OK())
	assert.False(t, c.Pending(coordinator.SlotTransition))
}

func TestRetryStopsAfterTransportRecovers(t *testing.T) {
	eng, ctx := newEngine(t)
	svc := &countingService{Service: eng}
	c, _ := newCoordinator(t, svc)
	c.RetryMaxElapsed = 5 * time.Second
	created := c.Submit(ctx, coordinator.Create(domain.ActionInput{Title: "t", Description: "d"}))

	svc.failStatus.Store(2)
	out := c.Retry(ctx, coordinator.SetStatus(created.Action.ID, domain.StatusResolved, ""))
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, domain.StatusResolved, out.Action.Status)
	assert.Equal(t, int32(3), svc.statusCalls.Load())
}

func TestRetryDoesNotRepeatNonTransportErrors(t *testing.T) {
	eng, ctx := newEngine(t)
	svc := &countingService{Service: eng}
	c, _ := newCoordinator(t, svc)
	out := c.Retry(ctx, coordinator.SetStatus("missing", domain.StatusResolved, ""))
	assert.Equal(t, coordinator.KindNotFound, out.Kind)
	assert.Equal(t, int32(1), svc.statusCalls.Load())
}

func TestClassify(t *testing.T) {
	cases := map[coordinator.FailureKind]error{
		coordinator.KindValidation:    domain.ValidationError{Field: "title"},
		coordinator.KindNotFound:      domain.NotFoundError{ID: "x"},
		coordinator.KindInvalidStatus: domain.InvalidStatusError{Value: "x"},
		coordinator.KindConflict:      domain.ConflictError{ID: "x"},
		coordinator.KindTransition:    domain.TransitionError{},
		coordinator.KindTransport:     context.DeadlineExceeded,
		coordinator.KindCanceled:      domain.TransportError{Op: "list", Err: context.Canceled},
		coordinator.KindInternal:      errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, coordinator.Classify(err), "%v", err)
	}
}

func ptr[T any](v T) *T { return &v }
