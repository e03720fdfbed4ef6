package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedyboard/internal/config"
	"remedyboard/internal/db"
	"remedyboard/internal/domain"
	"remedyboard/internal/engine"
	"remedyboard/internal/migrate"
	"remedyboard/internal/query"
	"remedyboard/internal/repo"
	"remedyboard/internal/session"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

const orgID = "org-1"

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(orgID)
	cfg.Directory.Users = []config.DirectoryUser{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}}
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := session.With(context.Background(), session.Session{OrgID: orgID, ActorID: "tester"})
	if _, err := eng.InitOrg(ctx, cfg); err != nil {
		t.Fatalf("init org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) advance(d time.Duration) { *env.Clock = env.Clock.Add(d) }

func (env testEnv) create(t *testing.T, title string, p domain.Priority) domain.Action {
	t.Helper()
	a, err := env.Engine.CreateAction(env.Ctx, orgID, domain.ActionInput{Title: title, Description: "desc of " + title, Priority: p})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return a
}

func TestCreateActionStartsOpen(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Fix SQLi", domain.PriorityHigh)
	assert.Equal(t, domain.StatusOpen, a.Status)
	assert.Equal(t, 0, a.Progress())
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, "tester", a.CreatedBy)

	list, err := env.Engine.ListActions(env.Ctx, orgID, query.Filter{Status: domain.StatusOpen})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, a.ID, list.Actions[0].ID)
}

func TestCreateActionValidation(t *testing.T) {
	env := newTestEnv(t)
	neg := -1.0
	cases := []struct {
		name  string
		in    domain.ActionInput
		field string
	}{
		{"empty title", domain.ActionInput{Description: "d"}, "title"},
		{"blank description", domain.ActionInput{Title: "t", Description: "  "}, "description"},
		{"bad priority", domain.ActionInput{Title: "t", Description: "d", Priority: "urgent"}, "priority"},
		{"negative effort", domain.ActionInput{Title: "t", Description: "d", EstimatedEffortHours: &neg}, "estimated_effort_hours"},
		{"unknown assignee", domain.ActionInput{Title: "t", Description: "d", AssignedTo: "mallory"}, "assigned_to"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateAction(env.Ctx, orgID, tc.in)
			var ve domain.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCreateDefaultsPriorityFromConfig(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAction(env.Ctx, orgID, domain.ActionInput{Title: "t", Description: "d"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, a.Priority)
}

func TestSetStatusStampsAndProgress(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "Fix SQLi", domain.PriorityHigh)

	env.advance(time.Hour)
	a, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusInProgress, "starting")
	require.NoError(t, err)
	assert.Equal(t, 50, a.Progress())
	assert.Equal(t, 2, a.Version)
	assert.Nil(t, a.ResolvedAt)

	env.advance(time.Hour)
	a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusResolved, "")
	require.NoError(t, err)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, 100, a.Progress())

	// Reopening clears completion stamps.
	a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusOpen, "")
	require.NoError(t, err)
	assert.Nil(t, a.ResolvedAt)

	stored, err := env.Engine.GetAction(env.Ctx, orgID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, stored.Version)
	assert.Equal(t, domain.StatusOpen, stored.Status)
}

func TestSetSameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	got, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusOpen, "")
	require.NoError(t, err)
	assert.Equal(t, a.Version, got.Version)

	hist, err := env.Engine.ActionHistory(env.Ctx, orgID, a.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	_, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.Status("done"), "")
	var inv domain.InvalidStatusError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, "done", inv.Value)
}

func TestStrictTransitions(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default(orgID)
	cfg.Workflow.Transitions = config.TransitionsStrict
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, cfg))

	a := env.create(t, "t", domain.PriorityLow)
	_, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusVerified, "")
	var te domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusOpen, te.From)

	_, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusInProgress, "")
	assert.NoError(t, err)
}

func TestPermissiveAllowsAnyJump(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	a, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusClosed, "")
	require.NoError(t, err)
	a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusOpen, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, a.Status)
}

func TestAssignDoesNotChangeStatus(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	a, err := env.Engine.AssignAction(env.Ctx, orgID, a.ID, "alice", "yours")
	require.NoError(t, err)
	require.NotNil(t, a.AssignedTo)
	assert.Equal(t, "alice", *a.AssignedTo)
	assert.Equal(t, domain.StatusOpen, a.Status)

	_, err = env.Engine.AssignAction(env.Ctx, orgID, a.ID, "mallory", "")
	var ve domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestOverdueFollowsStatus(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	yesterday := env.Clock.AddDate(0, 0, -1)
	a, err := env.Engine.UpdateAction(env.Ctx, orgID, a.ID, domain.ActionPatch{DueDate: &yesterday})
	require.NoError(t, err)
	assert.True(t, a.Overdue(*env.Clock))

	a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusResolved, "")
	require.NoError(t, err)
	assert.False(t, a.Overdue(*env.Clock))
	require.NotNil(t, a.DueDate)
	assert.True(t, a.DueDate.Equal(yesterday))
}

func TestUpdateVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	title := "renamed"
	stale := a.Version
	_, err := env.Engine.UpdateAction(env.Ctx, orgID, a.ID, domain.ActionPatch{Title: &title, ExpectedVersion: &stale})
	require.NoError(t, err)

	other := "again"
	_, err = env.Engine.UpdateAction(env.Ctx, orgID, a.ID, domain.ActionPatch{Title: &other, ExpectedVersion: &stale})
	var ce domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Actual)
}

func TestUpdateUnassignAndClearDueDate(t *testing.T) {
	env := newTestEnv(t)
	due := env.Clock.AddDate(0, 0, 3)
	a, err := env.Engine.CreateAction(env.Ctx, orgID, domain.ActionInput{Title: "t", Description: "d", AssignedTo: "bob", DueDate: &due})
	require.NoError(t, err)
	empty := ""
	a, err = env.Engine.UpdateAction(env.Ctx, orgID, a.ID, domain.ActionPatch{AssignedTo: &empty, ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, a.AssignedTo)
	assert.Nil(t, a.DueDate)
}

func TestDeleteThenUpdateIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	require.NoError(t, env.Engine.DeleteAction(env.Ctx, orgID, a.ID))

	title := "x"
	_, err := env.Engine.UpdateAction(env.Ctx, orgID, a.ID, domain.ActionPatch{Title: &title})
	var nf domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	assert.ErrorIs(t, env.Engine.DeleteAction(env.Ctx, orgID, a.ID), domain.ErrNotFound)

	hist, err := env.Engine.ActionHistory(env.Ctx, orgID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "action.deleted", hist[len(hist)-1].Type)
}

func TestActionsAreTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	other := config.Default("org-2")
	_, err := env.Engine.InitOrg(env.Ctx, other)
	require.NoError(t, err)

	_, err = env.Engine.GetAction(env.Ctx, "org-2", a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	list, err := env.Engine.ListActions(env.Ctx, "org-2", query.Filter{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestVerifyAction(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	a, err := env.Engine.VerifyAction(env.Ctx, orgID, a.ID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, a.Status)
	assert.NotNil(t, a.VerifiedAt)

	a, err = env.Engine.VerifyAction(env.Ctx, orgID, a.ID, false, "regressed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, a.Status)
	assert.Nil(t, a.VerifiedAt)
}

func TestLeavingLaterStageClearsItsStamp(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "t", domain.PriorityLow)
	for _, s := range []domain.Status{domain.StatusResolved, domain.StatusVerified, domain.StatusClosed} {
		env.advance(time.Hour)
		var err error
		a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, s, "")
		require.NoError(t, err)
	}
	require.NotNil(t, a.ResolvedAt)
	require.NotNil(t, a.VerifiedAt)
	require.NotNil(t, a.ClosedAt)

	env.advance(time.Hour)
	a, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusVerified, "reopened from closed")
	require.NoError(t, err)
	assert.Nil(t, a.ClosedAt)
	assert.True(t, a.VerifiedAt.Equal(*env.Clock))

	a, err = env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusResolved, "")
	require.NoError(t, err)
	assert.Nil(t, a.VerifiedAt)
	assert.Nil(t, a.ClosedAt)

	stored, err := env.Engine.GetAction(env.Ctx, orgID, a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.VerifiedAt)
	assert.Nil(t, stored.ClosedAt)
	require.NotNil(t, stored.ResolvedAt)
	assert.True(t, stored.ResolvedAt.Equal(*env.Clock))
}

func TestBulkAction(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.PriorityLow)
	b := env.create(t, "b", domain.PriorityLow)

	res, err := env.Engine.BulkAction(env.Ctx, orgID, domain.BulkRequest{
		ActionIDs: []string{a.ID, "missing", b.ID},
		Operation: domain.BulkUpdatePriority,
		Data:      map[string]string{"priority": "critical"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "missing")

	res, err = env.Engine.BulkAction(env.Ctx, orgID, domain.BulkRequest{
		ActionIDs: []string{a.ID, b.ID},
		Operation: domain.BulkAddTag,
		Data:      map[string]string{"tag": "pci"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	got, err := env.Engine.GetAction(env.Ctx, orgID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pci"}, got.Tags)
	assert.Equal(t, domain.PriorityCritical, got.Priority)

	_, err = env.Engine.BulkAction(env.Ctx, orgID, domain.BulkRequest{Operation: domain.BulkDelete})
	var ve domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = env.Engine.BulkAction(env.Ctx, orgID, domain.BulkRequest{
		ActionIDs: []string{a.ID}, Operation: domain.BulkUpdateStatus, Data: map[string]string{"status": "high"},
	})
	var inv domain.InvalidStatusError
	assert.True(t, errors.As(err, &inv))
}

func TestStatsIgnoreFilterAndSum(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "a", domain.PriorityHigh)
	env.create(t, "b", domain.PriorityMedium)
	env.advance(6 * time.Hour)
	_, err := env.Engine.SetActionStatus(env.Ctx, orgID, a.ID, domain.StatusResolved, "")
	require.NoError(t, err)

	s, err := env.Engine.GetStats(env.Ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalActions)
	assert.Equal(t, 1, s.ResolvedActions)
	assert.Equal(t, 1, s.OpenActions)
	assert.Equal(t, 6*time.Hour, s.AvgCompletionTime)
	sum := 0
	for _, n := range s.ByStatus {
		sum += n
	}
	assert.Equal(t, s.TotalActions, sum)
}

func TestListPagingAndLimit(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.advance(time.Minute)
		env.create(t, string(rune('a'+i)), domain.PriorityLow)
	}
	list, err := env.Engine.ListActions(env.Ctx, orgID, query.Filter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, list.Total)
	require.Len(t, list.Actions, 2)
	assert.Equal(t, "c", list.Actions[0].Title)

	list, err = env.Engine.ListActions(env.Ctx, orgID, query.Filter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, list.Limit)
}
