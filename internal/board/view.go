package board

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

// Source is the read side of the action store.
type Source interface {
	ListActions(ctx context.Context, orgID string, f query.Filter) (domain.ActionList, error)
	GetStats(ctx context.Context, orgID string) (stats.Summary, error)
}

// Snapshot is one confirmed read of the board: the filtered page plus
// statistics over the whole org.
type Snapshot struct {
	Actions []domain.Action `json:"actions"`
	Total   int             `json:"total"`
	Stats   stats.Summary   `json:"stats"`
}

// View holds the last snapshot confirmed by the store. Reads that fail
// leave it untouched and are reported through Err.
type View struct {
	src   Source
	orgID string

	mu      sync.Mutex
	filter  query.Filter
	snap    Snapshot
	loaded  bool
	err     error
	issued  uint64
	applied uint64
}

func NewView(src Source, orgID string, f query.Filter) *View {
	return &View{src: src, orgID: orgID, filter: f}
}

func (v *View) OrgID() string { return v.orgID }

// SetFilter replaces the descriptor used by later refreshes.
func (v *View) SetFilter(f query.Filter) {
	v.mu.Lock()
	v.filter = f
	v.mu.Unlock()
}

func (v *View) Filter() query.Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// Refresh re-reads the filtered list and the org statistics concurrently.
// A result is applied only if no refresh issued after it has already been
// applied, so the latest completed read wins.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.issued++
	seq := v.issued
	f := v.filter
	v.mu.Unlock()

	var (
		list    domain.ActionList
		summary stats.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = v.src.ListActions(gctx, v.orgID, f)
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = v.src.GetStats(gctx, v.orgID)
		return err
	})
	err := g.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	if seq < v.applied {
		return err
	}
	if err != nil {
		v.err = err
		return err
	}
	v.applied = seq
	v.err = nil
	v.loaded = true
	v.snap = Snapshot{Actions: list.Actions, Total: list.Total, Stats: summary}
	return nil
}

// Snapshot returns the last confirmed read and whether one exists.
func (v *View) Snapshot() (Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.snap
	s.Actions = append([]domain.Action(nil), v.snap.Actions...)
	return s, v.loaded
}

// Err is the failure of the most recent refresh, nil once a later one succeeds.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *View) Columns() []Column {
	s, _ := v.Snapshot()
	return Columns(s.Actions)
}

// Resolve runs ResolveTransition against the current snapshot.
func (v *View) Resolve(draggedID, dropTargetID string) (domain.Action, domain.Status, bool) {
	s, _ := v.Snapshot()
	target, ok := ResolveTransition(draggedID, dropTargetID, s.Actions)
	if !ok {
		return domain.Action{}, "", false
	}
	for _, a := range s.Actions {
		if a.ID == draggedID {
			return a, target, true
		}
	}
	return domain.Action{}, "", false
}
