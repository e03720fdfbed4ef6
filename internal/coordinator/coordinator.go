// Package coordinator submits action mutations, tracks which controls have
// a request in flight and re-reads the board once a write is confirmed.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"remedyboard/internal/board"
	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

// Service is the action store boundary. The local engine, the HTTP client
// and the telemetry decorator all implement it.
type Service interface {
	ListActions(ctx context.Context, orgID string, f query.Filter) (domain.ActionList, error)
	GetStats(ctx context.Context, orgID string) (stats.Summary, error)
	GetAction(ctx context.Context, orgID, id string) (domain.Action, error)
	CreateAction(ctx context.Context, orgID string, in domain.ActionInput) (domain.Action, error)
	UpdateAction(ctx context.Context, orgID, id string, p domain.ActionPatch) (domain.Action, error)
	DeleteAction(ctx context.Context, orgID, id string) error
	SetActionStatus(ctx context.Context, orgID, id string, status domain.Status, comment string) (domain.Action, error)
	AssignAction(ctx context.Context, orgID, id, userID, comment string) (domain.Action, error)
	VerifyAction(ctx context.Context, orgID, id string, verified bool, comment string) (domain.Action, error)
	BulkAction(ctx context.Context, orgID string, req domain.BulkRequest) (domain.BulkResult, error)
	ActionHistory(ctx context.Context, orgID, id string) ([]domain.Event, error)
	ListUsers(ctx context.Context, orgID string) ([]domain.User, error)
}

// Slot groups operations that share a pending flag.
type Slot string

const (
	SlotCreate     Slot = "create"
	SlotEdit       Slot = "edit"
	SlotDelete     Slot = "delete"
	SlotAssign     Slot = "assign"
	SlotTransition Slot = "transition"
	SlotVerify     Slot = "verify"
	SlotBulk       Slot = "bulk"
)

type FailureKind string

const (
	KindValidation    FailureKind = "validation"
	KindNotFound      FailureKind = "not_found"
	KindInvalidStatus FailureKind = "invalid_status"
	KindConflict      FailureKind = "conflict"
	KindTransition    FailureKind = "transition"
	KindTransport     FailureKind = "transport"
	// KindCanceled means the caller gave up; it is never retried.
	KindCanceled      FailureKind = "canceled"
	KindInternal      FailureKind = "internal"
)

// Classify maps an error returned by a Service to its failure kind.
func Classify(err error) FailureKind {
	var (
		ve domain.ValidationError
		is domain.InvalidStatusError
		ce domain.ConflictError
		te domain.TransitionError
		tr domain.TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, domain.ErrNotFound):
		return KindNotFound
	case errors.As(err, &is):
		return KindInvalidStatus
	case errors.As(err, &ce):
		return KindConflict
	case errors.As(err, &te):
		return KindTransition
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &tr), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	}
	return KindInternal
}

// Outcome is the result of one submitted operation. Failures are values,
// never panics.
type Outcome struct {
	Action domain.Action
	Bulk   *domain.BulkResult
	Err    error
	Kind   FailureKind
	// NoOp is set when nothing needed to be sent.
	NoOp bool
}

func (o Outcome) OK() bool { return o.Err == nil }

func failure(err error) Outcome {
	return Outcome{Err: err, Kind: Classify(err)}
}

type runFunc func(ctx context.Context, svc Service, orgID string) (domain.Action, *domain.BulkResult, error)

// Operation is a mutation ready to submit. Build one with Create, Update,
// Delete, Assign, SetStatus, Verify or Bulk.
type Operation struct {
	Slot     Slot
	ActionID string
	precheck error
	run      runFunc
}

func Create(in domain.ActionInput) Operation {
	return Operation{Slot: SlotCreate, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		a, err := svc.CreateAction(ctx, org, in)
		return a, nil, err
	}}
}

func Update(id string, p domain.ActionPatch) Operation {
	return Operation{Slot: SlotEdit, ActionID: id, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		a, err := svc.UpdateAction(ctx, org, id, p)
		return a, nil, err
	}}
}

// Delete is refused without contacting the store unless confirmed.
func Delete(id string, confirmed bool) Operation {
	op := Operation{Slot: SlotDelete, ActionID: id, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		return domain.Action{ID: id}, nil, svc.DeleteAction(ctx, org, id)
	}}
	if !confirmed {
		op.precheck = domain.ValidationError{Field: "confirm", Reason: "delete must be confirmed"}
	}
	return op
}

func Assign(id, userID, comment string) Operation {
	return Operation{Slot: SlotAssign, ActionID: id, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		a, err := svc.AssignAction(ctx, org, id, userID, comment)
		return a, nil, err
	}}
}

func SetStatus(id string, status domain.Status, comment string) Operation {
	return Operation{Slot: SlotTransition, ActionID: id, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		a, err := svc.SetActionStatus(ctx, org, id, status, comment)
		return a, nil, err
	}}
}

func Verify(id string, verified bool, comment string) Operation {
	return Operation{Slot: SlotVerify, ActionID: id, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		a, err := svc.VerifyAction(ctx, org, id, verified, comment)
		return a, nil, err
	}}
}

func Bulk(req domain.BulkRequest) Operation {
	return Operation{Slot: SlotBulk, run: func(ctx context.Context, svc Service, org string) (domain.Action, *domain.BulkResult, error) {
		res, err := svc.BulkAction(ctx, org, req)
		if err != nil {
			return domain.Action{}, nil, err
		}
		return domain.Action{}, &res, nil
	}}
}

type Coordinator struct {
	Service Service
	OrgID   string
	// View is re-read after every confirmed write. Optional.
	View   *board.View
	Logger *slog.Logger
	// AdvanceOnAssign moves an open action to assigned after it is assigned.
	AdvanceOnAssign bool
	// RetryMaxElapsed bounds Retry. Zero means one minute.
	RetryMaxElapsed time.Duration

	mu      sync.Mutex
	pending map[Slot]int
}

func New(svc Service, orgID string, view *board.View, logger *slog.Logger) *Coordinator {
	return &Coordinator{Service: svc, OrgID: orgID, View: view, Logger: logger, AdvanceOnAssign: true}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) acquire(s Slot) {
	c.mu.Lock()
	if c.pending == nil {
		c.pending = map[Slot]int{}
	}
	c.pending[s]++
	c.mu.Unlock()
}

func (c *Coordinator) release(s Slot) {
	c.mu.Lock()
	c.pending[s]--
	if c.pending[s] <= 0 {
		delete(c.pending, s)
	}
	c.mu.Unlock()
}

// Pending reports whether a request in slot s is still outstanding.
func (c *Coordinator) Pending(s Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[s] > 0
}

// Submit sends op and waits for its outcome. A confirmed write triggers a
// refresh of the view; a failed one leaves no trace locally.
func (c *Coordinator) Submit(ctx context.Context, op Operation) Outcome {
	log := c.logger().With("slot", string(op.Slot), "action", op.ActionID)
	if op.precheck != nil {
		return failure(op.precheck)
	}
	if op.run == nil {
		return failure(domain.ValidationError{Reason: "empty operation"})
	}

	c.acquire(op.Slot)
	defer c.release(op.Slot)

	a, bulk, err := op.run(ctx, c.Service, c.OrgID)
	if err != nil {
		out := failure(err)
		c.report(ctx, log, out)
		return out
	}
	out := Outcome{Action: a, Bulk: bulk}

	if op.Slot == SlotAssign && c.AdvanceOnAssign && a.Status == domain.StatusOpen {
		advanced, err := c.Service.SetActionStatus(ctx, c.OrgID, a.ID, domain.StatusAssigned, "")
		if err != nil {
			// The assignment itself is confirmed, so the board is re-read either way.
			out = Outcome{Action: a, Err: err, Kind: Classify(err)}
			c.report(ctx, log, out)
		} else {
			out.Action = advanced
		}
	}
	c.refresh(ctx, log)
	return out
}

func (c *Coordinator) report(ctx context.Context, log *slog.Logger, out Outcome) {
	switch out.Kind {
	case KindInvalidStatus:
		log.Error("mutation rejected: invalid status", "err", out.Err)
	case KindNotFound:
		log.Warn("mutation target missing, forcing refresh", "err", out.Err)
		c.refresh(ctx, log)
	default:
		log.Warn("mutation failed", "kind", string(out.Kind), "err", out.Err)
	}
}

func (c *Coordinator) refresh(ctx context.Context, log *slog.Logger) {
	if c.View == nil {
		return
	}
	if err := c.View.Refresh(ctx); err != nil {
		log.Warn("board refresh failed; keeping last snapshot", "err", err)
	}
}

// Drop resolves a drag and drop placement and submits the resulting status
// change. The view snapshot is used when it holds the actions involved;
// anything it lacks is loaded from the Service. Drops that resolve to
// nothing are NoOp outcomes and send no mutation.
func (c *Coordinator) Drop(ctx context.Context, draggedID, dropTargetID string) Outcome {
	var snapshot []domain.Action
	if c.View != nil {
		s, _ := c.View.Snapshot()
		snapshot = s.Actions
	}
	if missing := board.Missing(draggedID, dropTargetID, snapshot); len(missing) > 0 {
		loaded, err := board.Load(ctx, c.Service, c.OrgID, missing)
		if err != nil {
			out := failure(err)
			c.report(ctx, c.logger().With("slot", string(SlotTransition), "action", draggedID), out)
			return out
		}
		snapshot = append(snapshot[:len(snapshot):len(snapshot)], loaded...)
	}
	target, ok := board.ResolveTransition(draggedID, dropTargetID, snapshot)
	if !ok {
		return Outcome{NoOp: true}
	}
	return c.Submit(ctx, SetStatus(draggedID, target, ""))
}

// Retry resubmits op with exponential backoff while it fails with a
// transport error. Any other failure stops immediately.
func (c *Coordinator) Retry(ctx context.Context, op Operation) Outcome {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.RetryMaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = time.Minute
	}
	var out Outcome
	_ = backoff.Retry(func() error {
		out = c.Submit(ctx, op)
		if out.OK() {
			return nil
		}
		if out.Kind == KindTransport {
			return out.Err
		}
		return backoff.Permanent(out.Err)
	}, backoff.WithContext(bo, ctx))
	return out
}
