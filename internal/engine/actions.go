package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remedyboard/internal/domain"
	"remedyboard/internal/events"
	"remedyboard/internal/query"
	"remedyboard/internal/repo"
	"remedyboard/internal/session"
	"remedyboard/internal/stats"
)

// ListActions returns one page of the org's actions matching f, with the
// match count before paging.
func (e Engine) ListActions(ctx context.Context, orgID string, f query.Filter) (domain.ActionList, error) {
	rf := repo.ActionFilters{OrgID: orgID, Status: f.Status, Priority: f.Priority}
	if f.AssignedTo == query.Unassigned {
		rf.Unassigned = true
	} else {
		rf.AssignedTo = f.AssignedTo
	}
	all, err := e.Repo.ListActions(ctx, rf)
	if err != nil {
		return domain.ActionList{}, fmt.Errorf("list actions: %w", err)
	}
	matched := query.Apply(all, f, e.now())
	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := e.cfg().Limit(f.Limit)
	return domain.ActionList{
		Actions: query.Page(matched, page, limit),
		Total:   len(matched),
		Page:    page,
		Limit:   limit,
	}, nil
}

func (e Engine) GetAction(ctx context.Context, orgID, id string) (domain.Action, error) {
	a, err := e.Repo.GetAction(ctx, orgID, id)
	if err != nil {
		return domain.Action{}, notFound(err, "action", id)
	}
	return a, nil
}

// GetStats aggregates over every action of the org, ignoring any filter.
func (e Engine) GetStats(ctx context.Context, orgID string) (stats.Summary, error) {
	all, err := e.Repo.ListActions(ctx, repo.ActionFilters{OrgID: orgID})
	if err != nil {
		return stats.Summary{}, fmt.Errorf("load actions for stats: %w", err)
	}
	return stats.Compute(all, e.now()), nil
}

func validateEffort(field string, v *float64) error {
	if v != nil && *v < 0 {
		return domain.ValidationError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

func validateSLA(v *int) error {
	if v != nil && *v < 0 {
		return domain.ValidationError{Field: "sla_hours", Reason: "must not be negative"}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func (e Engine) checkUser(ctx context.Context, tx *sql.Tx, orgID, userID string) error {
	if _, err := e.Repo.GetUserTx(ctx, tx, orgID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ValidationError{Field: "assigned_to", Reason: fmt.Sprintf("unknown user %q", userID)}
		}
		return err
	}
	return nil
}

func (e Engine) CreateAction(ctx context.Context, orgID string, in domain.ActionInput) (domain.Action, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return domain.Action{}, domain.ValidationError{Field: "title", Reason: "is required"}
	}
	if in.Description == "" {
		return domain.Action{}, domain.ValidationError{Field: "description", Reason: "is required"}
	}
	if in.Priority == "" {
		in.Priority = e.cfg().DefaultPriority()
	}
	if !in.Priority.Valid() {
		return domain.Action{}, domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	for _, err := range []error{
		validateEffort("estimated_effort_hours", in.EstimatedEffortHours),
		validateEffort("actual_effort_hours", in.ActualEffortHours),
		validateSLA(in.SLAHours),
	} {
		if err != nil {
			return domain.Action{}, err
		}
	}
	if _, err := e.Repo.GetOrg(ctx, orgID); err != nil {
		return domain.Action{}, notFound(err, "org", orgID)
	}

	now := e.now()
	a := domain.Action{
		ID:                   uuid.New().String(),
		OrgID:                orgID,
		Title:                in.Title,
		Description:          in.Description,
		Status:               domain.StatusOpen,
		Priority:             in.Priority,
		DueDate:              in.DueDate,
		EstimatedEffortHours: in.EstimatedEffortHours,
		ActualEffortHours:    in.ActualEffortHours,
		Category:             strings.TrimSpace(in.Category),
		Tags:                 normalizeTags(in.Tags),
		Notes:                in.Notes,
		SLAHours:             in.SLAHours,
		CreatedBy:            session.Actor(ctx),
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()
	if assignee := strings.TrimSpace(in.AssignedTo); assignee != "" {
		if err := e.checkUser(ctx, tx, orgID, assignee); err != nil {
			return domain.Action{}, err
		}
		a.AssignedTo = &assignee
	}
	if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
		return domain.Action{}, fmt.Errorf("insert action: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ActionCreated, orgID, "action", a.ID, session.Actor(ctx),
		events.EventPayload{"title": a.Title, "priority": a.Priority, "status": a.Status}); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

// mutation edits a in place. A nil payload with a nil error means nothing
// changed and nothing is written.
type mutation func(tx *sql.Tx, a *domain.Action) (events.EventPayload, error)

// mutate runs fn against the stored action inside one transaction, bumps
// the version and appends evtType to the ledger.
func (e Engine) mutate(ctx context.Context, orgID, id, evtType string, expected *int, fn mutation) (domain.Action, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Action{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetActionTx(ctx, tx, orgID, id)
	if err != nil {
		return domain.Action{}, notFound(err, "action", id)
	}
	if expected != nil && *expected != a.Version {
		return domain.Action{}, domain.ConflictError{ID: id, Expected: *expected, Actual: a.Version}
	}
	payload, err := fn(tx, &a)
	if err != nil {
		return domain.Action{}, err
	}
	if payload == nil {
		return a, nil
	}
	a.Version++
	a.UpdatedAt = e.now()
	if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
		return domain.Action{}, notFound(err, "action", id)
	}
	if err := e.Events.Append(ctx, tx, evtType, orgID, "action", id, session.Actor(ctx), payload); err != nil {
		return domain.Action{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Action{}, err
	}
	return a, nil
}

func (e Engine) UpdateAction(ctx context.Context, orgID, id string, p domain.ActionPatch) (domain.Action, error) {
	return e.mutate(ctx, orgID, id, events.ActionUpdated, p.ExpectedVersion, func(tx *sql.Tx, a *domain.Action) (events.EventPayload, error) {
		if p.Empty() {
			return nil, nil
		}
		var changed []string
		if p.Title != nil {
			v := strings.TrimSpace(*p.Title)
			if v == "" {
				return nil, domain.ValidationError{Field: "title", Reason: "is required"}
			}
			a.Title = v
			changed = append(changed, "title")
		}
		if p.Description != nil {
			v := strings.TrimSpace(*p.Description)
			if v == "" {
				return nil, domain.ValidationError{Field: "description", Reason: "is required"}
			}
			a.Description = v
			changed = append(changed, "description")
		}
		if p.Priority != nil {
			if !p.Priority.Valid() {
				return nil, domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", *p.Priority)}
			}
			a.Priority = *p.Priority
			changed = append(changed, "priority")
		}
		if p.AssignedTo != nil {
			v := strings.TrimSpace(*p.AssignedTo)
			if v == "" {
				a.AssignedTo = nil
			} else {
				if err := e.checkUser(ctx, tx, a.OrgID, v); err != nil {
					return nil, err
				}
				a.AssignedTo = &v
			}
			changed = append(changed, "assigned_to")
		}
		switch {
		case p.ClearDueDate:
			a.DueDate = nil
			changed = append(changed, "due_date")
		case p.DueDate != nil:
			d := p.DueDate.UTC()
			a.DueDate = &d
			changed = append(changed, "due_date")
		}
		if p.EstimatedEffortHours != nil {
			if err := validateEffort("estimated_effort_hours", p.EstimatedEffortHours); err != nil {
				return nil, err
			}
			a.EstimatedEffortHours = p.EstimatedEffortHours
			changed = append(changed, "estimated_effort_hours")
		}
		if p.ActualEffortHours != nil {
			if err := validateEffort("actual_effort_hours", p.ActualEffortHours); err != nil {
				return nil, err
			}
			a.ActualEffortHours = p.ActualEffortHours
			changed = append(changed, "actual_effort_hours")
		}
		if p.Category != nil {
			a.Category = strings.TrimSpace(*p.Category)
			changed = append(changed, "category")
		}
		if p.Tags != nil {
			a.Tags = normalizeTags(*p.Tags)
			changed = append(changed, "tags")
		}
		if p.Notes != nil {
			a.Notes = *p.Notes
			changed = append(changed, "notes")
		}
		if p.SLAHours != nil {
			if err := validateSLA(p.SLAHours); err != nil {
				return nil, err
			}
			a.SLAHours = p.SLAHours
			changed = append(changed, "sla_hours")
		}
		return events.EventPayload{"fields": changed}, nil
	})
}

func (e Engine) DeleteAction(ctx context.Context, orgID, id string) error {
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetActionTx(ctx, tx, orgID, id)
	if err != nil {
		return notFound(err, "action", id)
	}
	if err := e.Repo.DeleteAction(ctx, tx, orgID, id); err != nil {
		return notFound(err, "action", id)
	}
	if err := e.Events.Append(ctx, tx, events.ActionDeleted, orgID, "action", id, session.Actor(ctx),
		events.EventPayload{"title": a.Title, "status": a.Status}); err != nil {
		return err
	}
	return tx.Commit()
}

// applyStatus moves a to status to and keeps the completion stamps in
// line with it: entering a terminal status stamps it, and the stamps of
// later stages are cleared. Closed keeps the stamps it was reached with;
// a non-terminal status clears them all.
func applyStatus(a *domain.Action, to domain.Status, now time.Time) {
	a.Status = to
	switch to {
	case domain.StatusResolved:
		a.ResolvedAt = &now
		a.VerifiedAt, a.ClosedAt = nil, nil
	case domain.StatusVerified:
		a.VerifiedAt = &now
		if a.ResolvedAt == nil {
			a.ResolvedAt = &now
		}
		a.ClosedAt = nil
	case domain.StatusClosed:
		a.ClosedAt = &now
	default:
		a.ResolvedAt, a.VerifiedAt, a.ClosedAt = nil, nil, nil
	}
}

func (e Engine) statusMutation(to domain.Status, payload events.EventPayload) mutation {
	return func(_ *sql.Tx, a *domain.Action) (events.EventPayload, error) {
		if a.Status == to {
			return nil, nil
		}
		if cfg := e.cfg(); !cfg.Allowed(a.Status, to) {
			return nil, domain.TransitionError{From: a.Status, To: to}
		}
		payload["from"] = a.Status
		payload["to"] = to
		applyStatus(a, to, e.now())
		return payload, nil
	}
}

// SetActionStatus moves an action to status. Setting the current status
// is a no-op and writes nothing.
func (e Engine) SetActionStatus(ctx context.Context, orgID, id string, status domain.Status, comment string) (domain.Action, error) {
	if !status.Valid() {
		return domain.Action{}, domain.InvalidStatusError{Value: string(status)}
	}
	payload := events.EventPayload{}
	if comment != "" {
		payload["comment"] = comment
	}
	return e.mutate(ctx, orgID, id, events.ActionStatusChanged, nil, e.statusMutation(status, payload))
}

// VerifyAction confirms a fix (verified) or sends it back (resolved).
func (e Engine) VerifyAction(ctx context.Context, orgID, id string, verified bool, comment string) (domain.Action, error) {
	to := domain.StatusResolved
	if verified {
		to = domain.StatusVerified
	}
	payload := events.EventPayload{"verified": verified}
	if comment != "" {
		payload["comment"] = comment
	}
	return e.mutate(ctx, orgID, id, events.ActionVerified, nil, e.statusMutation(to, payload))
}

// AssignAction sets the assignee. It never changes status.
func (e Engine) AssignAction(ctx context.Context, orgID, id, userID, comment string) (domain.Action, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Action{}, domain.ValidationError{Field: "assigned_to", Reason: "is required"}
	}
	return e.mutate(ctx, orgID, id, events.ActionAssigned, nil, func(tx *sql.Tx, a *domain.Action) (events.EventPayload, error) {
		if a.AssignedTo != nil && *a.AssignedTo == userID {
			return nil, nil
		}
		if err := e.checkUser(ctx, tx, orgID, userID); err != nil {
			return nil, err
		}
		payload := events.EventPayload{"to": userID}
		if a.AssignedTo != nil {
			payload["from"] = *a.AssignedTo
		}
		if comment != "" {
			payload["comment"] = comment
		}
		a.AssignedTo = &userID
		return payload, nil
	})
}

func (e Engine) tagMutation(tag string, add bool) mutation {
	return func(_ *sql.Tx, a *domain.Action) (events.EventPayload, error) {
		if a.HasTag(tag) == add {
			return nil, nil
		}
		if add {
			a.Tags = append(a.Tags, tag)
		} else {
			kept := []string{}
			for _, t := range a.Tags {
				if !strings.EqualFold(t, tag) {
					kept = append(kept, t)
				}
			}
			a.Tags = kept
		}
		return events.EventPayload{"fields": []string{"tags"}}, nil
	}
}

// BulkAction applies one operation to each id independently. Per-id
// failures are collected in the result; only a malformed request fails
// the whole call.
func (e Engine) BulkAction(ctx context.Context, orgID string, req domain.BulkRequest) (domain.BulkResult, error) {
	if len(req.ActionIDs) == 0 {
		return domain.BulkResult{}, domain.ValidationError{Field: "action_ids", Reason: "at least one id is required"}
	}
	need := func(key string) (string, error) {
		v := strings.TrimSpace(req.Data[key])
		if v == "" {
			return "", domain.ValidationError{Field: "data." + key, Reason: "is required"}
		}
		return v, nil
	}

	var apply func(id string) error
	switch req.Operation {
	case domain.BulkAssign:
		user, err := need("assigned_to")
		if err != nil {
			return domain.BulkResult{}, err
		}
		apply = func(id string) error { _, err := e.AssignAction(ctx, orgID, id, user, ""); return err }
	case domain.BulkUpdateStatus:
		raw, err := need("status")
		if err != nil {
			return domain.BulkResult{}, err
		}
		st, err := domain.ParseStatus(raw)
		if err != nil {
			return domain.BulkResult{}, err
		}
		apply = func(id string) error { _, err := e.SetActionStatus(ctx, orgID, id, st, ""); return err }
	case domain.BulkUpdatePriority:
		raw, err := need("priority")
		if err != nil {
			return domain.BulkResult{}, err
		}
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return domain.BulkResult{}, err
		}
		apply = func(id string) error {
			_, err := e.UpdateAction(ctx, orgID, id, domain.ActionPatch{Priority: &p})
			return err
		}
	case domain.BulkAddTag, domain.BulkRemoveTag:
		tag, err := need("tag")
		if err != nil {
			return domain.BulkResult{}, err
		}
		add := req.Operation == domain.BulkAddTag
		apply = func(id string) error {
			_, err := e.mutate(ctx, orgID, id, events.ActionUpdated, nil, e.tagMutation(tag, add))
			return err
		}
	case domain.BulkDelete:
		apply = func(id string) error { return e.DeleteAction(ctx, orgID, id) }
	default:
		return domain.BulkResult{}, domain.ValidationError{Field: "operation", Reason: fmt.Sprintf("unsupported operation %q", req.Operation)}
	}

	res := domain.BulkResult{Errors: []string{}}
	for _, id := range req.ActionIDs {
		if err := apply(id); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		res.Success++
	}
	return res, nil
}

// ActionHistory returns the ledger entries of one action, oldest first.
// History outlives deletion.
func (e Engine) ActionHistory(ctx context.Context, orgID, id string) ([]domain.Event, error) {
	evs, err := e.Repo.LatestEvents(ctx, repo.EventFilters{OrgID: orgID, EntityKind: "action", EntityID: id, Limit: 1000})
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, domain.NotFoundError{Kind: "action", ID: id}
	}
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	return evs, nil
}
