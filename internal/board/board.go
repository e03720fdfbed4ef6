// Package board groups actions into status columns and resolves drag and
// drop placements into status changes.
package board

import (
	"context"
	"errors"
	"strings"

	"remedyboard/internal/domain"
)

const columnSuffix = ":column"

// ColumnID is the drop-target identifier rendered for a status column.
func ColumnID(s domain.Status) string {
	return string(s) + columnSuffix
}

// statusForTarget matches a column identifier: the bare status or the
// status followed by ":" and any suffix.
func statusForTarget(target string) (domain.Status, bool) {
	for _, s := range domain.Statuses {
		name := string(s)
		if target == name || strings.HasPrefix(target, name+":") {
			return s, true
		}
	}
	return "", false
}

// ResolveTransition maps a drop of draggedID onto dropTargetID to the
// status it should move to. It reports false when nothing should be sent:
// the dragged action or the target is unknown, or the action already has
// the resolved status.
func ResolveTransition(draggedID, dropTargetID string, snapshot []domain.Action) (domain.Status, bool) {
	var dragged *domain.Action
	for i := range snapshot {
		if snapshot[i].ID == draggedID {
			dragged = &snapshot[i]
			break
		}
	}
	if dragged == nil {
		return "", false
	}

	target, ok := statusForTarget(dropTargetID)
	if !ok {
		for _, a := range snapshot {
			if a.ID == dropTargetID {
				target, ok = a.Status, true
				break
			}
		}
	}
	if !ok || !target.Valid() || target == dragged.Status {
		return "", false
	}
	return target, true
}

// Missing lists the ids a drop needs that snapshot does not hold: the
// dragged action, and the drop target when it names an action rather than
// a column.
func Missing(draggedID, dropTargetID string, snapshot []domain.Action) []string {
	want := []string{draggedID}
	if _, isColumn := statusForTarget(dropTargetID); !isColumn && dropTargetID != draggedID {
		want = append(want, dropTargetID)
	}
	var missing []string
	for _, id := range want {
		found := false
		for _, a := range snapshot {
			if a.ID == id {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	return missing
}

// ActionGetter loads one action by id.
type ActionGetter interface {
	GetAction(ctx context.Context, orgID, id string) (domain.Action, error)
}

// Load fetches the actions named by ids. Unknown ids are skipped; any other
// lookup failure is returned.
func Load(ctx context.Context, g ActionGetter, orgID string, ids []string) ([]domain.Action, error) {
	out := make([]domain.Action, 0, len(ids))
	for _, id := range ids {
		a, err := g.GetAction(ctx, orgID, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type Column struct {
	Status  domain.Status   `json:"status"`
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Count   int             `json:"count"`
	Actions []domain.Action `json:"actions"`
}

// Columns buckets actions into the seven status columns. Every column is
// present even when empty, and each keeps the input order.
func Columns(actions []domain.Action) []Column {
	cols := make([]Column, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols[i] = Column{Status: s, ID: ColumnID(s), Title: s.Label(), Actions: []domain.Action{}}
	}
	for _, a := range actions {
		idx := a.Status.Index()
		if idx < 0 {
			continue
		}
		cols[idx].Actions = append(cols[idx].Actions, a)
		cols[idx].Count++
	}
	return cols
}
