package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"remedyboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const actionColumns = `id,org_id,title,description,status,priority,assigned_to,due_date,estimated_effort_hours,actual_effort_hours,category,tags_json,notes,sla_hours,created_by,created_at,updated_at,resolved_at,verified_at,closed_at,version`

func scanAction(row scanner) (domain.Action, error) {
	var a domain.Action
	var (
		assignedTo, dueDate, category, notes, createdBy sql.NullString
		resolvedAt, verifiedAt, closedAt                sql.NullString
		estimated, actual                               sql.NullFloat64
		sla                                             sql.NullInt64
		tagsJSON, createdAt, updatedAt                  string
	)
	err := row.Scan(&a.ID, &a.OrgID, &a.Title, &a.Description, &a.Status, &a.Priority, &assignedTo, &dueDate,
		&estimated, &actual, &category, &tagsJSON, &notes, &sla, &createdBy, &createdAt, &updatedAt,
		&resolvedAt, &verifiedAt, &closedAt, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if assignedTo.Valid {
		a.AssignedTo = &assignedTo.String
	}
	if estimated.Valid {
		a.EstimatedEffortHours = &estimated.Float64
	}
	if actual.Valid {
		a.ActualEffortHours = &actual.Float64
	}
	if sla.Valid {
		v := int(sla.Int64)
		a.SLAHours = &v
	}
	a.Category = category.String
	a.Notes = notes.String
	a.CreatedBy = createdBy.String
	a.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
			return a, fmt.Errorf("decode tags for %s: %w", a.ID, err)
		}
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{dueDate, &a.DueDate},
		{resolvedAt, &a.ResolvedAt},
		{verifiedAt, &a.VerifiedAt},
		{closedAt, &a.ClosedAt},
	} {
		if !f.src.Valid {
			continue
		}
		ts, err := parseTime(f.src.String)
		if err != nil {
			return a, err
		}
		*f.dst = &ts
	}
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	tags, err := marshalTags(a.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrgID, a.Title, a.Description, string(a.Status), string(a.Priority), nullableStringPtr(a.AssignedTo),
		formatTimePtr(a.DueDate), nullableFloatPtr(a.EstimatedEffortHours), nullableFloatPtr(a.ActualEffortHours),
		nullable(a.Category), tags, nullable(a.Notes), nullableIntPtr(a.SLAHours), nullable(a.CreatedBy),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), formatTimePtr(a.ResolvedAt), formatTimePtr(a.VerifiedAt),
		formatTimePtr(a.ClosedAt), a.Version)
	return err
}

// UpdateAction overwrites every mutable column of a within its org.
func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	tags, err := marshalTags(a.Tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE actions SET title=?, description=?, status=?, priority=?, assigned_to=?, due_date=?,
estimated_effort_hours=?, actual_effort_hours=?, category=?, tags_json=?, notes=?, sla_hours=?, updated_at=?,
resolved_at=?, verified_at=?, closed_at=?, version=? WHERE org_id=? AND id=?`,
		a.Title, a.Description, string(a.Status), string(a.Priority), nullableStringPtr(a.AssignedTo), formatTimePtr(a.DueDate),
		nullableFloatPtr(a.EstimatedEffortHours), nullableFloatPtr(a.ActualEffortHours), nullable(a.Category), tags,
		nullable(a.Notes), nullableIntPtr(a.SLAHours), formatTime(a.UpdatedAt), formatTimePtr(a.ResolvedAt),
		formatTimePtr(a.VerifiedAt), formatTimePtr(a.ClosedAt), a.Version, a.OrgID, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAction(ctx context.Context, orgID, id string) (domain.Action, error) {
	return getAction(ctx, r.DB, orgID, id)
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, orgID, id string) (domain.Action, error) {
	return getAction(ctx, tx, orgID, id)
}

func getAction(ctx context.Context, q queryer, orgID, id string) (domain.Action, error) {
	return scanAction(q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE org_id=? AND id=?`, orgID, id))
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, orgID, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE org_id=? AND id=?`, orgID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActionFilters narrows a listing in SQL. OrgID is mandatory; text search,
// overdue and ordering are applied afterwards by the query package.
type ActionFilters struct {
	OrgID      string
	Status     domain.Status
	Priority   domain.Priority
	AssignedTo string
	Unassigned bool
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.Action, error) {
	if f.OrgID == "" {
		return nil, errors.New("org is required")
	}
	clauses := []string{"org_id=?"}
	args := []any{f.OrgID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, string(f.Priority))
	}
	switch {
	case f.Unassigned:
		clauses = append(clauses, "assigned_to IS NULL")
	case f.AssignedTo != "":
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	query := `SELECT ` + actionColumns + ` FROM actions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
