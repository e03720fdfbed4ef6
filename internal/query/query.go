// Package query evaluates filter descriptors over an action snapshot.
// Evaluation is pure: Apply never mutates its input.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"remedyboard/internal/domain"
)

// Unassigned selects actions without an assignee when used as AssignedTo.
const Unassigned = "unassigned"

// anyValue means "no restriction" on enumerated fields.
const anyValue = "all"

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortDueDate   SortField = "due_date"
	SortPriority  SortField = "priority"
	SortStatus    SortField = "status"
	SortTitle     SortField = "title"
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Filter is a parsed, validated descriptor. Zero values mean no restriction.
type Filter struct {
	Search        string
	Status        domain.Status
	Priority      domain.Priority
	AssignedTo    string
	Category      string
	Tag           string
	OverdueOnly   bool
	DueBefore     *time.Time
	DueAfter      *time.Time
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	SortBy        SortField
	SortOrder     SortOrder
	Page          int
	Limit         int
}

// Values is the raw, string-typed descriptor as it arrives from a query
// string or CLI flags.
type Values struct {
	Search        string `json:"search,omitempty"`
	Status        string `json:"status,omitempty"`
	Priority      string `json:"priority,omitempty"`
	AssignedTo    string `json:"assigned_to,omitempty"`
	Category      string `json:"category,omitempty"`
	Tag           string `json:"tag,omitempty"`
	OverdueOnly   bool   `json:"overdue_only,omitempty"`
	DueBefore     string `json:"due_before,omitempty"`
	DueAfter      string `json:"due_after,omitempty"`
	CreatedAfter  string `json:"created_after,omitempty"`
	CreatedBefore string `json:"created_before,omitempty"`
	SortBy        string `json:"sort_by,omitempty"`
	SortOrder     string `json:"sort_order,omitempty"`
	Page          int    `json:"page,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func unrestricted(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, anyValue)
}

// Parse validates v. An unknown status is an InvalidStatusError so that a
// priority value passed as status is reported instead of matching nothing.
func (v Values) Parse() (Filter, error) {
	f := Filter{
		Search:      strings.TrimSpace(v.Search),
		Category:    strings.TrimSpace(v.Category),
		Tag:         strings.TrimSpace(v.Tag),
		OverdueOnly: v.OverdueOnly,
		Page:        v.Page,
		Limit:       v.Limit,
	}
	if !unrestricted(v.Status) {
		st, err := domain.ParseStatus(v.Status)
		if err != nil {
			return Filter{}, err
		}
		f.Status = st
	}
	if !unrestricted(v.Priority) {
		p, err := domain.ParsePriority(v.Priority)
		if err != nil {
			return Filter{}, err
		}
		f.Priority = p
	}
	if !unrestricted(v.AssignedTo) {
		f.AssignedTo = strings.TrimSpace(v.AssignedTo)
	}
	if strings.EqualFold(f.Category, anyValue) {
		f.Category = ""
	}
	for _, d := range []struct {
		field string
		raw   string
		dst   **time.Time
	}{
		{"due_before", v.DueBefore, &f.DueBefore},
		{"due_after", v.DueAfter, &f.DueAfter},
		{"created_after", v.CreatedAfter, &f.CreatedAfter},
		{"created_before", v.CreatedBefore, &f.CreatedBefore},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		ts, err := ParseDate(d.raw)
		if err != nil {
			return Filter{}, domain.ValidationError{Field: d.field, Reason: err.Error()}
		}
		*d.dst = &ts
	}
	switch SortField(strings.TrimSpace(v.SortBy)) {
	case "":
	case SortCreatedAt, SortUpdatedAt, SortDueDate, SortPriority, SortStatus, SortTitle:
		f.SortBy = SortField(strings.TrimSpace(v.SortBy))
	default:
		return Filter{}, domain.ValidationError{Field: "sort_by", Reason: fmt.Sprintf("unsupported sort field %q", v.SortBy)}
	}
	switch SortOrder(strings.ToLower(strings.TrimSpace(v.SortOrder))) {
	case "":
	case Asc:
		f.SortOrder = Asc
	case Desc:
		f.SortOrder = Desc
	default:
		return Filter{}, domain.ValidationError{Field: "sort_order", Reason: "must be asc or desc"}
	}
	if f.Page < 0 {
		return Filter{}, domain.ValidationError{Field: "page", Reason: "must be positive"}
	}
	if f.Limit < 0 {
		return Filter{}, domain.ValidationError{Field: "limit", Reason: "must be positive"}
	}
	return f, nil
}

// ParseDate accepts YYYY-MM-DD (UTC midnight) or RFC3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}

// Match reports whether a satisfies every predicate of f.
func (f Filter) Match(a domain.Action, now time.Time) bool {
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Description), needle) {
			return false
		}
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	switch {
	case f.AssignedTo == Unassigned:
		if a.AssignedTo != nil {
			return false
		}
	case f.AssignedTo != "":
		if a.AssignedTo == nil || *a.AssignedTo != f.AssignedTo {
			return false
		}
	}
	if f.Category != "" && !strings.EqualFold(a.Category, f.Category) {
		return false
	}
	if f.Tag != "" && !a.HasTag(f.Tag) {
		return false
	}
	if f.OverdueOnly && !a.Overdue(now) {
		return false
	}
	if f.DueBefore != nil && (a.DueDate == nil || !a.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.DueAfter != nil && (a.DueDate == nil || !a.DueDate.After(*f.DueAfter)) {
		return false
	}
	if f.CreatedAfter != nil && !a.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !a.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// Apply returns the actions matching f, sorted. The input slice is left as is.
func Apply(actions []domain.Action, f Filter, now time.Time) []domain.Action {
	out := make([]domain.Action, 0, len(actions))
	for _, a := range actions {
		if f.Match(a, now) {
			out = append(out, a)
		}
	}
	Sort(out, f.SortBy, f.SortOrder)
	return out
}

// Sort orders actions in place. The default is created_at descending; ties
// always fall back to id ascending regardless of order.
func Sort(actions []domain.Action, by SortField, order SortOrder) {
	if by == "" {
		by = SortCreatedAt
	}
	if order == "" {
		order = Desc
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if by == SortDueDate {
			// Undated actions sort last in either order.
			di, dj := actions[i].DueDate, actions[j].DueDate
			if (di == nil) != (dj == nil) {
				return dj == nil
			}
		}
		c := compare(actions[i], actions[j], by)
		if c == 0 {
			return actions[i].ID < actions[j].ID
		}
		if order == Desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b domain.Action, by SortField) int {
	switch by {
	case SortUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case SortDueDate:
		if a.DueDate == nil || b.DueDate == nil {
			return 0
		}
		return a.DueDate.Compare(*b.DueDate)
	case SortPriority:
		return a.Priority.Rank() - b.Priority.Rank()
	case SortStatus:
		return a.Status.Index() - b.Status.Index()
	case SortTitle:
		return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

// Page slices one page out of actions. page is 1-based.
func Page(actions []domain.Action, page, limit int) []domain.Action {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		return actions
	}
	start := (page - 1) * limit
	if start >= len(actions) {
		return []domain.Action{}
	}
	end := start + limit
	if end > len(actions) {
		end = len(actions)
	}
	return actions[start:end]
}

// Encode renders f back into query string parameters.
func (f Filter) Encode() map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	setTime := func(k string, t *time.Time) {
		if t != nil {
			out[k] = t.UTC().Format(time.RFC3339)
		}
	}
	set("search", f.Search)
	set("status", string(f.Status))
	set("priority", string(f.Priority))
	set("assigned_to", f.AssignedTo)
	set("category", f.Category)
	set("tag", f.Tag)
	if f.OverdueOnly {
		out["overdue_only"] = "true"
	}
	setTime("due_before", f.DueBefore)
	setTime("due_after", f.DueAfter)
	setTime("created_after", f.CreatedAfter)
	setTime("created_before", f.CreatedBefore)
	set("sort_by", string(f.SortBy))
	set("sort_order", string(f.SortOrder))
	if f.Page > 0 {
		out["page"] = strconv.Itoa(f.Page)
	}
	if f.Limit > 0 {
		out["limit"] = strconv.Itoa(f.Limit)
	}
	return out
}
