package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle stage of a remediation action.
type Status string

const (
	StatusOpen        Status = "open"
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in_progress"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusVerified    Status = "verified"
	StatusClosed      Status = "closed"
)

// Statuses lists every status in board column order.
var Statuses = []Status{
	StatusOpen,
	StatusAssigned,
	StatusInProgress,
	StatusUnderReview,
	StatusResolved,
	StatusVerified,
	StatusClosed,
}

// ParseStatus returns the status named by s or an InvalidStatusError.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", InvalidStatusError{Value: s}
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusUnderReview,
		StatusResolved, StatusVerified, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether no further progress is tracked for s.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusVerified, StatusClosed:
		return true
	}
	return false
}

// Progress maps s to the display percentage shown on cards.
func (s Status) Progress() int {
	switch s {
	case StatusInProgress, StatusUnderReview:
		return 50
	case StatusResolved, StatusVerified, StatusClosed:
		return 100
	}
	return 0
}

// Index is the column position of s, or -1 for unknown values.
func (s Status) Index() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Label() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusAssigned:
		return "Assigned"
	case StatusInProgress:
		return "In Progress"
	case StatusUnderReview:
		return "Under Review"
	case StatusResolved:
		return "Resolved"
	case StatusVerified:
		return "Verified"
	case StatusClosed:
		return "Closed"
	}
	return string(s)
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.TrimSpace(s))
	if !p.Valid() {
		return "", ValidationError{Field: "priority", Reason: "must be one of low, medium, high, critical"}
	}
	return p, nil
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank orders priorities from low (0) to critical (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return -1
}

// Action is a remediation action tracked on the board.
type Action struct {
	ID                   string     `json:"id"`
	OrgID                string     `json:"org_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Status               Status     `json:"status" enum:"open,assigned,in_progress,under_review,resolved,verified,closed"`
	Priority             Priority   `json:"priority" enum:"low,medium,high,critical"`
	AssignedTo           *string    `json:"assigned_to"`
	DueDate              *time.Time `json:"due_date"`
	EstimatedEffortHours *float64   `json:"estimated_effort_hours,omitempty"`
	ActualEffortHours    *float64   `json:"actual_effort_hours,omitempty"`
	Category             string     `json:"category,omitempty"`
	Tags                 []string   `json:"tags"`
	Notes                string     `json:"notes,omitempty"`
	SLAHours             *int       `json:"sla_hours,omitempty"`
	CreatedBy            string     `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
	Version              int        `json:"version"`
}

// Overdue reports whether the action is past due and still open for work.
// Actions without a due date are never overdue.
func (a Action) Overdue(now time.Time) bool {
	if a.DueDate == nil || a.Status.Terminal() {
		return false
	}
	return a.DueDate.Before(now)
}

func (a Action) Progress() int { return a.Status.Progress() }

// HasTag reports whether tag is attached, ignoring case.
func (a Action) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// View is an action annotated with its derived fields.
type View struct {
	Action
	Overdue  bool `json:"overdue"`
	Progress int  `json:"progress"`
}

func NewView(a Action, now time.Time) View {
	return View{Action: a, Overdue: a.Overdue(now), Progress: a.Progress()}
}

// ActionList is the result of a listing: one page plus the match count.
type ActionList struct {
	Actions []Action `json:"actions"`
	Total   int      `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}

// ActionInput carries the fields accepted on create.
type ActionInput struct {
	Title                string
	Description          string
	Priority             Priority
	AssignedTo           string
	DueDate              *time.Time
	EstimatedEffortHours *float64
	ActualEffortHours    *float64
	Category             string
	Tags                 []string
	Notes                string
	SLAHours             *int
}

// ActionPatch is a partial edit; nil fields are left untouched.
// AssignedTo set to "" unassigns; ClearDueDate removes the deadline.
type ActionPatch struct {
	Title                *string
	Description          *string
	Priority             *Priority
	AssignedTo           *string
	DueDate              *time.Time
	ClearDueDate         bool
	EstimatedEffortHours *float64
	ActualEffortHours    *float64
	Category             *string
	Tags                 *[]string
	Notes                *string
	SLAHours             *int
	ExpectedVersion      *int
}

// Empty reports whether the patch changes nothing.
func (p ActionPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.AssignedTo == nil &&
		p.DueDate == nil && !p.ClearDueDate && p.EstimatedEffortHours == nil && p.ActualEffortHours == nil &&
		p.Category == nil && p.Tags == nil && p.Notes == nil && p.SLAHours == nil
}

type BulkOperation string

const (
	BulkAssign         BulkOperation = "assign"
	BulkUpdateStatus   BulkOperation = "update_status"
	BulkUpdatePriority BulkOperation = "update_priority"
	BulkAddTag         BulkOperation = "add_tag"
	BulkRemoveTag      BulkOperation = "remove_tag"
	BulkDelete         BulkOperation = "delete"
)

type BulkRequest struct {
	ActionIDs []string          `json:"action_ids"`
	Operation BulkOperation     `json:"operation" enum:"assign,update_status,update_priority,add_tag,remove_tag,delete"`
	Data      map[string]string `json:"data,omitempty"`
}

type BulkResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// User is an entry in the org's user directory.
type User struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
