package server

import (
	"remedyboard/internal/board"
	"remedyboard/internal/domain"
	"remedyboard/internal/stats"
)

// Request payloads

type CreateActionRequest struct {
	Title                string   `json:"title,omitempty"`
	Description          string   `json:"description,omitempty"`
	Priority             string   `json:"priority,omitempty"`
	AssignedTo           string   `json:"assigned_to,omitempty"`
	DueDate              string   `json:"due_date,omitempty" doc:"YYYY-MM-DD or RFC3339"`
	EstimatedEffortHours *float64 `json:"estimated_effort_hours,omitempty"`
	ActualEffortHours    *float64 `json:"actual_effort_hours,omitempty"`
	Category             string   `json:"category,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	Notes                string   `json:"notes,omitempty"`
	SLAHours             *int     `json:"sla_hours,omitempty"`
}

// UpdateActionRequest is a partial edit. A null or empty assigned_to
// unassigns; an empty due_date clears the deadline.
type UpdateActionRequest struct {
	Title                *string  `json:"title,omitempty"`
	Description          *string  `json:"description,omitempty"`
	Priority             *string  `json:"priority,omitempty"`
	AssignedTo           *string  `json:"assigned_to,omitempty" nullable:"true"`
	DueDate              *string  `json:"due_date,omitempty" nullable:"true"`
	EstimatedEffortHours *float64 `json:"estimated_effort_hours,omitempty"`
	ActualEffortHours    *float64 `json:"actual_effort_hours,omitempty"`
	Category             *string  `json:"category,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	Notes                *string  `json:"notes,omitempty"`
	SLAHours             *int     `json:"sla_hours,omitempty"`
	ExpectedVersion      *int     `json:"expected_version,omitempty"`
}

type SetStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

type AssignRequest struct {
	AssignedTo string `json:"assigned_to,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type VerifyRequest struct {
	Verified bool   `json:"verified,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type DropRequest struct {
	ActionID   string `json:"action_id"`
	DropTarget string `json:"drop_target" doc:"status column id or the id of another action"`
}

type AddUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id"`
}

type actionListResponse struct {
	Actions []domain.View `json:"actions"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
}

type boardResponse struct {
	Columns []board.Column `json:"columns"`
	Total   int            `json:"total"`
	Stats   stats.Summary  `json:"stats"`
}

type DropResponse struct {
	NoOp   bool           `json:"noop"`
	Action *domain.Action `json:"action,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type eventList struct {
	Items []domain.Event `json:"items"`
}

type userList struct {
	Items []domain.User `json:"items"`
}
