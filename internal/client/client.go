// Package client is the remedyboard HTTP API client. It implements
// coordinator.Service so the CLI can drive a remote server the same way it
// drives a local workspace.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"remedyboard/internal/board"
	"remedyboard/internal/domain"
	"remedyboard/internal/query"
	"remedyboard/internal/stats"
)

type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	// Timeout bounds each request, including reading the reply. Zero means
	// no limit beyond the caller's context.
	Timeout time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		HTTPClient:  &http.Client{},
		Timeout:     10 * time.Second,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// APIError is a non-2xx reply whose error code has no typed equivalent.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func detail(d map[string]any, key string) string {
	if v, ok := d[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func detailInt(d map[string]any, key string) int {
	n, _ := strconv.Atoi(detail(d, key))
	return n
}

// decodeError turns an error reply back into the domain error the server
// started from. 5xx replies are transport failures.
func decodeError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env errorEnvelope
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	if resp.StatusCode >= 500 {
		return domain.TransportError{Op: op, Err: apiErr}
	}
	d := env.Error.Details
	switch env.Error.Code {
	case "validation_error":
		return domain.ValidationError{Field: detail(d, "field"), Reason: detail(d, "reason")}
	case "invalid_status":
		return domain.InvalidStatusError{Value: detail(d, "value")}
	case "not_found":
		return domain.NotFoundError{Kind: detail(d, "kind"), ID: detail(d, "id")}
	case "conflict":
		return domain.ConflictError{ID: detail(d, "id"), Expected: detailInt(d, "expected"), Actual: detailInt(d, "actual")}
	case "transition_not_allowed":
		return domain.TransitionError{From: domain.Status(detail(d, "from")), To: domain.Status(detail(d, "to"))}
	}
	return apiErr
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(op, resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func orgPath(orgID, p string) string {
	return fmt.Sprintf("v0/orgs/%s/%s", url.PathEscape(orgID), strings.TrimLeft(p, "/"))
}

func actionPath(orgID, id, suffix string) string {
	p := "actions/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return orgPath(orgID, p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return endpoint + "?" + v.Encode()
}

// DevLogin mints a development token for actorID in orgID and keeps it
// for later calls.
func (c *Client) DevLogin(ctx context.Context, orgID, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"org_id": orgID, "actor_id": actorID}
	if err := c.do(ctx, "dev login", http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) ListActions(ctx context.Context, orgID string, f query.Filter) (domain.ActionList, error) {
	var resp domain.ActionList
	err := c.do(ctx, "list actions", http.MethodGet, withQuery(orgPath(orgID, "actions"), f.Encode()), nil, &resp)
	return resp, err
}

func (c *Client) GetAction(ctx context.Context, orgID, id string) (domain.Action, error) {
	var resp domain.Action
	err := c.do(ctx, "get action", http.MethodGet, actionPath(orgID, id, ""), nil, &resp)
	return resp, err
}

func formatDue(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func (c *Client) CreateAction(ctx context.Context, orgID string, in domain.ActionInput) (domain.Action, error) {
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
	}
	if in.Priority != "" {
		body["priority"] = in.Priority
	}
	if in.AssignedTo != "" {
		body["assigned_to"] = in.AssignedTo
	}
	if due := formatDue(in.DueDate); due != nil {
		body["due_date"] = *due
	}
	if in.EstimatedEffortHours != nil {
		body["estimated_effort_hours"] = *in.EstimatedEffortHours
	}
	if in.ActualEffortHours != nil {
		body["actual_effort_hours"] = *in.ActualEffortHours
	}
	if in.Category != "" {
		body["category"] = in.Category
	}
	if len(in.Tags) > 0 {
		body["tags"] = in.Tags
	}
	if in.Notes != "" {
		body["notes"] = in.Notes
	}
	if in.SLAHours != nil {
		body["sla_hours"] = *in.SLAHours
	}
	var resp domain.Action
	err := c.do(ctx, "create action", http.MethodPost, orgPath(orgID, "actions"), body, &resp)
	return resp, err
}

func (c *Client) UpdateAction(ctx context.Context, orgID, id string, p domain.ActionPatch) (domain.Action, error) {
	body := map[string]any{}
	set := func(k string, v any, ok bool) {
		if ok {
			body[k] = v
		}
	}
	set("title", p.Title, p.Title != nil)
	set("description", p.Description, p.Description != nil)
	set("priority", p.Priority, p.Priority != nil)
	set("assigned_to", p.AssignedTo, p.AssignedTo != nil)
	set("estimated_effort_hours", p.EstimatedEffortHours, p.EstimatedEffortHours != nil)
	set("actual_effort_hours", p.ActualEffortHours, p.ActualEffortHours != nil)
	set("category", p.Category, p.Category != nil)
	set("tags", p.Tags, p.Tags != nil)
	set("notes", p.Notes, p.Notes != nil)
	set("sla_hours", p.SLAHours, p.SLAHours != nil)
	set("expected_version", p.ExpectedVersion, p.ExpectedVersion != nil)
	switch {
	case p.ClearDueDate:
		body["due_date"] = ""
	case p.DueDate != nil:
		body["due_date"] = *formatDue(p.DueDate)
	}
	var resp domain.Action
	err := c.do(ctx, "update action", http.MethodPatch, actionPath(orgID, id, ""), body, &resp)
	return resp, err
}

func (c *Client) DeleteAction(ctx context.Context, orgID, id string) error {
	return c.do(ctx, "delete action", http.MethodDelete, actionPath(orgID, id, "")+"?confirm=true", nil, nil)
}

func (c *Client) SetActionStatus(ctx context.Context, orgID, id string, status domain.Status, comment string) (domain.Action, error) {
	var resp domain.Action
	body := map[string]string{"status": string(status), "comment": comment}
	err := c.do(ctx, "set status", http.MethodPost, actionPath(orgID, id, "status"), body, &resp)
	return resp, err
}

func (c *Client) AssignAction(ctx context.Context, orgID, id, userID, comment string) (domain.Action, error) {
	var resp domain.Action
	body := map[string]string{"assigned_to": userID, "comment": comment}
	err := c.do(ctx, "assign action", http.MethodPost, actionPath(orgID, id, "assign"), body, &resp)
	return resp, err
}

func (c *Client) VerifyAction(ctx context.Context, orgID, id string, verified bool, comment string) (domain.Action, error) {
	var resp domain.Action
	body := map[string]any{"verified": verified, "comment": comment}
	err := c.do(ctx, "verify action", http.MethodPost, actionPath(orgID, id, "verify"), body, &resp)
	return resp, err
}

func (c *Client) BulkAction(ctx context.Context, orgID string, req domain.BulkRequest) (domain.BulkResult, error) {
	var resp domain.BulkResult
	err := c.do(ctx, "bulk action", http.MethodPost, orgPath(orgID, "actions/bulk"), req, &resp)
	return resp, err
}

func (c *Client) ActionHistory(ctx context.Context, orgID, id string) ([]domain.Event, error) {
	var resp struct {
		Items []domain.Event `json:"items"`
	}
	err := c.do(ctx, "action history", http.MethodGet, actionPath(orgID, id, "history"), nil, &resp)
	return resp.Items, err
}

func (c *Client) ListUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	var resp struct {
		Items []domain.User `json:"items"`
	}
	err := c.do(ctx, "list users", http.MethodGet, orgPath(orgID, "users"), nil, &resp)
	return resp.Items, err
}

func (c *Client) GetStats(ctx context.Context, orgID string) (stats.Summary, error) {
	var resp stats.Summary
	err := c.do(ctx, "get stats", http.MethodGet, orgPath(orgID, "stats"), nil, &resp)
	if err == nil && resp.AvgCompletionHours != nil {
		resp.AvgCompletionTime = time.Duration(*resp.AvgCompletionHours * float64(time.Hour))
	}
	return resp, err
}

// BoardResponse is the server-rendered board.
type BoardResponse struct {
	Columns []board.Column `json:"columns"`
	Total   int            `json:"total"`
	Stats   stats.Summary  `json:"stats"`
}

func (c *Client) Board(ctx context.Context, orgID string, f query.Filter) (BoardResponse, error) {
	var resp BoardResponse
	err := c.do(ctx, "board", http.MethodGet, withQuery(orgPath(orgID, "board"), f.Encode()), nil, &resp)
	return resp, err
}

// DropResult reports whether a server-side drop changed anything.
type DropResult struct {
	NoOp   bool           `json:"noop"`
	Action *domain.Action `json:"action,omitempty"`
}

func (c *Client) Drop(ctx context.Context, orgID, actionID, dropTarget string) (DropResult, error) {
	var resp DropResult
	body := map[string]string{"action_id": actionID, "drop_target": dropTarget}
	err := c.do(ctx, "drop", http.MethodPost, orgPath(orgID, "board/drop"), body, &resp)
	return resp, err
}

// EventsPage is one page of the org event stream.
type EventsPage struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

func (c *Client) Events(ctx context.Context, orgID string, limit int, cursor string) (EventsPage, error) {
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	if cursor != "" {
		params["cursor"] = cursor
	}
	var resp EventsPage
	err := c.do(ctx, "events", http.MethodGet, withQuery(orgPath(orgID, "events"), params), nil, &resp)
	return resp, err
}

// IsTransport reports whether err is a timeout, network failure or 5xx.
func IsTransport(err error) bool {
	var te domain.TransportError
	return errors.As(err, &te)
}
