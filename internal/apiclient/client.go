package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
)

// Client is the typed REST client for the board API. It is safe to share
// across goroutines once the token is set.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type Session struct {
	Token        string         `json:"token"`
	RefreshToken string         `json:"refresh_token"`
	User         contracts.User `json:"user"`
}

func (c *Client) Register(ctx context.Context, name, email, password string) (Session, error) {
	var out Session
	body := map[string]string{"name": name, "email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", body, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	body := map[string]string{"refresh_token": refreshToken}
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", body, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", body, nil)
}

// TaskFilter narrows the task list. Zero values mean "no constraint".
type TaskFilter struct {
	Search   string
	Status   string
	Priority string
	DueDate  string
	Page     int
	Limit    int
}

type TaskPage struct {
	Tasks      []contracts.Task `json:"tasks"`
	TotalTasks int              `json:"totalTasks"`
	TotalPages int              `json:"totalPages"`
}

func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) (TaskPage, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Priority != "" {
		q.Set("priority", filter.Priority)
	}
	if filter.DueDate != "" {
		q.Set("dueDate", filter.DueDate)
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out TaskPage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, id string) (contracts.Task, error) {
	var out contracts.Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

// TaskInput carries a create or update request. On update, nil pointer
// fields leave the stored value untouched.
type TaskInput struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssigneeIDs []string   `json:"assignee_ids,omitempty"`
	TeamID      *string    `json:"team_id,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, input TaskInput) (contracts.Task, error) {
	var out contracts.Task
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks", input, &out)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, input TaskInput) (contracts.Task, error) {
	var out contracts.Task
	err := c.do(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(id), input, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AddLink(ctx context.Context, taskID, title, linkURL string) ([]contracts.Link, error) {
	body := map[string]string{"title": title, "url": linkURL}
	var out struct {
		Links []contracts.Link `json:"links"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/links", body, &out)
	return out.Links, err
}

func (c *Client) DeleteLink(ctx context.Context, taskID, linkID string) ([]contracts.Link, error) {
	var out struct {
		Links []contracts.Link `json:"links"`
	}
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/links/" + url.PathEscape(linkID)
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out.Links, err
}

func (c *Client) TaskComments(ctx context.Context, taskID string) ([]contracts.Comment, error) {
	var out []contracts.Comment
	err := c.do(ctx, http.MethodGet, "/api/v1/comments/task/"+url.PathEscape(taskID), nil, &out)
	return out, err
}

type CommentInput struct {
	TaskID  string `json:"task_id"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

func (c *Client) CreateComment(ctx context.Context, input CommentInput) (contracts.Comment, error) {
	var out contracts.Comment
	err := c.do(ctx, http.MethodPost, "/api/v1/comments", input, &out)
	return out, err
}

func (c *Client) TogglePin(ctx context.Context, commentID string) (contracts.Comment, error) {
	var out contracts.Comment
	err := c.do(ctx, http.MethodPut, "/api/v1/comments/"+url.PathEscape(commentID)+"/pin", nil, &out)
	return out, err
}

func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/comments/"+url.PathEscape(commentID), nil, nil)
}

func (c *Client) Users(ctx context.Context) ([]contracts.User, error) {
	var out []contracts.User
	err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, &out)
	return out, err
}

func (c *Client) Teams(ctx context.Context) ([]contracts.Team, error) {
	var out []contracts.Team
	err := c.do(ctx, http.MethodGet, "/api/v1/teams", nil, &out)
	return out, err
}

func (c *Client) DashboardStats(ctx context.Context) (contracts.DashboardStats, error) {
	var out contracts.DashboardStats
	err := c.do(ctx, http.MethodGet, "/api/v1/dashboard/stats", nil, &out)
	return out, err
}

// ActivityLog is one archived board event, as served by the activity-log
// endpoint. Managers only.
type ActivityLog struct {
	EventSeq   uint64          `json:"eventSeq"`
	Subject    string          `json:"subject"`
	Event      string          `json:"event"`
	ActorID    string          `json:"actorId,omitempty"`
	TaskID     string          `json:"taskId,omitempty"`
	CommentID  string          `json:"commentId,omitempty"`
	TeamID     string          `json:"teamId,omitempty"`
	Message    string          `json:"message,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EmittedAt  time.Time       `json:"emittedAt"`
	InsertedAt time.Time       `json:"insertedAt"`
}

// ActivityLogFilter narrows the log. Zero values mean "no constraint".
type ActivityLogFilter struct {
	Event   string
	ActorID string
	TaskID  string
	Page    int
	Limit   int
}

type ActivityLogPage struct {
	Logs       []ActivityLog `json:"logs"`
	TotalLogs  int           `json:"totalLogs"`
	TotalPages int           `json:"totalPages"`
}

func (c *Client) ListActivityLogs(ctx context.Context, filter ActivityLogFilter) (ActivityLogPage, error) {
	q := url.Values{}
	if filter.Event != "" {
		q.Set("event", filter.Event)
	}
	if filter.ActorID != "" {
		q.Set("actorId", filter.ActorID)
	}
	if filter.TaskID != "" {
		q.Set("taskId", filter.TaskID)
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/activity-logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ActivityLogPage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}

	var base error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		base = ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		base = ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		base = ErrNotFound
	case resp.StatusCode >= 500:
		base = ErrServer
	default:
		base = ErrValidation
	}
	return fmt.Errorf("%w: %s", base, msg)
}
