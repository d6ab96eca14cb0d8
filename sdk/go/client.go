package plantlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Plantline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API served at baseURL under /v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Action struct {
	Action      string `json:"action"`
	Responsible string `json:"responsible,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// RejectionEntry routes rejected parts to teams. AssignToTeam is sent as an
// array.
type RejectionEntry struct {
	EntryID           string   `json:"entry_id,omitempty"`
	RejectionType     string   `json:"rejection_type"`
	Quantity          int      `json:"quantity"`
	Reason            string   `json:"reason,omitempty"`
	AssignToTeam      []string `json:"assign_to_team,omitempty"`
	CorrectiveActions []Action `json:"corrective_actions,omitempty"`
}

type DowntimeEntry struct {
	EntryID           string   `json:"entry_id,omitempty"`
	DowntimeType      string   `json:"downtime_type"`
	CustomType        string   `json:"custom_type,omitempty"`
	DowntimeMinutes   int      `json:"downtime_minutes"`
	AssignToTeam      []string `json:"assign_to_team,omitempty"`
	CorrectiveActions []Action `json:"corrective_actions,omitempty"`
}

type ProductionRecord struct {
	RecordID         string           `json:"record_id,omitempty"`
	ProductionCode   string           `json:"production_code,omitempty"`
	Machine          string           `json:"machine"`
	Product          string           `json:"product"`
	Shift            string           `json:"shift"`
	Date             string           `json:"date"`
	Operator         string           `json:"operator"`
	Supervisor       string           `json:"supervisor"`
	Status           string           `json:"status"`
	RejectionEntries []RejectionEntry `json:"rejection_entries,omitempty"`
	DowntimeEntries  []DowntimeEntry  `json:"downtime_entries,omitempty"`
}

type PDIRecord struct {
	PDIID          string `json:"pdi_id,omitempty"`
	ProductionCode string `json:"production_code,omitempty"`
	Product        string `json:"product,omitempty"`
	Shift          string `json:"shift,omitempty"`
	Date           string `json:"date"`
	DefectName     string `json:"defect_name,omitempty"`
	Severity       string `json:"severity,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	InspectorID    string `json:"inspector_id,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID                string   `json:"id"`
	ProductionCode    string   `json:"production_code"`
	TaskType          string   `json:"task_type"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Priority          string   `json:"priority"`
	AssignedTo        string   `json:"assigned_to"`
	AssignedTeam      string   `json:"assigned_team"`
	DueDate           string   `json:"due_date"`
	Status            string   `json:"status"`
	CreatedFrom       string   `json:"created_from"`
	SourceID          string   `json:"source_id"`
	Progress          int      `json:"progress"`
	PreventiveActions []Action `json:"preventive_actions"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	CompletedAt       string   `json:"completed_at"`
}

// Submission is returned by SubmitProduction and SubmitPDI.
type Submission struct {
	SourceID string `json:"source_id"`
	Tasks    []Task `json:"tasks"`
}

type NewTask struct {
	Title             string   `json:"title"`
	TaskType          string   `json:"task_type,omitempty"`
	Description       string   `json:"description,omitempty"`
	Priority          string   `json:"priority,omitempty"`
	ProductionCode    string   `json:"production_code,omitempty"`
	AssignedTo        string   `json:"assigned_to,omitempty"`
	AssignedTeam      string   `json:"assigned_team,omitempty"`
	DueDate           string   `json:"due_date,omitempty"`
	Equipment         string   `json:"equipment,omitempty"`
	Quantity          *int     `json:"quantity,omitempty"`
	PreventiveActions []Action `json:"preventive_actions,omitempty"`
}

// StatusUpdate changes a task's status. Nil fields are left unchanged; a
// non-nil PreventiveActions replaces the whole list.
type StatusUpdate struct {
	Status            string   `json:"status"`
	Progress          *int     `json:"progress,omitempty"`
	StatusComments    *string  `json:"status_comments,omitempty"`
	RootCause         *string  `json:"root_cause,omitempty"`
	ImpactAssessment  *string  `json:"impact_assessment,omitempty"`
	RecurrenceRisk    *string  `json:"recurrence_risk,omitempty"`
	LessonsLearned    *string  `json:"lessons_learned,omitempty"`
	PreventiveActions []Action `json:"preventive_actions,omitempty"`
}

type TaskQuery struct {
	Status         string
	Team           string
	AssignedTo     string
	TaskType       string
	ProductionCode string
	CreatedFrom    string
	SourceID       string
	Limit          int
	Cursor         string
}

type TaskPage struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code, Message and Field are filled from
// the error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitProduction stores a production record and returns the derived tasks.
func (c *Client) SubmitProduction(ctx context.Context, rec ProductionRecord) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "production-records", rec, &resp)
	return resp, err
}

// SubmitPDI stores a PDI record and returns the derived task, if any.
func (c *Client) SubmitPDI(ctx context.Context, rec PDIRecord) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, "pdi-records", rec, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns one page of tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) (TaskPage, error) {
	params := url.Values{}
	set := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	set("status", q.Status)
	set("team", q.Team)
	set("assigned_to", q.AssignedTo)
	set("task_type", q.TaskType)
	set("production_code", q.ProductionCode)
	set("created_from", q.CreatedFrom)
	set("source_id", q.SourceID)
	set("cursor", q.Cursor)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "tasks"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, id string, u StatusUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id)+"/status", u, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		if field, ok := env.Error.Details["field"].(string); ok {
			apiErr.Field = field
		}
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
