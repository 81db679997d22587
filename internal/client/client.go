// Package client is a typed HTTP client for the taskhive master API.
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

	"github.com/fentz26/taskhive/internal/controlplane"
	"github.com/fentz26/taskhive/internal/models"
)

// DefaultTimeout is the default timeout for API requests.
const DefaultTimeout = 10 * time.Second

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client wraps HTTP calls to the master.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the master at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the master address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckHealth returns the parsed health payload even on non-200 responses so
// callers can inspect it alongside the error.
func (c *Client) CheckHealth(ctx context.Context) (*controlplane.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	var health controlplane.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return &health, nil
}

// --- Tasks ---

// Submit enqueues a task and returns its id.
func (c *Client) Submit(ctx context.Context, req controlplane.SubmitRequest) (string, error) {
	var resp controlplane.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	return resp.TaskID, nil
}

// TaskQuery filters ListTasks.
type TaskQuery struct {
	State  models.TaskState
	Type   string
	Worker string
	Limit  int
}

func (q TaskQuery) encode() string {
	v := url.Values{}
	if q.State != "" {
		v.Set("state", string(q.State))
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	if q.Worker != "" {
		v.Set("worker", q.Worker)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ListTasks returns task snapshots, newest first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks"+q.encode(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ReportResult reports the outcome of a leased task. applied is false when
// the report was ignored as stale.
func (c *Client) ReportResult(ctx context.Context, taskID string, req controlplane.ResultRequest) (applied bool, err error) {
	var resp controlplane.ResultResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/result", req, &resp); err != nil {
		return false, err
	}
	return resp.Applied, nil
}

// --- Workers ---

// Register registers a worker. An empty id asks the master to generate one.
func (c *Client) Register(ctx context.Context, id string) (string, error) {
	var resp controlplane.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/workers", controlplane.RegisterRequest{ID: id}, &resp); err != nil {
		return "", err
	}
	return resp.WorkerID, nil
}

// Heartbeat refreshes a worker's liveness.
func (c *Client) Heartbeat(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(workerID)+"/heartbeat", nil, nil)
}

// LeaseNext asks for the next task. A nil task means the queue is empty.
func (c *Client) LeaseNext(ctx context.Context, workerID string) (*models.Task, error) {
	var resp controlplane.LeaseResponse
	if err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(workerID)+"/lease", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// Deregister removes a worker and returns the task ids it gave back.
func (c *Client) Deregister(ctx context.Context, workerID string) ([]string, error) {
	var resp controlplane.DeregisterResponse
	if err := c.do(ctx, http.MethodDelete, "/workers/"+url.PathEscape(workerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requeued, nil
}

// ListWorkers returns every known worker.
func (c *Client) ListWorkers(ctx context.Context) ([]models.WorkerInfo, error) {
	var workers []models.WorkerInfo
	if err := c.do(ctx, http.MethodGet, "/workers", nil, &workers); err != nil {
		return nil, err
	}
	return workers, nil
}

// --- Admin ---

// Status returns the scheduler summary.
func (c *Client) Status(ctx context.Context) (*models.StatusSummary, error) {
	var sum models.StatusSummary
	if err := c.do(ctx, http.MethodGet, "/status", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Reset clears all scheduler state.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reset", nil, nil)
}

// EventQuery filters ListEvents.
type EventQuery struct {
	TaskID   string
	WorkerID string
	Action   string
	Limit    int
}

// ListEvents queries the event journal, newest first.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]models.Event, error) {
	v := url.Values{}
	if q.TaskID != "" {
		v.Set("task_id", q.TaskID)
	}
	if q.WorkerID != "" {
		v.Set("worker_id", q.WorkerID)
	}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/events"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var events []models.Event
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload controlplane.APIError
		if json.Unmarshal(data, &payload) == nil && payload.Code != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
