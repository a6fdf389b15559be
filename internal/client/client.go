// Package client provides a REST client for the recast server.
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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/recast/internal/models"
)

// ErrNotFound is returned for a 404 from the server.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned for a 409 from the server.
var ErrConflict = errors.New("conflict")

// Client is a REST client for the recast server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses RECAST_SERVER_URL or defaults to localhost:8585.
// Timeout can be configured via RECAST_CLIENT_TIMEOUT (default 5m, dry runs are synchronous).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("RECAST_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("RECAST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Job is set when the server rejected a transition and returned the job as it stands.
	Job *models.Job
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.Status, e.Message)
}

// Unwrap maps status codes onto ErrNotFound and ErrConflict.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

type errorBody struct {
	Error string      `json:"error"`
	Job   *models.Job `json:"job,omitempty"`
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Job = eb.Job
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// =============================================================================
// INSTANCES
// =============================================================================

// ListInstances returns every configured instance.
func (c *Client) ListInstances(ctx context.Context) ([]models.Instance, error) {
	var resp struct {
		Instances []models.Instance `json:"instances"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/instances", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// GetInstance returns one instance.
func (c *Client) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	var inst models.Instance
	if err := c.do(ctx, http.MethodGet, "/api/instances/"+url.PathEscape(id), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// =============================================================================
// JOBS
// =============================================================================

// StartJob creates a job. A dry run returns once it has finished.
func (c *Client) StartJob(ctx context.Context, instanceID string, kind models.JobKind) (*models.Job, error) {
	var job models.Job
	body := map[string]models.JobKind{"kind": kind}
	if err := c.do(ctx, http.MethodPost, "/api/instances/"+url.PathEscape(instanceID)+"/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobQuery filters ListJobs. Zero fields are omitted.
type JobQuery struct {
	Status     models.JobStatus
	InstanceID string
	Limit      int
}

// ListJobs returns jobs newest first.
func (c *Client) ListJobs(ctx context.Context, q JobQuery) ([]models.Job, error) {
	params := url.Values{}
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.InstanceID != "" {
		params.Set("instance_id", q.InstanceID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/api/jobs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp struct {
		Jobs []models.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobLogs returns a job's log entries oldest first. A positive limit keeps the newest.
func (c *Client) JobLogs(ctx context.Context, id string, limit int) ([]models.JobLog, error) {
	path := "/api/jobs/" + url.PathEscape(id) + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Logs []models.JobLog `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// CancelJob cancels a job.
func (c *Client) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	return c.transition(ctx, id, "cancel")
}

// ResumeJob resumes a failed job.
func (c *Client) ResumeJob(ctx context.Context, id string) (*models.Job, error) {
	return c.transition(ctx, id, "resume")
}

func (c *Client) transition(ctx context.Context, id, action string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+action, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// =============================================================================
// WATCH
// =============================================================================

// WatchJob polls a job every interval and calls onUpdate with each snapshot
// until the job is completed, cancelled or failed. It returns the final job.
func (c *Client) WatchJob(ctx context.Context, id string, interval time.Duration, onUpdate func(*models.Job)) (*models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() || job.Status == models.JobStatusFailed {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
