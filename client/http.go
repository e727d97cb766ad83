// Package client implements the remote task transport spoken by the board
// coordinator, plus a failure-injecting wrapper for tests and demos.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"pulseboard/domain"
)

// ErrRemoteFailure marks transient backend outages. Server errors and
// injected failures match it via errors.Is.
var ErrRemoteFailure = errors.New("remote failure")

// StatusError is a non-2xx response from the task API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task api: status %d: %s", e.Code, e.Body)
}

// Is treats every 5xx as a remote failure.
func (e *StatusError) Is(target error) bool {
	return target == ErrRemoteFailure && e.Code >= http.StatusInternalServerError
}

// Client talks to the task API over HTTP. It implements board.Transport.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// New creates a Client for the API at baseURL, authenticating with the given
// bearer token. A nil http.Client falls back to http.DefaultClient.
func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      hc,
	}
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// ListTasks fetches the caller's full task collection.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp tasksResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// CreateTask creates a task and returns the server's record, including the
// server-assigned id.
func (c *Client) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var created domain.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &created); err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

// UpdateTask applies a partial update and returns the updated record.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var updated domain.Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+id, patch, &updated); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteFailure, err)
	}
	return sonic.Unmarshal(data, out)
}
