package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"solasola/internal/events"
	"solasola/internal/models"
	"solasola/internal/services"
)

// ErrAPIUnavailable is returned when no daemon address is configured.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
	Fields     map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the response back onto the services sentinel it came from.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return services.ErrValidation
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrBusy
	case http.StatusUnauthorized:
		return services.ErrConfiguration
	}
	return nil
}

// Client talks to a running daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// NewClient builds a client for bind, which may omit the scheme.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout - the event stream blocks until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Submit starts a processing task.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &out)
	return out, err
}

// ListTasks returns every retained task, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]TaskSummary, error) {
	var out TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetTask returns the full view of one task.
func (c *Client) GetTask(ctx context.Context, id string) (TaskView, error) {
	var out TaskView
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Cancel requests cancellation of a task.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/cancel", nil, nil, nil)
}

// Models lists model status. refresh forces the daemon to rescan disk.
func (c *Client) Models(ctx context.Context, refresh bool) ([]models.Status, error) {
	query := url.Values{}
	if refresh {
		query.Set("refresh", "1")
	}
	var out ModelListResponse
	if err := c.do(ctx, http.MethodGet, "/api/models", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// InstallModel starts a model installation and returns its task id.
func (c *Client) InstallModel(ctx context.Context, req InstallRequest) (string, error) {
	var out InstallResponse
	if err := c.do(ctx, http.MethodPost, "/api/models/install", nil, req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// DeleteModel removes an installed model.
func (c *Client) DeleteModel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/models/"+url.PathEscape(id), nil, nil, nil)
}

// Sweep runs the model integrity sweeps.
func (c *Client) Sweep(ctx context.Context) (models.SweepReport, error) {
	var out models.SweepReport
	err := c.do(ctx, http.MethodPost, "/api/models/sweep", nil, nil, &out)
	return out, err
}

// Health reports daemon liveness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

// StreamEvents reads the SSE stream and calls fn for every event until ctx
// is cancelled, the stream ends, or fn returns an error. Heartbeat comments
// are delivered as heartbeat events.
func (c *Client) StreamEvents(ctx context.Context, fn func(events.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt events.Event
			if err := json.Unmarshal([]byte(data.String()), &evt); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(evt); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			if strings.TrimSpace(strings.TrimPrefix(line, ":")) == string(events.TypeHeartbeat) {
				if err := fn(events.Event{Type: events.TypeHeartbeat}); err != nil {
					return err
				}
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	if c == nil {
		return nil, ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	var payload ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload); err == nil {
		apiErr.Kind = payload.Kind
		apiErr.Message = payload.Error
		apiErr.Fields = payload.Fields
	}
	return apiErr
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
