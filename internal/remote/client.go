// Package remote is the HTTP client for the authoritative task server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tasksync/internal/core/task"
)

// ErrNoID is returned when the server confirms a create without an id.
var ErrNoID = errors.New("server response carries no task id")

const maxErrorBody = 4 << 10

// API is the subset of the server the sync engine calls.
type API interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTask(ctx context.Context, serverID string, t task.Task) error
	DeleteTask(ctx context.Context, serverID string) error
	ListTasks(ctx context.Context) ([]task.Task, error)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HealthPath string
	// LegacyStatus sends the Spanish status labels older servers expect.
	LegacyStatus bool
	// HTTPClient overrides the transport. Its Timeout is replaced by Timeout
	// when Timeout is set.
	HTTPClient *http.Client
}

// Client talks to the task API over HTTP with a bearer token.
type Client struct {
	base       *url.URL
	token      string
	healthPath string
	legacy     bool
	http       *http.Client
	log        zerolog.Logger
}

var _ API = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	} else {
		copied := *hc
		hc = &copied
	}
	if opts.Timeout > 0 {
		hc.Timeout = opts.Timeout
	}

	health := opts.HealthPath
	if health == "" {
		health = "/tasks"
	}

	return &Client{
		base:       base,
		token:      opts.Token,
		healthPath: health,
		legacy:     opts.LegacyStatus,
		http:       hc,
		log:        log,
	}, nil
}

// CreateTask POSTs t and returns the server's view of it.
func (c *Client) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	body, err := c.do(ctx, http.MethodPost, "/tasks", encodeTask(t, c.legacy))
	if err != nil {
		return task.Task{}, err
	}

	created, err := decodeTask(body)
	if err != nil {
		return task.Task{}, err
	}
	if created.ID == "" {
		return task.Task{}, ErrNoID
	}
	return created, nil
}

// UpdateTask PUTs the editable fields of t to serverID.
func (c *Client) UpdateTask(ctx context.Context, serverID string, t task.Task) error {
	_, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(serverID), encodeTask(t, c.legacy))
	return err
}

// DeleteTask deletes serverID.
func (c *Client) DeleteTask(ctx context.Context, serverID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(serverID), nil)
	return err
}

// ListTasks fetches every task visible to the token.
func (c *Client) ListTasks(ctx context.Context) ([]task.Task, error) {
	body, err := c.do(ctx, http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	return decodeTaskList(body)
}

// Probe reports whether the server answers at all. Any HTTP response,
// including errors, counts as reachable.
func (c *Client) Probe(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.healthPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		bits, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(bits)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Str("method", method).Str("path", path).Err(err).Msg("request failed")
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	return body, nil
}
