// Package apiclient is a client for the DittoCIFS monitoring API.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to one API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	return &Client{baseURL: c.baseURL, httpClient: c.httpClient, token: token}
}

// APIError is a non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports a missing, invalid or expired token.
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsNotFound reports a missing resource.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

type envelope struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

// get fetches path and decodes the data member of the response envelope
// into result.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// Health calls the unauthenticated liveness endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Names lists the NetBIOS name table.
func (c *Client) Names(ctx context.Context) ([]Name, error) {
	var names []Name
	return names, c.get(ctx, "/api/v1/names", &names)
}

// Sessions lists live SMB sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	return sessions, c.get(ctx, "/api/v1/sessions", &sessions)
}

// Session returns one session by id.
func (c *Client) Session(ctx context.Context, id uint64) (*Session, error) {
	var s Session
	if err := c.get(ctx, "/api/v1/sessions/"+strconv.FormatUint(id, 10), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Shares lists the published shares with their current use counts.
func (c *Client) Shares(ctx context.Context) ([]Share, error) {
	var shares []Share
	return shares, c.get(ctx, "/api/v1/shares", &shares)
}

// Locks lists held byte-range locks grouped by file.
func (c *Client) Locks(ctx context.Context) ([]FileLocks, error) {
	var locks []FileLocks
	return locks, c.get(ctx, "/api/v1/locks", &locks)
}
