package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls a running daemon's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// NewClient targets bind, which may be a host:port or a full URL.
func NewClient(bind string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		host := base
		if strings.HasPrefix(host, "0.0.0.0:") {
			host = "127.0.0.1:" + strings.TrimPrefix(host, "0.0.0.0:")
		}
		base = "http://" + host
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: base, http: httpClient}
}

// Health fetches daemon health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches one insight status.
func (c *Client) Status(ctx context.Context, objectID string) (*InsightStatus, error) {
	var resp InsightStatus
	if err := c.do(ctx, http.MethodGet, "/api/insights/"+url.PathEscape(objectID)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List fetches insight records, optionally filtered by stage.
func (c *Client) List(ctx context.Context, stages []string) (*InsightList, error) {
	path := "/api/insights"
	if len(stages) > 0 {
		q := url.Values{}
		for _, s := range stages {
			q.Add("stage", s)
		}
		path += "?" + q.Encode()
	}
	var resp InsightList
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start launches an insight run.
func (c *Client) Start(ctx context.Context, objectID string) (*StartResponse, error) {
	var resp StartResponse
	if err := c.do(ctx, http.MethodPost, "/api/insights", StartRequest{ObjectID: objectID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume re-launches an insight run.
func (c *Client) Resume(ctx context.Context, objectID string) error {
	var resp OKResponse
	return c.do(ctx, http.MethodPost, "/api/insights/"+url.PathEscape(objectID)+"/resume", nil, &resp)
}

// Refresh asks the daemon to check the transcription task once.
func (c *Client) Refresh(ctx context.Context, objectID string) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.do(ctx, http.MethodPost, "/api/insights/"+url.PathEscape(objectID)+"/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve maps a course session id to its object id.
func (c *Client) Resolve(ctx context.Context, sessionID string) (*ResolveResponse, error) {
	var resp ResolveResponse
	if err := c.do(ctx, http.MethodGet, "/api/resolve_session/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search queries one video's cards.
func (c *Client) Search(ctx context.Context, query, videoID string) (*SearchResponse, error) {
	q := url.Values{"q": {query}, "videoId": {videoID}}
	var resp SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
