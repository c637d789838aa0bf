// Package ocr recognizes text on slide keyframes through an HTTP endpoint.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

const (
	stageName          = "ocr"
	defaultHTTPTimeout = 20 * time.Second
	maxResponseBytes   = 4 << 20
)

// Config captures the recognition endpoint settings.
type Config struct {
	Endpoint       string
	APIKey         string
	TimeoutSeconds int
}

// Client posts image URLs to the recognition endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a client. A nil httpClient gets the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := defaultHTTPTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return &Client{cfg: cfg, httpClient: httpClient}
}

type recognizeRequest struct {
	URL string `json:"url"`
}

type recognizeResponse struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Error   string `json:"error"`
}

// Recognize returns the text found on the image at imageURL.
func (c *Client) Recognize(ctx context.Context, imageURL string) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", services.Wrap(services.ErrFeatureDisabled, stageName, "recognize", "endpoint not configured", nil)
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "recognize", "image url required", nil)
	}
	payload, err := json.Marshal(recognizeRequest{URL: imageURL})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "recognize", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "recognize", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "recognize", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "recognize", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		marker := services.ErrExternalTool
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			marker = services.ErrTransient
		}
		return "", services.Wrap(marker, stageName, "recognize", fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	var parsed recognizeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", services.Wrap(services.ErrExternalTool, stageName, "recognize", "decode response", err)
	}
	if parsed.Error != "" {
		return "", services.Wrap(services.ErrExternalTool, stageName, "recognize", parsed.Error, nil)
	}
	if parsed.Content != "" {
		return strings.TrimSpace(parsed.Content), nil
	}
	return strings.TrimSpace(parsed.Text), nil
}
