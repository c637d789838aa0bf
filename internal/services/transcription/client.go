package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

const (
	stageName              = "transcription"
	tasksPath              = "/openapi/tingwu/v2/tasks"
	defaultHTTPTimeout     = 30 * time.Second
	defaultDownloadTimeout = 60 * time.Second
	defaultRetryBaseDelay  = 1 * time.Second
	defaultRetryMaxDelay   = 10 * time.Second
	defaultRetryAttempts   = 3
	maxDownloadBytes       = 256 << 20
)

// Task statuses reported by the service.
const (
	StatusOngoing   = "ONGOING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Result document names inside a completed task.
const (
	ResultTranscription = "Transcription"
	ResultPptExtraction = "PptExtraction"
)

// Config captures the runtime settings of the transcription service.
type Config struct {
	BaseURL                string
	AppKey                 string
	APIKey                 string
	SourceLanguage         string
	TimeoutSeconds         int
	DownloadTimeoutSeconds int
}

// TaskStatus is the decoded status of a submitted task.
type TaskStatus struct {
	TaskID       string
	Status       string
	Result       map[string]string
	ErrorCode    string
	ErrorMessage string
}

// Completed reports whether the task finished successfully.
func (s TaskStatus) Completed() bool { return strings.EqualFold(s.Status, StatusCompleted) }

// Failed reports whether the task ended in failure.
func (s TaskStatus) Failed() bool { return strings.EqualFold(s.Status, StatusFailed) }

// Client wraps the offline task API.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	downloadClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the API and download HTTP clients.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
			c.downloadClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	downloadTimeout := defaultDownloadTimeout
	if cfg.DownloadTimeoutSeconds > 0 {
		downloadTimeout = time.Duration(cfg.DownloadTimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:                strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			AppKey:                 strings.TrimSpace(cfg.AppKey),
			APIKey:                 strings.TrimSpace(cfg.APIKey),
			SourceLanguage:         strings.TrimSpace(cfg.SourceLanguage),
			TimeoutSeconds:         cfg.TimeoutSeconds,
			DownloadTimeoutSeconds: cfg.DownloadTimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		downloadClient:   &http.Client{Timeout: downloadTimeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.SourceLanguage == "" {
		client.cfg.SourceLanguage = "auto"
	}
	return client
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, truncate(strings.TrimSpace(e.Body), 200))
}

type apiEnvelope struct {
	Code      string          `json:"Code"`
	Message   string          `json:"Message"`
	RequestID string          `json:"RequestId"`
	Data      json.RawMessage `json:"Data"`
}

type submitRequest struct {
	AppKey     string           `json:"AppKey"`
	Input      submitInput      `json:"Input"`
	Parameters submitParameters `json:"Parameters"`
}

type submitInput struct {
	SourceLanguage string `json:"SourceLanguage"`
	FileURL        string `json:"FileUrl"`
}

type submitParameters struct {
	Transcription        transcriptionParameters `json:"Transcription"`
	PptExtractionEnabled bool                    `json:"PptExtractionEnabled"`
}

type transcriptionParameters struct {
	DiarizationEnabled bool `json:"DiarizationEnabled"`
}

type taskData struct {
	TaskID       string         `json:"TaskId"`
	TaskStatus   string         `json:"TaskStatus"`
	Result       map[string]any `json:"Result"`
	ErrorCode    string         `json:"ErrorCode"`
	ErrorMessage string         `json:"ErrorMessage"`
}

// Submit creates an offline task for fileURL and returns its task id.
func (c *Client) Submit(ctx context.Context, fileURL string) (string, error) {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "submit", "file url required", nil)
	}
	payload := submitRequest{
		AppKey: c.cfg.AppKey,
		Input:  submitInput{SourceLanguage: c.cfg.SourceLanguage, FileURL: fileURL},
		Parameters: submitParameters{
			Transcription:        transcriptionParameters{DiarizationEnabled: true},
			PptExtractionEnabled: true,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "submit", "encode request", err)
	}
	endpoint, err := c.endpoint(tasksPath)
	if err != nil {
		return "", err
	}
	endpoint += "?type=offline"

	var data taskData
	if err := c.doWithRetry(ctx, "submit", http.MethodPut, endpoint, encoded, &data, false); err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(data.TaskID)
	if taskID == "" {
		return "", services.Wrap(services.ErrExternalTool, stageName, "submit", "response missing task id", nil)
	}
	return taskID, nil
}

// Status fetches the current status of taskID.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return TaskStatus{}, services.Wrap(services.ErrValidation, stageName, "status", "task id required", nil)
	}
	endpoint, err := c.endpoint(tasksPath, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	var data taskData
	if err := c.doWithRetry(ctx, "status", http.MethodGet, endpoint, nil, &data, true); err != nil {
		return TaskStatus{}, err
	}
	status := TaskStatus{
		TaskID:       firstNonEmpty(data.TaskID, taskID),
		Status:       strings.ToUpper(strings.TrimSpace(data.TaskStatus)),
		ErrorCode:    data.ErrorCode,
		ErrorMessage: strings.TrimSpace(data.ErrorMessage),
		Result:       map[string]string{},
	}
	for name, value := range data.Result {
		if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
			status.Result[name] = strings.TrimSpace(text)
		}
	}
	return status, nil
}

// Download fetches rawURL into dest. JSON destinations are validated before
// they replace an existing file.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return services.Wrap(services.ErrValidation, stageName, "download", "url required", nil)
	}
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.fetch(ctx, rawURL)
		if err == nil {
			if strings.EqualFold(filepath.Ext(dest), ".json") && !json.Valid(body) {
				return services.Wrap(services.ErrExternalTool, stageName, "download", "result document is not valid json", nil)
			}
			if err := fileutil.WriteFileAtomic(dest, body, 0o644); err != nil {
				return services.Wrap(services.ErrExternalTool, stageName, "download", "write result", err)
			}
			return nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return classify("download", lastErr)
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retryAfter}
	}
	return body, nil
}

func (c *Client) endpoint(parts ...string) (string, error) {
	if c.cfg.BaseURL == "" {
		return "", services.Wrap(services.ErrConfiguration, stageName, "request", "base url not configured", nil)
	}
	joined, err := url.JoinPath(c.cfg.BaseURL, parts...)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "request", "build url", err)
	}
	return joined, nil
}

// doWithRetry sends the request up to the configured attempt count. A
// non-idempotent request is only resent when the previous attempt never
// reached the service.
func (c *Client) doWithRetry(ctx context.Context, op, method, endpoint string, body []byte, target *taskData, idempotent bool) error {
	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.doOnce(ctx, method, endpoint, body, target)
		if err == nil {
			return nil
		}
		lastErr = err
		var delay time.Duration
		retry := false
		if idempotent {
			delay, retry = c.retryDelay(ctx, err, attempt, attempts)
		} else if attempt < attempts && ctx.Err() == nil && dialFailed(err) {
			delay, retry = c.backoffDelay(attempt), true
		}
		if !retry {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return classify(op, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, body []byte, target *taskData) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(raw), RetryAfter: retryAfter}
	}
	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if code := strings.TrimSpace(envelope.Code); code != "" && code != "0" {
		return &apiError{Code: code, Message: envelope.Message}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("response missing data")
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, strings.TrimSpace(e.Message))
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, op, "request timed out", err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if retryableStatus(statusErr.StatusCode) {
			return services.Wrap(services.ErrTransient, stageName, op, "service unavailable", err)
		}
		return services.Wrap(services.ErrExternalTool, stageName, op, "request rejected", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, stageName, op, "network error", err)
	}
	return services.Wrap(services.ErrExternalTool, stageName, op, "request failed", err)
}

// dialFailed reports whether err happened while opening the connection, so
// no request bytes were sent.
func dialFailed(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if !retryableStatus(statusErr.StatusCode) {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return c.capDelay(statusErr.RetryAfter), true
		}
		return c.backoffDelay(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	// attempt 1 -> base, attempt 2 -> base*2, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
