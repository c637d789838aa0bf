package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.SignedURLSeconds <= 0 {
		return errors.New("storage.signed_url_seconds must be positive")
	}
	if c.Storage.UploadAttempts <= 0 {
		return errors.New("storage.upload_attempts must be positive")
	}
	if c.Storage.BucketURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Storage.BucketURL)
	if err != nil {
		return fmt.Errorf("storage.bucket_url: %w", err)
	}
	switch parsed.Scheme {
	case "s3", "file":
		return nil
	default:
		return fmt.Errorf("storage.bucket_url: unsupported scheme %q (expected s3 or file)", parsed.Scheme)
	}
}

func (c *Config) validateTranscription() error {
	if c.Transcription.PollIntervalSeconds <= 0 {
		return errors.New("transcription.poll_interval_seconds must be positive")
	}
	if c.Transcription.PollSoftBudgetSeconds <= 0 {
		return errors.New("transcription.poll_soft_budget_seconds must be positive")
	}
	if c.Transcription.MaxPollSeconds < 0 {
		return errors.New("transcription.max_poll_seconds must be zero (unbounded) or positive")
	}
	if c.Transcription.TimeoutSeconds <= 0 || c.Transcription.DownloadTimeout <= 0 {
		return errors.New("transcription timeouts must be positive")
	}
	if _, err := url.ParseRequestURI(c.Transcription.BaseURL); err != nil {
		return fmt.Errorf("transcription.base_url: %w", err)
	}
	return nil
}

func (c *Config) validateSearch() error {
	for _, endpoint := range c.Search.Endpoints {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("search.endpoints: %q: %w", endpoint, err)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentMerges <= 0 {
		return errors.New("workflow.max_concurrent_merges must be positive")
	}
	if c.Workflow.MaxConcurrentPipelines <= 0 {
		return errors.New("workflow.max_concurrent_pipelines must be positive")
	}
	if c.Workflow.MaxUploadParts <= 0 {
		return errors.New("workflow.max_upload_parts must be positive")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// StorageEnabled reports whether the remote object store is configured.
func (c *Config) StorageEnabled() bool {
	return c.Storage.BucketURL != ""
}

// TranscriptionEnabled reports whether the transcription service is configured.
func (c *Config) TranscriptionEnabled() bool {
	return strings.TrimSpace(c.Transcription.AppKey) != ""
}

// SearchEnabled reports whether a search index endpoint is configured.
func (c *Config) SearchEnabled() bool {
	return len(c.Search.Endpoints) > 0
}

// OCREnabled reports whether slide text recognition is configured.
func (c *Config) OCREnabled() bool {
	return c.OCR.Endpoint != ""
}
