package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeFFmpeg(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeTranscription()
	c.normalizeSearch()
	c.normalizeOCR()
	c.normalizeWorkflow()
	c.normalizeMetrics()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.temp_upload_dir", &c.Paths.TempUploadDir, defaultTempUploadDir},
		{"paths.final_video_dir", &c.Paths.FinalVideoDir, defaultFinalVideoDir},
		{"paths.insights_dir", &c.Paths.InsightsDir, defaultInsightsDir},
		{"paths.results_dir", &c.Paths.ResultsDir, defaultResultsDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeFFmpeg() error {
	c.FFmpeg.Path = strings.TrimSpace(c.FFmpeg.Path)
	if c.FFmpeg.Path != "" && strings.ContainsRune(c.FFmpeg.Path, filepath.Separator) {
		expanded, err := expandPath(c.FFmpeg.Path)
		if err != nil {
			return fmt.Errorf("ffmpeg.path: %w", err)
		}
		c.FFmpeg.Path = expanded
	}
	if c.FFmpeg.TimeoutSeconds <= 0 {
		c.FFmpeg.TimeoutSeconds = defaultFFmpegTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.BucketURL = strings.TrimSpace(c.Storage.BucketURL)
	if c.Storage.BucketURL == "" {
		if value, ok := os.LookupEnv("YANHEKT_STORAGE_URL"); ok {
			c.Storage.BucketURL = strings.TrimSpace(value)
		}
	}
	c.Storage.KeyPrefix = strings.Trim(strings.TrimSpace(c.Storage.KeyPrefix), "/")
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = defaultStorageKeyPrefix
	}
	if c.Storage.SignedURLSeconds == 0 {
		c.Storage.SignedURLSeconds = defaultSignedURLSeconds
	}
	if c.Storage.UploadAttempts == 0 {
		c.Storage.UploadAttempts = defaultUploadAttempts
	}
}

func (c *Config) normalizeTranscription() {
	lookupEnvInto(&c.Transcription.AppKey, "TINGWU_APP_KEY")
	lookupEnvInto(&c.Transcription.APIKey, "TINGWU_API_KEY")
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = defaultTranscriptionBaseURL
	}
	if strings.TrimSpace(c.Transcription.SourceLanguage) == "" {
		c.Transcription.SourceLanguage = defaultSourceLanguage
	}
	if c.Transcription.TimeoutSeconds == 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
	if c.Transcription.DownloadTimeout == 0 {
		c.Transcription.DownloadTimeout = defaultDownloadTimeout
	}
	if c.Transcription.PollIntervalSeconds == 0 {
		c.Transcription.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Transcription.PollSoftBudgetSeconds == 0 {
		c.Transcription.PollSoftBudgetSeconds = defaultPollSoftBudgetSeconds
	}
}

func (c *Config) normalizeSearch() {
	if len(c.Search.Endpoints) == 0 {
		if value, ok := os.LookupEnv("ES_ENDPOINT"); ok {
			c.Search.Endpoints = strings.Split(value, ",")
		}
	}
	endpoints := c.Search.Endpoints[:0]
	for _, endpoint := range c.Search.Endpoints {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	c.Search.Endpoints = endpoints
	lookupEnvInto(&c.Search.Username, "ES_USERNAME")
	lookupEnvInto(&c.Search.Password, "ES_PASSWORD")
	if strings.TrimSpace(c.Search.IndexPrefix) == "" {
		c.Search.IndexPrefix = defaultSearchIndexPrefix
	}
	if c.Search.ResultSize <= 0 {
		c.Search.ResultSize = defaultSearchResultSize
	}
}

func (c *Config) normalizeOCR() {
	lookupEnvInto(&c.OCR.Endpoint, "OCR_ENDPOINT")
	lookupEnvInto(&c.OCR.APIKey, "OCR_API_KEY")
	c.OCR.Endpoint = strings.TrimSpace(c.OCR.Endpoint)
	if c.OCR.Concurrency <= 0 {
		c.OCR.Concurrency = defaultOCRConcurrency
	}
	if c.OCR.TimeoutSeconds <= 0 {
		c.OCR.TimeoutSeconds = defaultOCRTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxConcurrentMerges == 0 {
		c.Workflow.MaxConcurrentMerges = defaultMaxConcurrentMerges
	}
	if c.Workflow.MaxConcurrentPipelines == 0 {
		c.Workflow.MaxConcurrentPipelines = defaultMaxConcurrentPipelines
	}
	if c.Workflow.MaxUploadParts == 0 {
		c.Workflow.MaxUploadParts = defaultMaxUploadParts
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// lookupEnvInto fills an empty field from the environment.
func lookupEnvInto(field *string, key string) {
	if strings.TrimSpace(*field) != "" {
		return
	}
	if value, ok := os.LookupEnv(key); ok {
		*field = strings.TrimSpace(value)
	}
}

// loadDotEnv reads .env files beside the config file and in the working
// directory. Variables already present in the environment win.
func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append([]string{filepath.Join(configDir, ".env")}, candidates...)
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", abs, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}
