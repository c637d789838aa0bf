package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	TempUploadDir string `toml:"temp_upload_dir"`
	FinalVideoDir string `toml:"final_video_dir"`
	InsightsDir   string `toml:"insights_dir"`
	ResultsDir    string `toml:"results_dir"`
	StateDir      string `toml:"state_dir"`
	LogDir        string `toml:"log_dir"`
	APIBind       string `toml:"api_bind"`
}

// FFmpeg contains configuration for the remux tool.
type FFmpeg struct {
	Path           string `toml:"path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Storage contains configuration for the remote object store used to stage
// artifacts for transcription. An empty BucketURL disables the capability.
type Storage struct {
	BucketURL        string `toml:"bucket_url"`
	KeyPrefix        string `toml:"key_prefix"`
	SignedURLSeconds int    `toml:"signed_url_seconds"`
	UploadAttempts   int    `toml:"upload_attempts"`
}

// Transcription contains configuration for the offline transcription service.
type Transcription struct {
	BaseURL               string `toml:"base_url"`
	AppKey                string `toml:"app_key"`
	APIKey                string `toml:"api_key"`
	SourceLanguage        string `toml:"source_language"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	DownloadTimeout       int    `toml:"download_timeout_seconds"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	PollSoftBudgetSeconds int    `toml:"poll_soft_budget_seconds"`
	MaxPollSeconds        int    `toml:"max_poll_seconds"`
}

// Search contains configuration for the Elasticsearch-compatible indexer.
type Search struct {
	Endpoints          []string `toml:"endpoints"`
	Username           string   `toml:"username"`
	Password           string   `toml:"password"`
	IndexPrefix        string   `toml:"index_prefix"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	ResultSize         int      `toml:"result_size"`
}

// OCR contains configuration for slide text recognition.
type OCR struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	Concurrency    int    `toml:"concurrency"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains configuration for background worker pools.
type Workflow struct {
	MaxConcurrentMerges    int  `toml:"max_concurrent_merges"`
	MaxConcurrentPipelines int  `toml:"max_concurrent_pipelines"`
	ResumeOnStart          bool `toml:"resume_on_start"`
	MaxUploadParts         int  `toml:"max_upload_parts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Ingest         bool   `toml:"ingest"`
	Insights       bool   `toml:"insights"`
	Errors         bool   `toml:"errors"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for YanheKt.
//
// Configuration sections by subsystem:
//   - Paths: upload, artifact, and state directories plus the API bind address
//   - FFmpeg: remux binary override
//   - Storage: remote object store used for transcription input
//   - Transcription: offline transcription service and polling cadence
//   - Search: full-text index endpoints and credentials
//   - OCR: slide text recognition
//   - Workflow: worker pool sizes and crash recovery
//   - Notifications: ntfy push notification settings
//   - Metrics: Prometheus endpoint
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	FFmpeg        FFmpeg        `toml:"ffmpeg"`
	Storage       Storage       `toml:"storage"`
	Transcription Transcription `toml:"transcription"`
	Search        Search        `toml:"search"`
	OCR           OCR           `toml:"ocr"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/yanhekt/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("yanhekt.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.TempUploadDir,
		c.Paths.FinalVideoDir,
		c.Paths.InsightsDir,
		c.Paths.ResultsDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RegistryPath returns the SQLite database backing the state registry.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Paths.StateDir, "registry.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "yanhektd.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "yanhektd.pid")
}

// FinalTSPath returns the merged transport-stream artifact for objectID.
func (c *Config) FinalTSPath(objectID string) string {
	return filepath.Join(c.Paths.FinalVideoDir, objectID+".ts")
}

// FinalMP4Path returns the remuxed MP4 artifact for objectID.
func (c *Config) FinalMP4Path(objectID string) string {
	return filepath.Join(c.Paths.FinalVideoDir, objectID+".mp4")
}

// InsightSnapshotPath returns the last-snapshot file written on every pipeline save.
func (c *Config) InsightSnapshotPath(objectID string) string {
	return filepath.Join(c.Paths.InsightsDir, objectID+".json")
}

// ResultPath returns a derived result file such as "{id}_ASR_Result.json".
func (c *Config) ResultPath(objectID, suffix string) string {
	return filepath.Join(c.Paths.ResultsDir, objectID+"_"+suffix)
}

// SignedURLExpiry returns the validity window for signed object URLs.
func (c *Config) SignedURLExpiry() time.Duration {
	return time.Duration(c.Storage.SignedURLSeconds) * time.Second
}

// PollInterval returns the transcription status polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Transcription.PollIntervalSeconds) * time.Second
}

// PollSoftBudget returns the duration over which poll progress climbs from
// 0.30 towards its 0.70 ceiling.
func (c *Config) PollSoftBudget() time.Duration {
	return time.Duration(c.Transcription.PollSoftBudgetSeconds) * time.Second
}

// MaxPollDuration returns the hard ceiling for a single polling session; zero
// means unbounded.
func (c *Config) MaxPollDuration() time.Duration {
	return time.Duration(c.Transcription.MaxPollSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
