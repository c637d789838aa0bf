package config

const (
	defaultTempUploadDir          = "~/.local/share/yanhekt/tmp_uploads"
	defaultFinalVideoDir          = "~/.local/share/yanhekt/final_videos"
	defaultInsightsDir            = "~/.local/share/yanhekt/insights"
	defaultResultsDir             = "~/.local/share/yanhekt/results"
	defaultStateDir               = "~/.local/share/yanhekt/state"
	defaultLogDir                 = "~/.local/share/yanhekt/logs"
	defaultAPIBind                = "127.0.0.1:5001"
	defaultFFmpegTimeoutSeconds   = 3600
	defaultStorageKeyPrefix       = "insights"
	defaultSignedURLSeconds       = 3600
	defaultUploadAttempts         = 3
	defaultTranscriptionBaseURL   = "https://tingwu.cn-beijing.aliyuncs.com"
	defaultSourceLanguage         = "auto"
	defaultTranscriptionTimeout   = 30
	defaultDownloadTimeout        = 60
	defaultPollIntervalSeconds    = 2
	defaultPollSoftBudgetSeconds  = 120
	defaultMaxPollSeconds         = 7200
	defaultSearchIndexPrefix      = "yanhe-video-"
	defaultSearchResultSize       = 10
	defaultOCRConcurrency         = 10
	defaultOCRTimeoutSeconds      = 30
	defaultMaxConcurrentMerges    = 2
	defaultMaxConcurrentPipelines = 4
	defaultMaxUploadParts         = 50000
	defaultNotifyRequestTimeout   = 10
	defaultMetricsPath            = "/metrics"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			TempUploadDir: defaultTempUploadDir,
			FinalVideoDir: defaultFinalVideoDir,
			InsightsDir:   defaultInsightsDir,
			ResultsDir:    defaultResultsDir,
			StateDir:      defaultStateDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
		},
		FFmpeg: FFmpeg{
			TimeoutSeconds: defaultFFmpegTimeoutSeconds,
		},
		Storage: Storage{
			KeyPrefix:        defaultStorageKeyPrefix,
			SignedURLSeconds: defaultSignedURLSeconds,
			UploadAttempts:   defaultUploadAttempts,
		},
		Transcription: Transcription{
			BaseURL:               defaultTranscriptionBaseURL,
			SourceLanguage:        defaultSourceLanguage,
			TimeoutSeconds:        defaultTranscriptionTimeout,
			DownloadTimeout:       defaultDownloadTimeout,
			PollIntervalSeconds:   defaultPollIntervalSeconds,
			PollSoftBudgetSeconds: defaultPollSoftBudgetSeconds,
			MaxPollSeconds:        defaultMaxPollSeconds,
		},
		Search: Search{
			IndexPrefix: defaultSearchIndexPrefix,
			ResultSize:  defaultSearchResultSize,
		},
		OCR: OCR{
			Concurrency:    defaultOCRConcurrency,
			TimeoutSeconds: defaultOCRTimeoutSeconds,
		},
		Workflow: Workflow{
			MaxConcurrentMerges:    defaultMaxConcurrentMerges,
			MaxConcurrentPipelines: defaultMaxConcurrentPipelines,
			ResumeOnStart:          true,
			MaxUploadParts:         defaultMaxUploadParts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Ingest:         true,
			Insights:       true,
			Errors:         true,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
