package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/cards"
	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/daemon"
	"github.com/yang-kun-long/YanheKt-AI/internal/deps"
	"github.com/yang-kun-long/YanheKt-AI/internal/ingest"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/metrics"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/pipeline"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/objectstore"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/ocr"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
	"github.com/yang-kun-long/YanheKt-AI/internal/subtitles"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the yanhekt daemon and blocks until the process is signalled or
// cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("yanhekt-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update yanhekt.log link: %v\n", err)
	}
	logDependencySnapshot(logger, cfg)

	rt, err := Assemble(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Daemon.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the api bind address and the state directory lock"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("yanhekt daemon shutting down")
	return nil
}

// Runtime is a fully wired daemon plus the resources it owns.
type Runtime struct {
	Daemon  *daemon.Daemon
	Metrics *metrics.Collectors

	closers []io.Closer
}

// Close stops the daemon and releases the registry and remote clients.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Daemon != nil {
		errs = append(errs, rt.Daemon.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Assemble opens the registry, builds the worker pools and configured
// capabilities, and returns a daemon ready to Start.
func Assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := registry.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	rt := &Runtime{}

	var poolOpts []workflow.PoolOption
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New()
		poolOpts = append(poolOpts, workflow.WithObserver(rt.Metrics))
	}
	merges := workflow.NewPool("merges", cfg.Workflow.MaxConcurrentMerges, logger, poolOpts...)
	pipelines := workflow.NewPool("pipelines", cfg.Workflow.MaxConcurrentPipelines, logger, poolOpts...)

	caps, closers, err := buildCapabilities(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.closers = closers

	notifier := notifications.NewService(cfg)
	ingestSvc, err := ingest.NewService(cfg, store, merges, logger, ingest.WithNotifier(notifier))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create ingest service: %w", err)
	}
	manager, err := pipeline.NewManager(cfg, store, pipelines, caps, logger, pipeline.WithNotifier(notifier))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create pipeline manager: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Dependencies{
		Store:    store,
		Ingest:   ingestSvc,
		Pipeline: manager,
		Pools:    []*workflow.Pool{merges, pipelines},
		Metrics:  rt.Metrics,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	rt.Daemon = d
	return rt, nil
}

func buildCapabilities(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pipeline.Capabilities, []io.Closer, error) {
	caps := pipeline.Capabilities{Subtitles: subtitles.Generate}
	var closers []io.Closer

	if cfg.StorageEnabled() {
		bucket, err := objectstore.Open(ctx, cfg.Storage.BucketURL, cfg.Storage.KeyPrefix)
		if err != nil {
			return caps, nil, err
		}
		caps.Storage = bucket
		closers = append(closers, bucket)
	}
	if cfg.TranscriptionEnabled() {
		caps.Transcription = transcription.NewClient(transcription.Config{
			BaseURL:                cfg.Transcription.BaseURL,
			AppKey:                 cfg.Transcription.AppKey,
			APIKey:                 cfg.Transcription.APIKey,
			SourceLanguage:         cfg.Transcription.SourceLanguage,
			TimeoutSeconds:         cfg.Transcription.TimeoutSeconds,
			DownloadTimeoutSeconds: cfg.Transcription.DownloadTimeout,
		})
	}
	if cfg.SearchEnabled() {
		client, err := searchindex.NewClient(searchindex.Config{
			Addresses:          cfg.Search.Endpoints,
			Username:           cfg.Search.Username,
			Password:           cfg.Search.Password,
			InsecureSkipVerify: cfg.Search.InsecureSkipVerify,
		})
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return caps, nil, err
		}
		caps.Search = client
	}

	var recognizer cards.OCR
	if cfg.OCREnabled() {
		recognizer = ocr.NewClient(ocr.Config{
			Endpoint:       cfg.OCR.Endpoint,
			APIKey:         cfg.OCR.APIKey,
			TimeoutSeconds: cfg.OCR.TimeoutSeconds,
		}, nil)
	}
	caps.Cards = cards.NewBuilder(recognizer, cfg.OCR.Concurrency, logger)
	return caps, closers, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "yanhekt.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := deps.ResolveFFmpeg(cfg.FFmpeg.Path)
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
		logging.String("ffmpeg_source", ffmpeg.Source),
		logging.Bool("storage_enabled", cfg.StorageEnabled()),
		logging.Bool("transcription_enabled", cfg.TranscriptionEnabled()),
		logging.Bool("search_enabled", cfg.SearchEnabled()),
		logging.Bool("ocr_enabled", cfg.OCREnabled()),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)
}
