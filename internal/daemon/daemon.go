package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/ingest"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/metrics"
	"github.com/yang-kun-long/YanheKt-AI/internal/pipeline"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

// Dependencies are the services the daemon serves and shuts down.
type Dependencies struct {
	Store    *registry.Store
	Ingest   *ingest.Service
	Pipeline *pipeline.Manager
	Pools    []*workflow.Pool
	Metrics  *metrics.Collectors
}

// Daemon owns the single-instance lock, the API server and worker shutdown.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	RegistryPath string
	LockFilePath string
	APIAddress   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Ingest == nil || deps.Pipeline == nil {
		return nil, errors.New("daemon requires config, registry, ingest service, and pipeline manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, begins serving the API and resumes runs
// interrupted by a previous process.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another yanhekt daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if reset, err := d.deps.Ingest.RecoverSessions(d.ctx); err != nil {
		logging.WarnWithContext(d.logger, "upload session recovery incomplete", "ingest_recover_failed",
			logging.Error(err),
			logging.Int("reset", reset),
			logging.String(logging.FieldImpact, "interrupted uploads may stay in a merge stage until completed again"),
			logging.String(logging.FieldErrorHint, "check the temp upload directory"),
		)
	} else if reset > 0 {
		d.logger.Info("reset interrupted upload sessions", logging.Int("count", reset))
	}
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}
	if err := os.WriteFile(d.cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		d.logger.Warn("failed to write pid file", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("yanhekt daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)

	if d.cfg.Workflow.ResumeOnStart {
		launched, err := d.deps.Pipeline.Recover(d.ctx)
		if err != nil {
			logging.WarnWithContext(d.logger, "startup recovery incomplete", "recover_failed",
				logging.Error(err),
				logging.Int("launched", launched),
				logging.String(logging.FieldImpact, "some interrupted runs stay idle"),
				logging.String(logging.FieldErrorHint, "resume them through the API"),
			)
		} else if launched > 0 {
			d.logger.Info("resumed interrupted insight runs", logging.Int("count", launched))
		}
	}
	return nil
}

// Stop stops serving, drains the worker pools and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, pool := range d.deps.Pools {
		if err := pool.Close(drainCtx); err != nil {
			d.logger.Warn("worker pool did not drain", logging.String("pool", pool.Name()), logging.Error(err))
		}
	}

	_ = os.Remove(d.cfg.PIDPath())
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("yanhekt daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.deps.Store != nil {
		return d.deps.Store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		RegistryPath: d.cfg.RegistryPath(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
}
