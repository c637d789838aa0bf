package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/stage"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

const stageName = "pipeline"

// Task kinds submitted to the pool.
const (
	KindInsight     = "insight"
	KindPostProcess = "postprocess"
)

// StateStore is the registry surface the pipeline needs.
type StateStore interface {
	Get(ctx context.Context, objectID string) (*registry.Record, error)
	Upsert(ctx context.Context, objectID string, patch registry.Patch) (*registry.Record, error)
	MarkStep(ctx context.Context, objectID, step string) (*registry.Record, error)
	List(ctx context.Context, stages ...registry.Stage) ([]*registry.Record, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Manager starts and supervises pipeline runs.
type Manager struct {
	cfg      *config.Config
	store    StateStore
	pool     *workflow.Pool
	caps     Capabilities
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
	sleep    Sleeper
}

// Option customizes a Manager.
type Option func(*Manager)

// WithNotifier attaches a notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleeper overrides how retry and poll waits are performed.
func WithSleeper(sleep Sleeper) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewManager wires the registry, worker pool and capabilities together.
func NewManager(cfg *config.Config, store StateStore, pool *workflow.Pool, caps Capabilities, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config required")
	}
	if store == nil {
		return nil, errors.New("pipeline: registry required")
	}
	if pool == nil {
		return nil, errors.New("pipeline: worker pool required")
	}
	m := &Manager{
		cfg:      cfg,
		store:    store,
		pool:     pool,
		caps:     caps,
		notifier: notifications.NewService(nil),
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartResult reports what Start did.
type StartResult struct {
	OK       bool           `json:"ok"`
	Running  bool           `json:"-"`
	Stage    registry.Stage `json:"stage,omitempty"`
	Progress float64        `json:"progress,omitempty"`
}

// Start launches a run unless one is already in flight, in which case the
// current stage is reported. Every accepted start resets the stage to CHECK
// and increments attempts; the step ledger is kept.
func (m *Manager) Start(ctx context.Context, objectID string) (StartResult, error) {
	if !objectid.Valid(objectID) {
		return StartResult{}, services.Wrap(services.ErrValidation, stageName, "start", "objectId must be 16 characters", nil)
	}
	rec, err := m.store.Get(ctx, objectID)
	if err != nil {
		return StartResult{}, services.Wrap(services.ErrTransient, stageName, "start", "load state", err)
	}
	_, active := m.pool.Active(objectID)
	if rec != nil && (rec.Stage.IsRunning() || active) {
		return StartResult{OK: true, Running: true, Stage: rec.Stage, Progress: rec.Progress}, nil
	}
	if active {
		return StartResult{OK: true, Running: true, Stage: registry.StageCheck}, nil
	}

	attempts := 1
	if rec != nil {
		attempts = rec.Attempts + 1
	}
	patch := registry.StagePatch(registry.StageCheck, 0, "").Set("attempts", attempts).Set("error", "")
	if _, err := m.store.Upsert(ctx, objectID, patch); err != nil {
		return StartResult{}, services.Wrap(services.ErrTransient, stageName, "start", "record attempt", err)
	}
	if err := m.submit(objectID, KindInsight, m.run); err != nil {
		return StartResult{}, err
	}
	return StartResult{OK: true}, nil
}

// Resume (re-)launches a run. The ledger decides which phases are skipped,
// so redundant calls are harmless. While post-processing holds the object,
// Resume reports a conflict instead.
func (m *Manager) Resume(ctx context.Context, objectID string) error {
	if !objectid.Valid(objectID) {
		return services.Wrap(services.ErrValidation, stageName, "resume", "objectId must be 16 characters", nil)
	}
	activeKind, started, err := m.schedule(objectID, KindInsight, m.run)
	if err != nil || started || activeKind == KindInsight {
		return err
	}
	m.logger.Info("resume deferred while another run holds the object",
		logging.String(logging.FieldObjectID, objectID),
		logging.String("active_kind", activeKind),
	)
	return services.Wrap(services.ErrConflict, stageName, "resume", activeKind+" run in progress; retry when it settles", nil)
}

// Recover resumes records left in flight by a previous process and returns
// how many runs were launched.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	stages := append([]registry.Stage{registry.StageCheck}, registry.RunningStages()...)
	records, err := m.store.List(ctx, stages...)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, stageName, "recover", "list in-flight records", err)
	}
	launched := 0
	for _, rec := range records {
		if err := m.submit(rec.ObjectID, KindInsight, m.run); err != nil {
			return launched, err
		}
		launched++
		m.logger.Info("resuming interrupted insight run",
			logging.String(logging.FieldObjectID, rec.ObjectID),
			logging.String(logging.FieldStage, string(rec.Stage)),
		)
	}
	return launched, nil
}

// Status returns the record for objectID, or nil when unknown. When result
// URLs are recorded but never downloaded, the post-processor is launched in
// the background.
func (m *Manager) Status(ctx context.Context, objectID string) (*registry.Record, error) {
	rec, err := m.store.Get(ctx, objectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "status", "load state", err)
	}
	if rec == nil {
		return nil, nil
	}
	if len(rec.Transcription.Result) > 0 && !rec.StepDone(registry.StepDownload) {
		if kicked, err := m.kickPostProcess(ctx, rec); err != nil {
			m.logger.Debug("post-process trigger failed",
				logging.String(logging.FieldObjectID, objectID),
				logging.Error(err),
			)
		} else if kicked != nil {
			rec = kicked
		}
	}
	return rec, nil
}

// PostProcess launches the standalone download/index/cleanup run.
func (m *Manager) PostProcess(ctx context.Context, objectID string) error {
	if !objectid.Valid(objectID) {
		return services.Wrap(services.ErrValidation, stageName, "postprocess", "objectId must be 16 characters", nil)
	}
	return m.submit(objectID, KindPostProcess, m.postProcess)
}

// postProcessRetryInterval spaces automatic post-process launches for a
// record that has failed.
const postProcessRetryInterval = time.Minute

func (m *Manager) kickPostProcess(ctx context.Context, rec *registry.Record) (*registry.Record, error) {
	objectID := rec.ObjectID
	if _, active := m.pool.Active(objectID); active {
		return nil, nil
	}
	if rec.Stage == registry.StageFailed && m.now().Sub(rec.UpdatedAt) < postProcessRetryInterval {
		return nil, nil
	}
	rec, err := m.store.MarkStep(ctx, objectID, registry.StepKickDownload)
	if err != nil {
		return nil, err
	}
	return rec, m.submit(objectID, KindPostProcess, m.postProcess)
}

// Active reports the in-flight task for objectID.
func (m *Manager) Active(objectID string) (workflow.TaskInfo, bool) {
	return m.pool.Active(objectID)
}

// Health reports the capability set.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	return m.caps.Health(ctx)
}

func (m *Manager) submit(objectID, kind string, fn func(context.Context, string) error) error {
	_, _, err := m.schedule(objectID, kind, fn)
	return err
}

// schedule submits fn under objectID. When another task already holds the
// object, its kind is returned with started false.
func (m *Manager) schedule(objectID, kind string, fn func(context.Context, string) error) (string, bool, error) {
	task, started, err := m.pool.Submit(objectID, kind, func(ctx context.Context) error {
		return fn(services.WithObjectID(ctx, objectID), objectID)
	})
	if err != nil {
		return "", false, services.Wrap(services.ErrTransient, stageName, kind, "schedule run", err)
	}
	return task.Kind, started, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
