package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

const stageName = "ingest"

// MetaStore receives object metadata and the artifact handoff.
type MetaStore interface {
	Upsert(ctx context.Context, objectID string, patch registry.Patch) (*registry.Record, error)
}

// Service implements the upload session operations.
type Service struct {
	cfg      *config.Config
	sessions *sessionStore
	registry MetaStore
	pool     *workflow.Pool
	resolve  TranscoderResolver
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	// claims holds the merges scheduled by this process, keyed by upload id.
	// A busy stage on disk without a claim was left behind by a dead process.
	claimMu  sync.Mutex
	claims   map[string]uint64
	claimSeq uint64
}

// Option customizes a Service.
type Option func(*Service)

// WithTranscoderResolver overrides remux tool discovery.
func WithTranscoderResolver(resolve TranscoderResolver) Option {
	return func(s *Service) {
		if resolve != nil {
			s.resolve = resolve
		}
	}
}

// WithNotifier attaches a notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the session store to the registry and merge pool.
func NewService(cfg *config.Config, store MetaStore, pool *workflow.Pool, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("ingest: config required")
	}
	if store == nil {
		return nil, errors.New("ingest: registry required")
	}
	if pool == nil {
		return nil, errors.New("ingest: worker pool required")
	}
	s := &Service{
		cfg:      cfg,
		registry: store,
		pool:     pool,
		resolve:  FFmpegResolver(cfg),
		notifier: notifications.NewService(nil),
		logger:   logging.NewComponentLogger(logger, "ingest"),
		now:      time.Now,
		claims:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sessions = newSessionStore(cfg.Paths.TempUploadDir, s.now)
	return s, nil
}

// ArtifactExists reports whether any final artifact is stored for objectID.
func (s *Service) ArtifactExists(objectID string) bool {
	return fileutil.Exists(s.cfg.FinalMP4Path(objectID)) || fileutil.Exists(s.cfg.FinalTSPath(objectID))
}

// Precheck derives the object id and reports whether it is already stored.
func (s *Service) Precheck(ctx context.Context, d Descriptor) (PrecheckResult, error) {
	if err := d.validate(); err != nil {
		return PrecheckResult{}, services.Wrap(services.ErrValidation, stageName, "precheck", err.Error(), nil)
	}
	objectID := d.ObjectID()
	if s.ArtifactExists(objectID) {
		return PrecheckResult{
			ObjectID:    objectID,
			Exists:      true,
			Stage:       StagePrecheckHit,
			DownloadURL: DownloadURL(objectID),
			RawURL:      RawDownloadURL(objectID),
		}, nil
	}
	return PrecheckResult{ObjectID: objectID, Stage: StagePrecheckMiss}, nil
}

// Initiate opens an upload session, or short-circuits when the artifact
// already exists and only refreshes the registry metadata.
func (s *Service) Initiate(ctx context.Context, req InitRequest) (InitResult, error) {
	req.Descriptor = req.Descriptor.Normalized()
	objectID := req.ObjectID()
	ctx = services.WithObjectID(ctx, objectID)
	logger := logging.WithContext(ctx, s.logger)

	if s.ArtifactExists(objectID) {
		if err := s.recordMeta(ctx, objectID, req); err != nil {
			return InitResult{}, err
		}
		logger.Info("upload skipped; artifact already stored")
		return InitResult{
			ObjectID:    objectID,
			Exists:      true,
			DownloadURL: DownloadURL(objectID),
			RawURL:      RawDownloadURL(objectID),
		}, nil
	}

	if err := req.validate(); err != nil {
		return InitResult{}, services.Wrap(services.ErrValidation, stageName, "initiate", err.Error(), nil)
	}
	total := int(req.Total.Value)
	if !req.Total.Set || total < 1 {
		return InitResult{}, services.Wrap(services.ErrValidation, stageName, "initiate", "total must be at least 1", nil)
	}
	if limit := s.cfg.Workflow.MaxUploadParts; limit > 0 && req.Total.Value > int64(limit) {
		return InitResult{}, services.Wrap(services.ErrValidation, stageName, "initiate",
			fmt.Sprintf("total %d exceeds the limit of %d parts", req.Total.Value, limit), nil)
	}

	uploadID := strings.ReplaceAll(uuid.NewString(), "-", "")
	meta := Meta{
		UploadID:         uploadID,
		ObjectID:         objectID,
		CourseID:         req.CourseID.String(),
		CourseName:       strings.TrimSpace(req.CourseName),
		CourseTitle:      strings.TrimSpace(req.CourseTitle),
		VideoType:        req.VideoType,
		VideoID:          req.VideoID.Value,
		SessionID:        req.SessionID.String(),
		StartedAt:        req.StartedAt.String(),
		Total:            total,
		AutoTranscode:    req.autoTranscode(),
		OriginalFilename: req.filename(),
		CreatedAt:        s.now().UTC(),
	}
	initial := Session{UploadID: uploadID, ObjectID: objectID, Stage: StageUploading, Total: total}
	if err := s.sessions.create(meta, initial); err != nil {
		return InitResult{}, services.Wrap(services.ErrTransient, stageName, "initiate", "create session", err)
	}
	if err := s.recordMeta(ctx, objectID, req); err != nil {
		return InitResult{}, err
	}

	logger.Info("upload session opened",
		logging.String(logging.FieldUploadID, uploadID),
		logging.Int("total", total),
		logging.Bool("auto_transcode", meta.AutoTranscode),
	)
	return InitResult{UploadID: uploadID, ObjectID: objectID}, nil
}

func (s *Service) recordMeta(ctx context.Context, objectID string, req InitRequest) error {
	meta := map[string]any{
		"courseId":         req.CourseID.String(),
		"courseName":       strings.TrimSpace(req.CourseName),
		"courseTitle":      strings.TrimSpace(req.CourseTitle),
		"videoType":        req.VideoType,
		"videoId":          req.VideoID.Value,
		"startedAt":        req.StartedAt.String(),
		"originalFilename": req.filename(),
	}
	if sessionID := req.SessionID.String(); sessionID != "" {
		meta["sessionId"] = sessionID
	}
	if _, err := s.registry.Upsert(ctx, objectID, registry.Patch{"meta": meta}); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "record metadata", "registry upsert failed", err)
	}
	return nil
}

// AcceptSegment stores one part. Re-sending an index that is already on disk
// is a no-op that still reports current progress.
func (s *Service) AcceptSegment(ctx context.Context, uploadID string, index int, body io.Reader) (SegmentResult, error) {
	meta, err := s.sessions.loadMeta(uploadID)
	if err != nil {
		return SegmentResult{}, s.sessionError("segment", err)
	}
	if index < 1 {
		return SegmentResult{}, services.Wrap(services.ErrValidation, stageName, "segment", "missing or invalid index", nil)
	}
	if index > meta.Total {
		return SegmentResult{}, services.Wrap(services.ErrValidation, stageName, "segment",
			fmt.Sprintf("index %d exceeds total %d", index, meta.Total), nil)
	}
	if current, ok := s.sessions.read(uploadID); ok && s.busy(uploadID, current.Stage) {
		return SegmentResult{}, services.Wrap(services.ErrConflict, stageName, "segment",
			fmt.Sprintf("session is %s", current.Stage), nil)
	}

	partPath := s.sessions.partPath(uploadID, index)
	skipped := fileutil.Exists(partPath)
	if !skipped {
		data, err := io.ReadAll(body)
		if err != nil {
			return SegmentResult{}, services.Wrap(services.ErrValidation, stageName, "segment", "read body", err)
		}
		if len(data) == 0 {
			return SegmentResult{}, services.Wrap(services.ErrValidation, stageName, "segment", "empty body", nil)
		}
		if err := fileutil.WriteFileAtomic(partPath, data, 0o644); err != nil {
			return SegmentResult{}, services.Wrap(services.ErrTransient, stageName, "segment", "write part", err)
		}
	}

	received, err := s.countParts(uploadID)
	if err != nil {
		return SegmentResult{}, services.Wrap(services.ErrTransient, stageName, "segment", "list parts", err)
	}
	if _, err := s.sessions.update(uploadID, func(session *Session) {
		session.UploadID = uploadID
		session.ObjectID = meta.ObjectID
		session.Total = meta.Total
		session.Received = received
		session.Progress = fraction(received, meta.Total)
		if !s.busy(uploadID, session.Stage) {
			session.Stage = StageUploading
			session.Message = ""
			session.Error = ""
		}
	}); err != nil {
		return SegmentResult{}, services.Wrap(services.ErrTransient, stageName, "segment", "save state", err)
	}
	return SegmentResult{OK: true, Skipped: skipped, Received: received, Total: meta.Total}, nil
}

func (s *Service) countParts(uploadID string) (int, error) {
	indices, err := s.sessions.parts(uploadID)
	if err != nil {
		return 0, err
	}
	return len(indices), nil
}

// Missing lists the part indices in [1, total] not yet on disk. Unknown
// sessions report nothing missing.
func (s *Service) Missing(ctx context.Context, uploadID string) ([]int, error) {
	meta, err := s.sessions.loadMeta(uploadID)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			return []int{}, nil
		}
		return nil, s.sessionError("missing", err)
	}
	present, err := s.sessions.parts(uploadID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "missing", "list parts", err)
	}
	return missingIndices(present, meta.Total), nil
}

func missingIndices(present []int, total int) []int {
	seen := make(map[int]struct{}, len(present))
	for _, index := range present {
		seen[index] = struct{}{}
	}
	missing := []int{}
	for i := 1; i <= total; i++ {
		if _, ok := seen[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Complete queues the merge and returns immediately. A session whose merge is
// already queued or running is acknowledged without starting another.
func (s *Service) Complete(ctx context.Context, uploadID string) (CompleteResult, error) {
	if _, err := s.sessions.loadMeta(uploadID); err != nil {
		return CompleteResult{}, s.sessionError("complete", err)
	}

	var (
		alreadyQueued bool
		token         uint64
	)
	session, err := s.sessions.update(uploadID, func(session *Session) {
		if s.busy(uploadID, session.Stage) {
			alreadyQueued = true
			return
		}
		token = s.claim(uploadID)
		session.Stage = StageQueued
		session.Progress = 0
		session.Message = ""
		session.Error = ""
	})
	if err != nil {
		if token != 0 {
			s.release(uploadID, token)
		}
		return CompleteResult{}, services.Wrap(services.ErrTransient, stageName, "complete", "save state", err)
	}
	if alreadyQueued {
		return CompleteResult{OK: true, Stage: session.Stage}, nil
	}

	if err := s.schedule(ctx, uploadID, token); err != nil {
		s.release(uploadID, token)
		_, _ = s.sessions.update(uploadID, func(session *Session) {
			session.Stage = StageFailed
			session.Message = err.Error()
			session.Error = err.Error()
		})
		return CompleteResult{}, services.Wrap(services.ErrTransient, stageName, "complete", "schedule merge", err)
	}
	return CompleteResult{OK: true, Stage: StageQueued}, nil
}

// schedule submits the merge. A previous merge for the same session may still
// be unwinding after recording FAILED; wait for it rather than dropping the
// new request.
func (s *Service) schedule(ctx context.Context, uploadID string, token uint64) error {
	for {
		task, started, err := s.pool.Submit(uploadID, "merge", func(taskCtx context.Context) error {
			defer s.release(uploadID, token)
			return s.merge(services.WithUploadID(taskCtx, uploadID), uploadID)
		})
		if err != nil || started {
			return err
		}
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// busy reports whether a merge scheduled by this process owns the session.
func (s *Service) busy(uploadID string, stage Stage) bool {
	if !stage.busy() {
		return false
	}
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	_, ok := s.claims[uploadID]
	return ok
}

func (s *Service) claim(uploadID string) uint64 {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	s.claimSeq++
	s.claims[uploadID] = s.claimSeq
	return s.claimSeq
}

// release drops the claim only when it still belongs to token, so a merge
// unwinding after a newer complete cannot clear the newer claim.
func (s *Service) release(uploadID string, token uint64) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.claims[uploadID] == token {
		delete(s.claims, uploadID)
	}
}

// RecoverSessions returns sessions left QUEUED, MERGING, MERGED or
// TRANSCODING by a previous process to UPLOADING so clients can fill gaps
// and call complete again. It returns the number of sessions reset.
func (s *Service) RecoverSessions(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.cfg.Paths.TempUploadDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, services.Wrap(services.ErrTransient, stageName, "recover", "list sessions", err)
	}
	var reset int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		uploadID := entry.Name()
		if !entry.IsDir() || !s.sessions.exists(uploadID) {
			continue
		}
		current, ok := s.sessions.read(uploadID)
		if !ok || !current.Stage.busy() || s.busy(uploadID, current.Stage) {
			continue
		}
		received, err := s.countParts(uploadID)
		if err != nil {
			continue
		}
		var interrupted Stage
		if _, err := s.sessions.update(uploadID, func(session *Session) {
			if !session.Stage.busy() || s.busy(uploadID, session.Stage) {
				return
			}
			interrupted = session.Stage
			session.Stage = StageUploading
			session.Received = received
			session.Progress = fraction(received, session.Total)
			session.Message = fmt.Sprintf("merge interrupted while %s; call complete again", interrupted)
			session.Error = ""
		}); err != nil {
			return reset, services.Wrap(services.ErrTransient, stageName, "recover", "save state", err)
		}
		if interrupted != "" {
			reset++
			s.logger.Info("upload session reset after interrupted merge",
				logging.String(logging.FieldUploadID, uploadID),
				logging.String("interrupted_stage", string(interrupted)),
				logging.Int("received", received),
			)
		}
	}
	return reset, nil
}

// Status returns the session record, or a synthetic UNKNOWN record.
func (s *Service) Status(ctx context.Context, uploadID string) Session {
	if session, ok := s.sessions.read(uploadID); ok {
		return session
	}
	return Session{Stage: StageUnknown, Progress: 0}
}

func (s *Service) sessionError(op string, err error) error {
	if errors.Is(err, errSessionNotFound) {
		return services.Wrap(services.ErrNotFound, stageName, op, "invalid uploadId", nil)
	}
	return services.Wrap(services.ErrTransient, stageName, op, "load session", err)
}

func fraction(received, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(received) / float64(total)
}
