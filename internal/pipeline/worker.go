package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/stage"
)

// run is one pass of the pipeline for an object.
type run struct {
	m       *Manager
	id      string
	logger  *slog.Logger
	sampler *logging.ProgressSampler
	stage   registry.Stage
}

func (m *Manager) newRun(ctx context.Context, objectID string) *run {
	return &run{
		m:       m,
		id:      objectID,
		logger:  logging.WithContext(ctx, m.logger),
		sampler: logging.NewProgressSampler(0.1),
		stage:   registry.StageCheck,
	}
}

// run executes the full pipeline. Phases already recorded in the ledger are
// skipped.
func (m *Manager) run(ctx context.Context, objectID string) error {
	r := m.newRun(ctx, objectID)
	prev, err := m.store.Get(ctx, objectID)
	if err != nil {
		return r.fail(ctx, services.Wrap(services.ErrTransient, stageName, "load", "load state", err))
	}
	if prev == nil {
		prev = &registry.Record{ObjectID: objectID}
	}
	if err := r.save(ctx, registry.StageCheck, 0, "start", nil); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.execute(ctx, prev); err != nil {
		return r.fail(ctx, err)
	}
	return nil
}

// postProcess runs download, index and cleanup for a record whose result
// URLs are already known.
func (m *Manager) postProcess(ctx context.Context, objectID string) error {
	r := m.newRun(ctx, objectID)
	prev, err := m.store.Get(ctx, objectID)
	if err != nil {
		return r.fail(ctx, services.Wrap(services.ErrTransient, stageName, "load", "load state", err))
	}
	if prev == nil {
		return services.Wrap(services.ErrNotFound, stageName, "postprocess", "no state recorded", nil)
	}
	if err := r.finish(ctx, prev, prev.Transcription.Result, prev.Storage.RemoteKey); err != nil {
		return r.fail(ctx, err)
	}
	return nil
}

func (r *run) execute(ctx context.Context, prev *registry.Record) error {
	caps := r.m.caps
	artifact := r.m.localArtifact(r.id)
	if artifact == "" {
		return services.Wrap(services.ErrNotFound, stageName, "check", "local artifact missing", nil)
	}
	if caps.Storage == nil || caps.Transcription == nil {
		return services.Wrap(services.ErrFeatureDisabled, stageName, "check", "object storage and transcription must be configured", nil)
	}

	key := remoteKey(r.id, artifact)
	if prev.StepDone(registry.StepStorageUpload) {
		if prev.Storage.RemoteKey != "" {
			key = prev.Storage.RemoteKey
		}
		if err := r.save(ctx, registry.StageStorageUpload, 0.20, "upload skipped (already staged)", storagePatch(key)); err != nil {
			return err
		}
	} else if err := r.upload(ctx, artifact, key); err != nil {
		return err
	}

	taskID := prev.Transcription.TaskID
	if taskID == "" && !prev.StepDone(registry.StepSubmit) {
		submitted, err := r.submit(ctx, key)
		if err != nil {
			return err
		}
		taskID = submitted
	}

	result := prev.Transcription.Result
	if !prev.StepDone(registry.StepFetch) {
		fetched, err := r.poll(ctx, taskID)
		if err != nil {
			return err
		}
		result = fetched
	}
	return r.finish(ctx, prev, result, key)
}

func (r *run) upload(ctx context.Context, artifact, key string) error {
	attempts := r.m.cfg.Storage.UploadAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		msg := fmt.Sprintf("upload attempt %d/%d", attempt, attempts)
		if err := r.save(ctx, registry.StageStorageUpload, 0.10+float64(attempt)*0.01, msg, nil); err != nil {
			return err
		}
		res, err := r.m.caps.Storage.Upload(ctx, artifact, key)
		if err == nil && res.OK {
			if err := r.save(ctx, registry.StageStorageUpload, 0.20, "upload complete", storagePatch(key)); err != nil {
				return err
			}
			return r.mark(ctx, registry.StepStorageUpload)
		}
		if err == nil {
			err = errors.New("upload reported no success")
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("remote upload attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldEventType, "storage_upload_retry"),
		)
		if attempt == attempts {
			break
		}
		delay := time.Second
		if gatewayFailure(err) {
			delay = time.Duration(attempt) * 2 * time.Second
		}
		if err := r.m.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return services.Wrap(services.ErrExternalTool, string(registry.StageStorageUpload), "upload",
		fmt.Sprintf("upload failed after %d attempts", attempts), lastErr)
}

func (r *run) submit(ctx context.Context, key string) (string, error) {
	signed, err := r.m.caps.Storage.SignedURL(ctx, key, r.m.cfg.SignedURLExpiry())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(signed) == "" {
		return "", services.Wrap(services.ErrExternalTool, string(registry.StageSubmit), "sign", "signed url unavailable", nil)
	}
	if err := r.save(ctx, registry.StageSubmit, 0.25, "submitting transcription task", registry.Patch{
		"storage": map[string]any{"signedUrl": signed},
	}); err != nil {
		return "", err
	}
	taskID, err := r.m.caps.Transcription.Submit(ctx, signed)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(taskID) == "" {
		return "", services.Wrap(services.ErrExternalTool, string(registry.StageSubmit), "submit", "empty task id", nil)
	}
	if err := r.save(ctx, registry.StagePoll, 0.30, "transcribing...", registry.Patch{
		"transcription": map[string]any{"taskId": taskID},
	}); err != nil {
		return "", err
	}
	if err := r.mark(ctx, registry.StepSubmit); err != nil {
		return "", err
	}
	r.logger.Info("transcription task submitted", logging.String("task_id", taskID))
	return taskID, nil
}

func (r *run) poll(ctx context.Context, taskID string) (map[string]string, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, services.Wrap(services.ErrValidation, string(registry.StagePoll), "poll", "no transcription task recorded", nil)
	}
	cfg := r.m.cfg
	interval := cfg.PollInterval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ceiling := cfg.MaxPollDuration()
	start := r.m.now()
	for {
		status, err := r.m.caps.Transcription.Status(ctx, taskID)
		switch {
		case err != nil && !services.Retryable(err):
			return nil, err
		case err != nil:
			r.logger.Debug("transcription status unavailable; polling again", logging.Error(err))
		case status.Completed():
			if err := r.save(ctx, registry.StagePoll, 0.72, "transcription complete", nil); err != nil {
				return nil, err
			}
			if err := r.save(ctx, registry.StageDownloadResults, 0.75, "result urls recorded", registry.Patch{
				"transcription": map[string]any{"result": status.Result},
			}); err != nil {
				return nil, err
			}
			if err := r.mark(ctx, registry.StepFetch); err != nil {
				return nil, err
			}
			return status.Result, nil
		case status.Failed():
			msg := strings.TrimSpace(status.ErrorMessage)
			if msg == "" {
				msg = "no error message"
			}
			return nil, services.Wrap(services.ErrExternalTool, string(registry.StagePoll), "poll", "transcription failed: "+msg, nil)
		}

		elapsed := r.m.now().Sub(start)
		if ceiling > 0 && elapsed >= ceiling {
			return nil, services.Wrap(services.ErrTimeout, string(registry.StagePoll), "poll",
				fmt.Sprintf("task %s still running after %s; resume to keep polling", taskID, ceiling), nil)
		}
		label := status.Status
		if label == "" {
			label = "ONGOING"
		}
		progress := stage.PollProgress(elapsed, cfg.PollSoftBudget())
		if err := r.save(ctx, registry.StagePoll, progress, "status: "+label, nil); err != nil {
			return nil, err
		}
		if err := r.m.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// finish runs the result phases shared by the full run and the post-processor.
func (r *run) finish(ctx context.Context, prev *registry.Record, result map[string]string, key string) error {
	paths, err := r.downloadResults(ctx, prev, result)
	if err != nil {
		return err
	}
	if err := r.index(ctx, prev, paths); err != nil {
		return err
	}
	if err := r.cleanup(ctx, prev, key); err != nil {
		return err
	}
	if err := r.save(ctx, registry.StageDone, 1.0, "insight complete", nil); err != nil {
		return err
	}
	r.logger.Info("insight run complete")
	r.m.publish(ctx, notifications.EventInsightCompleted, notifications.Payload{
		"objectId": r.id,
		"title":    title(prev),
	})
	return nil
}

func (r *run) cleanup(ctx context.Context, prev *registry.Record, key string) error {
	if prev.StepDone(registry.StepCleanup) {
		return nil
	}
	if err := r.save(ctx, registry.StageCleanup, 0.95, "removing remote copy", nil); err != nil {
		return err
	}
	if storage := r.m.caps.Storage; storage != nil && key != "" {
		if err := storage.Delete(ctx, key); err != nil {
			logging.WarnWithContext(r.logger, "remote cleanup failed", "storage_cleanup_failed",
				logging.String("remote_key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "remote copy left in bucket"),
				logging.String(logging.FieldErrorHint, "remove the object manually or rely on bucket lifecycle rules"),
			)
		}
	}
	return r.mark(ctx, registry.StepCleanup)
}

func (r *run) save(ctx context.Context, st registry.Stage, progress float64, message string, extra registry.Patch) error {
	progress = stage.Clamp(progress)
	patch := registry.StagePatch(st, progress, message)
	snapshot := map[string]any{
		"stage":    st,
		"progress": progress,
		"message":  message,
		"ts":       float64(r.m.now().UnixMilli()) / 1000,
	}
	for k, v := range extra {
		patch[k] = v
		snapshot[k] = v
	}
	if err := fileutil.WriteJSONAtomic(r.m.cfg.InsightSnapshotPath(r.id), snapshot); err != nil {
		r.logger.Debug("snapshot write failed", logging.Error(err))
	}
	if _, err := r.m.store.Upsert(ctx, r.id, patch); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "save", "persist state", err)
	}
	if r.sampler.ShouldLog(string(st), progress) {
		r.logger.Info("insight progress",
			logging.String(logging.FieldStage, string(st)),
			logging.Float64("progress", progress),
			logging.String("message", message),
		)
	}
	r.stage = st
	return nil
}

func (r *run) mark(ctx context.Context, step string) error {
	if _, err := r.m.store.MarkStep(ctx, r.id, step); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "mark", "record step "+step, err)
	}
	return nil
}

// fail records FAILED with the error. A run interrupted by shutdown keeps its
// in-flight stage so it is resumed on the next start.
func (r *run) fail(ctx context.Context, cause error) error {
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		r.logger.Info("insight run interrupted", logging.String(logging.FieldStage, string(r.stage)))
		return cause
	}
	failedAt := r.stage
	persistCtx := context.WithoutCancel(ctx)
	if err := r.save(persistCtx, registry.StageFailed, 1.0, cause.Error(), registry.Patch{"error": cause.Error()}); err != nil {
		r.logger.Error("failed to record insight failure", logging.Error(err))
	}
	logging.ErrorWithContext(r.logger, "insight run failed", "insight_failed",
		logging.String("failed_stage", string(failedAt)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the cause and resume; completed steps are skipped"),
	)
	var rec *registry.Record
	if loaded, err := r.m.store.Get(persistCtx, r.id); err == nil {
		rec = loaded
	}
	r.m.publish(ctx, notifications.EventInsightFailed, notifications.Payload{
		"objectId": r.id,
		"title":    title(rec),
		"stage":    string(failedAt),
		"error":    cause,
	})
	return cause
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

// localArtifact prefers the remuxed MP4 over the transport stream.
func (m *Manager) localArtifact(objectID string) string {
	if mp4 := m.cfg.FinalMP4Path(objectID); fileutil.Exists(mp4) {
		return mp4
	}
	if ts := m.cfg.FinalTSPath(objectID); fileutil.Exists(ts) {
		return ts
	}
	return ""
}

func remoteKey(objectID, artifact string) string {
	return path.Join("insights", objectID, filepath.Base(artifact))
}

func storagePatch(key string) registry.Patch {
	return registry.Patch{"storage": map[string]any{"remoteKey": key, "uploaded": true}}
}

func gatewayFailure(err error) bool {
	if services.Retryable(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504")
}

func title(rec *registry.Record) string {
	if rec == nil {
		return ""
	}
	for _, key := range []string{"courseTitle", "courseName"} {
		if v, ok := rec.Meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
