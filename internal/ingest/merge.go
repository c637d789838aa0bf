package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/deps"
	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/media/ffmpeg"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

const mergeBufferSize = 1 << 20

// Transcoder repackages a merged stream without re-encoding.
type Transcoder interface {
	Remux(ctx context.Context, src, dst string) error
}

// TranscoderResolver locates a transcoder at merge time. A nil Transcoder
// means none is available and detail explains why.
type TranscoderResolver func() (tool Transcoder, detail string)

// FFmpegResolver resolves ffmpeg through the INSIGHT_FFMPEG, config, PATH
// lookup order on every call so a binary installed later is picked up.
func FFmpegResolver(cfg *config.Config) TranscoderResolver {
	return func() (Transcoder, string) {
		status := deps.ResolveFFmpeg(cfg.FFmpeg.Path)
		if !status.Available {
			return nil, status.Detail
		}
		timeout := time.Duration(cfg.FFmpeg.TimeoutSeconds) * time.Second
		return ffmpeg.NewRemuxer(status.Command, timeout), ""
	}
}

// merge concatenates the parts in ascending index order into the final
// transport stream, then optionally remuxes it to MP4.
func (s *Service) merge(ctx context.Context, uploadID string) error {
	meta, err := s.sessions.loadMeta(uploadID)
	if err != nil {
		return s.fail(ctx, uploadID, Meta{}, fmt.Errorf("load session meta: %w", err))
	}
	ctx = services.WithObjectID(ctx, meta.ObjectID)
	logger := logging.WithContext(ctx, s.logger)

	if _, err := s.sessions.update(uploadID, func(session *Session) {
		session.Stage = StageMerging
		session.Progress = 0
	}); err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}

	present, err := s.sessions.parts(uploadID)
	if err != nil {
		return s.fail(ctx, uploadID, meta, fmt.Errorf("parts dir not found: %w", err))
	}
	if len(present) == 0 {
		return s.fail(ctx, uploadID, meta, fmt.Errorf("no parts found"))
	}
	if missing := missingIndices(present, meta.Total); len(missing) > 0 {
		return s.fail(ctx, uploadID, meta, fmt.Errorf("missing parts: %v", missing))
	}

	tsPath := s.cfg.FinalTSPath(meta.ObjectID)
	if err := s.concatenate(ctx, uploadID, meta.Total, tsPath); err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}
	if _, err := s.sessions.update(uploadID, func(session *Session) {
		session.Stage = StageMerged
		session.Progress = 1
	}); err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}
	logger.Info("parts merged", logging.Int("parts", meta.Total), logging.String("artifact", tsPath))

	if !meta.AutoTranscode {
		return s.succeed(ctx, uploadID, meta, tsPath, RawDownloadURL(meta.ObjectID), "")
	}

	if _, err := s.sessions.update(uploadID, func(session *Session) {
		session.Stage = StageTranscoding
		session.Progress = 0
	}); err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}

	tool, detail := s.resolve()
	if tool == nil {
		logging.WarnWithContext(logger, "remux skipped; returning transport stream", "transcode_unavailable",
			logging.String("reason", detail),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set INSIGHT_FFMPEG"),
			logging.String(logging.FieldImpact, "download is the raw .ts file"),
		)
		return s.succeed(ctx, uploadID, meta, tsPath, RawDownloadURL(meta.ObjectID),
			"ffmpeg not found; returning the TS file (remux can be retried later)")
	}

	mp4Path := s.cfg.FinalMP4Path(meta.ObjectID)
	if err := tool.Remux(ctx, tsPath, mp4Path); err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}
	return s.succeed(ctx, uploadID, meta, mp4Path, DownloadURL(meta.ObjectID), "")
}

func (s *Service) concatenate(ctx context.Context, uploadID string, total int, dst string) error {
	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open merge target: %w", err)
	}
	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(partial)
	}

	buf := make([]byte, mergeBufferSize)
	for index := 1; index <= total; index++ {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		if _, err := fileutil.AppendFile(out, s.sessions.partPath(uploadID, index), buf); err != nil {
			cleanup()
			return fmt.Errorf("append part %d: %w", index, err)
		}
		progress := fraction(index, total)
		if _, err := s.sessions.update(uploadID, func(session *Session) {
			session.Stage = StageMerging
			session.Progress = progress
		}); err != nil {
			cleanup()
			return err
		}
	}
	if err := out.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync merge target: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("close merge target: %w", err)
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("finalize merge target: %w", err)
	}
	return nil
}

func (s *Service) succeed(ctx context.Context, uploadID string, meta Meta, artifact, downloadURL, message string) error {
	logger := logging.WithContext(ctx, s.logger)
	session, err := s.sessions.update(uploadID, func(session *Session) {
		session.Stage = StageDone
		session.Progress = 1
		session.DownloadURL = downloadURL
		session.Message = message
		session.Error = ""
	})
	if err != nil {
		return s.fail(ctx, uploadID, meta, err)
	}

	handoff := registry.Patch{}
	handoff.Merge("meta", "artifactPath", artifact)
	handoff.Merge("meta", "mergedAt", s.now().UTC())
	if _, err := s.registry.Upsert(ctx, meta.ObjectID, handoff); err != nil {
		logging.WarnWithContext(logger, "artifact handoff not recorded", "registry_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the registry database"),
			logging.String(logging.FieldImpact, "metadata lacks the artifact path"),
		)
	}

	if err := s.sessions.finish(uploadID, session); err != nil {
		logger.Warn("session directory cleanup failed", logging.Error(err))
	}
	logger.Info("upload complete", logging.String("artifact", artifact), logging.String("download_url", downloadURL))
	s.publish(ctx, notifications.EventIngestCompleted, notifications.Payload{
		"objectId":    meta.ObjectID,
		"title":       meta.CourseTitle,
		"downloadUrl": downloadURL,
	})
	return nil
}

// fail records FAILED with the error and leaves the session directory for
// inspection and gap filling.
func (s *Service) fail(ctx context.Context, uploadID string, meta Meta, cause error) error {
	logger := logging.WithContext(ctx, s.logger)
	if _, err := s.sessions.update(uploadID, func(session *Session) {
		session.Stage = StageFailed
		session.Message = cause.Error()
		session.Error = cause.Error()
	}); err != nil {
		logger.Error("record merge failure", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "merge failed", "merge_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "re-send missing parts and call complete again"),
	)
	s.publish(ctx, notifications.EventIngestFailed, notifications.Payload{
		"objectId": meta.ObjectID,
		"title":    meta.CourseTitle,
		"error":    cause,
	})
	return cause
}

func (s *Service) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		s.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
