package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
	"github.com/yang-kun-long/YanheKt-AI/internal/transcript"
)

// Result file suffixes under the results directory.
const (
	SuffixASR       = "ASR_Result.json"
	SuffixPPT       = "PPT_Result.json"
	SuffixSubtitles = "Subtitles.srt"
)

type resultFiles struct {
	asr string
	ppt string
	srt string
}

func (m *Manager) files(objectID string) resultFiles {
	return resultFiles{
		asr: m.cfg.ResultPath(objectID, SuffixASR),
		ppt: m.cfg.ResultPath(objectID, SuffixPPT),
		srt: m.cfg.ResultPath(objectID, SuffixSubtitles),
	}
}

// downloadResults fetches missing result documents, derives the subtitle
// file and always records the paths that exist on disk.
func (r *run) downloadResults(ctx context.Context, prev *registry.Record, result map[string]string) (registry.ResultPaths, error) {
	files := r.m.files(r.id)
	pdf := ""
	if !prev.StepDone(registry.StepDownload) {
		tr := r.m.caps.Transcription
		asrURL := strings.TrimSpace(result[transcription.ResultTranscription])
		pptURL := strings.TrimSpace(result[transcription.ResultPptExtraction])
		if tr == nil && ((asrURL != "" && !fileutil.Exists(files.asr)) || (pptURL != "" && !fileutil.Exists(files.ppt))) {
			return registry.ResultPaths{}, services.Wrap(services.ErrFeatureDisabled, string(registry.StageDownloadResults), "download", "transcription service not configured", nil)
		}
		if asrURL != "" && !fileutil.Exists(files.asr) {
			if err := tr.Download(ctx, asrURL, files.asr); err != nil {
				return registry.ResultPaths{}, fmt.Errorf("download transcript: %w", err)
			}
		}
		if pptURL != "" && !fileutil.Exists(files.ppt) {
			if err := tr.Download(ctx, pptURL, files.ppt); err != nil {
				return registry.ResultPaths{}, fmt.Errorf("download slide extraction: %w", err)
			}
		}
		pdf = transcript.PDFURL(files.ppt)
		if pdf == "" && fileutil.Exists(files.ppt) {
			r.logger.Warn("slide extraction carries no pdf url", logging.String("path", files.ppt))
		}
		r.writeSubtitles(files)
		if err := r.mark(ctx, registry.StepDownload); err != nil {
			return registry.ResultPaths{}, err
		}
	} else {
		pdf = prev.Results.PDFPath
		if pdf == "" {
			pdf = transcript.PDFURL(files.ppt)
		}
	}

	paths := registry.ResultPaths{PDFPath: pdf}
	if fileutil.Exists(files.asr) {
		paths.ASRPath = files.asr
	}
	if fileutil.Exists(files.ppt) {
		paths.PPTPath = files.ppt
	}
	if fileutil.Exists(files.srt) {
		paths.SRTPath = files.srt
	}
	if err := r.save(ctx, registry.StageDownloadResults, 0.78, "results saved", registry.Patch{
		"results": map[string]any{
			"asrPath": paths.ASRPath,
			"pptPath": paths.PPTPath,
			"pdfPath": paths.PDFPath,
			"srtPath": paths.SRTPath,
		},
	}); err != nil {
		return registry.ResultPaths{}, err
	}
	return paths, nil
}

func (r *run) writeSubtitles(files resultFiles) {
	write := r.m.caps.Subtitles
	if write == nil || !fileutil.Exists(files.asr) {
		return
	}
	cues, err := write(files.asr, files.srt)
	if err != nil {
		logging.WarnWithContext(r.logger, "subtitle generation failed", "subtitles_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "subtitles endpoint will report not found"),
			logging.String(logging.FieldErrorHint, "inspect the transcript document"),
		)
		return
	}
	r.logger.Info("subtitles generated", logging.Int("cues", cues))
}

// index writes cards for the run. The ledger entry is recorded only after a
// successful write; without a search backend the phase is skipped unmarked so
// enabling search later and resuming indexes the object.
func (r *run) index(ctx context.Context, prev *registry.Record, paths registry.ResultPaths) error {
	if prev.StepDone(registry.StepIndex) {
		return nil
	}
	caps := r.m.caps
	if caps.Search == nil || caps.Cards == nil {
		r.logger.Debug("search indexing disabled; skipping")
		return nil
	}
	if err := r.save(ctx, registry.StageIndex, 0.80, "building cards", nil); err != nil {
		return err
	}
	cards, err := caps.Cards.Build(ctx, r.id, paths.ASRPath, paths.PPTPath)
	if err != nil {
		return fmt.Errorf("index write failed: %w", err)
	}
	if len(cards) > 0 {
		name := searchindex.IndexName(r.m.cfg.Search.IndexPrefix, r.id)
		if err := caps.Search.EnsureIndex(ctx, name); err != nil {
			return fmt.Errorf("index write failed: %w", err)
		}
		if err := caps.Search.BulkIndex(ctx, name, cards); err != nil {
			return fmt.Errorf("index write failed: %w", err)
		}
	}
	if err := r.mark(ctx, registry.StepIndex); err != nil {
		return err
	}
	return r.save(ctx, registry.StageIndex, 0.90, fmt.Sprintf("indexed %d cards", len(cards)), nil)
}
