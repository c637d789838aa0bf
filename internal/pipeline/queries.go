package pipeline

import (
	"context"
	"strings"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/transcript"
)

// RefreshResult is the outcome of a one-shot task status check.
type RefreshResult struct {
	TaskStatus string            `json:"taskStatus,omitempty"`
	Result     map[string]string `json:"result"`
}

// EnsureResultURLs returns the recorded result URLs, checking the task once
// when none are recorded yet. A completed task has its URLs recorded and the
// fetch step marked.
func (m *Manager) EnsureResultURLs(ctx context.Context, objectID string) (RefreshResult, error) {
	rec, err := m.store.Get(ctx, objectID)
	if err != nil {
		return RefreshResult{}, services.Wrap(services.ErrTransient, stageName, "refresh", "load state", err)
	}
	if rec == nil {
		return RefreshResult{}, services.Wrap(services.ErrNotFound, stageName, "refresh", "no state recorded", nil)
	}
	if len(rec.Transcription.Result) > 0 {
		return RefreshResult{TaskStatus: "COMPLETED", Result: rec.Transcription.Result}, nil
	}
	if rec.Transcription.TaskID == "" || m.caps.Transcription == nil {
		return RefreshResult{Result: map[string]string{}}, nil
	}
	status, err := m.caps.Transcription.Status(ctx, rec.Transcription.TaskID)
	if err != nil {
		return RefreshResult{}, err
	}
	if !status.Completed() {
		return RefreshResult{TaskStatus: status.Status, Result: map[string]string{}}, nil
	}
	r := m.newRun(ctx, objectID)
	if err := r.save(ctx, registry.StageDownloadResults, 0.75, "result urls recorded", registry.Patch{
		"transcription": map[string]any{"result": status.Result},
	}); err != nil {
		return RefreshResult{}, err
	}
	if err := r.mark(ctx, registry.StepFetch); err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{TaskStatus: status.Status, Result: status.Result}, nil
}

// SlidesURL returns the slide deck URL recorded for objectID, falling back to
// the downloaded extraction document.
func (m *Manager) SlidesURL(ctx context.Context, objectID string) (string, error) {
	rec, err := m.store.Get(ctx, objectID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "slides", "load state", err)
	}
	url := ""
	if rec != nil {
		url = strings.TrimSpace(rec.Results.PDFPath)
	}
	if url == "" {
		url = transcript.PDFURL(m.files(objectID).ppt)
	}
	if url == "" {
		return "", services.Wrap(services.ErrNotFound, stageName, "slides", "slides not available", nil)
	}
	return url, nil
}

// SubtitlePath returns the subtitle file for objectID.
func (m *Manager) SubtitlePath(ctx context.Context, objectID string) (string, error) {
	rec, err := m.store.Get(ctx, objectID)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "subtitles", "load state", err)
	}
	if rec == nil {
		return "", services.Wrap(services.ErrNotFound, stageName, "subtitles", "no state recorded", nil)
	}
	if rec.Results.SRTPath == "" {
		return "", services.Wrap(services.ErrNotFound, stageName, "subtitles", "subtitles not generated", nil)
	}
	if !fileutil.Exists(rec.Results.SRTPath) {
		return "", services.Wrap(services.ErrNotFound, stageName, "subtitles", "subtitle file missing", nil)
	}
	return rec.Results.SRTPath, nil
}

// SearchResult is the answer to a keyword search within one video.
type SearchResult struct {
	Query   string            `json:"query"`
	VideoID string            `json:"video_id"`
	Index   string            `json:"index"`
	Count   int               `json:"count"`
	Hits    []searchindex.Hit `json:"hits"`
}

// Search queries the per-video index.
func (m *Manager) Search(ctx context.Context, query, videoID string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	videoID = strings.TrimSpace(videoID)
	if query == "" || videoID == "" {
		return SearchResult{}, services.Wrap(services.ErrValidation, stageName, "search", "q and videoId are required", nil)
	}
	if m.caps.Search == nil {
		return SearchResult{}, services.Wrap(services.ErrFeatureDisabled, stageName, "search", "search index not configured", nil)
	}
	index := searchindex.IndexName(m.cfg.Search.IndexPrefix, videoID)
	hits, err := m.caps.Search.Search(ctx, index, query, videoID, m.cfg.Search.ResultSize)
	if err != nil {
		return SearchResult{}, err
	}
	if hits == nil {
		hits = []searchindex.Hit{}
	}
	return SearchResult{Query: query, VideoID: videoID, Index: index, Count: len(hits), Hits: hits}, nil
}
