package pipeline

import (
	"context"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/services/objectstore"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
	"github.com/yang-kun-long/YanheKt-AI/internal/stage"
)

// ObjectStorage stages artifacts where the transcription service can read them.
type ObjectStorage interface {
	Upload(ctx context.Context, localPath, key string) (objectstore.UploadResult, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// TranscriptionService runs offline transcription tasks.
type TranscriptionService interface {
	Submit(ctx context.Context, fileURL string) (string, error)
	Status(ctx context.Context, taskID string) (transcription.TaskStatus, error)
	Download(ctx context.Context, url, dest string) error
}

// SearchIndex stores and queries cards.
type SearchIndex interface {
	EnsureIndex(ctx context.Context, name string) error
	BulkIndex(ctx context.Context, name string, cards []searchindex.Card) error
	Search(ctx context.Context, name, query, videoID string, size int) ([]searchindex.Hit, error)
}

// CardBuilder derives cards from downloaded result files.
type CardBuilder interface {
	Build(ctx context.Context, videoID, asrPath, pptPath string) ([]searchindex.Card, error)
}

// SubtitleWriter renders a subtitle file from a transcript and returns the
// number of cues written.
type SubtitleWriter func(asrPath, srtPath string) (int, error)

// Capabilities is the set of external collaborators. A nil member is a
// disabled feature.
type Capabilities struct {
	Storage       ObjectStorage
	Transcription TranscriptionService
	Search        SearchIndex
	Cards         CardBuilder
	Subtitles     SubtitleWriter
}

// Health reports each capability; members implementing stage.Checker are probed.
func (c Capabilities) Health(ctx context.Context) []stage.Health {
	entries := []struct {
		name    string
		present bool
		value   any
	}{
		{"storage", c.Storage != nil, c.Storage},
		{"transcription", c.Transcription != nil, c.Transcription},
		{"search", c.Search != nil, c.Search},
		{"cards", c.Cards != nil, c.Cards},
		{"subtitles", c.Subtitles != nil, nil},
	}
	out := make([]stage.Health, 0, len(entries))
	for _, entry := range entries {
		if !entry.present {
			out = append(out, stage.Disabled(entry.name))
			continue
		}
		if checker, ok := entry.value.(stage.Checker); ok {
			health := checker.HealthCheck(ctx)
			health.Name = entry.name
			out = append(out, health)
			continue
		}
		out = append(out, stage.Healthy(entry.name))
	}
	return out
}
