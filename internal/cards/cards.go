// Package cards turns transcription results into searchable cards: one per
// transcript sentence and one per extracted slide.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/transcript"
)

const defaultConcurrency = 10

// OCR recognizes text on a slide image.
type OCR interface {
	Recognize(ctx context.Context, imageURL string) (string, error)
}

// Builder derives cards. A nil OCR leaves slide cards with the summary only.
type Builder struct {
	ocr         OCR
	concurrency int
	logger      *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(ocr OCR, concurrency int, logger *slog.Logger) *Builder {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{ocr: ocr, concurrency: concurrency, logger: logger}
}

// Build reads whichever of asrPath and pptPath exist and returns their cards.
// Unreadable documents contribute no cards.
func (b *Builder) Build(ctx context.Context, videoID, asrPath, pptPath string) ([]searchindex.Card, error) {
	var out []searchindex.Card
	if asrPath != "" && fileutil.Exists(asrPath) {
		doc, err := transcript.LoadASR(asrPath)
		if err != nil {
			logging.WarnWithContext(b.logger, "transcript unreadable; skipping sentence cards", "cards_asr_decode_failed",
				logging.String("path", asrPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "search will not cover the spoken transcript"),
			)
		} else {
			out = append(out, FromTranscript(videoID, doc)...)
		}
	}
	if pptPath != "" && fileutil.Exists(pptPath) {
		doc, err := transcript.LoadPPT(pptPath)
		if err != nil {
			logging.WarnWithContext(b.logger, "slide extraction unreadable; skipping slide cards", "cards_ppt_decode_failed",
				logging.String("path", pptPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "search will not cover slides"),
			)
		} else {
			slides, err := b.FromSlides(ctx, videoID, doc)
			if err != nil {
				return nil, err
			}
			out = append(out, slides...)
		}
	}
	return out, nil
}

// FromTranscript returns one card per sentence.
func FromTranscript(videoID string, doc *transcript.ASRDocument) []searchindex.Card {
	sentences := doc.Sentences()
	out := make([]searchindex.Card, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, searchindex.Card{
			VideoID:     videoID,
			Type:        searchindex.CardASR,
			Content:     normalize(s.Text),
			StartTimeMS: s.Start,
			EndTimeMS:   s.End,
			Metadata:    map[string]any{"speaker_id": s.Speaker},
		})
	}
	return out
}

// FromSlides returns one card per keyframe in document order. OCR runs with
// bounded concurrency and a failed recognition yields empty text.
func (b *Builder) FromSlides(ctx context.Context, videoID string, doc *transcript.PPTDocument) ([]searchindex.Card, error) {
	frames := doc.PptExtraction.KeyFrameList
	if len(frames) == 0 {
		return nil, nil
	}
	texts := make([]string, len(frames))
	if b.ocr != nil {
		var failures atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for i, frame := range frames {
			if strings.TrimSpace(frame.FileURL) == "" {
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				text, err := b.ocr.Recognize(gctx, frame.FileURL)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failures.Add(1)
					b.logger.Debug("slide ocr failed",
						logging.Int("frame", i),
						logging.String("image_url", frame.FileURL),
						logging.Error(err),
					)
					return nil
				}
				texts[i] = text
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("slide ocr: %w", err)
		}
		if n := failures.Load(); n > 0 {
			logging.WarnWithContext(b.logger, "slide ocr failed for some frames", "cards_ocr_partial",
				logging.Int("failed", int(n)),
				logging.Int("frames", len(frames)),
				logging.String(logging.FieldImpact, "affected slide cards carry the summary only"),
				logging.String(logging.FieldErrorHint, "check the ocr endpoint"),
			)
		}
	}

	out := make([]searchindex.Card, 0, len(frames))
	for i, frame := range frames {
		var id any = frame.ID.String()
		if n, ok := frame.ID.Int(); ok {
			id = n
		}
		out = append(out, searchindex.Card{
			VideoID:     videoID,
			Type:        searchindex.CardPPT,
			Content:     normalize(frame.Summary + "\n" + texts[i]),
			StartTimeMS: frame.Start,
			EndTimeMS:   frame.End,
			Metadata: map[string]any{
				"image_url":  frame.FileURL,
				"ai_summary": frame.Summary,
				"id":         id,
			},
		})
	}
	return out, nil
}

func normalize(content string) string {
	return strings.TrimSpace(norm.NFKC.String(content))
}
