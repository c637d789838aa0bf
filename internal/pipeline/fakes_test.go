package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/objectstore"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
)

const (
	asrURL = "https://results.example/asr.json"
	pptURL = "https://results.example/ppt.json"

	asrDocument = `{"Transcription":{"Paragraphs":[
  {"SpeakerId":"1","Words":[
    {"SentenceId":1,"Start":0,"End":400,"Text":"entropy"},
    {"SentenceId":1,"Start":400,"End":900,"Text":" measures disorder"},
    {"SentenceId":2,"Start":1000,"End":1800,"Text":"next topic"}
  ]}
]}}`
	pptDocument = `{"PptExtraction":{"PdfPath":"https://results.example/deck.pdf","KeyFrameList":[
  {"Id":1,"Start":0,"End":60000,"FileUrl":"https://img/1.png","Summary":"Entropy"}
]}}`
)

type fakeStorage struct {
	mu       sync.Mutex
	uploads  int
	outcomes []uploadOutcome
	deleted  []string
	signed   []string
}

type uploadOutcome struct {
	ok  bool
	err error
}

func (f *fakeStorage) Upload(_ context.Context, _ string, key string) (objectstore.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if len(f.outcomes) > 0 {
		next := f.outcomes[0]
		f.outcomes = f.outcomes[1:]
		return objectstore.UploadResult{OK: next.ok, Key: key}, next.err
	}
	return objectstore.UploadResult{OK: true, Key: key}, nil
}

func (f *fakeStorage) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signed = append(f.signed, key)
	return "https://bucket.example/" + key + "?sig=abc", nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return errors.New("delete denied")
}

func (f *fakeStorage) counts() (uploads int, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, append([]string(nil), f.deleted...)
}

type fakeTranscriber struct {
	mu        sync.Mutex
	submits   []string
	statuses  []transcription.TaskStatus
	polls     int
	downloads int
	documents map[string]string
}

func newFakeTranscriber(statuses ...transcription.TaskStatus) *fakeTranscriber {
	return &fakeTranscriber{
		statuses:  statuses,
		documents: map[string]string{asrURL: asrDocument, pptURL: pptDocument},
	}
}

func completed() transcription.TaskStatus {
	return transcription.TaskStatus{
		Status: transcription.StatusCompleted,
		Result: map[string]string{
			transcription.ResultTranscription: asrURL,
			transcription.ResultPptExtraction: pptURL,
		},
	}
}

func (f *fakeTranscriber) Submit(_ context.Context, fileURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, fileURL)
	return "task-1", nil
}

func (f *fakeTranscriber) Status(_ context.Context, _ string) (transcription.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.statuses) == 0 {
		return transcription.TaskStatus{Status: transcription.StatusOngoing}, nil
	}
	next := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return next, nil
}

func (f *fakeTranscriber) Download(_ context.Context, url, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	doc, ok := f.documents[url]
	if !ok {
		return errors.New("unknown url")
	}
	return fileutil.WriteFileAtomic(dest, []byte(doc), 0o644)
}

func (f *fakeTranscriber) counts() (submits, polls, downloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits), f.polls, f.downloads
}

type fakeSearch struct {
	mu       sync.Mutex
	indices  []string
	written  []searchindex.Card
	failNext int
	hits     []searchindex.Hit
	queries  []string
}

func (f *fakeSearch) EnsureIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indices = append(f.indices, name)
	return nil
}

func (f *fakeSearch) BulkIndex(_ context.Context, _ string, cards []searchindex.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("bulk rejected")
	}
	f.written = append(f.written, cards...)
	return nil
}

func (f *fakeSearch) Search(_ context.Context, name, query, videoID string, _ int) ([]searchindex.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, name+"|"+query+"|"+videoID)
	return f.hits, nil
}

func (f *fakeSearch) cards() []searchindex.Card {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchindex.Card(nil), f.written...)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (f *fakeNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) count(event notifications.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}
