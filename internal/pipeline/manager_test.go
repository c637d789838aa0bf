package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/cards"
	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/notifications"
	"github.com/yang-kun-long/YanheKt-AI/internal/pipeline"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
	"github.com/yang-kun-long/YanheKt-AI/internal/subtitles"
	"github.com/yang-kun-long/YanheKt-AI/internal/testsupport"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

const objectID = "0123456789abcdef"

type harness struct {
	cfg         *config.Config
	store       *registry.Store
	pool        *workflow.Pool
	manager     *pipeline.Manager
	storage     *fakeStorage
	transcriber *fakeTranscriber
	search      *fakeSearch
	sleeper     *recordingSleeper
}

type harnessOption func(*harness, *pipeline.Capabilities, *[]pipeline.Option)

func withoutSearch() harnessOption {
	return func(_ *harness, caps *pipeline.Capabilities, _ *[]pipeline.Option) {
		caps.Search = nil
	}
}

func withClock(clock *steppingClock) harnessOption {
	return func(_ *harness, _ *pipeline.Capabilities, opts *[]pipeline.Option) {
		*opts = append(*opts, pipeline.WithClock(clock.Now))
	}
}

func withNotifier(notifier *fakeNotifier) harnessOption {
	return func(_ *harness, _ *pipeline.Capabilities, opts *[]pipeline.Option) {
		*opts = append(*opts, pipeline.WithNotifier(notifier))
	}
}

func newHarness(t *testing.T, transcriber *fakeTranscriber, options ...harnessOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	h := &harness{
		cfg:         cfg,
		store:       testsupport.MustOpenRegistry(t, cfg),
		pool:        workflow.NewPool("pipelines", 2, logging.NewNop()),
		storage:     &fakeStorage{},
		transcriber: transcriber,
		search:      &fakeSearch{},
		sleeper:     &recordingSleeper{},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.pool.Close(ctx)
	})

	caps := pipeline.Capabilities{
		Storage:       h.storage,
		Transcription: h.transcriber,
		Search:        h.search,
		Cards:         cards.NewBuilder(nil, 0, logging.NewNop()),
		Subtitles:     subtitles.Generate,
	}
	opts := []pipeline.Option{pipeline.WithSleeper(h.sleeper.sleep)}
	for _, option := range options {
		option(h, &caps, &opts)
	}
	manager, err := pipeline.NewManager(cfg, h.store, h.pool, caps, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = manager
	return h
}

func (h *harness) writeArtifact(t *testing.T) {
	t.Helper()
	testsupport.WriteFile(t, h.cfg.FinalTSPath(objectID), 4096, 0x47)
}

func (h *harness) record(t *testing.T) *registry.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), objectID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rec
}

// waitSettled blocks until the record reaches want and the pool has released
// the object.
func (h *harness) waitSettled(t *testing.T, want registry.Stage) *registry.Record {
	t.Helper()
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		rec, err := h.store.Get(context.Background(), objectID)
		if err != nil || rec == nil || rec.Stage != want {
			return false
		}
		_, active := h.pool.Active(objectID)
		return !active
	})
	return h.record(t)
}

func TestStartRunsEveryPhaseToDone(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(transcription.TaskStatus{Status: "running"}, completed()))
	h.writeArtifact(t)

	res, err := h.manager.Start(context.Background(), objectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.OK || res.Running {
		t.Fatalf("unexpected start result %+v", res)
	}

	rec := h.waitSettled(t, registry.StageDone)
	if rec.Progress != 1.0 || rec.Attempts != 1 {
		t.Fatalf("progress=%v attempts=%d", rec.Progress, rec.Attempts)
	}
	for _, step := range []string{
		registry.StepStorageUpload, registry.StepSubmit, registry.StepFetch,
		registry.StepDownload, registry.StepIndex, registry.StepCleanup,
	} {
		if !rec.StepDone(step) {
			t.Errorf("step %s not recorded", step)
		}
	}
	wantKey := "insights/" + objectID + "/" + objectID + ".ts"
	if rec.Storage.RemoteKey != wantKey || !rec.Storage.Uploaded {
		t.Fatalf("storage state %+v", rec.Storage)
	}
	if rec.Transcription.TaskID != "task-1" || rec.Transcription.Result[transcription.ResultTranscription] != asrURL {
		t.Fatalf("transcription state %+v", rec.Transcription)
	}
	if rec.Results.PDFPath != "https://results.example/deck.pdf" {
		t.Fatalf("pdf path = %q", rec.Results.PDFPath)
	}
	for _, path := range []string{rec.Results.ASRPath, rec.Results.PPTPath, rec.Results.SRTPath} {
		if path == "" {
			t.Fatalf("result paths incomplete: %+v", rec.Results)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("result file %s: %v", path, err)
		}
	}
	srt, err := os.ReadFile(rec.Results.SRTPath)
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	if !strings.Contains(string(srt), "entropy measures disorder") {
		t.Fatalf("srt missing merged sentence:\n%s", srt)
	}

	written := h.search.cards()
	if len(written) != 3 {
		t.Fatalf("expected 2 transcript cards and 1 slide card, got %d", len(written))
	}
	for _, card := range written {
		if card.VideoID != objectID {
			t.Fatalf("card video id = %q", card.VideoID)
		}
	}
	if got := h.search.indices; len(got) != 1 || got[0] != searchindex.IndexName(h.cfg.Search.IndexPrefix, objectID) {
		t.Fatalf("indices = %v", got)
	}

	_, deleted := h.storage.counts()
	if len(deleted) != 1 || deleted[0] != wantKey {
		t.Fatalf("deleted = %v", deleted)
	}
	if got := h.sleeper.recorded(); !reflect.DeepEqual(got, []time.Duration{2 * time.Second}) {
		t.Fatalf("sleeps = %v", got)
	}

	var snapshot map[string]any
	data, err := os.ReadFile(h.cfg.InsightSnapshotPath(objectID))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot["stage"] != "DONE" || snapshot["progress"] != 1.0 {
		t.Fatalf("snapshot = %v", snapshot)
	}
}

func TestUploadRetriesWithGatewayBackoff(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	h.storage.outcomes = []uploadOutcome{
		{err: services.Wrap(services.ErrTransient, "storage", "upload", "http 503", nil)},
		{ok: false},
	}
	h.writeArtifact(t)

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitSettled(t, registry.StageDone)

	uploads, _ := h.storage.counts()
	if uploads != 3 {
		t.Fatalf("uploads = %d, want 3", uploads)
	}
	want := []time.Duration{2 * time.Second, time.Second}
	if got := h.sleeper.recorded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
}

func TestUploadExhaustionFailsWithoutLedgerEntry(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	failure := errors.New("access denied")
	h.storage.outcomes = []uploadOutcome{{err: failure}, {err: failure}, {err: failure}}
	h.writeArtifact(t)

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageFailed)
	if !strings.Contains(rec.Error, "upload failed after 3 attempts") {
		t.Fatalf("error = %q", rec.Error)
	}
	if rec.StepDone(registry.StepStorageUpload) {
		t.Fatal("upload step recorded after failure")
	}
	if got := h.sleeper.recorded(); !reflect.DeepEqual(got, []time.Duration{time.Second, time.Second}) {
		t.Fatalf("sleeps = %v", got)
	}
	if submits, _, _ := h.transcriber.counts(); submits != 0 {
		t.Fatalf("submits = %d", submits)
	}
}

func TestMissingArtifactFails(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageFailed)
	if !strings.Contains(rec.Message, "local artifact missing") {
		t.Fatalf("message = %q", rec.Message)
	}
	if uploads, _ := h.storage.counts(); uploads != 0 {
		t.Fatalf("uploads = %d", uploads)
	}
}

func TestTranscriptionFailureIsRecorded(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(transcription.TaskStatus{
		Status:       transcription.StatusFailed,
		ErrorMessage: "audio too short",
	}))
	h.writeArtifact(t)

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageFailed)
	if !strings.Contains(rec.Error, "transcription failed: audio too short") {
		t.Fatalf("error = %q", rec.Error)
	}
	if !rec.StepDone(registry.StepSubmit) || rec.StepDone(registry.StepFetch) {
		t.Fatalf("ledger = %v", rec.Once)
	}
}

func TestPollCeilingKeepsTaskForResume(t *testing.T) {
	clock := &steppingClock{now: time.Unix(1_700_000_000, 0), step: 30 * time.Second}
	h := newHarness(t, newFakeTranscriber(), withClock(clock))
	h.cfg.Transcription.MaxPollSeconds = 60
	h.writeArtifact(t)

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageFailed)
	if !strings.Contains(rec.Error, "resume to keep polling") {
		t.Fatalf("error = %q", rec.Error)
	}
	if rec.Transcription.TaskID != "task-1" {
		t.Fatalf("task id = %q", rec.Transcription.TaskID)
	}

	h.transcriber.mu.Lock()
	h.transcriber.statuses = []transcription.TaskStatus{completed()}
	h.transcriber.mu.Unlock()
	if err := h.manager.Resume(context.Background(), objectID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.waitSettled(t, registry.StageDone)
	if submits, _, _ := h.transcriber.counts(); submits != 1 {
		t.Fatalf("submits = %d, want 1", submits)
	}
}

func TestResumeAfterFetchSkipsUploadAndPolling(t *testing.T) {
	h := newHarness(t, newFakeTranscriber())
	h.writeArtifact(t)
	ctx := context.Background()
	testsupport.MustUpsert(t, h.store, objectID, registry.Patch{
		"stage":   "FAILED",
		"storage": map[string]any{"remoteKey": "insights/" + objectID + "/" + objectID + ".ts"},
		"transcription": map[string]any{
			"taskId": "task-9",
			"result": map[string]any{
				transcription.ResultTranscription: asrURL,
				transcription.ResultPptExtraction: pptURL,
			},
		},
	})
	for _, step := range []string{registry.StepStorageUpload, registry.StepSubmit, registry.StepFetch} {
		if _, err := h.store.MarkStep(ctx, objectID, step); err != nil {
			t.Fatalf("MarkStep: %v", err)
		}
	}

	if err := h.manager.Resume(ctx, objectID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec := h.waitSettled(t, registry.StageDone)

	uploads, _ := h.storage.counts()
	submits, polls, downloads := h.transcriber.counts()
	if uploads != 0 || submits != 0 || polls != 0 {
		t.Fatalf("uploads=%d submits=%d polls=%d", uploads, submits, polls)
	}
	if downloads != 2 {
		t.Fatalf("downloads = %d", downloads)
	}
	if rec.Transcription.TaskID != "task-9" {
		t.Fatalf("task id overwritten: %q", rec.Transcription.TaskID)
	}
}

func TestIndexFailureIsRetriedOnResume(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	h.search.failNext = 1
	h.writeArtifact(t)
	ctx := context.Background()

	if _, err := h.manager.Start(ctx, objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageFailed)
	if !strings.Contains(rec.Error, "index write failed") {
		t.Fatalf("error = %q", rec.Error)
	}
	if rec.StepDone(registry.StepIndex) || !rec.StepDone(registry.StepDownload) {
		t.Fatalf("ledger = %v", rec.Once)
	}

	if err := h.manager.Resume(ctx, objectID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	rec = h.waitSettled(t, registry.StageDone)
	if !rec.StepDone(registry.StepIndex) {
		t.Fatal("index step not recorded after resume")
	}
	if _, _, downloads := h.transcriber.counts(); downloads != 2 {
		t.Fatalf("downloads = %d, results were fetched again", downloads)
	}
	if len(h.search.cards()) != 3 {
		t.Fatalf("cards = %d", len(h.search.cards()))
	}
}

func TestSearchDisabledSkipsIndexWithoutLedgerEntry(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()), withoutSearch())
	h.writeArtifact(t)

	if _, err := h.manager.Start(context.Background(), objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageDone)
	if rec.StepDone(registry.StepIndex) {
		t.Fatal("index step recorded without a search backend")
	}

	_, err := h.manager.Search(context.Background(), "entropy", objectID)
	if !errors.Is(err, services.ErrFeatureDisabled) {
		t.Fatalf("Search error = %v", err)
	}
	if services.HTTPStatus(err) != 503 {
		t.Fatalf("status = %d", services.HTTPStatus(err))
	}
}

func TestStartWhileRunningReportsCurrentStage(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	testsupport.MustUpsert(t, h.store, objectID, registry.StagePatch(registry.StagePoll, 0.42, "status: RUNNING"))

	res, err := h.manager.Start(context.Background(), objectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.OK || !res.Running || res.Stage != registry.StagePoll || res.Progress != 0.42 {
		t.Fatalf("unexpected start result %+v", res)
	}
	if _, active := h.pool.Active(objectID); active {
		t.Fatal("a second run was launched")
	}
}

func TestStartIncrementsAttemptsAndKeepsLedger(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	h.writeArtifact(t)
	ctx := context.Background()

	if _, err := h.manager.Start(ctx, objectID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitSettled(t, registry.StageDone)
	if _, err := h.manager.Start(ctx, objectID); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	rec := h.waitSettled(t, registry.StageDone)
	if rec.Attempts != 2 {
		t.Fatalf("attempts = %d", rec.Attempts)
	}
	if uploads, _ := h.storage.counts(); uploads != 1 {
		t.Fatalf("uploads = %d, ledger was not honoured", uploads)
	}
}

func TestStartRejectsMalformedObjectID(t *testing.T) {
	h := newHarness(t, newFakeTranscriber())
	for _, id := range []string{"", "short", "0123456789ABCDEF", "0123456789abcdeg"} {
		if _, err := h.manager.Start(context.Background(), id); !errors.Is(err, services.ErrValidation) {
			t.Errorf("Start(%q) error = %v", id, err)
		}
	}
}

func TestStatusLaunchesPostProcessing(t *testing.T) {
	h := newHarness(t, newFakeTranscriber())
	ctx := context.Background()
	key := "insights/" + objectID + "/" + objectID + ".mp4"
	testsupport.MustUpsert(t, h.store, objectID, registry.Patch{
		"stage":   "DOWNLOAD_RESULTS",
		"storage": map[string]any{"remoteKey": key},
		"transcription": map[string]any{
			"taskId": "task-1",
			"result": map[string]any{transcription.ResultTranscription: asrURL},
		},
	})

	rec, err := h.manager.Status(ctx, objectID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !rec.StepDone(registry.StepKickDownload) {
		t.Fatal("post-process trigger not recorded")
	}
	rec = h.waitSettled(t, registry.StageDone)
	if rec.Results.ASRPath == "" || rec.Results.PPTPath != "" {
		t.Fatalf("results = %+v", rec.Results)
	}
	if _, deleted := h.storage.counts(); len(deleted) != 1 || deleted[0] != key {
		t.Fatalf("deleted = %v", deleted)
	}
	if _, polls, _ := h.transcriber.counts(); polls != 0 {
		t.Fatalf("polls = %d", polls)
	}
}

func TestStatusThrottlesPostProcessAfterFailure(t *testing.T) {
	clock := &steppingClock{now: time.Now()}
	notifier := &fakeNotifier{}
	h := newHarness(t, newFakeTranscriber(), withClock(clock), withNotifier(notifier))
	ctx := context.Background()
	testsupport.MustUpsert(t, h.store, objectID, registry.Patch{
		"stage": "FAILED",
		"error": "download failed",
		"transcription": map[string]any{
			"taskId": "task-1",
			"result": map[string]any{transcription.ResultTranscription: "https://results.example/gone.json"},
		},
	})

	rec, err := h.manager.Status(ctx, objectID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.StepDone(registry.StepKickDownload) {
		t.Fatal("fresh failure should not relaunch post-processing")
	}

	clock.set(time.Now().Add(2 * time.Minute))
	if _, err := h.manager.Status(ctx, objectID); err != nil {
		t.Fatalf("Status: %v", err)
	}
	h.waitSettled(t, registry.StageFailed)

	clock.set(time.Now())
	for range 3 {
		if _, err := h.manager.Status(ctx, objectID); err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	h.waitSettled(t, registry.StageFailed)
	if _, _, downloads := h.transcriber.counts(); downloads != 1 {
		t.Fatalf("downloads = %d", downloads)
	}
	if got := notifier.count(notifications.EventInsightFailed); got != 1 {
		t.Fatalf("failure notifications = %d", got)
	}
}

func TestResumeReportsConflictDuringPostProcess(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	h.writeArtifact(t)
	testsupport.MustUpsert(t, h.store, objectID, registry.StagePatch(registry.StageCheck, 0, ""))
	release := make(chan struct{})
	task, started, err := h.pool.Submit(objectID, pipeline.KindPostProcess, func(context.Context) error {
		<-release
		return nil
	})
	if err != nil || !started {
		t.Fatalf("Submit = %v, %v", started, err)
	}

	err = h.manager.Resume(context.Background(), objectID)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if info, _ := h.pool.Active(objectID); info.Kind != pipeline.KindPostProcess {
		t.Fatalf("active kind = %q", info.Kind)
	}

	close(release)
	<-task.Done()
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		_, active := h.pool.Active(objectID)
		return !active
	})
	if err := h.manager.Resume(context.Background(), objectID); err != nil {
		t.Fatalf("Resume after post-process: %v", err)
	}
	h.waitSettled(t, registry.StageDone)
}

func TestStatusUnknownObject(t *testing.T) {
	h := newHarness(t, newFakeTranscriber())
	rec, err := h.manager.Status(context.Background(), objectID)
	if err != nil || rec != nil {
		t.Fatalf("Status = %+v, %v", rec, err)
	}
}

func TestRecoverResumesInFlightRecords(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	h.writeArtifact(t)
	testsupport.MustUpsert(t, h.store, objectID, registry.StagePatch(registry.StageStorageUpload, 0.11, "upload attempt 1/3"))
	testsupport.MustUpsert(t, h.store, "fedcba9876543210", registry.StagePatch(registry.StageDone, 1, "insight complete"))

	launched, err := h.manager.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if launched != 1 {
		t.Fatalf("launched = %d", launched)
	}
	h.waitSettled(t, registry.StageDone)
}

func TestEnsureResultURLs(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	ctx := context.Background()

	if _, err := h.manager.EnsureResultURLs(ctx, objectID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown object error = %v", err)
	}

	testsupport.MustUpsert(t, h.store, objectID, registry.Patch{
		"stage":         "FAILED",
		"transcription": map[string]any{"taskId": "task-1"},
	})
	res, err := h.manager.EnsureResultURLs(ctx, objectID)
	if err != nil {
		t.Fatalf("EnsureResultURLs: %v", err)
	}
	if res.TaskStatus != transcription.StatusCompleted || res.Result[transcription.ResultPptExtraction] != pptURL {
		t.Fatalf("result = %+v", res)
	}
	rec := h.record(t)
	if !rec.StepDone(registry.StepFetch) || rec.Stage != registry.StageDownloadResults {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := h.manager.EnsureResultURLs(ctx, objectID); err != nil {
		t.Fatalf("second EnsureResultURLs: %v", err)
	}
	if _, polls, _ := h.transcriber.counts(); polls != 1 {
		t.Fatalf("polls = %d, recorded urls should be reused", polls)
	}
}

func TestSlidesAndSubtitleLookups(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(completed()))
	ctx := context.Background()

	if _, err := h.manager.SlidesURL(ctx, objectID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("SlidesURL error = %v", err)
	}
	if _, err := h.manager.SubtitlePath(ctx, objectID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("SubtitlePath error = %v", err)
	}

	testsupport.WriteBytes(t, h.cfg.ResultPath(objectID, pipeline.SuffixPPT), []byte(pptDocument))
	url, err := h.manager.SlidesURL(ctx, objectID)
	if err != nil || url != "https://results.example/deck.pdf" {
		t.Fatalf("SlidesURL = %q, %v", url, err)
	}

	srt := h.cfg.ResultPath(objectID, pipeline.SuffixSubtitles)
	testsupport.MustUpsert(t, h.store, objectID, registry.Patch{"results": map[string]any{"srtPath": srt}})
	if _, err := h.manager.SubtitlePath(ctx, objectID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing file error = %v", err)
	}
	testsupport.WriteBytes(t, srt, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"))
	got, err := h.manager.SubtitlePath(ctx, objectID)
	if err != nil || got != srt {
		t.Fatalf("SubtitlePath = %q, %v", got, err)
	}
}

func TestSearchQueriesPerVideoIndex(t *testing.T) {
	h := newHarness(t, newFakeTranscriber())
	h.search.hits = []searchindex.Hit{{Type: searchindex.CardASR, Content: "entropy", StartMS: 1000, TimeStr: "00:00:01"}}
	ctx := context.Background()

	if _, err := h.manager.Search(ctx, " ", objectID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("blank query error = %v", err)
	}
	res, err := h.manager.Search(ctx, "entropy", objectID)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Count != 1 || res.VideoID != objectID || res.Index != searchindex.IndexName(h.cfg.Search.IndexPrefix, objectID) {
		t.Fatalf("result = %+v", res)
	}
}

func TestCapabilityHealth(t *testing.T) {
	h := newHarness(t, newFakeTranscriber(), withoutSearch())
	health := h.manager.Health(context.Background())
	states := map[string]bool{}
	for _, entry := range health {
		states[entry.Name] = entry.Disabled
	}
	if !states["search"] || states["storage"] || states["transcription"] {
		t.Fatalf("health = %+v", health)
	}
}
