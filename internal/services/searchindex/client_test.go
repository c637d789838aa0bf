package searchindex_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
)

type fakeCluster struct {
	mu       sync.Mutex
	indices  map[string]bool
	docs     map[string][]searchindex.Card
	ids      map[string]map[string]int
	rejectAt int
	lastBody map[string]any
}

func newFakeCluster(t *testing.T) (*fakeCluster, *searchindex.Client) {
	t.Helper()
	fc := &fakeCluster{indices: map[string]bool{}, docs: map[string][]searchindex.Card{}, ids: map[string]map[string]int{}, rejectAt: -1}
	server := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(server.Close)
	client, err := searchindex.NewClient(searchindex.Config{Addresses: []string{server.URL}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return fc, client
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	fc.mu.Lock()
	defer fc.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodHead && path == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && !strings.Contains(path, "/"):
		if fc.indices[path] {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception","reason":"exists"},"status":400}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fc.lastBody = body
		fc.indices[path] = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(path, "_bulk"):
		fc.bulk(w, r)
	case strings.HasSuffix(path, "_search"):
		index := strings.TrimSuffix(path, "/_search")
		if !fc.indices[index] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fc.lastBody = body
		fc.search(w, index, body)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	}
}

func (fc *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	type item map[string]map[string]any
	var items []item
	hasErrors := false
	n := 0
	for scanner.Scan() {
		var action map[string]map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			continue
		}
		if !scanner.Scan() {
			break
		}
		var card searchindex.Card
		_ = json.Unmarshal(scanner.Bytes(), &card)
		index := action["index"]["_index"]
		if n == fc.rejectAt {
			hasErrors = true
			items = append(items, item{"index": {"status": 400, "error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad field"}}})
		} else {
			fc.store(index, action["index"]["_id"], card)
			items = append(items, item{"index": {"status": 201}})
		}
		n++
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": hasErrors, "items": items})
}

// store indexes card, replacing an earlier document with the same id.
func (fc *fakeCluster) store(index, id string, card searchindex.Card) {
	if id == "" {
		fc.docs[index] = append(fc.docs[index], card)
		return
	}
	if fc.ids[index] == nil {
		fc.ids[index] = map[string]int{}
	}
	if pos, ok := fc.ids[index][id]; ok {
		fc.docs[index][pos] = card
		return
	}
	fc.ids[index][id] = len(fc.docs[index])
	fc.docs[index] = append(fc.docs[index], card)
}

func (fc *fakeCluster) search(w http.ResponseWriter, index string, body map[string]any) {
	query := body["query"].(map[string]any)["bool"].(map[string]any)
	match := query["must"].([]any)[0].(map[string]any)["match"].(map[string]any)["content"].(string)
	videoID := query["filter"].([]any)[0].(map[string]any)["term"].(map[string]any)["video_id"].(string)
	var hits []map[string]any
	for _, card := range fc.docs[index] {
		if card.VideoID == videoID && strings.Contains(card.Content, match) {
			hits = append(hits, map[string]any{"_score": 1.5, "_source": card})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
}

func TestIndexNameSanitizes(t *testing.T) {
	cases := map[string]string{
		"12345":      "yanhe-video-12345",
		"AbC 9/x_-y": "yanhe-video-abc9x_-y",
		"课程42":       "yanhe-video-42",
	}
	for in, want := range cases {
		if got := searchindex.IndexName("yanhe-video-", in); got != want {
			t.Fatalf("IndexName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := searchindex.IndexName("", "7"); got != "yanhe-video-7" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestEnsureIndexIsIdempotent(t *testing.T) {
	fc, client := newFakeCluster(t)
	ctx := context.Background()
	if err := client.EnsureIndex(ctx, "yanhe-video-1"); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	props := fc.lastBody["mappings"].(map[string]any)["properties"].(map[string]any)
	if props["video_id"].(map[string]any)["type"] != "keyword" {
		t.Fatalf("unexpected mapping: %v", props)
	}
	if props["metadata"].(map[string]any)["enabled"] != false {
		t.Fatalf("metadata should not be indexed: %v", props)
	}
	if err := client.EnsureIndex(ctx, "yanhe-video-1"); err != nil {
		t.Fatalf("EnsureIndex on existing index: %v", err)
	}
}

func TestBulkIndexAndSearch(t *testing.T) {
	_, client := newFakeCluster(t)
	ctx := context.Background()
	index := searchindex.IndexName("", "42")
	if err := client.EnsureIndex(ctx, index); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	cards := []searchindex.Card{
		{VideoID: "42", Type: searchindex.CardASR, Content: "today we study entropy", StartTimeMS: 3_723_000, EndTimeMS: 3_725_000},
		{VideoID: "42", Type: searchindex.CardPPT, Content: "Entropy slide", StartTimeMS: 10, EndTimeMS: 20, Metadata: map[string]any{"id": "k1"}},
		{VideoID: "43", Type: searchindex.CardASR, Content: "entropy elsewhere"},
	}
	if err := client.BulkIndex(ctx, index, cards); err != nil {
		t.Fatalf("BulkIndex: %v", err)
	}

	hits, err := client.Search(ctx, index, "entropy", "42", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %+v", hits)
	}
	if hits[0].Type != "ASR" || hits[0].StartMS != 3_723_000 || hits[0].TimeStr != "01:02:03" || hits[0].Score != 1.5 {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
}

func TestBulkIndexReportsRejectedItems(t *testing.T) {
	fc, client := newFakeCluster(t)
	fc.rejectAt = 1
	err := client.BulkIndex(context.Background(), "yanhe-video-1", []searchindex.Card{
		{VideoID: "1", Type: "ASR", Content: "a"},
		{VideoID: "1", Type: "ASR", Content: "b"},
	})
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected rejected item error, got %v", err)
	}
}

func TestBulkIndexRetryDoesNotDuplicate(t *testing.T) {
	fc, client := newFakeCluster(t)
	ctx := context.Background()
	cards := []searchindex.Card{
		{VideoID: "1", Type: "ASR", Content: "alpha", StartTimeMS: 0},
		{VideoID: "1", Type: "ASR", Content: "beta", StartTimeMS: 0},
		{VideoID: "1", Type: "PPT", Content: "slide", StartTimeMS: 0},
	}

	fc.rejectAt = 2
	if err := client.BulkIndex(ctx, "yanhe-video-1", cards); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected partial rejection, got %v", err)
	}
	fc.rejectAt = -1
	if err := client.BulkIndex(ctx, "yanhe-video-1", cards); err != nil {
		t.Fatalf("BulkIndex retry: %v", err)
	}
	if err := client.BulkIndex(ctx, "yanhe-video-1", cards); err != nil {
		t.Fatalf("BulkIndex repeat: %v", err)
	}

	fc.mu.Lock()
	stored := len(fc.docs["yanhe-video-1"])
	fc.mu.Unlock()
	if stored != len(cards) {
		t.Fatalf("expected %d documents after retries, got %d", len(cards), stored)
	}
}

func TestDocumentIDIsStable(t *testing.T) {
	card := searchindex.Card{VideoID: "abc", Type: "PPT", StartTimeMS: 1500}
	if got := searchindex.DocumentID(card, 0); got != "abc/ppt/1500/0" {
		t.Fatalf("DocumentID = %q", got)
	}
	if searchindex.DocumentID(card, 0) == searchindex.DocumentID(card, 1) {
		t.Fatal("ordinals must separate cards sharing a start time")
	}
	card.Type = "ASR"
	if searchindex.DocumentID(card, 0) == "abc/ppt/1500/0" {
		t.Fatal("card type must be part of the id")
	}
}

func TestSearchMissingIndexReturnsNoHits(t *testing.T) {
	_, client := newFakeCluster(t)
	hits, err := client.Search(context.Background(), "yanhe-video-none", "x", "none", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := searchindex.NewClient(searchindex.Config{Addresses: []string{" "}}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFormatClock(t *testing.T) {
	if got := searchindex.FormatClock(0); got != "00:00:00" {
		t.Fatalf("unexpected %q", got)
	}
	if got := searchindex.FormatClock(59_999); got != "00:00:59" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestHealthCheckPingsCluster(t *testing.T) {
	_, client := newFakeCluster(t)
	if health := client.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected ready cluster, got %+v", health)
	}
}
