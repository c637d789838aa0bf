package transcription_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/services/transcription"
)

func newClient(t *testing.T, handler http.HandlerFunc) *transcription.Client {
	t.Helper()
	client, _ := newClientWithURL(t, handler)
	return client
}

func newClientWithURL(t *testing.T, handler http.HandlerFunc) (*transcription.Client, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return transcription.NewClient(transcription.Config{
		BaseURL: server.URL,
		AppKey:  "app-key",
		APIKey:  "secret",
	}, transcription.WithHTTPClient(server.Client()), transcription.WithSleeper(func(time.Duration) {})), server.URL
}

func TestSubmitSendsOfflineTask(t *testing.T) {
	var captured map[string]any
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.URL.Path != "/openapi/tingwu/v2/tasks" || r.URL.Query().Get("type") != "offline" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"Code":"0","Data":{"TaskId":"task-1","TaskStatus":"ONGOING"}}`))
	})

	taskID, err := client.Submit(context.Background(), "https://bucket.example/a.mp4?sig=1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "task-1" {
		t.Fatalf("unexpected task id %q", taskID)
	}
	if captured["AppKey"] != "app-key" {
		t.Fatalf("app key not sent: %v", captured)
	}
	input := captured["Input"].(map[string]any)
	if input["FileUrl"] != "https://bucket.example/a.mp4?sig=1" || input["SourceLanguage"] != "auto" {
		t.Fatalf("unexpected input: %v", input)
	}
	params := captured["Parameters"].(map[string]any)
	if params["PptExtractionEnabled"] != true {
		t.Fatalf("slide extraction not requested: %v", params)
	}
	if params["Transcription"].(map[string]any)["DiarizationEnabled"] != true {
		t.Fatalf("diarization not requested: %v", params)
	}
}

func TestSubmitRejectsAPIErrorAndEmptyTaskID(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Code":"InvalidAppKey","Message":"bad key"}`))
	})
	if _, err := client.Submit(context.Background(), "https://x"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	empty := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Code":"0","Data":{"TaskId":""}}`))
	})
	if _, err := empty.Submit(context.Background(), "https://x"); err == nil || !strings.Contains(err.Error(), "task id") {
		t.Fatalf("expected missing task id error, got %v", err)
	}
}

func TestSubmitIsNotResentAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"Code":"0","Data":{"TaskId":"task-dup"}}`))
	}))
	t.Cleanup(server.Close)
	client := transcription.NewClient(transcription.Config{
		BaseURL: server.URL,
		AppKey:  "app-key",
		APIKey:  "secret",
	}, transcription.WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}),
		transcription.WithSleeper(func(time.Duration) {}))

	_, err := client.Submit(context.Background(), "https://bucket.example/a.mp4")
	if err == nil {
		t.Fatal("expected submit to fail after the timeout")
	}
	if !services.Retryable(err) {
		t.Fatalf("expected a retryable classification for resume, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("submit was resent: %d requests", calls.Load())
	}
}

func TestSubmitRetriesFailedDial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Code":"0","Data":{"TaskId":"task-2"}}`))
	}))
	t.Cleanup(server.Close)
	var dials atomic.Int32
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if dials.Add(1) == 1 {
				return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
			}
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	t.Cleanup(transport.CloseIdleConnections)
	client := transcription.NewClient(transcription.Config{
		BaseURL: server.URL,
		AppKey:  "app-key",
		APIKey:  "secret",
	}, transcription.WithHTTPClient(&http.Client{Transport: transport}),
		transcription.WithSleeper(func(time.Duration) {}))

	taskID, err := client.Submit(context.Background(), "https://bucket.example/a.mp4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "task-2" || dials.Load() != 2 {
		t.Fatalf("unexpected task %q after %d dials", taskID, dials.Load())
	}
}

func TestSubmitDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, err := client.Submit(context.Background(), "https://bucket.example/a.mp4"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestStatusRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openapi/tingwu/v2/tasks/task-9" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Code":"0","Data":{"TaskId":"task-9","TaskStatus":"COMPLETED","Result":{"Transcription":"https://r/asr.json","PptExtraction":"https://r/ppt.json","Chapters":{"ignored":true}}}}`))
	})

	status, err := client.Status(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
	if !status.Completed() || status.Failed() {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Result[transcription.ResultTranscription] != "https://r/asr.json" ||
		status.Result[transcription.ResultPptExtraction] != "https://r/ppt.json" {
		t.Fatalf("unexpected result urls %+v", status.Result)
	}
	if _, ok := status.Result["Chapters"]; ok {
		t.Fatalf("non-string result entries should be dropped")
	}
}

func TestStatusExhaustedRetriesAreTransient(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Status(context.Background(), "task-1")
	if !errors.Is(err, services.ErrTransient) || !services.Retryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStatusDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	if _, err := client.Status(context.Background(), "task-1"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestDownloadWritesValidJSON(t *testing.T) {
	client, server := newClientWithURL(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.json":
			_, _ = w.Write([]byte(`{"Transcription":{"Paragraphs":[]}}`))
		default:
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}
	})
	dir := t.TempDir()

	dest := filepath.Join(dir, "abc_ASR_Result.json")
	if err := client.Download(context.Background(), server+"/good.json", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || !strings.Contains(string(data), "Paragraphs") {
		t.Fatalf("unexpected file contents %q %v", data, err)
	}

	bad := filepath.Join(dir, "abc_PPT_Result.json")
	if err := client.Download(context.Background(), server+"/bad.json", bad); err == nil {
		t.Fatalf("expected invalid json to be rejected")
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Fatalf("invalid download should not leave a file, stat err=%v", err)
	}
}
