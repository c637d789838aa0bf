package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "TRANSCODING", "remux", "ffmpeg failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	for _, fragment := range []string{"TRANSCODING", "remux", "ffmpeg failed"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error string %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsMarkerAndDetail(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.Wrap(services.ErrValidation, "ingest", "segment", "bad index", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "ingest", "segment", "unknown upload", nil), http.StatusNotFound},
		{services.Wrap(services.ErrConflict, "ingest", "segment", "closed", nil), http.StatusConflict},
		{services.Wrap(services.ErrFeatureDisabled, "search", "query", "no index", nil), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := services.HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrTransient, "", "", "x", nil)) {
		t.Fatal("expected transient error to be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrValidation, "", "", "x", nil)) {
		t.Fatal("expected validation error not to be retryable")
	}
}
