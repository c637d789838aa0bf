package ffmpeg_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/media/ffmpeg"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRemuxPassesCopyArguments(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := writeScript(t, "echo \"$@\" > "+argsFile+"\nfor last; do :; done\necho mp4 > \"$last\"\n")
	src := filepath.Join(dir, "in.ts")
	dst := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(src, []byte("ts"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ffmpeg.NewRemuxer(bin, time.Minute).Remux(context.Background(), src, dst); err != nil {
		t.Fatalf("Remux: %v", err)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "-y -loglevel error -i " + src + " -c copy " + dst
	if strings.TrimSpace(string(args)) != want {
		t.Fatalf("unexpected args: %q want %q", strings.TrimSpace(string(args)), want)
	}
}

func TestRemuxFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, "for last; do :; done\necho partial > \"$last\"\necho 'invalid data' >&2\nexit 1\n")
	dst := filepath.Join(dir, "out.mp4")

	err := ffmpeg.NewRemuxer(bin, 0).Remux(context.Background(), filepath.Join(dir, "in.ts"), dst)
	if err == nil {
		t.Fatal("expected remux error")
	}
	if !strings.Contains(err.Error(), "invalid data") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial output removed, stat err=%v", statErr)
	}
}

func TestRemuxRequiresBinary(t *testing.T) {
	if err := ffmpeg.NewRemuxer("", 0).Remux(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error without binary")
	}
}
