package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestResolveFFmpegPrefersEnv(t *testing.T) {
	envBin := writeStub(t, t.TempDir(), "ffmpeg-env")
	cfgBin := writeStub(t, t.TempDir(), "ffmpeg-cfg")
	t.Setenv(FFmpegEnv, envBin)

	status := ResolveFFmpeg(cfgBin)
	if !status.Available || status.Command != envBin || status.Source != "env" {
		t.Fatalf("expected env binary, got %#v", status)
	}
}

func TestResolveFFmpegIgnoresMissingEnvFile(t *testing.T) {
	cfgBin := writeStub(t, t.TempDir(), "ffmpeg-cfg")
	t.Setenv(FFmpegEnv, filepath.Join(t.TempDir(), "missing"))

	status := ResolveFFmpeg(cfgBin)
	if !status.Available || status.Command != cfgBin || status.Source != "config" {
		t.Fatalf("expected configured binary, got %#v", status)
	}
}

func TestResolveFFmpegFallsBackToPath(t *testing.T) {
	binDir := t.TempDir()
	pathBin := writeStub(t, binDir, "ffmpeg")
	t.Setenv(FFmpegEnv, "")
	t.Setenv("PATH", binDir)

	status := ResolveFFmpeg("")
	if !status.Available || status.Command != pathBin || status.Source != "path" {
		t.Fatalf("expected PATH binary, got %#v", status)
	}
}

func TestResolveFFmpegReportsMissing(t *testing.T) {
	t.Setenv(FFmpegEnv, "")
	t.Setenv("PATH", t.TempDir())

	status := ResolveFFmpeg("definitely-not-ffmpeg")
	if status.Available {
		t.Fatalf("expected ffmpeg to be unavailable, got %#v", status)
	}
	if status.Detail == "" {
		t.Fatal("expected detail for missing binary")
	}
}
