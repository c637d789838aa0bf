package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Remote capabilities stay disabled unless options say otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.TempUploadDir = filepath.Join(base, "tmp_uploads")
	cfgVal.Paths.FinalVideoDir = filepath.Join(base, "final_videos")
	cfgVal.Paths.InsightsDir = filepath.Join(base, "insights")
	cfgVal.Paths.ResultsDir = filepath.Join(base, "results")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithFFmpegPath pins the configured ffmpeg binary.
func WithFFmpegPath(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.FFmpeg.Path = path
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed. Each stub
// copies its input file to its last argument so remux calls produce output.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nin=\"\"\nwhile [ $# -gt 1 ]; do\n  if [ \"$1\" = \"-i\" ]; then in=\"$2\"; fi\n  shift\ndone\n[ -n \"$in\" ] && cp \"$in\" \"$1\"\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WithEmptyPath clears PATH so binary discovery finds nothing.
func WithEmptyPath() ConfigOption {
	return func(b *configBuilder) {
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", filepath.Join(b.baseDir, "empty-bin")); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
