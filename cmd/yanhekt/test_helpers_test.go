package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/daemonrun"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	runtime    *daemonrun.Runtime
	apiAddress string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	homeDir := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	cfg := testsupport.NewConfig(t)

	configPath := filepath.Join(homeDir, ".config", "yanhekt", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	rt, err := daemonrun.Assemble(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.Daemon.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = rt.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		runtime:    rt,
		apiAddress: rt.Daemon.Status().APIAddress,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, apiAddress, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if apiAddress != "" {
		flags = append(flags, "--api", apiAddress)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
