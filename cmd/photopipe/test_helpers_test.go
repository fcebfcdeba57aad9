package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"photopipe/internal/config"
	"photopipe/internal/coordinator"
	"photopipe/internal/daemon"
	"photopipe/internal/ipc"
	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/taskstore"
	"photopipe/internal/testsupport"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, jobqueue.Job) error { return nil }

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	socketPath string
	redis      *miniredis.Miniredis
}

// newCLIConfig writes a config file backed by temp directories and an
// in-memory Redis server.
func newCLIConfig(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	redis := miniredis.RunT(t)
	opts = append(opts, testsupport.WithRedis(redis.Addr()))
	cfg := testsupport.NewConfig(t, opts...)
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		socketPath: filepath.Join(testsupport.BaseDir(cfg), "missing.sock"),
		redis:      redis,
	}
}

// setupCLITestEnv additionally serves a daemon over IPC. The coordinator is
// left stopped.
func setupCLITestEnv(t *testing.T) (*cliTestEnv, *taskstore.Adapter) {
	t.Helper()

	env := newCLIConfig(t)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := testsupport.MustOpenStore(t, env.cfg)
	logger := logging.NewNop()
	coord := coordinator.New(store, nopDispatcher{}, coordinator.Options{PollInterval: time.Hour})
	d, err := daemon.New(env.cfg, store, coord, logger, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.socketPath = env.cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})
	return env, store
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, e.socketPath, e.configPath)
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[queue]\nredis_addr = %q\n\n[templates]\nrc_setting_dir = %q\nblack_image = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Queue.RedisAddr,
		cfg.Templates.RCSettingDir,
		cfg.Templates.BlackImage,
	)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
