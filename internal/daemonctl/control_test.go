package daemonctl_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"photopipe/internal/coordinator"
	"photopipe/internal/daemon"
	"photopipe/internal/daemonctl"
	"photopipe/internal/ipc"
	"photopipe/internal/jobqueue"
	"photopipe/internal/logging"
	"photopipe/internal/testsupport"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, jobqueue.Job) error { return nil }

func TestEnsureStartedUsesRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	coord := coordinator.New(store, nopDispatcher{}, coordinator.Options{PollInterval: time.Hour})
	d, err := daemon.New(cfg, store, coord, logger, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	// An empty executable path proves no launch is attempted.
	result, err := daemonctl.EnsureStarted(cfg.SocketPath(), "", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateStarted || result.Launched {
		t.Fatalf("unexpected result %#v", result)
	}

	result, err = daemonctl.EnsureStarted(cfg.SocketPath(), "", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("second EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning {
		t.Fatalf("expected already running, got %#v", result)
	}
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "absent.sock")
	_, err := daemonctl.EnsureStarted(socket, "", daemonctl.LaunchOptions{}, 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "executable path is empty") {
		t.Fatalf("expected launch error, got %v", err)
	}
}

func TestTerminateWithoutDaemon(t *testing.T) {
	dir := t.TempDir()
	_, err := daemonctl.Terminate(filepath.Join(dir, "absent.sock"), filepath.Join(dir, "photopipe.pid"), time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := daemonctl.WaitForShutdown(filepath.Join(dir, "absent.sock"), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !daemonctl.IsUnavailable(syscall.ECONNREFUSED) || !daemonctl.IsUnavailable(syscall.ENOENT) {
		t.Fatal("expected refused and missing sockets to count as unavailable")
	}
	if daemonctl.IsUnavailable(errors.New("boom")) {
		t.Fatal("unexpected unavailable for generic error")
	}
}
