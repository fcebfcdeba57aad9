package main

import (
	"context"
	"encoding/json"
	"testing"

	"photopipe/internal/ipc"
	"photopipe/internal/pipeline"
	"photopipe/internal/testsupport"
)

func TestStatusWithoutDaemon(t *testing.T) {
	env := newCLIConfig(t)
	if _, _, err := env.run(t, "task", "add", testsupport.NewTaskLocation(t)); err != nil {
		t.Fatalf("task add: %v", err)
	}

	out, _, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "Not Started")
	requireContains(t, out, "sqlite")
}

func TestStartStopAndStatusThroughDaemon(t *testing.T) {
	env, store := setupCLITestEnv(t)
	if res := store.AddTask(context.Background(), pipeline.NewTask(testsupport.NewTaskLocation(t))); !res.OK() {
		t.Fatalf("AddTask: %s", res.Message)
	}

	out, _, err := env.run(t, "start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Coordinator started")

	out, _, err = env.run(t, "start")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	requireContains(t, out, "Coordinator already running")

	out, _, err = env.run(t, "-o", "json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status ipc.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status %q: %v", out, err)
	}
	if !status.Running || status.PID == 0 || status.TaskCounts["Not Started"] != 1 {
		t.Fatalf("unexpected status %#v", status)
	}

	out, _, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid")

	out, _, err = env.run(t, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Coordinator stopped")
}

func TestStopWithoutDaemon(t *testing.T) {
	env := newCLIConfig(t)

	if _, _, err := env.run(t, "stop"); err == nil {
		t.Fatal("expected stop to fail without a daemon")
	} else {
		requireContains(t, err.Error(), "photopipe start")
	}

	out, _, err := env.run(t, "shutdown")
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}
