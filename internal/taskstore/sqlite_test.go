package taskstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"photopipe/internal/pipeline"
	"photopipe/internal/services"
	"photopipe/internal/taskstore"
)

func openSQLite(t *testing.T) *taskstore.SQLiteStore {
	t.Helper()
	store, err := taskstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tasks.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenSQLiteSeedsSequence(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	latest, err := store.LatestTaskID(ctx)
	if err != nil || latest != 0 {
		t.Fatalf("expected latest id 0, got %d %v", latest, err)
	}
	next, err := store.NextTaskID(ctx)
	if err != nil || next != 1 {
		t.Fatalf("expected next id 1, got %d %v", next, err)
	}
}

func TestOpenSQLiteIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()
	first, err := taskstore.OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.Insert(ctx, pipeline.NewTask("/data/a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_ = first.Close()

	second, err := taskstore.OpenSQLite(ctx, path, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()
	tasks, err := second.List(ctx)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected the task to survive reopen, got %v %v", tasks, err)
	}
}

func TestSQLiteInsertAndGet(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	task := pipeline.NewTask("/data/scan-01")
	task.Requirements.NeedsColorChecker = false
	stored, err := store.Insert(ctx, task)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stored.ID != 1 {
		t.Fatalf("expected id 1, got %d", stored.ID)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}

	got, err := store.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Location != "/data/scan-01" || got.Requirements.NeedsColorChecker || !got.Requirements.NeedsRawImages {
		t.Fatalf("unexpected task %#v", got)
	}

	if _, err := store.Get(ctx, 99); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteExplicitIDRaisesSequence(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	task := pipeline.NewTask("/data/explicit")
	task.ID = 10
	if _, err := store.Insert(ctx, task); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	next, err := store.NextTaskID(ctx)
	if err != nil || next != 11 {
		t.Fatalf("expected next id 11, got %d %v", next, err)
	}
	if _, err := store.Insert(ctx, task); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate id to be rejected, got %v", err)
	}
}

func TestSQLiteReplaceRoundTripsBookkeeping(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	task, err := store.Insert(ctx, pipeline.NewTask("/data/scan"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task.Step = pipeline.StepColorCorrection
	task.MarkDispatched(now)
	task.Attempts = 2
	task.LastError = "magick failed"
	if err := store.Replace(ctx, task); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Step != pipeline.StepColorCorrection || !got.StepInProgress || got.Attempts != 2 || got.LastError != "magick failed" {
		t.Fatalf("unexpected task after replace: %#v", got)
	}
	if got.DispatchedAt == nil || !got.DispatchedAt.Equal(now) || got.HeartbeatAt != nil {
		t.Fatalf("unexpected timestamps: %v %v", got.DispatchedAt, got.HeartbeatAt)
	}

	missing := task
	missing.ID = 42
	if err := store.Replace(ctx, missing); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on replace, got %v", err)
	}
}

func TestSQLiteDeleteAndList(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	for _, loc := range []string{"/data/a", "/data/b", "/data/c"} {
		if _, err := store.Insert(ctx, pipeline.NewTask(loc)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := store.Delete(ctx, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, 2); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	tasks, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != 1 || tasks[1].ID != 3 {
		t.Fatalf("unexpected listing %#v", tasks)
	}
}

func TestSQLiteRestart(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	var ids []int64
	for i, step := range []pipeline.StepIndex{pipeline.StepAlignmentPrep, pipeline.StepCompleted} {
		task, err := store.Insert(ctx, pipeline.NewTask("/data/r"+string(rune('a'+i))))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		task.Step = step
		task.MarkDispatched(time.Now())
		task.Attempts = 3
		task.LastError = "boom"
		if err := store.Replace(ctx, task); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		ids = append(ids, task.ID)
	}

	if err := store.Restart(ctx, ids[0]); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	first, _ := store.Get(ctx, ids[0])
	if first.Step != pipeline.StepNotStarted || first.StepInProgress || first.Attempts != 0 || first.LastError != "" || first.DispatchedAt != nil {
		t.Fatalf("unexpected restarted task %#v", first)
	}
	second, _ := store.Get(ctx, ids[1])
	if second.Step != pipeline.StepCompleted {
		t.Fatal("single restart must not touch other tasks")
	}

	count, err := store.RestartAll(ctx)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 restarted, got %d %v", count, err)
	}
	second, _ = store.Get(ctx, ids[1])
	if second.Step != pipeline.StepNotStarted || second.StepInProgress {
		t.Fatalf("unexpected task after restart all %#v", second)
	}
	if err := store.Restart(ctx, 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLiteFailureAndHeartbeatAreGuarded(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	task, err := store.Insert(ctx, pipeline.NewTask("/data/guard"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	task.Step = pipeline.StepRawToIntermediate
	task.MarkDispatched(time.Now())
	if err := store.Replace(ctx, task); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	ok, err := store.TouchHeartbeat(ctx, task.ID, pipeline.StepNotStarted)
	if err != nil || ok {
		t.Fatalf("heartbeat for another step must not match: %v %v", ok, err)
	}
	ok, err = store.TouchHeartbeat(ctx, task.ID, pipeline.StepRawToIntermediate)
	if err != nil || !ok {
		t.Fatalf("expected heartbeat recorded: %v %v", ok, err)
	}
	got, _ := store.Get(ctx, task.ID)
	if got.HeartbeatAt == nil {
		t.Fatal("expected heartbeat_at to be set")
	}

	ok, err = store.ReportFailure(ctx, task.ID, pipeline.StepRawToIntermediate, "converter exited 1")
	if err != nil || !ok {
		t.Fatalf("expected failure recorded: %v %v", ok, err)
	}
	got, _ = store.Get(ctx, task.ID)
	if got.StepInProgress || got.Attempts != 1 || got.LastError != "converter exited 1" || got.HeartbeatAt != nil {
		t.Fatalf("unexpected task after failure %#v", got)
	}

	ok, err = store.ReportFailure(ctx, task.ID, pipeline.StepRawToIntermediate, "late duplicate")
	if err != nil || ok {
		t.Fatalf("second failure must not match an idle task: %v %v", ok, err)
	}
}

func TestSQLiteConcurrentIDsAreUnique(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
		errs = make(chan error, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				task, err := store.Insert(ctx, pipeline.NewTask("/data/concurrent"))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				seen[task.ID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
	latest, _ := store.LatestTaskID(ctx)
	if latest != workers*perWorker {
		t.Fatalf("expected latest id %d, got %d", workers*perWorker, latest)
	}
}
