package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 50 * time.Millisecond

func publish(t *testing.T, root, id string) {
	t.Helper()
	tmp := filepath.Join(root, currentFile+".tmp")
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(root, currentFile)); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReloader_ReloadsOnCurrentReplace(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	r := NewReloader(root, func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, WithDebounce(testDebounce))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	publish(t, root, "build-1")
	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestReloader_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	r := NewReloader(root, func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, WithDebounce(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	for _, id := range []string{"a", "b", "c"} {
		publish(t, root, id)
	}
	waitFor(t, func() bool { return calls.Load() >= 1 })
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("reload called %d times, want 1", got)
	}
}

func TestReloader_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	r := NewReloader(root, func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, WithDebounce(testDebounce))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "builds", "b1"), 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	if got := calls.Load(); got != 0 {
		t.Errorf("reload called %d times, want 0", got)
	}
}

func TestReloader_FailedReloadKeepsRunning(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	r := NewReloader(root, func() (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("corrupt build")
		}
		return true, nil
	}, WithDebounce(testDebounce))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	publish(t, root, "bad")
	waitFor(t, func() bool { return calls.Load() == 1 })
	publish(t, root, "good")
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestReloader_StartCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "index")
	r := NewReloader(root, func() (bool, error) { return false, nil })
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
	// Second Start is a no-op.
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestReloader_StopIsIdempotent(t *testing.T) {
	r := NewReloader(t.TempDir(), func() (bool, error) { return false, nil })
	r.Stop()
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Stop()
	r.Stop()
}
