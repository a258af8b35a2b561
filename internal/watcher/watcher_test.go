package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/watcher"
)

func startWatcher(t *testing.T, path string) <-chan struct{} {
	t.Helper()
	w, err := watcher.New(watcher.Config{
		TriggerPath: path,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	onTrigger, err := w.Start()
	require.NoError(t, err, "failed to start watcher")
	return onTrigger
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.request")
	onTrigger := startWatcher(t, path)

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("req%d", i)), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onTrigger:
	case <-time.After(time.Second):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onTrigger:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	onTrigger := startWatcher(t, filepath.Join(dir, "exit.request"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exam.db"), []byte("db"), 0o600))

	select {
	case <-onTrigger:
		t.Fatal("should not notify for unrelated files")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_ExistingTriggerReportedOnStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.request")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	onTrigger := startWatcher(t, path)

	select {
	case <-onTrigger:
	case <-time.After(time.Second):
		t.Fatal("expected immediate notification for pre-existing trigger")
	}
}

func TestWatcher_CreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "exit.request")
	onTrigger := startWatcher(t, path)

	require.DirExists(t, filepath.Dir(path))
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	select {
	case <-onTrigger:
	case <-time.After(time.Second):
		t.Fatal("expected notification after creating trigger")
	}
}

func TestWatcher_Stop(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(filepath.Join(t.TempDir(), "exit.request")))
	require.NoError(t, err)

	_, err = w.Start()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		assert.NoError(t, w.Stop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out")
	}
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/var/lib/examshell/exit.request")
	assert.Equal(t, "/var/lib/examshell/exit.request", cfg.TriggerPath)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceDur)
}
