package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/watcher"
)

type chanTrigger struct {
	ch   chan struct{}
	path string
}

func (c *chanTrigger) Start() (<-chan struct{}, error) { return c.ch, nil }
func (c *chanTrigger) Path() string                    { return c.path }

func TestWatchTrigger_PublishesAndRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.request")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	hub := NewHub()
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx)

	src := &chanTrigger{ch: make(chan struct{}, 1), path: path}
	done := make(chan error, 1)
	go func() { done <- WatchTrigger(ctx, src, hub) }()

	src.ch <- struct{}{}

	select {
	case ev := <-events:
		require.Equal(t, protocol.EventStartExit, ev.Payload.Name)
	case <-time.After(time.Second):
		t.Fatal("expected start::exit")
	}
	require.NoFileExists(t, path)

	close(src.ch)
	require.NoError(t, <-done)
}

func TestWatchTrigger_WithFileWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.request")
	w, err := watcher.New(watcher.Config{TriggerPath: path, DebounceDur: 20 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	hub := NewHub()
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx)

	go func() { _ = WatchTrigger(ctx, w, hub) }()

	require.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Dir(path))
		return statErr == nil
	}, time.Second, 5*time.Millisecond)
	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("now"), 0o600))

	select {
	case ev := <-events:
		require.Equal(t, protocol.EventStartExit, ev.Payload.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected start::exit from trigger file")
	}
}

// A trigger fired before any shell connects still reaches the next stream.
func TestWatchTrigger_HeldForLateShell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exit.request")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	hub := NewHub()
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &chanTrigger{ch: make(chan struct{}, 1), path: path}
	go func() { _ = WatchTrigger(ctx, src, hub) }()
	src.ch <- struct{}{}

	require.Eventually(t, hub.Pending, time.Second, 5*time.Millisecond)
	require.NoFileExists(t, path)

	_, held := hub.Attach(ctx)
	require.NotNil(t, held)
	require.Equal(t, protocol.EventStartExit, held.Name)
}
