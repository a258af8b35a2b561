package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenCmd_ReceivesEvent(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)
	broker.Publish(SignalEvent, "start::exit")

	msg := ListenCmd(ctx, ch)()

	event, ok := msg.(Event[string])
	require.True(t, ok, "msg should be Event[string]")
	require.Equal(t, "start::exit", event.Payload)
	require.Equal(t, SignalEvent, event.Type)
}

func TestListenCmd_ContextCancelled(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	cancel()

	require.Nil(t, ListenCmd(ctx, ch)())
}

func TestListenCmd_ChannelClosed(t *testing.T) {
	ch := make(chan Event[string])
	close(ch)

	require.Nil(t, ListenCmd(context.Background(), ch)())
}

func TestContinuousListener_DeliversInOrder(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener[int](ctx, broker)

	broker.Publish(SnapshotEvent, 1)
	broker.Publish(EntryEvent, 2)
	broker.Publish(SignalEvent, 3)

	for i, want := range []EventType{SnapshotEvent, EntryEvent, SignalEvent} {
		event, ok := listener.Listen()().(Event[int])
		require.True(t, ok)
		require.Equal(t, i+1, event.Payload)
		require.Equal(t, want, event.Type)
	}
}

func TestContinuousListener_StopsWhenBrokerCloses(t *testing.T) {
	broker := NewBroker[int]()
	listener := NewContinuousListener[int](context.Background(), broker)

	done := make(chan any, 1)
	go func() { done <- listener.Listen()() }()

	broker.Close()
	select {
	case msg := <-done:
		require.Nil(t, msg)
	case <-time.After(time.Second):
		require.Fail(t, "listener did not return after broker close")
	}
}
