// Package eventbus delivers named events pushed by the supervising process to
// in-process handlers.
//
// Every handler runs on one dispatcher goroutine, so handlers never run
// concurrently with each other and a single subscriber sees events of one
// name in the order they were emitted. Emit never blocks.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
)

// Name identifies an event.
type Name string

const (
	ExitRequested    Name = protocol.EventStartExit
	ServerURLChanged Name = protocol.EventURL
)

// Event is one delivered notification.
type Event struct {
	Name    Name
	Payload json.RawMessage
	Seq     uint64
}

// Handler receives events. It must not block for long: delivery to every
// other subscriber waits for it.
type Handler func(Event)

// Subscription is returned by Subscribe.
type Subscription struct {
	bus       *Bus
	name      Name
	id        uint64
	handler   Handler
	cancelled atomic.Bool
	once      sync.Once

	// mu is held by the dispatcher from the cancelled check until the
	// handler returns; active is set while the handler body runs.
	mu     sync.Mutex
	active atomic.Bool
}

// Cancel detaches the handler. Once Cancel returns the handler is never
// invoked again. Calling it more than once is a no-op. Cancel may be called
// from inside a handler.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.bus.remove(s)

		// The dispatcher may have passed the cancelled check without
		// starting the handler yet. Wait for that window to close. When the
		// handler is already running (possibly the caller itself) there is
		// nothing left to prevent.
		if !s.active.Load() {
			s.mu.Lock()
			s.mu.Unlock() //nolint:staticcheck // barrier only
		}
	})
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[Name][]*Subscription
	queue  []Event
	signal chan struct{}
	closed bool
	nextID uint64
	seq    uint64

	done chan struct{}
}

// New starts a bus with its dispatcher goroutine. Call Close to stop it.
func New() *Bus {
	b := &Bus{
		subs:   make(map[Name][]*Subscription),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers h for events named name.
func (b *Bus) Subscribe(name Name, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, name: name, id: b.nextID, handler: h}
	if b.closed {
		sub.cancelled.Store(true)
		return sub
	}
	b.subs[name] = append(b.subs[name], sub)
	log.Debug(log.CatBus, "subscribed", "event", name, "sub", sub.id)
	return sub
}

// Emit queues an event for delivery and returns immediately.
func (b *Bus) Emit(name Name, payload json.RawMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	b.queue = append(b.queue, Event{Name: name, Payload: payload, Seq: b.seq})
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// EmitJSON marshals v and emits it.
func (b *Bus) EmitJSON(name Name, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	b.Emit(name, raw)
	return nil
}

// SubscriberCount returns the number of live subscriptions for name.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

// Close stops the dispatcher after it drains already-queued events.
// Subsequent Emit calls are dropped. Close must not be called from a handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	<-b.done
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[s.name]
	for i, cur := range subs {
		if cur == s {
			// Copy so a snapshot taken by the dispatcher stays intact.
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, s.name)
			} else {
				b.subs[s.name] = next
			}
			break
		}
	}
	log.Debug(log.CatBus, "unsubscribed", "event", s.name, "sub", s.id)
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			if b.closed {
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			<-b.signal
			continue
		}
		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		subs := b.subs[ev.Name]
		b.mu.Unlock()

		if len(subs) == 0 {
			log.Debug(log.CatBus, "event had no subscribers", "event", ev.Name, "seq", ev.Seq)
		}
		for _, sub := range subs {
			b.deliver(sub, ev)
		}
	}
}

func (b *Bus) deliver(sub *Subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.cancelled.Load() {
		return
	}
	sub.active.Store(true)
	defer sub.active.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatBus, "handler panicked", "event", ev.Name, "sub", sub.id, "panic", r)
		}
	}()
	sub.handler(ev)
}
