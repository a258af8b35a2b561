package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/pubsub"
)

// Hub fans supervisor events out to every connected event stream. Each
// event gets a sequence number that is carried as the SSE id.
//
// The latest start::exit is held until a stream reports writing it, and every
// stream that attaches meanwhile replays it. A request made while no shell is
// connected therefore reaches the next shell that does connect.
type Hub struct {
	broker *pubsub.Broker[protocol.Frame]
	seq    atomic.Uint64

	// mu orders publishes against Attach so a stream sees a held request
	// either live or as a replay, never neither.
	mu      sync.Mutex
	pending *protocol.Frame
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{broker: pubsub.NewBroker[protocol.Frame]()}
}

// Publish marshals payload and sends it as event name. A nil payload is sent
// as JSON null.
func (h *Hub) Publish(name string, payload any) (uint64, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encoding %s payload: %w", name, err)
		}
		data = raw
	}
	seq, _ := h.PublishRaw(name, data)
	return seq, nil
}

// PublishRaw sends already encoded data as event name. It returns the
// event's sequence number and how many streams were attached to receive it.
func (h *Hub) PublishRaw(name string, data json.RawMessage) (uint64, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seq := h.seq.Add(1)
	frame := protocol.Frame{
		Name: name,
		ID:   strconv.FormatUint(seq, 10),
		Data: data,
	}
	subscribers := h.broker.SubscriberCount()
	h.broker.Publish(pubsub.SignalEvent, frame)
	if name == protocol.EventStartExit {
		h.pending = &frame
		if subscribers == 0 {
			log.Warn(log.CatHost, "no shell connected, holding exit request", "seq", seq)
		}
	}
	log.Debug(log.CatHost, "event published", "event", name, "seq", seq, "subscribers", subscribers)
	return seq, subscribers
}

// Subscribe returns a channel of frames closed when ctx ends or the hub is
// closed. Held requests are not replayed; streams use Attach.
func (h *Hub) Subscribe(ctx context.Context) <-chan pubsub.Event[protocol.Frame] {
	return h.broker.Subscribe(ctx)
}

// Attach subscribes like Subscribe and also returns the held exit request,
// if any. The caller writes it before reading the channel and reports
// success with Delivered.
func (h *Hub) Attach(ctx context.Context) (<-chan pubsub.Event[protocol.Frame], *protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.broker.Subscribe(ctx)
	if h.pending == nil {
		return events, nil
	}
	held := *h.pending
	return events, &held
}

// Delivered records that a stream wrote f. Writing the held exit request
// releases it.
func (h *Hub) Delivered(f protocol.Frame) {
	if f.Name != protocol.EventStartExit {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil && h.pending.ID == f.ID {
		h.pending = nil
		log.Debug(log.CatHost, "exit request delivered", "seq", f.ID)
	}
}

// Pending reports whether an exit request is waiting for a shell.
func (h *Hub) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending != nil
}

// Subscribers reports how many streams are attached.
func (h *Hub) Subscribers() int {
	return h.broker.SubscriberCount()
}

// Close ends every stream.
func (h *Hub) Close() {
	h.broker.Close()
}
