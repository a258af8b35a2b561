package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/examalpha/examshell/internal/eventbus"
	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/pubsub"
	"github.com/examalpha/examshell/internal/timing"
)

// Emitter receives events read from the stream. *eventbus.Bus satisfies it.
type Emitter interface {
	Emit(name eventbus.Name, payload json.RawMessage)
}

// LinkState describes the event stream connection.
type LinkState struct {
	Connected bool
	// Err is the reason for the last disconnect, if any.
	Err error
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	Addr string
	// ReconnectDelay is waited between connection attempts. Defaults to 2s.
	ReconnectDelay time.Duration
	Client         *http.Client
	Clock          timing.Clock
	// Verbose logs every received frame at info instead of debug.
	Verbose bool
}

// Stream reads the supervisor's SSE feed and forwards each event to an
// Emitter, reconnecting until its context ends.
type Stream struct {
	url     string
	delay   time.Duration
	client  *http.Client
	clock   timing.Clock
	verbose bool
	emitter Emitter
	states  *pubsub.Broker[LinkState]
}

// NewStream validates cfg.Addr and builds a stream feeding emitter.
func NewStream(cfg StreamConfig, emitter Emitter) (*Stream, error) {
	base, err := BaseURL(cfg.Addr)
	if err != nil {
		return nil, err
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	client := cfg.Client
	if client == nil {
		// No timeout: the body stays open for the life of the connection.
		client = &http.Client{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timing.RealClock{}
	}
	return &Stream{
		url:     base + protocol.PathEvents,
		delay:   delay,
		client:  client,
		clock:   clock,
		verbose: cfg.Verbose,
		emitter: emitter,
		states:  pubsub.NewBrokerWithBuffer[LinkState](4),
	}, nil
}

// States publishes connection changes.
func (s *Stream) States() pubsub.Subscriber[LinkState] {
	return s.states
}

// Run connects and forwards events until ctx is cancelled, then returns
// ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	defer s.states.Close()
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn(log.CatGateway, "event stream disconnected", "url", s.url, "error", err, "retry_in", s.delay)
		s.states.Publish(pubsub.SnapshotEvent, LinkState{Connected: false, Err: err})

		t := s.clock.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C():
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	fr := protocol.NewFrameReader(resp.Body)
	for {
		frame, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by supervisor")
			}
			return err
		}
		s.handle(frame)
	}
}

func (s *Stream) handle(f protocol.Frame) {
	switch f.Name {
	case protocol.EventConnected:
		log.Info(log.CatGateway, "event stream connected", "url", s.url)
		s.states.Publish(pubsub.SnapshotEvent, LinkState{Connected: true})
		return
	case "":
		log.Debug(log.CatGateway, "ignoring unnamed frame", "id", f.ID)
		return
	}

	if s.verbose {
		log.Info(log.CatGateway, "event received", "event", f.Name, "id", f.ID, "data", string(f.Data))
	} else {
		log.Debug(log.CatGateway, "event received", "event", f.Name, "id", f.ID)
	}

	var payload json.RawMessage
	if string(f.Data) != "null" && len(f.Data) > 0 {
		payload = append(json.RawMessage(nil), f.Data...)
	}
	s.emitter.Emit(eventbus.Name(f.Name), payload)
}
