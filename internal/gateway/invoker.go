// Package gateway is the request/response half of the link to the
// supervising process, plus the stream that feeds its pushed events into the
// local event bus.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/tracing"
)

// Invoker issues a named command and waits for its single result.
// Implementations must be safe for concurrent use and never retry.
type Invoker interface {
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// maxResponseBytes bounds how much of a reply is read.
const maxResponseBytes = 1 << 20

// HTTPConfig configures an HTTPInvoker.
type HTTPConfig struct {
	// Addr is the supervisor address, "host:port" or a full URL.
	Addr string
	// Timeout bounds each invocation. Zero means only ctx bounds it.
	Timeout time.Duration
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
	// Client defaults to a fresh http.Client.
	Client *http.Client
}

// HTTPInvoker sends commands as POST /invoke.
type HTTPInvoker struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	tracer   trace.Tracer
}

// NewHTTPInvoker validates cfg.Addr and returns an invoker for it.
func NewHTTPInvoker(cfg HTTPConfig) (*HTTPInvoker, error) {
	base, err := BaseURL(cfg.Addr)
	if err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("examshell/gateway")
	}
	return &HTTPInvoker{
		endpoint: base + protocol.PathInvoke,
		timeout:  cfg.Timeout,
		client:   client,
		tracer:   tracer,
	}, nil
}

// BaseURL normalizes a supervisor address into a URL without trailing slash.
// A bare "host:port" gets an http scheme.
func BaseURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("supervisor address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse supervisor address: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("supervisor address %q has no host", addr)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Invoke implements Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	id := uuid.NewString()
	ctx, span := tracing.StartCommand(ctx, h.tracer, command, id)
	defer span.End()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	value, err := h.roundTrip(ctx, id, command, args, span)
	if err != nil {
		kind := KindTransport.String()
		var ce *CommandError
		if errors.As(err, &ce) {
			kind = ce.Kind.String()
		}
		tracing.RecordError(span, err, kind)
		log.Warn(log.CatGateway, "command failed", "command", command, "id", id, "kind", kind, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrOutcome, "ok"))
	log.Debug(log.CatGateway, "command ok", "command", command, "id", id)
	return value, nil
}

func (h *HTTPInvoker) roundTrip(ctx context.Context, id, command string, args any, span trace.Span) (json.RawMessage, error) {
	req := protocol.Request{ID: id, Command: command}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, transportErr(command, fmt.Errorf("encode args: %w", err))
		}
		req.Args = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, transportErr(command, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, transportErr(command, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	span.AddEvent(tracing.EventRequestSent)
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, transportErr(command, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.AddEvent(tracing.EventResponseReceived, trace.WithAttributes(attribute.Int("http.status_code", resp.StatusCode)))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, transportErr(command, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out protocol.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, transportErr(command, fmt.Errorf("decode response: %w", err))
	}
	if out.ID != id {
		return nil, transportErr(command, fmt.Errorf("response id %q does not match request %q", out.ID, id))
	}
	if !out.OK {
		return nil, rejectedErr(command, out.Code, out.Error)
	}
	if len(out.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Value, nil
}
