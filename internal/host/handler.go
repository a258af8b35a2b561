package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/examalpha/examshell/internal/log"
	"github.com/examalpha/examshell/internal/protocol"
	"github.com/examalpha/examshell/internal/tracing"
)

// DefaultHeartbeat is the interval between SSE keep-alive comments.
const DefaultHeartbeat = 15 * time.Second

// Commands is the command surface the handler dispatches to.
// *Service satisfies it.
type Commands interface {
	ServerURL(ctx context.Context) (*string, error)
	SetServer(ctx context.Context, url string) error
	ExitExam(ctx context.Context, password string) (bool, error)
}

// HandlerConfig configures the supervisor's HTTP surface.
type HandlerConfig struct {
	Commands  Commands
	Hub       *Hub
	Tracer    trace.Tracer
	Heartbeat time.Duration
}

// Handler provides the supervisor's HTTP endpoints.
type Handler struct {
	commands  Commands
	hub       *Hub
	tracer    trace.Tracer
	heartbeat time.Duration
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{
		commands:  cfg.Commands,
		hub:       cfg.Hub,
		tracer:    tracer,
		heartbeat: heartbeat,
	}
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+protocol.PathInvoke, h.Invoke)
	mux.HandleFunc("GET "+protocol.PathEvents, h.Events)
	mux.HandleFunc("POST "+protocol.PathEmit+"{name}", h.Emit)
	mux.HandleFunc("GET "+protocol.PathHealth, h.Health)
	return mux
}

// Invoke runs one command. Every decodable request is answered 200 with a
// protocol.Response; only malformed envelopes get an HTTP error.
// POST /invoke
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.ID == "" || req.Command == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "id and command are required", "")
		return
	}

	ctx, span := tracing.StartHandler(r.Context(), h.tracer, req.Command, req.ID)
	defer span.End()

	resp := h.dispatch(ctx, req)
	if !resp.OK {
		tracing.RecordError(span, errors.New(resp.Error), resp.Code)
	}
	log.Debug(log.CatHost, "command handled", "id", req.ID, "command", req.Command, "ok", resp.OK, "code", resp.Code)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	switch req.Command {
	case protocol.CmdServerURL:
		value, err := h.commands.ServerURL(ctx)
		if err != nil {
			return failure(req.ID, err)
		}
		return success(req.ID, value)

	case protocol.CmdSetServer:
		var args protocol.SetServerArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return protocol.Failure(req.ID, protocol.CodeInvalidArgs, err.Error())
		}
		if strings.TrimSpace(args.URL) == "" {
			return protocol.Failure(req.ID, protocol.CodeInvalidArgs, "url is required")
		}
		if err := h.commands.SetServer(ctx, args.URL); err != nil {
			return failure(req.ID, err)
		}
		return success(req.ID, nil)

	case protocol.CmdExitExam:
		var args protocol.ExitExamArgs
		if err := decodeArgs(req.Args, &args); err != nil {
			return protocol.Failure(req.ID, protocol.CodeInvalidArgs, err.Error())
		}
		ok, err := h.commands.ExitExam(ctx, args.Password)
		if err != nil {
			return failure(req.ID, err)
		}
		return success(req.ID, ok)

	default:
		return protocol.Failure(req.ID, protocol.CodeUnknownCommand, "unknown command: "+req.Command)
	}
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("missing arguments")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.New("invalid arguments: " + err.Error())
	}
	return nil
}

func success(id string, value any) protocol.Response {
	resp, err := protocol.Success(id, value)
	if err != nil {
		return protocol.Failure(id, protocol.CodeInternal, err.Error())
	}
	return resp
}

func failure(id string, err error) protocol.Response {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return protocol.Failure(id, protocol.CodeRejected, rejection.Message)
	}
	log.ErrorErr(log.CatHost, "command failed", err, "id", id)
	return protocol.Failure(id, protocol.CodeInternal, err.Error())
}

// Events streams hub events as Server-Sent Events.
// GET /events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events, held := h.hub.Attach(ctx)

	_ = protocol.WriteFrame(w, protocol.Frame{Name: protocol.EventConnected, Data: json.RawMessage("{}")})
	flusher.Flush()
	log.Info(log.CatHost, "event stream opened", "remote", r.RemoteAddr, "subscribers", h.hub.Subscribers())

	if held != nil {
		if err := protocol.WriteFrame(w, *held); err != nil {
			log.ErrorErr(log.CatHost, "Failed to replay exit request", err, "seq", held.ID)
			return
		}
		flusher.Flush()
		h.hub.Delivered(*held)
		log.Info(log.CatHost, "held exit request replayed", "remote", r.RemoteAddr, "seq", held.ID)
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatHost, "event stream closed", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
			if err := protocol.WriteComment(w, "heartbeat"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := protocol.WriteFrame(w, event.Payload); err != nil {
				log.ErrorErr(log.CatHost, "Failed to write event", err, "event", event.Payload.Name)
				return
			}
			flusher.Flush()
			h.hub.Delivered(event.Payload)
		}
	}
}

// Emit publishes an operator-supplied event. The body, if any, must be JSON
// and becomes the payload.
// POST /emit/{name}
func (h *Handler) Emit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "event name is required", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "read_failed", "Failed to read body", err.Error())
		return
	}
	var data json.RawMessage
	if len(strings.TrimSpace(string(body))) > 0 {
		if !json.Valid(body) {
			h.writeError(w, http.StatusBadRequest, "invalid_json", "Payload must be JSON", "")
			return
		}
		data = json.RawMessage(body)
	}

	_, span := tracing.StartHandler(r.Context(), h.tracer, "emit", "")
	span.AddEvent(tracing.EventEmitted)
	defer span.End()

	seq, subscribers := h.hub.PublishRaw(name, data)
	log.Info(log.CatHost, "event emitted", "event", name, "seq", seq, "subscribers", subscribers)
	h.writeJSON(w, http.StatusAccepted, protocol.EmitResponse{
		Status:      "accepted",
		Seq:         seq,
		Subscribers: subscribers,
		Pending:     name == protocol.EventStartExit && subscribers == 0,
	})
}

// Health reports liveness and whether a server address is stored.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	value, err := h.commands.ServerURL(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, protocol.HealthResponse{Status: "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:      "ok",
		Configured:  value != nil,
		Subscribers: h.hub.Subscribers(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatHost, "Failed to encode JSON response", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, protocol.ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
