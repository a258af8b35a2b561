// Package protocol defines the wire format spoken between the exam shell and
// its supervising process: a request/response envelope for commands and a
// Server-Sent Events stream for pushed events.
package protocol

import "encoding/json"

// Command names. These are the compatibility boundary with the supervisor
// and must not change.
const (
	CmdServerURL = "server_url"
	CmdSetServer = "set_server"
	CmdExitExam  = "exit_exam"
)

// Event names pushed by the supervisor.
const (
	EventStartExit = "start::exit"
	EventURL       = "url"

	// EventConnected is sent once when an event stream opens. It is a
	// transport detail and never reaches application subscribers.
	EventConnected = "connected"
)

// Error codes carried in a failed Response.
const (
	CodeRejected       = "rejected"
	CodeInvalidArgs    = "invalid_args"
	CodeUnknownCommand = "unknown_command"
	CodeInternal       = "internal"
)

// Paths served by the supervisor.
const (
	PathInvoke = "/invoke"
	PathEvents = "/events"
	PathEmit   = "/emit/"
	PathHealth = "/health"
)

// Request is the body of POST /invoke.
type Request struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is the body answered to POST /invoke. Exactly one of Value or
// Error is meaningful, selected by OK.
type Response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// SetServerArgs are the arguments of set_server.
type SetServerArgs struct {
	URL string `json:"url"`
}

// ExitExamArgs are the arguments of exit_exam.
type ExitExamArgs struct {
	Password string `json:"password"`
}

// EmitResponse acknowledges POST /emit/{name}.
type EmitResponse struct {
	Status string `json:"status"`
	Seq    uint64 `json:"seq"`
	// Subscribers is how many event streams were attached when the event
	// was published.
	Subscribers int `json:"subscribers"`
	// Pending is set for a start::exit that no shell received. The host
	// holds it for the next shell that connects.
	Pending bool `json:"pending,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Configured  bool   `json:"configured"`
	Subscribers int    `json:"subscribers"`
}

// ErrorResponse is the body of any non-invoke HTTP error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Success builds an OK response carrying value.
func Success(id string, value any) (Response, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, OK: true, Value: raw}, nil
}

// Failure builds a failed response.
func Failure(id, code, msg string) Response {
	return Response{ID: id, OK: false, Error: msg, Code: code}
}
