package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a command failure.
type Kind int

const (
	// KindTransport means the supervisor could not be reached or answered
	// with something that is not a valid reply.
	KindTransport Kind = iota + 1
	// KindRejected means the supervisor answered and reported a failure.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// TransportMessage is what users see for any transport failure.
const TransportMessage = "Failed to connect."

// CommandError is returned for every failed invocation.
type CommandError struct {
	Command string
	Kind    Kind
	// Code is the supervisor's error code for rejections.
	Code string
	// Message is the supervisor's message for rejections, verbatim.
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Kind == KindRejected {
		return fmt.Sprintf("%s rejected: %s", e.Command, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: transport: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: transport: %s", e.Command, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }

func transportErr(command string, err error) *CommandError {
	return &CommandError{Command: command, Kind: KindTransport, Err: err}
}

func rejectedErr(command, code, msg string) *CommandError {
	return &CommandError{Command: command, Kind: KindRejected, Code: code, Message: msg}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Kind == KindTransport
}

// Rejection returns the supervisor's message when err is a rejection.
func Rejection(err error) (string, bool) {
	var ce *CommandError
	if errors.As(err, &ce) && ce.Kind == KindRejected {
		return ce.Message, true
	}
	return "", false
}

// UserMessage renders err for display: rejections verbatim, transport
// failures as TransportMessage.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := Rejection(err); ok {
		return msg
	}
	if IsTransport(err) {
		return TransportMessage
	}
	return err.Error()
}
