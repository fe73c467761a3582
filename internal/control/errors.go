package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed rejects requests still pending when the transport goes away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("request timed out")
	// ErrNotConnected is returned when a send is attempted without a transport.
	ErrNotConnected = errors.New("not connected")
	// ErrReconnectFailed is reported once the reconnect budget is exhausted.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// CommandError is a server-reported failure for a single command.
type CommandError struct {
	Command string
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// TimeoutError is returned when no response arrives within the request deadline.
type TimeoutError struct {
	Command string
	ID      string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s (id %s) timed out after %s", e.Command, e.ID, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Error lets a handler choose the structured code reported to the caller.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates a handler error with an explicit code.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// decodeCommandError interprets the "error" member of a response, which may be
// a plain string or a {code, message} object.
func decodeCommandError(command string, raw json.RawMessage) *CommandError {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &CommandError{Command: command, Message: msg}
	}
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.Message != "" || body.Code != "") {
		return &CommandError{Command: command, Code: body.Code, Message: body.Message}
	}
	return &CommandError{Command: command, Message: string(raw)}
}
