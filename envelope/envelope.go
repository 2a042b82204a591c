// Package envelope defines the request and response documents exchanged
// between a controller and a standalone worker.
//
// A Request is the "envelope" for a single command invocation. It gets
// serialized by the codec layer and framed as one text unit for transmission
// over a loopback TCP connection. A Response travels back the same way.
//
//   - On request:  Command names a handler in the worker's registry, Args and
//     Kwargs carry the call arguments.
//   - On response: Success gates which side of the envelope is meaningful,
//     Result when true, Exception/Traceback when false.
package envelope

import (
	"errors"

	"github.com/oklog/ulid/v2"
)

// ErrEmptyCommand is returned when a request is built or decoded without a
// command name.
var ErrEmptyCommand = errors.New("envelope: command must not be empty")

// Request carries one command invocation from the controller to the worker.
type Request struct {
	ID      string         `json:"id,omitempty"` // ULID, for log correlation across processes
	Command string         `json:"command"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
}

// NewRequest builds a request for the named command. Nil argument containers
// are normalized to empty ones so the wire form is always well-shaped.
func NewRequest(command string, args []any, kwargs map[string]any) (*Request, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Request{
		ID:      ulid.Make().String(),
		Command: command,
		Args:    args,
		Kwargs:  kwargs,
	}, nil
}

// Response carries the outcome of one command invocation back to the
// controller. Command echoes the request's command for diagnostics.
type Response struct {
	Success   bool   `json:"success"`
	Command   string `json:"command"`
	Result    any    `json:"result"`
	Exception string `json:"exception"`
	Traceback string `json:"traceback"`
}

// NewResponse returns the default failure response for the given command:
// Success is false and no exception has been recorded. Anything that did not
// explicitly succeed reads as a failure.
func NewResponse(command string) *Response {
	return &Response{Command: command}
}

// Succeed records a successful result and clears any failure fields.
func (r *Response) Succeed(result any) *Response {
	r.Success = true
	r.Result = result
	r.Exception = ""
	r.Traceback = ""
	return r
}

// Fail records a failure. The traceback may be empty when no call stack is
// available (e.g. transport faults).
func (r *Response) Fail(message, traceback string) *Response {
	r.Success = false
	r.Result = nil
	r.Exception = message
	r.Traceback = traceback
	return r
}
