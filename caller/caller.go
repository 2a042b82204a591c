// Package caller runs inside the controller process and performs one
// synchronous command round trip per connection.
//
//	Start ──goroutine──▶ dial → write request → read response → publish
//	                                                               │
//	Join(timeout) ◀──────────── single-slot channel ◀──────────────┘
//
// The connect/send/receive sequence runs on its own goroutine, which
// publishes its outcome exactly once into a buffered single-slot channel.
// The invoking thread only ever blocks inside a bounded Join, so a stalled
// worker can cost it at most the timeout. A timed-out call is abandoned:
// the goroutine and the in-flight worker command run to completion
// unobserved and their outcome is discarded.
package caller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"dcc-bridge/codec"
	"dcc-bridge/envelope"
	"dcc-bridge/protocol"
)

// ErrJoinTimeout is returned by Join when the bound elapses before the
// round trip finishes. It is deliberately distinct from a worker-reported
// failure: the caller cannot know whether the command ran.
var ErrJoinTimeout = errors.New("caller: join timed out before a response arrived")

// ConnectionError reports a transport-level fault: the worker endpoint
// refused, timed out, or dropped the connection mid round trip.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("caller: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a well-formed failure response from the worker: the
// command ran (or failed to resolve) and the worker said so.
type CommandError struct {
	Command   string
	Message   string
	Traceback string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("caller: command %q failed: %s", e.Command, e.Message)
}

// outcome is what the background goroutine publishes: a response that came
// off the wire, or the transport/codec error that prevented one.
type outcome struct {
	resp *envelope.Response
	err  error
}

// Call is a single command invocation: one connection, one request, one
// response. A Call is started at most once and joined at most once.
type Call struct {
	req         *envelope.Request
	endpoint    string
	dialTimeout time.Duration
	codec       codec.Codec
	log         *slog.Logger
	done        chan outcome
	started     atomic.Bool
}

// NewCall builds a call for the named command against the given endpoint.
func NewCall(endpoint string, c codec.Codec, log *slog.Logger, dialTimeout time.Duration,
	command string, args []any, kwargs map[string]any) (*Call, error) {

	req, err := envelope.NewRequest(command, args, kwargs)
	if err != nil {
		return nil, err
	}
	return &Call{
		req:         req,
		endpoint:    endpoint,
		dialTimeout: dialTimeout,
		codec:       c,
		log:         log.With("component", "caller"),
		done:        make(chan outcome, 1), // buffered: publish never blocks an abandoned call
	}, nil
}

// Start launches the connect/send/receive sequence on its own goroutine.
// Subsequent Starts are no-ops.
func (c *Call) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run(ctx)
}

// run performs the round trip and publishes its outcome exactly once. The
// connection is closed in the deferred cleanup regardless of how far the
// sequence got.
func (c *Call) run(ctx context.Context) {
	result := outcome{}
	defer func() { c.done <- result }()

	body, err := c.codec.EncodeRequest(c.req)
	if err != nil {
		result.err = err
		return
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		result.err = &ConnectionError{Endpoint: c.endpoint, Err: err}
		return
	}
	defer conn.Close()

	c.log.Debug("connected to command port", "endpoint", c.endpoint, "command", c.req.Command, "id", c.req.ID)

	bw := bufio.NewWriter(conn)
	if err := protocol.Encode(bw, body); err != nil {
		result.err = &ConnectionError{Endpoint: c.endpoint, Err: err}
		return
	}
	if err := bw.Flush(); err != nil {
		result.err = &ConnectionError{Endpoint: c.endpoint, Err: err}
		return
	}

	unit, err := protocol.Decode(bufio.NewReader(conn))
	if err != nil {
		result.err = &ConnectionError{Endpoint: c.endpoint, Err: err}
		return
	}

	resp, err := c.codec.DecodeResponse(unit)
	if err != nil {
		result.err = err
		return
	}
	result.resp = resp
}

// Join blocks the invoking goroutine until the round trip finishes or the
// bound elapses. On timeout it returns ErrJoinTimeout and the background
// goroutine is left to finish unobserved.
func (c *Call) Join(timeout time.Duration) (*envelope.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-c.done:
		if result.err != nil {
			return nil, result.err
		}
		return result.resp, nil
	case <-timer.C:
		return nil, ErrJoinTimeout
	}
}

// Default bounds, matching the worker launch contract's expectations for a
// local loopback endpoint.
const (
	DefaultDialTimeout = 3 * time.Second
	DefaultJoinTimeout = 10 * time.Second
)

// Client issues commands against one worker endpoint. The zero timeouts are
// replaced with the defaults above.
type Client struct {
	Endpoint    string
	DialTimeout time.Duration
	JoinTimeout time.Duration

	codec codec.Codec
	log   *slog.Logger
}

// NewClient creates a client for the given endpoint with default timeouts.
func NewClient(endpoint string, c codec.Codec, log *slog.Logger) *Client {
	return &Client{
		Endpoint:    endpoint,
		DialTimeout: DefaultDialTimeout,
		JoinTimeout: DefaultJoinTimeout,
		codec:       c,
		log:         log,
	}
}

// Go starts a call without waiting on it. The caller owns the Join.
func (cl *Client) Go(ctx context.Context, command string, args []any, kwargs map[string]any) (*Call, error) {
	call, err := NewCall(cl.Endpoint, cl.codec, cl.log, cl.dialTimeout(), command, args, kwargs)
	if err != nil {
		return nil, err
	}
	call.Start(ctx)
	return call, nil
}

// Send performs one synchronous command round trip. It returns the result
// value on success; a *CommandError when the worker reported failure; a
// *ConnectionError when the endpoint was unreachable; ErrJoinTimeout when
// the bound elapsed first.
func (cl *Client) Send(ctx context.Context, command string, args []any, kwargs map[string]any) (any, error) {
	call, err := cl.Go(ctx, command, args, kwargs)
	if err != nil {
		return nil, err
	}
	resp, err := call.Join(cl.joinTimeout())
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &CommandError{Command: resp.Command, Message: resp.Exception, Traceback: resp.Traceback}
	}
	return resp.Result, nil
}

func (cl *Client) dialTimeout() time.Duration {
	if cl.DialTimeout > 0 {
		return cl.DialTimeout
	}
	return DefaultDialTimeout
}

func (cl *Client) joinTimeout() time.Duration {
	if cl.JoinTimeout > 0 {
		return cl.JoinTimeout
	}
	return DefaultJoinTimeout
}
