// Package listener runs inside the worker process and serves its command
// port.
//
// Request processing pipeline:
//
//	Accept conn → read one framed unit
//	  → Codec.DecodeRequest → Middleware Chain → registry lookup → handler
//	  → Codec.EncodeResponse → write one framed response → flush → close conn
//
// Exactly one connection is serviced at a time and exactly one command
// executes at a time: the hosted application runtime cannot be driven from
// more than one thread, so the loop is strictly serial and handlers run
// synchronously on the goroutine servicing the socket. Connections are
// one-shot and half-duplex: one request, one response, then close.
package listener

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"dcc-bridge/codec"
	"dcc-bridge/envelope"
	"dcc-bridge/middleware"
	"dcc-bridge/protocol"
)

// QuitCommand is the reserved command that stops the listener loop. It is
// dispatched like any other command, so its response still reaches the
// controller before the socket closes.
const QuitCommand = "quit"

// Listener accepts connections on a loopback address and dispatches one
// command per connection against the worker's registry.
type Listener struct {
	log         *slog.Logger
	ln          net.Listener
	registry    *Registry
	codec       codec.Codec
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	running     atomic.Bool

	teardown     func() // uninitializes the hosted runtime, headless mode only
	postDispatch func() // pumps the host's event queue after each command
}

// New binds the listener to addr and registers the reserved quit command.
// Binding failure is fatal to construction: a worker that cannot own its
// well-known port has nothing useful to do.
func New(addr string, reg *Registry, c codec.Codec, log *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: bind %s: %w", addr, err)
	}
	l := &Listener{
		log:      log.With("component", "listener"),
		ln:       ln,
		registry: reg,
		codec:    c,
	}
	l.running.Store(true)
	if err := reg.Register(QuitCommand, l.quit); err != nil {
		ln.Close()
		return nil, err
	}
	return l, nil
}

// Addr returns the bound address, useful when constructed with port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Use registers a middleware. Middlewares run in registration order around
// every dispatched command.
func (l *Listener) Use(mw middleware.Middleware) {
	l.middlewares = append(l.middlewares, mw)
}

// SetTeardown installs the hook the quit handler runs before the loop stops,
// typically uninitializing the hosted application runtime in headless mode.
func (l *Listener) SetTeardown(fn func()) {
	l.teardown = fn
}

// SetPostDispatch installs a hook pumped after every command, before the
// response is written. Hosts use it to process their posted event queue so
// UI and scene state are consistent by the time the controller sees the
// result.
func (l *Listener) SetPostDispatch(fn func()) {
	l.postDispatch = fn
}

// Run services the command port until the quit command lands, Stop is
// called, or an unrecoverable accept error escapes. The loop does not retry
// past a loop-level fault: cleanup runs and Run returns. Per-command faults
// never reach this level; dispatch converts them into failure responses.
func (l *Listener) Run() error {
	defer l.Stop()

	// Recovery sits outermost: a panic anywhere in the chain or the handler
	// must surface as a failure response, not a dead worker.
	chain := append([]middleware.Middleware{middleware.Recovery(l.log)}, l.middlewares...)
	l.handler = middleware.Chain(chain...)(l.invoke)

	l.log.Info("awaiting commands", "addr", l.ln.Addr())
	for l.running.Load() {
		conn, err := l.ln.Accept()
		if err != nil {
			// Stop() closes the listening socket, which unblocks
			// Accept with an error we swallow here.
			if !l.running.Load() {
				return nil
			}
			return fmt.Errorf("listener: accept: %w", err)
		}
		l.serve(conn)
	}
	return nil
}

// serve handles one connection: one framed request in, one framed response
// out, then close.
func (l *Listener) serve(conn net.Conn) {
	defer conn.Close()

	unit, err := protocol.Decode(bufio.NewReader(conn))
	var resp *envelope.Response
	if err != nil {
		// The peer sent something we cannot even frame. Answer with a
		// failure envelope anyway; the connection may still be readable
		// on their side.
		resp = envelope.NewResponse("").Fail(err.Error(), "")
	} else {
		resp = l.dispatch(unit)
	}

	body, err := l.codec.EncodeResponse(resp)
	if err != nil {
		// A handler returned a value the codec cannot represent. The
		// replacement envelope is strings-only, so this encode cannot
		// fail the same way.
		l.log.Warn("response not encodable", "command", resp.Command, "error", err)
		body, err = l.codec.EncodeResponse(envelope.NewResponse(resp.Command).Fail(err.Error(), ""))
		if err != nil {
			return
		}
	}

	bw := bufio.NewWriter(conn)
	if err := protocol.Encode(bw, body); err != nil {
		l.log.Warn("write response", "command", resp.Command, "error", err)
		return
	}
	if err := bw.Flush(); err != nil {
		l.log.Warn("flush response", "command", resp.Command, "error", err)
	}
}

// dispatch turns one framed unit into a response envelope. Codec failures
// become failure responses here; nothing thrown past dispatch can take the
// accept loop down.
func (l *Listener) dispatch(unit []byte) *envelope.Response {
	req, err := l.codec.DecodeRequest(unit)
	if err != nil {
		return envelope.NewResponse("").Fail(err.Error(), "")
	}
	return l.handler(context.Background(), req)
}

// invoke is the innermost stage of the middleware chain: registry lookup and
// the handler call itself.
func (l *Listener) invoke(_ context.Context, req *envelope.Request) *envelope.Response {
	resp := envelope.NewResponse(req.Command)

	h, ok := l.registry.Resolve(req.Command)
	if !ok {
		return resp.Fail(fmt.Sprintf("command %q not found", req.Command), "")
	}

	result, err := h(req.Args, req.Kwargs)
	if l.postDispatch != nil {
		l.postDispatch()
	}
	if err != nil {
		return resp.Fail(err.Error(), fmt.Sprintf("%+v", err))
	}
	return resp.Succeed(result)
}

// quit is the handler behind the reserved quit command. It clears the
// running flag so the next loop iteration exits and the deferred cleanup
// closes the socket; the response for the quit call itself still goes out
// on the current connection first.
func (l *Listener) quit(_ []any, _ map[string]any) (any, error) {
	if l.teardown != nil {
		l.teardown()
	}
	l.running.Store(false)
	l.log.Info("quit received, shutting down")
	return 0, nil
}

// Stop clears the running flag and closes the listening socket. A blocked
// Accept unblocks with an error that Run's guard swallows. Safe to call more
// than once.
func (l *Listener) Stop() {
	l.running.Store(false)
	l.ln.Close()
}
