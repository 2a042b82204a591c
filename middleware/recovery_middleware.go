package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"dcc-bridge/envelope"
)

// Recovery converts a panicking handler into a failure response carrying the
// panic message and stack. A panicking command must never take the listener
// loop down with it; the worker has to stay reachable for the next call.
func Recovery(log *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) (resp *envelope.Response) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("command panicked", "command", req.Command, "id", req.ID, "panic", r)
					resp = envelope.NewResponse(req.Command).
						Fail(fmt.Sprintf("%v", r), string(debug.Stack()))
				}
			}()
			return next(ctx, req)
		}
	}
}
