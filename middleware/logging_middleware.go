package middleware

import (
	"context"
	"log/slog"
	"time"

	"dcc-bridge/envelope"
)

// Logging records every dispatched command with its duration and outcome.
func Logging(log *slog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.Success {
				log.Info("command executed",
					"command", req.Command, "id", req.ID, "duration", duration)
			} else {
				log.Warn("command failed",
					"command", req.Command, "id", req.ID, "duration", duration,
					"exception", resp.Exception)
			}
			return resp
		}
	}
}
