package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"dcc-bridge/envelope"
)

// RateLimit rejects commands beyond a token-bucket budget. The worker's
// dispatch loop is strictly serial, so a controller that floods the command
// port can starve the hosted application's own event queue; the limiter
// sheds that load with a normal failure response instead of queueing it.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Request) *envelope.Response {
			if !limiter.Allow() {
				return envelope.NewResponse(req.Command).Fail("rate limit exceeded", "")
			}
			return next(ctx, req)
		}
	}
}
