// Package middleware wraps the listener's dispatch stage in an onion of
// composable handlers.
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//	Execution order: A.before → B.before → C.before → dispatch → C.after → B.after → A.after
//
// Every middleware must return a well-formed response envelope: the listener
// writes whatever comes out of the chain straight back to the controller.
package middleware

import (
	"context"

	"dcc-bridge/envelope"
)

// HandlerFunc processes one decoded request and produces its response.
type HandlerFunc func(ctx context.Context, req *envelope.Request) *envelope.Response

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, applied in registration order.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
