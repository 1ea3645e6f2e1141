// Package middleware wraps RPC handlers in an onion of cross-cutting behavior.
//
//	Chain(a, b, c)(h)  ==  a(b(c(h)))
//
// The first middleware sees the request first and the response last.
package middleware

import (
	"context"

	"echostream/message"
)

// HandlerFunc handles one RPC request. A returned error becomes an error response whose
// code comes from errs.StatusOf.
type HandlerFunc func(ctx context.Context, req *message.RequestMsg) (*message.ResponseMsg, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one, outermost first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type sessionKey struct{}

// WithSessionID records the id of the session a request arrived on.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the id stored by WithSessionID, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
