package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"echostream/errs"
	"echostream/message"

	"github.com/rs/zerolog/log"
)

// RecoveryMiddleware turns a handler panic into an error response.
func RecoveryMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMsg) (resp *message.ResponseMsg, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("handler", req.Name).
						Uint32("request", req.ID).
						Bytes("stack", debug.Stack()).
						Msgf("rpc handler panic: %v", r)
					resp, err = nil, fmt.Errorf("%w: handler %s panicked: %v", errs.ErrMiddleware, req.Name, r)
				}
			}()
			return next(ctx, req)
		}
	}
}
