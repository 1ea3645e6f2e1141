package middleware

import (
	"context"
	"time"

	"echostream/errs"
	"echostream/message"

	"github.com/rs/zerolog/log"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMsg) (*message.ResponseMsg, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				log.Warn().
					Str("session", SessionID(ctx)).
					Str("handler", req.Name).
					Uint32("request", req.ID).
					Str("code", errs.StatusOf(err).String()).
					Dur("duration", duration).
					Err(err).
					Msg("rpc failed")
				return resp, err
			}
			log.Debug().
				Str("session", SessionID(ctx)).
				Str("handler", req.Name).
				Uint32("request", req.ID).
				Dur("duration", duration).
				Msg("rpc handled")
			return resp, nil
		}
	}
}
