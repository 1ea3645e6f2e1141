package middleware

import (
	"context"
	"fmt"

	"echostream/errs"
	"echostream/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond a token bucket of r per second with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMsg) (*message.ResponseMsg, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("%w: rate limit exceeded", errs.ErrMiddleware)
			}
			return next(ctx, req)
		}
	}
}
