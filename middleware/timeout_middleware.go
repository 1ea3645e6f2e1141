package middleware

import (
	"context"
	"time"

	"echostream/errs"
	"echostream/message"
)

// TimeOutMiddleware answers with a timeout failure when the handler runs longer than timeout.
// The handler's context is cancelled; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMsg) (*message.ResponseMsg, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.ResponseMsg
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, &errs.TimeoutError{RequestID: req.ID, Millis: uint64(timeout.Milliseconds())}
			}
		}
	}
}
