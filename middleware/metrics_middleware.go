package middleware

import (
	"context"
	"time"

	"echostream/errs"
	"echostream/message"
	"echostream/metrics"
)

// MetricsMiddleware records the outcome and duration of every request.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMsg) (*message.ResponseMsg, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			code := errs.StatusOf(err)
			if err == nil && resp != nil {
				code = resp.Code
			}
			metrics.RecordHandled(req.Name, code.String(), time.Since(start))
			return resp, err
		}
	}
}
