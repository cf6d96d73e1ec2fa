package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces outgoing requests with a token bucket.
type RateLimitMiddleware struct {
	limiter *rate.Limiter
}

// NewRateLimitMiddleware allows requestsPerMinute requests per minute with the given burst.
// A non-positive rate disables limiting.
func NewRateLimitMiddleware(requestsPerMinute, burst int) *RateLimitMiddleware {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &RateLimitMiddleware{limiter: rate.NewLimiter(limit, burst)}
}

// BeforeRequest blocks until the limiter admits the request or ctx is done.
func (m *RateLimitMiddleware) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return req, nil
}

// AfterResponse implements Middleware.
func (m *RateLimitMiddleware) AfterResponse(_ context.Context, _ *Request, resp *Response) (*Response, error) {
	return resp, nil
}

// OnError implements Middleware.
func (m *RateLimitMiddleware) OnError(_ context.Context, _ *Request, err error) error {
	return err
}
