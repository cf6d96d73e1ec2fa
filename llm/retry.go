package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	ctxpkg "github.com/aschepis/bpmai/context"
)

const (
	// DefaultMaxAttempts is the default number of attempts, the first call included.
	DefaultMaxAttempts = 8
	// DefaultInitialInterval is the wait before the first retry.
	DefaultInitialInterval = 2 * time.Second
	// DefaultMaxInterval caps the wait between attempts.
	DefaultMaxInterval = 60 * time.Second
	// DefaultMultiplier grows the wait after every retry.
	DefaultMultiplier = 1.5
)

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy returns the exponential policy used for provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = 0 // bounded by attempts only
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// WithRetry wraps client so that retryable errors (see Error.Retryable) are retried with
// exponential backoff. Non-retryable errors return immediately. When the attempts are
// exhausted the last error is returned unchanged. Each attempt sees its number through
// context.Attempt.
func WithRetry(client Client, policy RetryPolicy, logger zerolog.Logger) Client {
	return &retryClient{
		client: client,
		policy: policy,
		logger: logger.With().Str("component", "llm_retry").Logger(),
	}
}

type retryClient struct {
	client Client
	policy RetryPolicy
	logger zerolog.Logger
}

func (c *retryClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	var (
		resp    *Response
		attempt int
	)
	op := func() error {
		attempt++
		r, err := c.client.Synchronous(ctxpkg.WithAttempt(ctx, attempt), req)
		if err != nil {
			if !IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn().
			Err(err).
			Str("model", req.Model).
			Int("attempt", attempt).
			Dur("next_delay", next).
			Msg("Retryable LLM error, retrying after delay")
	}

	if err := backoff.RetryNotify(op, c.policy.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}
