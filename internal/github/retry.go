package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// retryOperation runs operation until it succeeds, fails permanently or the
// policy's attempts are used up. Rate limit responses wait for the reset
// time, capped at the policy's max backoff. Non-idempotent operations are
// retried only on rate limit rejections.
func (c *Client) retryOperation(ctx context.Context, op string, idempotent bool, operation func() (*gh.Response, error)) (*gh.Response, error) {
	policy := c.retry
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var (
		resp *gh.Response
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err = operation()
		if err == nil {
			if attempt > 1 {
				c.log.Info("github operation recovered after retries", zap.String("operation", op), zap.Int("attempts", attempt))
			}
			return resp, nil
		}
		if !isRetryable(err, resp, idempotent) || attempt == attempts {
			break
		}
		wait := backoff
		if isRateLimit(resp) {
			wait = rateLimitBackoff(resp, policy.MaxBackoff)
		}
		c.log.Info("retrying github operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if serr := c.sleep(ctx, wait); serr != nil {
			return resp, err
		}
		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return resp, err
}

// isRetryable treats 429 and 403 carrying rate limit headers as transient.
// Transport errors and 5xx count too when the request is idempotent.
func isRetryable(err error, resp *gh.Response, idempotent bool) bool {
	if err == nil {
		return false
	}
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	code := statusCode(resp)
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	case code == 0 || code >= 500:
		return idempotent
	}
	return false
}

func isRateLimit(resp *gh.Response) bool {
	code := statusCode(resp)
	return code == http.StatusTooManyRequests || (code == http.StatusForbidden && resp.Rate.Limit > 0)
}

func rateLimitBackoff(resp *gh.Response, max time.Duration) time.Duration {
	if max <= 0 {
		max = time.Minute
	}
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return max
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > max {
		wait = max
	}
	return wait
}

func statusCode(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
