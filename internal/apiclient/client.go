// Package apiclient holds the HTTP plumbing shared by the Jira and Azure
// DevOps clients: auth, rate limiting, retry and error classification.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"agdt/internal/config"
	"agdt/internal/errs"
)

// Auth decorates an outgoing request with credentials.
type Auth func(*http.Request)

func BasicAuth(user, password string) Auth {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

func BearerAuth(token string) Auth {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func RetryFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff.Std(),
		MaxBackoff:     c.MaxBackoff.Std(),
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Options configure a Client. Zero values fall back to config defaults.
type Options struct {
	Timeout   time.Duration
	Retry     RetryPolicy
	RateLimit config.RateLimitConfig
	Log       *zap.Logger
}

// OptionsFromConfig builds Options from agdt.yml settings.
func OptionsFromConfig(cfg *config.Config, log *zap.Logger) Options {
	return Options{
		Timeout:   cfg.Timeouts.HTTPRequest.Std(),
		Retry:     RetryFromConfig(cfg.Retry),
		RateLimit: cfg.RateLimit,
		Log:       log,
	}
}

type Client struct {
	Service    string
	BaseURL    string
	Auth       Auth
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Retry      RetryPolicy
	Log        *zap.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(service, baseURL string, auth Auth, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := opts.RateLimit.Burst
	if opts.RateLimit.PerSecond > 0 {
		limit = rate.Limit(opts.RateLimit.PerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		Service:    service,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Auth:       auth,
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    rate.NewLimiter(limit, burst),
		Retry:      retry,
		Log:        log.With(zap.String("service", service)),
		Sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Request describes one logical API call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Body      any
	// ContentType overrides application/json, e.g. for JSON Patch.
	ContentType string
}

// Do issues req and decodes a 2xx JSON body into out (when non-nil).
// Transient failures are retried with exponential backoff: transport
// errors, 429 and 5xx. Non-idempotent methods are only retried on 429, which
// means the request was not processed. 4xx responses are never retried.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s %s: encode request: %w", c.Service, req.Operation, err)
		}
		payload = data
	}
	attempts := c.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr *errs.ExternalServiceError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := c.Retry.backoff(attempt - 1)
			if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests {
				if lastErr.RetryAfter > 0 {
					wait = lastErr.RetryAfter
				}
			}
			c.Log.Info("retrying request",
				zap.String("operation", req.Operation),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			if err := c.Sleep(ctx, wait); err != nil {
				return lastErr
			}
		}
		body, err := c.once(ctx, req, payload)
		if err == nil {
			return c.decode(req, body, out)
		}
		var ext *errs.ExternalServiceError
		if !errors.As(err, &ext) {
			return err
		}
		lastErr = ext
		if !retryable(req.Method, ext) {
			return ext
		}
	}
	return lastErr
}

func retryable(method string, err *errs.ExternalServiceError) bool {
	if !err.Temporary() {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return err.StatusCode == http.StatusTooManyRequests
}

func (c *Client) once(ctx context.Context, req Request, payload []byte) ([]byte, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limiter: %w", c.Service, req.Operation, err)
	}
	target := c.BaseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", c.Service, req.Operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/json"
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if c.Auth != nil {
		c.Auth(httpReq)
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.ExternalServiceError{Service: c.Service, Operation: req.Operation, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.ExternalServiceError{Service: c.Service, Operation: req.Operation, StatusCode: resp.StatusCode, Err: err}
	}
	c.Log.Debug("request done",
		zap.String("operation", req.Operation),
		zap.String("method", req.Method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errs.ExternalServiceError{
			Service:    c.Service,
			Operation:  req.Operation,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return data, nil
}

func (c *Client) decode(req Request, data []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &errs.MalformedResponseError{Service: c.Service, Operation: req.Operation, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &errs.MalformedResponseError{Service: c.Service, Operation: req.Operation, Err: err}
	}
	return nil
}

// retryAfter parses a Retry-After value given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
