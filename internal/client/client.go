// Package client is a Go client for the ledger HTTP API. Requests are paced by
// a token bucket and retried when the server asks the caller to come back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tradeledger/backend/internal/interfaces/http/dto"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultRetryWait  = 250 * time.Millisecond
	maxRetryWait      = 5 * time.Second
	apiPrefix         = "/api/v1/ledger"
)

// Client talks to one ledger server
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	maxRetries int
	retryWait  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithRateLimit paces requests at rps with the given burst
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets how many times a retryable failure is retried and the base backoff
func WithRetries(maxRetries int, wait time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if wait > 0 {
			c.retryWait = wait
		}
	}
}

// WithTimeout bounds each HTTP round trip
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithLogger sets the logger used for retry diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.http.SetHeader(key, value)
	}
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080"
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/json"),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     zap.NewNop(),
		maxRetries: defaultMaxRetries,
		retryWait:  defaultRetryWait,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer carrying the server's error envelope
type APIError struct {
	Status    int
	Code      string
	Message   string
	Details   map[string]any
	RequestID string
	// Data is the envelope's data field, e.g. the partial plan of an overallocation
	Data json.RawMessage
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("ledger api %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("ledger api %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// retryPolicy says which failures may be sent again
type retryPolicy int

const (
	// retryRejected only retries answers given before the handler ran
	retryRejected retryPolicy = iota
	// retryIdempotent also retries transport errors and gateway failures
	retryIdempotent
)

type call struct {
	method  string
	path    string
	query   map[string]string
	body    any
	headers map[string]string
	policy  retryPolicy
}

// result is a decoded envelope
type result[T any] struct {
	data T
	meta *dto.Meta
}

func do[T any](ctx context.Context, c *Client, req call) (*result[T], error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		r := c.http.R().SetContext(ctx)
		if req.query != nil {
			r.SetQueryParams(req.query)
		}
		if req.body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(req.body)
		}
		for k, v := range req.headers {
			r.SetHeader(k, v)
		}

		resp, err := r.Execute(req.method, req.path)
		res, callErr := decode[T](resp, err)
		if callErr == nil {
			return res, nil
		}
		lastErr = callErr

		wait, retry := c.shouldRetry(req.policy, resp, callErr, attempt)
		if !retry {
			return res, callErr
		}
		c.logger.Debug("retrying ledger request",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(callErr),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w (gave up: %v)", lastErr, err)
		}
	}
}

// decode turns a resty outcome into a result or an error. A non-2xx answer
// still yields its decoded data, so callers can read partial plans.
func decode[T any](resp *resty.Response, err error) (*result[T], error) {
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var env handler.APIResponse[json.RawMessage]
	if uerr := json.Unmarshal(resp.Body(), &env); uerr != nil {
		if resp.IsError() {
			return nil, &APIError{Status: resp.StatusCode(), Code: dto.ErrCodeInternal, Message: http.StatusText(resp.StatusCode())}
		}
		return nil, fmt.Errorf("failed to decode response: %w", uerr)
	}

	res := &result[T]{meta: env.Meta}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if uerr := json.Unmarshal(env.Data, &res.data); uerr != nil && !resp.IsError() {
			return nil, fmt.Errorf("failed to decode response data: %w", uerr)
		}
	}

	if resp.IsError() || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode(), Data: env.Data}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
			apiErr.RequestID = env.Error.RequestID
		}
		return res, apiErr
	}
	return res, nil
}

func (c *Client) shouldRetry(policy retryPolicy, resp *resty.Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= c.maxRetries {
		return 0, false
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport failure: the server may or may not have applied the request
		return c.backoff(attempt), policy == retryIdempotent
	}

	switch {
	case apiErr.Status == http.StatusTooManyRequests:
		return c.retryAfter(resp, attempt), true
	case apiErr.Code == dto.ErrCodeLockNotAcquired:
		return c.backoff(attempt), true
	case policy == retryIdempotent && (apiErr.Status == http.StatusBadGateway ||
		apiErr.Status == http.StatusServiceUnavailable ||
		apiErr.Status == http.StatusGatewayTimeout):
		return c.retryAfter(resp, attempt), true
	}
	return 0, false
}

func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.retryWait) * math.Pow(2, float64(attempt)))
	if d > maxRetryWait {
		return maxRetryWait
	}
	return d
}

func (c *Client) retryAfter(resp *resty.Response, attempt int) time.Duration {
	if resp != nil {
		if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && seconds >= 0 {
			d := time.Duration(seconds) * time.Second
			if d > maxRetryWait {
				return maxRetryWait
			}
			return d
		}
	}
	return c.backoff(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
