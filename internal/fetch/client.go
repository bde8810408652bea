// Package fetch provides resilient clients for the third-party analytics APIs
// the risk gauge depends on. Every failure mode short of a programming error
// is absorbed into the unavailable sentinel: nothing above this boundary ever
// receives an error for a degraded data point.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yourorg/defi-risk-gauge/internal/config"
)

const userAgent = "defi-risk-gauge/1.0"

// rateLimitHints are substrings some APIs put in 400 response bodies when
// they are actually throttling. This is a heuristic, not a contract: a few
// financial-data APIs overload 400 for rate limiting instead of using 429.
var rateLimitHints = []string{"rate limit", "too many"}

// Options configures the resilient HTTP layer shared by the upstream clients.
type Options struct {
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration

	// MaxAttempts caps the total requests per fetch, including the first.
	MaxAttempts int

	// BackoffUnit is the base duration of the exponential backoff schedule.
	BackoffUnit time.Duration
}

// DefaultOptions returns the production retry settings.
func DefaultOptions() Options {
	return Options{
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		BackoffUnit: time.Second,
	}
}

// OptionsFromConfig builds fetch options from the application configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		BackoffUnit: cfg.BackoffUnit,
	}
}

// statusError reports a terminal non-2xx response after the retry policy ran
// its course.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// get issues a GET with the retry policy and returns the response body along
// with the number of requests that went out.
//
// Classification: 404 and plain 400 are permanent and never retried; 429 and
// 500/502/503 retry with a doubled exponential backoff; timeouts and
// connection errors retry with a plain exponential backoff; a 400 whose body
// hints at rate limiting is retried exactly once with a longer wait.
func get(ctx context.Context, opts Options, url string, preDelay time.Duration) ([]byte, int, error) {
	// Optional spacing before the request to stay under upstream rate limits.
	if preDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(preDelay):
		}
	}

	attempts := 0
	retried400 := false

	c := retryablehttp.NewClient()
	c.RetryMax = opts.MaxAttempts - 1
	c.HTTPClient.Timeout = opts.Timeout
	c.Logger = nil
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		attempts = attempt + 1
	}
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			// Timeouts and connection errors are transient.
			return true, nil
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			return true, nil
		case http.StatusBadRequest:
			if !retried400 && responseHintsRateLimit(resp) {
				retried400 = true
				return true, nil
			}
			return false, nil
		default:
			// 2xx proceeds; 404 and everything else is permanent
			// for this request.
			return false, nil
		}
	}
	c.Backoff = backoffPolicy(opts.BackoffUnit)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, attempts, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, attempts, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attempts, err
	}
	return body, attempts, nil
}

// backoffPolicy implements the status-specific wait schedule. Rate limiting
// and transient server failures wait 2^attempt doubled units, network
// failures wait a plain 2^attempt units, and a rate-limit-hinted 400 gets a
// single longer wait.
func backoffPolicy(unit time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
		exp := time.Duration(1<<uint(attemptNum)) * unit
		if resp == nil {
			return exp
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			return exp * 2
		case http.StatusBadRequest:
			return 4 * unit
		default:
			return exp
		}
	}
}

// responseHintsRateLimit peeks at a 400 body for throttling hints, restoring
// the body for any later reader.
func responseHintsRateLimit(resp *http.Response) bool {
	peek, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(peek))
	if err != nil {
		return false
	}

	body := strings.ToLower(string(peek))
	for _, hint := range rateLimitHints {
		if strings.Contains(body, hint) {
			return true
		}
	}
	return false
}
