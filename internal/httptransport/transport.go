// Package httptransport implements the HTTP Transport (§4.1): a shared
// connection pool, retry with exponential backoff, status-classified error
// mapping, and a server-sent-events streaming demuxer. The OpenAI provider
// makes its calls through here; the Anthropic provider does not, since its
// SDK brings its own HTTP client and retry.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fathomlabs/agentcore/internal/backoff"
	"github.com/fathomlabs/agentcore/internal/coreerrors"
)

// retryableStatuses is consulted by classifyStatus; any status not listed
// here (and not a 2xx) fails immediately without a retry attempt.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	425:                            true, // Too Early
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Request is the transport-level request shape; callers never touch
// *http.Request directly.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any // marshaled as JSON if non-nil
	Timeout time.Duration
}

// Transport is the shared connection pool plus retry policy. The zero value
// is not usable; construct with New.
type Transport struct {
	client     *http.Client
	policy     backoff.BackoffPolicy
	maxRetries int
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithBackoffPolicy overrides the default HTTP-transport retry policy.
func WithBackoffPolicy(policy backoff.BackoffPolicy) Option {
	return func(t *Transport) { t.policy = policy }
}

// WithMaxRetries overrides the default retry count (§4.1 default: 2).
func WithMaxRetries(maxRetries int) Option {
	return func(t *Transport) { t.maxRetries = maxRetries }
}

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server, or one with a custom RoundTripper).
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// New builds a Transport with a connection pool bounded the way a
// long-lived outbound client to a handful of hosts should be: a modest
// per-host idle cap rather than the unbounded default.
func New(opts ...Option) *Transport {
	t := &Transport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 0, // streaming responses have no single header deadline
			},
		},
		policy:     backoff.HTTPTransportDefault(),
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs a unary request, retrying per the transport's backoff
// policy on transport I/O failure or a retryable status, and returns the
// response body bytes on success.
func (t *Transport) Send(ctx context.Context, req Request) ([]byte, http.Header, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, nil, coreerrors.NewConfigurationError("failed to encode request body", err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, coreerrors.NewConnectionError("context cancelled before send", err)
		}

		respBody, headers, status, err := t.do(ctx, req, body)
		if err == nil && status >= 200 && status < 300 {
			return respBody, headers, nil
		}
		if err != nil {
			lastErr = coreerrors.NewConnectionError("transport I/O failure", err)
		} else {
			lastErr = classifyStatus(status, respBody)
			if rl, ok := lastErr.(*coreerrors.RateLimitError); ok {
				if d, ok := parseRetryAfter(headers.Get("Retry-After")); ok {
					rl.RetryAfterSeconds = d.Seconds()
				}
			}
		}

		if !coreerrors.IsRetryable(lastErr) || attempt > t.maxRetries {
			return nil, headers, lastErr
		}

		delay := t.nextDelay(attempt, headers)
		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return nil, headers, coreerrors.NewConnectionError("context cancelled while waiting to retry", sleepErr)
		}
	}
	return nil, nil, lastErr
}

// do issues a single attempt and returns the response body, headers, and
// status code. A non-nil error means the request never reached a server
// (DNS, dial, TLS, or a body-read failure) and therefore never produced a
// status to classify.
func (t *Transport) do(ctx context.Context, req Request, body []byte) ([]byte, http.Header, int, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, nil, 0, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, resp.StatusCode, err
	}
	return respBody, resp.Header, resp.StatusCode, nil
}

// nextDelay honors a Retry-After header (seconds or HTTP-date) when
// present, otherwise falls back to the computed backoff for this attempt.
func (t *Transport) nextDelay(attempt int, headers http.Header) time.Duration {
	if headers != nil {
		if d, ok := parseRetryAfter(headers.Get("Retry-After")); ok {
			return d
		}
	}
	return backoff.ComputeBackoff(t.policy, attempt)
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// classifyStatus maps an HTTP status to the error taxonomy of §7 /
// internal/coreerrors, with a snippet of the body as the cause. A 429's
// RetryAfterSeconds is left at 0 here; callers holding the response headers
// fill it in.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return coreerrors.NewAuthenticationError(fmt.Sprintf("request rejected with status %d", status), httpStatusErr(status, body))
	case status == http.StatusTooManyRequests:
		return coreerrors.NewRateLimitError(fmt.Sprintf("rate limited with status %d", status), 0, httpStatusErr(status, body))
	case status >= 500:
		return coreerrors.NewServerError(fmt.Sprintf("server error with status %d", status), httpStatusErr(status, body))
	case isRetryableStatus(status):
		// 408 Request Timeout, 425 Too Early: not server errors, but still
		// transient per §4.1's retry-status list.
		return coreerrors.NewServerError(fmt.Sprintf("transient status %d", status), httpStatusErr(status, body))
	case status >= 400 && status < 500:
		return coreerrors.NewInvalidRequestError(fmt.Sprintf("request rejected with status %d", status), httpStatusErr(status, body))
	default:
		return coreerrors.NewInvalidRequestError(fmt.Sprintf("unexpected status %d", status), httpStatusErr(status, body))
	}
}

func httpStatusErr(status int, body []byte) error {
	const maxEcho = 2048
	snippet := body
	if len(snippet) > maxEcho {
		snippet = snippet[:maxEcho]
	}
	return fmt.Errorf("http %d: %s", status, string(snippet))
}

func isRetryableStatus(status int) bool {
	return retryableStatuses[status]
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(body)
}
