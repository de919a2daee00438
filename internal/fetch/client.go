package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultBudget     = 5 * time.Second

	// initialBackoff doubles per attempt when the provider gives no
	// Retry-After hint.
	initialBackoff = 500 * time.Millisecond

	// safetyBuffer keeps a backoff sleep from landing exactly on the
	// deadline with no time left for the next attempt.
	safetyBuffer = 50 * time.Millisecond
)

// Request describes a single logical outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response carries the status code and the raw JSON body of a completed
// call. The body is syntactically valid JSON but otherwise unvalidated;
// interpreting it is the caller's job. A bodyless response has a nil Body.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Options bounds one logical call including all of its retries.
type Options struct {
	MaxRetries int
	Budget     time.Duration
}

// Client issues outbound HTTP calls with retry, rate-limit and deadline
// handling. It never interprets success payloads.
type Client struct {
	httpClient *http.Client
	log        *logrus.Entry

	// jitter returns a multiplier for backoff delays; swappable in tests.
	jitter func() float64
}

// NewClient creates a fetch client. The http.Client carries no timeout of
// its own; every attempt is bounded by the per-call budget instead.
func NewClient(log *logrus.Entry) *Client {
	return &Client{
		httpClient: &http.Client{},
		log:        log,
		jitter: func() float64 {
			return 0.85 + rand.Float64()*0.30
		},
	}
}

// Do performs the call. All attempts share one wall-clock deadline of
// now+Budget; an attempt never starts once it has passed. Transport
// failures, HTTP 429 and HTTP 5xx are retried; every other status is final.
// The returned error is always a *Error when non-nil.
func (c *Client) Do(ctx context.Context, req Request, opts Options) (*Response, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = defaultBudget
	}

	deadline := time.Now().Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if time.Until(deadline) <= 0 {
			return nil, &Error{Kind: KindTimeout}
		}

		resp, retryable, hint, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"url":     req.URL,
			"attempt": attempt,
		}).WithError(err).Debug("retryable attempt failure")

		if attempt == maxRetries {
			break
		}
		if err := c.waitForRetry(ctx, deadline, attempt, hint); err != nil {
			return nil, err
		}
	}

	return nil, &Error{Kind: KindRetriesExhausted}
}

// attempt runs one HTTP round trip and classifies the outcome. It returns
// either a final response, a final error (retryable=false), or a retryable
// error with an optional provider-supplied delay hint.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, bool, *time.Duration, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, false, nil, &Error{Kind: KindNetwork, cause: err}
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, false, nil, &Error{Kind: KindTimeout, cause: err}
		}
		// Connection refused, DNS failure, reset: retryable with no hint.
		return nil, true, nil, &Error{Kind: KindNetwork, cause: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, false, nil, &Error{Kind: KindTimeout, cause: err}
		}
		return nil, true, nil, &Error{Kind: KindNetwork, cause: err}
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		hint := parseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
		return nil, true, hint, &Error{Kind: KindNetwork}
	case httpResp.StatusCode >= 500:
		return nil, true, nil, &Error{Kind: KindNetwork}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &Response{StatusCode: httpResp.StatusCode}, false, nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, false, nil, &Error{Kind: KindInvalidJSON}
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: json.RawMessage(trimmed)}, false, nil, nil
}

// waitForRetry sleeps until the next attempt may start. A provider hint is
// honored verbatim; otherwise exponential backoff with jitter applies,
// capped so the sleep cannot outlive the deadline.
func (c *Client) waitForRetry(ctx context.Context, deadline time.Time, attempt int, hint *time.Duration) error {
	remaining := time.Until(deadline)

	var delay time.Duration
	if hint != nil {
		if *hint >= remaining {
			return &Error{Kind: KindTimeout}
		}
		delay = *hint
	} else {
		delay = initialBackoff << (attempt - 1)
		delay = time.Duration(float64(delay) * c.jitter())
		if maxDelay := remaining - safetyBuffer; delay > maxDelay {
			delay = maxDelay
		}
		if delay <= 0 {
			return &Error{Kind: KindTimeout}
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &Error{Kind: KindTimeout, cause: ctx.Err()}
	}
}

// parseRetryAfter reads a Retry-After value as a non-negative number of
// seconds, falling back to an HTTP date. A value that parses as neither
// yields no hint.
func parseRetryAfter(value string, now time.Time) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if at, err := time.Parse(layout, value); err == nil {
			d := at.Sub(now)
			if d < 0 {
				d = 0
			}
			return &d
		}
	}

	return nil
}
