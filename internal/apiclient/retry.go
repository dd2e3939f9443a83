package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ieltsgenai/prep/internal/reliability"
)

const (
	// DefaultMaxAttempts bounds the retry loop for one logical call.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase yields the 1s/2s/4s schedule between attempts.
	DefaultBackoffBase = time.Second

	backoffCap       = 30 * time.Second
	maxErrorBodySize = 4 << 10
)

// Executor runs one HTTP request with a per-attempt deadline, retrying
// server-class and transport failures with exponential backoff. Client-class
// statuses fail on the spot.
type Executor struct {
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
	// onRetry observes the attempt number about to be retried.
	onRetry func(attempt int)
}

func NewExecutor(client *http.Client, maxAttempts int, backoffBase time.Duration) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	return &Executor{
		client:      client,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

// SetRetryHook registers an observer invoked before each backoff wait.
func (e *Executor) SetRetryHook(hook func(attempt int)) {
	e.onRetry = hook
}

// Do executes the request produced by build, once per attempt, each under
// its own deadline. The builder runs per attempt because request bodies are
// single-use.
func (e *Executor) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error), timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var last error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		body, retriable, err := e.attempt(ctx, build, timeout)
		if err == nil {
			return body, nil
		}
		if !retriable {
			return nil, err
		}
		last = err

		if attempt == e.maxAttempts {
			break
		}
		if e.onRetry != nil {
			e.onRetry(attempt)
		}
		delay := reliability.ExponentialBackoff(attempt-1, e.backoffBase, backoffCap)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &ServerError{Attempts: e.maxAttempts, Last: last}
}

func (e *Executor) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error), timeout time.Duration) (body []byte, retriable bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		// Request construction is a caller bug, never transient.
		return nil, false, err
	}

	res, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &TransportError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		data, err := io.ReadAll(res.Body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return nil, true, &TransportError{Err: fmt.Errorf("read response: %w", err)}
		}
		return data, false, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
	apiErr := &APIError{StatusCode: res.StatusCode, Status: res.Status, Body: string(snippet)}
	if reliability.IsRetryableHTTPStatus(res.StatusCode) {
		return nil, true, apiErr
	}
	return nil, false, apiErr
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

// IsClientError reports whether err is a non-retried 4xx failure.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < 500
}
