package provider

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxRetries = 3

// retryTransport retries requests on transient failures (network errors,
// 5xx, 429) with exponential backoff. Only requests whose body can be
// replayed are retried. The final attempt's response is returned as is so
// callers see the real status and body.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	ctx := req.Context()

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter.
			base := time.Duration(attempt*attempt) * t.baseDelay
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			t.logger.Warn("retrying request", "url", req.URL.Path, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

			retry, err := rewind(req)
			if err != nil {
				return nil, fmt.Errorf("request failed and cannot be replayed: %w", lastErr)
			}
			req = retry
		}

		resp, err := t.next.RoundTrip(req)
		if err != nil {
			lastErr = err
			if attempt < t.maxRetries && ctx.Err() == nil {
				t.logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", attempt, err)
		}

		if (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) && attempt < t.maxRetries {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
			t.logger.Warn("server error, will retry", "status", resp.StatusCode, "body", string(body))
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// rewind clones req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}
