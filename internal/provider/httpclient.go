package provider

import (
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// SharedHTTPClient returns an HTTP client with connection pooling and
// transient-failure retries. Streaming responses are bounded by the header
// timeout only, so long generations are not cut off.
func SharedHTTPClient(timeout time.Duration, logger *slog.Logger) *http.Client {
	return newHTTPClient(timeout, maxRetries, time.Second, logger)
}

func newHTTPClient(timeout time.Duration, retries int, baseDelay time.Duration, logger *slog.Logger) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &retryTransport{
			next:       transport,
			maxRetries: retries,
			baseDelay:  baseDelay,
			logger:     logger,
		},
	}
}
