package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPClient is the shared HTTP layer for provider adapters.
// It owns the pooled http.Client and maps upstream status codes to the
// package's typed errors. Adapters embed it and build their wire formats
// on top of DoRequest.
//
// Requests are performed exactly once. Upstream rate discipline and retry
// belong to the gateway layers above the provider boundary, so a failed
// request surfaces immediately as a typed error.
type HTTPClient struct {
	// config contains the provider configuration
	config ProviderConfig

	// client is the HTTP client with connection pooling
	client *http.Client

	logger *slog.Logger
}

// NewHTTPClient creates the shared HTTP layer with connection pooling.
func NewHTTPClient(config ProviderConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPClient{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger: slog.Default().With("component", "provider", "provider", config.Name),
	}
}

// GetName returns the provider's configured name.
func (c *HTTPClient) GetName() string {
	return c.config.Name
}

// GetConfig returns the provider's configuration.
func (c *HTTPClient) GetConfig() ProviderConfig {
	return c.config
}

// DoRequest performs an HTTP request against the upstream and returns the
// response with its body unread on success (2xx). On failure the body is
// consumed, closed, and folded into a typed error:
//
//   - 401/403 -> AuthError
//   - 429     -> RateLimitError (with parsed Retry-After)
//   - other   -> ProviderError carrying the status code
//
// Context deadline exceeded maps to TimeoutError.
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request to provider",
		"method", method,
		"url", url,
	)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{
				Provider: c.config.Name,
				Timeout:  c.config.Timeout,
			}
		}
		return nil, &ProviderError{
			Provider: c.config.Name,
			Message:  "request failed",
			Cause:    err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errorBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{
			Provider: c.config.Name,
			Message:  string(errorBody),
		}

	case http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Provider:   c.config.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    string(errorBody),
		}

	default:
		return nil, &ProviderError{
			Provider:   c.config.Name,
			StatusCode: resp.StatusCode,
			Message:    string(errorBody),
		}
	}
}

// Close releases idle connections. The client must not be used afterwards.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	c.logger.Info("provider closed")
	return nil
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
