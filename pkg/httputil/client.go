package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wonny/newstrace/backend/pkg/config"
	"github.com/wonny/newstrace/backend/pkg/logger"
)

const defaultUserAgent = "newstrace/1.0"

// Client wraps http.Client with transport-level retries and request
// logging. Outbound traffic is quote-provider GETs only.
// ⭐ SSOT: every outbound HTTP request goes through this client
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	userAgent  string

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// New creates the outbound HTTP client. The timeout comes from the
// quote provider config; retries cover transient 5xx and 429 answers.
// ⭐ SSOT: the http.Client instance is created here only
func New(cfg *config.Config, log *logger.Logger) *Client {
	timeout := cfg.Quotes.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:       log,
		userAgent:    defaultUserAgent,
		maxRetries:   3,
		initialDelay: 1 * time.Second,
		maxDelay:     10 * time.Second,
	}
}

// Get performs a GET request with the retry policy applied
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return c.do(req)
}

// do executes the request, retrying retryable statuses with
// exponential backoff. After the last attempt the response is returned
// as-is, so callers see the final status code.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	url := req.URL.String()

	c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    url,
	}).Debug("HTTP request started")

	var resp *http.Response
	var err error
	delay := c.initialDelay

	for attempt := 0; ; attempt++ {
		resp, err = c.httpClient.Do(req)
		if err == nil && !RetryableStatus(resp.StatusCode) {
			break
		}
		if attempt == c.maxRetries {
			break
		}

		if resp != nil {
			// Drain so the connection can be reused
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		c.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay,
			"url":     url,
		}).Warn("Retrying HTTP request")

		time.Sleep(delay)

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	duration := time.Since(startTime)

	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method":   req.Method,
			"url":      url,
			"duration": duration,
			"error":    err.Error(),
		}).Error("HTTP request failed")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"method":      req.Method,
		"url":         url,
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")

	return resp, nil
}

// RetryableStatus reports whether a status code is worth another
// attempt. The quote provider answers 429 when the shared quota runs
// out mid-window.
func RetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
