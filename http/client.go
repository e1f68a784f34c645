// Package http provides the HTTP client used against the Headspace API, with
// built-in retry logic, rate limiting, circuit breaking and a typed error
// taxonomy, plus a bare streaming GET for signed media URLs.
package http

import (
	"bytes"
	"compress/gzip"
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

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"hsdl/internal/metrics"
	"hsdl/internal/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
// It is configured once per invocation and is read-only afterwards.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
	log            *zap.Logger
}

// Config holds HTTP client configuration including retry and rate limit settings.
type Config struct {
	// Timeout for individual API requests. Media streams are not bounded by it.
	Timeout time.Duration

	// Retry configuration for API requests
	Retry retry.Config

	// UserAgent for all requests
	UserAgent string

	// Token is the stored bearer token, sent verbatim as Authorization.
	Token string

	// Language is forwarded as the HS-LanguagePreference header.
	Language string

	// Rate limiter configuration
	RateLimiter RateLimiterConfig

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig

	// Connection pool configuration
	Transport TransportConfig

	// Jar keeps cookies between requests. Nil sends none; see NewSession.
	Jar http.CookieJar

	// Logger receives request tracing. Nil disables it.
	Logger *zap.Logger

	// Metrics counts API request results. Nil disables it.
	Metrics *metrics.Recorder
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum idle connections per host.
	MaxIdleConnsPerHost int
	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	IdleConnTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers, media streams included.
	ResponseHeaderTimeout time.Duration
}

// DefaultUserAgent mirrors a desktop browser; the API rejects unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/89.0.4389.72 Safari/537.36"

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		Retry:          retry.DefaultConfig(),
		UserAgent:      DefaultUserAgent,
		Language:       "en-US",
		RateLimiter:    DefaultRateLimiterConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Transport:      DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.Transport.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.Transport.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		// no client-wide timeout: it would cut off long media streams
		base:           &http.Client{Transport: transport, Jar: cfg.Jar},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
		log:            log,
	}
}

// Response represents an HTTP response with status code and decoded body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, urlStr string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, urlStr, nil, nil)
}

// GetJSON performs an API GET with query params and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, urlStr string, params url.Values, v interface{}) error {
	if len(params) > 0 {
		u, err := url.Parse(urlStr)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for k, vals := range params {
			for _, val := range vals {
				q.Add(k, val)
			}
		}
		u.RawQuery = q.Encode()
		urlStr = u.String()
	}

	resp, err := c.Get(ctx, urlStr)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, v); err != nil {
		c.config.Metrics.Request("malformed")
		return &TransportError{URL: redact(urlStr), StatusCode: 0, Err: err}
	}
	return nil
}

// Do performs an API request with retry logic and rate limit handling.
// Rate limits, 5xx and network failures are retried; 401/403 come back as
// *AuthError and other statuses as *TransportError without retrying.
func (c *Client) Do(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*Response, error) {
	host := hostOf(urlStr)

	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}

	retryCfg := c.config.Retry
	retryCfg.Notify = func(attempt int, err error, wait time.Duration) {
		c.log.Warn("retrying api request",
			zap.String("url", redact(urlStr)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	var result *Response

	err := retry.Do(ctx, retryCfg, c.isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
			return err
		}

		reqCtx := ctx
		if c.config.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, urlStr, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		c.applyAPIHeaders(req)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		c.log.Debug("sending api request", zap.String("method", method), zap.String("url", redact(urlStr)))

		resp, err := c.base.Do(req)
		if err != nil {
			c.config.Metrics.Request("network")
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := readBody(resp)
		if err != nil {
			c.config.Metrics.Request("network")
			return fmt.Errorf("read response body: %w", err)
		}

		if err := c.checkStatus(urlStr, resp, respBody); err != nil {
			return err
		}

		c.config.Metrics.Request("ok")
		result = &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}
		return nil
	})

	if err != nil {
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	c.rateLimiter.RecordSuccess(urlStr)
	c.circuitBreaker.RecordSuccess(host)
	return result, nil
}

// Stream issues a single GET against a signed media URL and returns the
// open response. Non-2xx responses fail immediately: a bad signed URL does
// not fix itself. The caller closes the body.
func (c *Client) Stream(ctx context.Context, urlStr string) (*http.Response, error) {
	host := hostOf(urlStr)

	if err := c.circuitBreaker.Allow(host); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	// the byte-count check needs the length the server declared
	req.Header.Set("Accept-Encoding", "identity")

	c.log.Debug("opening media stream", zap.String("url", redact(urlStr)))

	resp, err := c.base.Do(req)
	if err != nil {
		err = fmt.Errorf("http request failed: %w", err)
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		err := &TransportError{
			URL:        redact(urlStr),
			StatusCode: resp.StatusCode,
			Messages:   apiMessages(respBody),
		}
		c.circuitBreaker.RecordFailure(host, err)
		return nil, err
	}

	c.circuitBreaker.RecordSuccess(host)
	return resp, nil
}

func (c *Client) applyAPIHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Origin", "https://my.headspace.com")
	req.Header.Set("Referer", "https://my.headspace.com/")
	if c.config.Language != "" {
		req.Header.Set("Accept-Language", c.config.Language+",en;q=0.9")
		req.Header.Set("HS-LanguagePreference", c.config.Language)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", c.config.Token)
	}
}

func (c *Client) checkStatus(urlStr string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.config.Metrics.Request("unauthorized")
		return &AuthError{StatusCode: resp.StatusCode, Messages: apiMessages(body)}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		c.config.Metrics.Request("rate_limited")
		retryAfter := c.parseRetryAfter(resp.Header)
		if backoff := c.rateLimiter.RecordRateLimit(urlStr, retryAfter); backoff > retryAfter {
			retryAfter = backoff
		}
		return &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.config.Metrics.Request("http_error")
		return &TransportError{
			URL:        redact(urlStr),
			StatusCode: resp.StatusCode,
			Messages:   apiMessages(body),
		}
	}
	return nil
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	if errors.Is(err, ErrUnauthorized) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode >= 500
	}

	return true
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if not present.
func (c *Client) parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}

	return 0
}

// Close closes the HTTP client connections and releases all resources.
func (c *Client) Close() error {
	if c.base != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}

// readBody reads the whole response body, undoing gzip or brotli encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	return io.ReadAll(r)
}

// apiMessages pulls human-readable messages out of a JSON:API error document.
func apiMessages(body []byte) []string {
	var doc struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return nil
	}

	var msgs []string
	for _, e := range doc.Errors {
		switch {
		case e.Detail != "" && e.Title != "":
			msgs = append(msgs, e.Title+": "+e.Detail)
		case e.Detail != "":
			msgs = append(msgs, e.Detail)
		case e.Title != "":
			msgs = append(msgs, e.Title)
		}
	}
	return msgs
}

// redact drops the query string, which carries signatures on media URLs.
func redact(urlStr string) string {
	if i := strings.IndexByte(urlStr, '?'); i >= 0 {
		return urlStr[:i]
	}
	return urlStr
}
