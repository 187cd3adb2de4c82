package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sticker-convert/internal/logging"
	"sticker-convert/internal/metrics"
)

// Defaults shared by every platform client.
const (
	DefaultTimeout           = 60 * time.Second
	DefaultUserAgent         = "sticker-convert/1.0"
	DefaultRequestsPerSecond = 4.0
	DefaultBurst             = 8

	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 1 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0

	// maxBodyBytes bounds responses read fully into memory.
	maxBodyBytes = 64 << 20
)

// RetryConfig controls retries of failed requests.
type RetryConfig struct {
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	RetryableHTTPCodes []int
}

// DefaultRetryConfig retries timeouts, rate limiting and server errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:         DefaultMaxRetries,
		InitialBackoff:     DefaultInitialBackoff,
		MaxBackoff:         DefaultMaxBackoff,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		RetryableHTTPCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

// Config configures a Client. Zero values take the defaults.
type Config struct {
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Retry             *RetryConfig
	Transport         http.RoundTripper
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d", e.URL, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client is an HTTP client with per-host rate limiting and retries.
type Client struct {
	http      *http.Client
	userAgent string
	retry     RetryConfig
	rps       float64
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		}
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		userAgent: cfg.UserAgent,
		retry:     retry,
		rps:       cfg.RequestsPerSecond,
		burst:     cfg.Burst,
		limiters:  map[string]*rate.Limiter{},
	}
}

// HTTPClient returns the underlying client for libraries that take one.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// SetHostLimit overrides the request rate for one host.
func (c *Client) SetHostLimit(host string, rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[host] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[host] = l
	}
	return l
}

// RequestFunc builds a fresh request for each attempt, since a request
// body cannot be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do sends the request built by newReq, waiting on the host's rate limiter
// and retrying retryable failures. A non-2xx final response is returned
// as a *StatusError with the body closed.
func (c *Client) Do(ctx context.Context, newReq RequestFunc) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		host := req.URL.Host
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		if err := c.limiter(host).Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.HTTPClientRequestsTotal.WithLabelValues(host, "error").Inc()
			lastErr = err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			metrics.HTTPClientRequestsTotal.WithLabelValues(host, statusClass(resp.StatusCode)).Inc()
			if attempt > 0 {
				logging.Debug("Request to %s succeeded after %d retries", host, attempt)
			}
			return resp, nil
		default:
			metrics.HTTPClientRequestsTotal.WithLabelValues(host, statusClass(resp.StatusCode)).Inc()
			lastErr = statusError(req.URL, resp)
			wait = retryAfter(resp.Header.Get("Retry-After"))
			if !slices.Contains(c.retry.RetryableHTTPCodes, resp.StatusCode) {
				return nil, lastErr
			}
		}

		if attempt >= c.retry.MaxRetries {
			break
		}
		backoff := c.backoff(attempt + 1)
		if wait > backoff {
			backoff = min(wait, c.retry.MaxBackoff)
		}
		metrics.HTTPClientRetries.WithLabelValues(host).Inc()
		logging.Debug("Request to %s failed (%v), retrying in %v", host, lastErr, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("max retries (%d) exhausted: %w", c.retry.MaxRetries, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	b := float64(c.retry.InitialBackoff) * math.Pow(c.retry.BackoffMultiplier, float64(attempt-1))
	if b > float64(c.retry.MaxBackoff) {
		b = float64(c.retry.MaxBackoff)
	}
	// +-20% jitter
	b *= 1 + (rand.Float64()*0.4 - 0.2)
	return time.Duration(b)
}

func statusError(u *url.URL, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, URL: redactURL(u), Body: string(body)}
}

// redactURL drops the query string, which may hold tokens.
func redactURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// Get performs a GET with optional headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

// GetBytes fetches rawURL into memory.
func (c *Client) GetBytes(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", resp.Request.URL.Host, maxBodyBytes)
	}
	return data, nil
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, v any) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}
	data, err := c.GetBytes(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode JSON from %s: %w", rawURL, err)
	}
	return nil
}

// Download streams rawURL to dst. The file is written to a temporary name
// beside dst and renamed once complete.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	resp, err := c.Get(ctx, rawURL, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to download %s: %w", redactURL(resp.Request.URL), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}
