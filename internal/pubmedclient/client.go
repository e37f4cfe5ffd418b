// Package pubmedclient is a rate-limited client for the NCBI E-utilities
// bibliographic API (ESearch + EFetch), used by Scout (C8) to search and
// fetch PubMed abstracts.
package pubmedclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// Rate limits per NCBI policy.
	rateWithoutKey = 3
	rateWithKey    = 10

	defaultMaxResponseBytes int64 = 20 * 1024 * 1024

	maxRetries    = 2
	baseRetryWait = 700 * time.Millisecond
	maxRetryWait  = 4 * time.Second

	// CallTimeout is the per-HTTP-call timeout mandated by §5.
	CallTimeout = 10 * time.Second
)

// Client is a shared HTTP client for NCBI E-utilities with rate limiting,
// common parameter injection, and response size guards.
type Client struct {
	BaseURL    string
	APIKey     string
	Tool       string
	Email      string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.BaseURL = u } }

// WithAPIKey sets the NCBI API key and raises the rate limit accordingly.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = key
		if key != "" {
			c.limiter = rate.NewLimiter(rate.Limit(rateWithKey), 1)
		}
	}
}

func WithTool(tool string) Option           { return func(c *Client) { c.Tool = tool } }
func WithEmail(email string) Option         { return func(c *Client) { c.Email = email } }
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.HTTPClient = hc } }

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		BaseURL:  DefaultBaseURL,
		Tool:     "aesop",
		maxBytes: defaultMaxResponseBytes,
		limiter:  rate.NewLimiter(rate.Limit(rateWithoutKey), 1),
		HTTPClient: &http.Client{
			Timeout: CallTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doGet performs a rate-limited GET against an E-utilities endpoint,
// retrying on 429 with Retry-After or exponential backoff.
func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.APIKey != "" {
		params.Set("api_key", c.APIKey)
	}
	if c.Tool != "" {
		params.Set("tool", c.Tool)
	}
	if c.Email != "" {
		params.Set("email", c.Email)
	}

	u, err := url.JoinPath(c.BaseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("pubmedclient.doGet: build url: %w", err)
	}
	fullURL := u + "?" + params.Encode()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pubmedclient.doGet: rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("pubmedclient.doGet: build request: %w", err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("pubmedclient.doGet: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := retryAfterDuration(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			if attempt >= maxRetries {
				return nil, fmt.Errorf("pubmedclient.doGet: rate limited after %d retries", maxRetries)
			}
			if retryAfter <= 0 {
				retryAfter = baseRetryWait * time.Duration(1<<attempt)
				if retryAfter > maxRetryWait {
					retryAfter = maxRetryWait
				}
			}
			if err := sleepWithContext(ctx, retryAfter); err != nil {
				return nil, fmt.Errorf("pubmedclient.doGet: retry cancelled: %w", err)
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("pubmedclient.doGet: endpoint %s returned status %d", endpoint, resp.StatusCode)
		}

		r := io.LimitReader(resp.Body, c.maxBytes+1)
		body, err := io.ReadAll(r)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("pubmedclient.doGet: read body: %w", err)
		}
		if int64(len(body)) > c.maxBytes {
			return nil, fmt.Errorf("pubmedclient.doGet: response exceeds %d bytes", c.maxBytes)
		}
		return body, nil
	}

	return nil, fmt.Errorf("pubmedclient.doGet: unreachable")
}

func retryAfterDuration(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
