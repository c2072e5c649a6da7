package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	maxErrorBody = 512
)

// Client is a rate-limited HTTP client for one provider family.
type Client struct {
	family     string
	baseURL    string
	apiKey     string
	keyHeader  string
	keyQuery   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithAPIKeyHeader sends the API key in the named header.
func WithAPIKeyHeader(name string) ClientOption {
	return func(c *Client) {
		c.keyHeader = name
		c.keyQuery = ""
	}
}

// WithAPIKeyQuery sends the API key as the named query parameter.
func WithAPIKeyQuery(name string) ClientOption {
	return func(c *Client) {
		c.keyQuery = name
		c.keyHeader = ""
	}
}

// NewClient creates a client for the given provider family.
func NewClient(family, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		family:    family,
		apiKey:    apiKey,
		keyHeader: "x-api-key",
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Family returns the provider family name.
func (c *Client) Family() string {
	return c.family
}

// APIError represents a non-2xx response from a provider.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	RetryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Do performs a request and returns the raw response body.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	if c.keyQuery != "" && c.apiKey != "" {
		params.Set(c.keyQuery, c.apiKey)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL = reqURL + "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.keyHeader != "" && c.apiKey != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	log.Debug().
		Str("family", c.family).
		Str("method", method).
		Str("path", path).
		Msg("provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   path,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	return respBody, nil
}
