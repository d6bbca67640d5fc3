package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

// Default configuration values.
const (
	DefaultTimeout = 15 * time.Second
	// maxErrorMessage bounds how much of a plaintext error body lands in APIError.Message.
	maxErrorMessage = 512
	// maxBodySize bounds response bodies read into memory.
	maxBodySize = 8 << 20
)

// Client is a JSON-over-HTTP client bound to one base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retry      *RetryConfig
	header     http.Header
	logger     zerolog.Logger
}

// Config holds the settings for [NewClient].
type Config struct {
	// BaseURL is prepended to every request path. Required.
	BaseURL string
	// HTTPClient is the transport. Defaults to a fresh http.Client.
	HTTPClient *http.Client
	// Timeout bounds each call including retries. Defaults to [DefaultTimeout].
	Timeout time.Duration
	// Retry enables retries. Nil disables them.
	Retry *RetryConfig
	// Header is sent with every request.
	Header http.Header
	// Logger receives request traces at debug level.
	Logger zerolog.Logger
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		header:     cfg.Header.Clone(),
		logger:     cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.header == nil {
		c.header = make(http.Header)
	}
	return c, nil
}

// Option configures a client built with [New].
type Option func(*Config)

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithRetry enables retries.
func WithRetry(r *RetryConfig) Option {
	return func(c *Config) {
		c.Retry = r
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Header == nil {
			c.Header = make(http.Header)
		}
		c.Header.Set(key, value)
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// New creates a client for baseURL using functional options.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := Config{BaseURL: baseURL, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a raw HTTP response with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do sends body as JSON (when non-nil) and decodes a 2xx response into
// result (when non-nil). Non-2xx responses become *autherr.APIError.
func (c *Client) Do(ctx context.Context, method, path string, body, result interface{}) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	resp, err := c.Send(ctx, method, path, nil, data)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return ParseErrorResponse(resp.StatusCode, resp.Body)
	}

	if result != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Send performs one logical request and returns the response whatever its
// status. Retries apply to network failures and to statuses the retry
// config marks retryable.
func (c *Client) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	url := c.baseURL + path
	op := method + " " + path

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	for attempt := 0; ; attempt++ {
		resp, err := c.send(callCtx, method, url, header, body)
		if err != nil {
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, &autherr.TimeoutError{Operation: op, Timeout: c.timeout}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c.retry == nil || attempt >= c.retry.MaxRetries {
				return nil, &autherr.NetworkError{Err: err, URL: url, Attempt: attempt + 1}
			}
			c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("request failed, retrying")
		} else {
			c.logger.Debug().
				Str("method", method).
				Str("url", url).
				Int("status", resp.StatusCode).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
			if c.retry == nil || !c.retry.ShouldRetry(attempt, resp.StatusCode) {
				return resp, nil
			}
			c.logger.Warn().Str("url", url).Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("retryable status")
		}

		if err := c.retry.Wait(callCtx, attempt); err != nil {
			if ctx.Err() == nil {
				return nil, &autherr.TimeoutError{Operation: op, Timeout: c.timeout}
			}
			return nil, err
		}
	}
}

func (c *Client) send(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range c.header {
		req.Header[k] = v
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// ParseErrorResponse builds an *autherr.APIError from a non-2xx body. JSON
// bodies contribute their "error" or "message" field; anything else is used
// verbatim, truncated.
func ParseErrorResponse(status int, body []byte) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	msg := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		msg = errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
	} else {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
	}

	return &autherr.APIError{
		StatusCode: status,
		Message:    msg,
		Body:       body,
	}
}
