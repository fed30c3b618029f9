// Package api is the request pipeline every backend call goes through. It
// attaches the session's bearer token and retries a call once after a 401,
// refreshing the session in between.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/version"
)

// maxResponseBytes bounds response bodies read into memory.
const maxResponseBytes = 10 << 20

// TokenSource supplies and renews the bearer token.
type TokenSource interface {
	// AccessToken returns the current token, or "" when signed out.
	AccessToken(ctx context.Context) string
	// Refresh renews the session and returns the new access token.
	Refresh(ctx context.Context) (string, error)
}

// Attempt marks whether a call is the resend that follows a 401. A call is
// resent at most once.
type Attempt struct {
	Retried bool
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded, except []byte which is sent as is. Set a
	// Content-Type in Header for non-JSON bodies such as multipart forms.
	Body   any
	Header http.Header
	// NoAuth sends the call without a token and without the 401 retry.
	NoAuth bool
}

// Response wraps a successful response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Client sends requests to the backend.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
	hooks      observability.Hooks
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-call timeout. Each send, including the resend
// after a 401, gets the full timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithHooks sets the observability hooks.
func WithHooks(h observability.Hooks) Option {
	return func(cl *Client) { cl.hooks = h }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tokens:    tokens,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		timeout:   10 * time.Second,
		userAgent: version.UserAgent(),
		logger:    slog.New(slog.DiscardHandler),
		hooks:     observability.NopHooks{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// Do sends r. Non-2xx responses come back as *output.Error.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}

	token := ""
	if !r.NoAuth {
		token = c.tokens.AccessToken(ctx)
	}
	return c.roundTrip(ctx, r, body, token, Attempt{})
}

// roundTrip sends once and handles a 401 on a first attempt by renewing the
// token and resending with Attempt{Retried: true}.
func (c *Client) roundTrip(ctx context.Context, r *Request, body []byte, token string, attempt Attempt) (*Response, error) {
	resp, err := c.send(ctx, r, body, token, attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || r.NoAuth || attempt.Retried {
		return resp.result()
	}

	// Another call may already have renewed the session.
	next := c.tokens.AccessToken(ctx)
	if next == "" || next == token {
		next, err = c.tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		c.logger.Debug("reusing token renewed by another call", "path", r.Path)
	}

	return c.roundTrip(ctx, r, body, next, Attempt{Retried: true})
}

// rawResponse is a response of any status, body already read.
type rawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

func (r *rawResponse) result() (*Response, error) {
	if r.StatusCode < 200 || r.StatusCode >= 300 {
		return nil, output.ErrFromStatus(r.StatusCode, r.Body, r.Headers.Get("Retry-After"))
	}
	return &Response{Data: r.Body, StatusCode: r.StatusCode, Headers: r.Headers}, nil
}

func (c *Client) send(ctx context.Context, r *Request, body []byte, token string, attempt Attempt) (*rawResponse, error) {
	url := c.buildURL(r.Path)
	info := observability.RequestInfo{
		Method:    r.Method,
		URL:       url,
		RequestID: uuid.NewString(),
		Retried:   attempt.Retried,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, bodyReader)
	if err != nil {
		return nil, output.ErrUsage(fmt.Sprintf("Invalid request: %v", err))
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", info.RequestID)

	ctx = c.hooks.OnRequestStart(ctx, info)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = output.ErrTransport(err)
		c.hooks.OnRequestEnd(ctx, info, observability.RequestResult{Duration: time.Since(start), Error: err})
		c.logger.Debug("request failed", "method", r.Method, "path", r.Path, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	duration := time.Since(start)
	if err != nil {
		err = output.ErrTransport(err)
		c.hooks.OnRequestEnd(ctx, info, observability.RequestResult{StatusCode: resp.StatusCode, Duration: duration, Error: err})
		return nil, err
	}

	c.hooks.OnRequestEnd(ctx, info, observability.RequestResult{StatusCode: resp.StatusCode, Duration: duration})
	c.logger.Debug("request",
		"method", r.Method,
		"path", r.Path,
		"status", resp.StatusCode,
		"retried", attempt.Retried,
		"request_id", info.RequestID,
		"duration", duration)

	return &rawResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, output.ErrUsage(fmt.Sprintf("failed to marshal body: %v", err))
		}
		return data, nil
	}
}
