/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package restclient is the small JSON-over-HTTP layer shared by the clients of the
// third-party services (database service API, commerce platform, voice AI).
// It does one request per call: no retries, no backoff, no rate limiting.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is used when no custom *http.Client is provided.
const DefaultTimeout = 30 * time.Second

// maxErrorBodySize limits how much of an error response is kept in APIError.
const maxErrorBodySize = 64 << 10

// Client sends JSON requests to a single base URL with a fixed set of headers.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	header     http.Header
}

// Option is a functional option for New.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (e.g. one with a different timeout or transport).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithBearerToken sets the Authorization header to "Bearer <token>".
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// New creates a new Client. baseURL must be absolute.
func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		header:     make(http.Header),
	}
	c.header.Set("Accept", "application/json")
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Request describes a single call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is encoded as JSON when not nil. json.RawMessage is sent as is.
	Body interface{}
}

// Do sends the request and decodes a successful JSON response into out (if out is not nil).
// Non-2xx responses are returned as *APIError. The returned *http.Response has its body
// already consumed and closed; it is returned for its headers.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) (*http.Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, newAPIError(httpReq.Method, httpReq.URL.Path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return resp, fmt.Errorf("read response body: %w", readErr)
		}
		*raw = data
		return resp, nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp, fmt.Errorf("decode response of %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	return resp, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.baseURL
	u.Path = u.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) != 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		var data []byte
		if raw, ok := req.Body.(json.RawMessage); ok {
			data = raw
		} else {
			var err error
			if data, err = json.Marshal(req.Body); err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range c.header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	// Code and Message are filled when the body is a JSON object with "code"/"message"
	// (or "error"/"errors") members, as the database service and most SaaS APIs return.
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if msg == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), msg)
}

func newAPIError(method, path string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}

	var payload struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Errors  json.RawMessage `json:"errors"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return apiErr
	}
	apiErr.Code = rawToString(payload.Code)
	apiErr.Message = payload.Message
	if apiErr.Message == "" {
		apiErr.Message = rawToString(payload.Error)
	}
	if apiErr.Message == "" {
		apiErr.Message = rawToString(payload.Errors)
	}
	return apiErr
}

// rawToString renders a JSON member that may be a string, a number or an object.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
