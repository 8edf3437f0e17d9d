/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package postgrest is a client for the HTTP API a managed database service exposes in front of
// PostgreSQL (PostgREST conventions): calling server-side functions through /rpc and reading
// tables and views with filter query parameters.
package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acronis/go-dbops/internal/restclient"
)

// APIPath is the path prefix of the REST API relative to the service URL.
const APIPath = "/rest/v1"

// Error codes returned by the service in the "code" member of error responses.
const (
	// CodeFunctionNotFound is returned when no function matches the name and the set of argument names.
	CodeFunctionNotFound = "PGRST202"
	// CodeJWTInvalid is returned when the API key is malformed or expired.
	CodeJWTInvalid = "PGRST301"
	// CodeTableNotFound is returned when the requested table or view is not exposed.
	CodeTableNotFound = "PGRST205"
	// CodeUndefinedFunction is the PostgreSQL SQLSTATE relayed when a called function does not exist.
	CodeUndefinedFunction = "42883"
)

// ErrMissingCredentials is returned by New when the service URL or the API key is empty.
var ErrMissingCredentials = errors.New("service url and api key are required")

// Client talks to the service's REST API with a service API key.
type Client struct {
	rest *restclient.Client
}

// Option is a functional option for New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	timeout    time.Duration
	schema     string
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithTimeout sets a timeout for every request. It is ignored when WithHTTPClient is used.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithSchema selects a non-default exposed schema (Accept-Profile/Content-Profile headers).
func WithSchema(schema string) Option {
	return func(o *options) {
		o.schema = schema
	}
}

// New creates a new Client. serviceURL is the project URL without the /rest/v1 suffix.
func New(serviceURL, apiKey string, opts ...Option) (*Client, error) {
	if serviceURL == "" || apiKey == "" {
		return nil, ErrMissingCredentials
	}
	o := options{timeout: restclient.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}
	restOpts := []restclient.Option{
		restclient.WithHTTPClient(httpClient),
		restclient.WithHeader("apikey", apiKey),
		restclient.WithBearerToken(apiKey),
	}
	if o.schema != "" {
		restOpts = append(restOpts,
			restclient.WithHeader("Accept-Profile", o.schema),
			restclient.WithHeader("Content-Profile", o.schema))
	}
	rest, err := restclient.New(strings.TrimRight(serviceURL, "/")+APIPath, restOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest}, nil
}

// RPC calls the server-side function fn with named arguments and returns the raw JSON result.
// A function returning void yields an empty result.
func (c *Client) RPC(ctx context.Context, fn string, args map[string]interface{}) (json.RawMessage, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	var result json.RawMessage
	if _, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodPost,
		Path:   "rpc/" + fn,
		Body:   args,
	}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SelectResult is the outcome of Select.
type SelectResult struct {
	// Rows is the JSON array returned by the service.
	Rows json.RawMessage
	// Total is the exact number of matching rows when counting was requested, -1 otherwise.
	Total int
}

// Select reads rows of a table or view. The query carries filters in the service's syntax
// (e.g. "status=eq.open", "order=created_at.desc", "limit=10").
// When count is true, the exact number of matching rows is requested as well.
func (c *Client) Select(ctx context.Context, table string, query url.Values, count bool) (*SelectResult, error) {
	req := restclient.Request{Method: http.MethodGet, Path: table, Query: query}
	if count {
		req.Header = http.Header{"Prefer": []string{"count=exact"}}
	}
	var rows json.RawMessage
	resp, err := c.rest.Do(ctx, req, &rows)
	if err != nil {
		return nil, err
	}
	res := &SelectResult{Rows: rows, Total: -1}
	if count {
		total, parseErr := ParseContentRangeTotal(resp.Header.Get("Content-Range"))
		if parseErr != nil {
			return nil, parseErr
		}
		res.Total = total
	}
	return res, nil
}

// ParseContentRangeTotal extracts the total from a Content-Range header such as "0-24/3573" or "*/0".
// An unknown total ("0-24/*") is reported as -1.
func ParseContentRangeTotal(header string) (int, error) {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return 0, fmt.Errorf("malformed Content-Range header %q", header)
	}
	totalStr := header[idx+1:]
	if totalStr == "*" {
		return -1, nil
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range header %q: %w", header, err)
	}
	return total, nil
}

// IsFunctionNotFound reports whether err means that the called function (with the given
// argument names) does not exist on the server.
// An undefined-function error raised by the SQL the function ran is not a match.
func IsFunctionNotFound(err error) bool {
	var apiErr *restclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	fn := calledFunction(apiErr.Path)
	switch apiErr.Code {
	case CodeFunctionNotFound:
		return true
	case CodeUndefinedFunction:
		return fn != "" && mentionsFunction(apiErr.Message, fn)
	case "":
		return fn != "" && apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// calledFunction returns the function name of an /rpc/<fn> request path.
func calledFunction(reqPath string) string {
	idx := strings.LastIndex(reqPath, "rpc/")
	if idx < 0 {
		return ""
	}
	return strings.Trim(reqPath[idx+len("rpc/"):], "/")
}

// mentionsFunction reports whether msg names fn as a call, e.g. "function public.exec_sql(sql => text)".
func mentionsFunction(msg, fn string) bool {
	for i := strings.Index(msg, fn+"("); i >= 0; {
		if i == 0 || msg[i-1] == '.' || msg[i-1] == ' ' || msg[i-1] == '"' {
			return true
		}
		next := strings.Index(msg[i+1:], fn+"(")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

// IsUnauthorized reports whether err means that the API key was rejected.
func IsUnauthorized(err error) bool {
	var apiErr *restclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden ||
		apiErr.Code == CodeJWTInvalid
}

// SQLState returns the PostgreSQL error code the service relayed for a failed statement, if any.
func SQLState(err error) (string, bool) {
	var apiErr *restclient.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if len(apiErr.Code) != 5 || strings.HasPrefix(apiErr.Code, "PGRST") {
		return "", false
	}
	return apiErr.Code, true
}
