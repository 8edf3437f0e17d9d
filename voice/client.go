/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package voice reads and updates the configuration of voice assistants and their tools.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/acronis/go-dbops/internal/restclient"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.vapi.ai"

// ErrMissingAPIKey is returned by New when the API key is empty.
var ErrMissingAPIKey = errors.New("api key is required")

// Client is a bearer-token client of the voice API.
type Client struct {
	rest *restclient.Client
}

// New creates a new Client. An empty baseURL means DefaultBaseURL.
func New(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: restclient.DefaultTimeout}
	}
	rest, err := restclient.New(baseURL, restclient.WithHTTPClient(httpClient), restclient.WithBearerToken(apiKey))
	if err != nil {
		return nil, err
	}
	return &Client{rest: rest}, nil
}

// AssistantModel is the language model an assistant runs on.
type AssistantModel struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	ToolIDs  []string `json:"toolIds,omitempty"`
}

// Assistant is a voice assistant configuration.
type Assistant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	FirstMessage string          `json:"firstMessage"`
	ServerURL    string          `json:"serverUrl"`
	Model        *AssistantModel `json:"model"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ToolFunction describes a function tool.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolServer is the webhook a tool calls.
type ToolServer struct {
	URL string `json:"url"`
}

// Tool is a tool an assistant may call.
type Tool struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function"`
	Server   *ToolServer   `json:"server"`
}

// Name returns the function name of the tool, or its type for non-function tools.
func (t *Tool) Name() string {
	if t.Function != nil && t.Function.Name != "" {
		return t.Function.Name
	}
	return t.Type
}

// GetAssistant returns the assistant with the given ID.
func (c *Client) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	var assistant Assistant
	if _, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   "assistant/" + url.PathEscape(id),
	}, &assistant); err != nil {
		return nil, fmt.Errorf("get assistant %s: %w", id, err)
	}
	return &assistant, nil
}

// ListTools returns all tools of the organization.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	if _, err := c.rest.Do(ctx, restclient.Request{Method: http.MethodGet, Path: "tool"}, &tools); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return tools, nil
}

// UpdateAssistant applies a partial update and returns the updated assistant.
func (c *Client) UpdateAssistant(ctx context.Context, id string, patch map[string]interface{}) (*Assistant, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("update assistant %s: empty patch", id)
	}
	var assistant Assistant
	if _, err := c.rest.Do(ctx, restclient.Request{
		Method: http.MethodPatch,
		Path:   "assistant/" + url.PathEscape(id),
		Body:   patch,
	}, &assistant); err != nil {
		return nil, fmt.Errorf("update assistant %s: %w", id, err)
	}
	return &assistant, nil
}
