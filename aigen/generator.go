/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package aigen sends prompts to the generative AI API and returns the generated text.
package aigen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// ErrMissingAPIKey is returned by New when the API key is empty.
var ErrMissingAPIKey = errors.New("api key is required")

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned no text")

// contentGenerator is implemented by *genai.Models.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Generator produces text with a single model.
type Generator struct {
	models            contentGenerator
	model             string
	systemInstruction string
	temperature       *float32
	maxOutputTokens   int32
}

// Option is a functional option for New.
type Option func(*Generator)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithSystemInstruction sets the system instruction sent with every prompt.
func WithSystemInstruction(instruction string) Option {
	return func(g *Generator) {
		g.systemInstruction = instruction
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float32) Option {
	return func(g *Generator) {
		g.temperature = &temperature
	}
}

// WithMaxOutputTokens limits the length of the response.
func WithMaxOutputTokens(n int32) Option {
	return func(g *Generator) {
		g.maxOutputTokens = n
	}
}

// New creates a Generator backed by the Gemini API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGenerator(client.Models, opts...), nil
}

func newGenerator(models contentGenerator, opts ...Option) *Generator {
	g := &Generator{models: models, model: DefaultModel}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model name.
func (g *Generator) Model() string {
	return g.model
}

// Generate sends prompt as a single user turn and returns the response text.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}
	config := &genai.GenerateContentConfig{
		Temperature:     g.temperature,
		MaxOutputTokens: g.maxOutputTokens,
	}
	if g.systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(g.systemInstruction, genai.RoleUser)
	}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", g.model, err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
