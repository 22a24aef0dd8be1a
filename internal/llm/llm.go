// Package llm loads the language model that writes answers.
package llm

import (
	"context"
	"fmt"
	"time"

	"handbookrag/internal/domain"
	"handbookrag/internal/llm/gemini"
	"handbookrag/internal/llm/openai"
)

// Generator turns a prompt into answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Config selects and configures a language model.
type Config struct {
	Type        string
	BaseURL     string
	Model       string
	// Temperature is nil for the backend default.
	Temperature *float64
	Timeout     time.Duration
}

// Load builds the configured generator. The API key is opaque and taken
// as given; an empty key fails with domain.ErrModelUnavailable.
func Load(ctx context.Context, cfg Config, apiKey string) (Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: language model API key is empty", domain.ErrModelUnavailable)
	}
	switch cfg.Type {
	case openai.Name, "":
		return openai.New(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case gemini.Name:
		return gemini.New(ctx, gemini.Config{
			APIKey:      apiKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("%w: unknown llm type %q", domain.ErrModelUnavailable, cfg.Type)
	}
}
