// Package embedding maps chunk text to vectors.
package embedding

import (
	"context"
	"fmt"
	"os"
	"time"

	"handbookrag/internal/domain"
	"handbookrag/internal/embedding/gemini"
	"handbookrag/internal/embedding/openai"
	"handbookrag/internal/embedding/tfidf"
)

// Model converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
// Name identifies the embedding space: vectors from two models with
// different names must not be compared.
type Model interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Config selects and configures an embedding model.
type Config struct {
	Type              string
	Model             string
	BaseURL           string
	APIKeyEnv         string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Load builds the configured model. Remote backends fail with
// domain.ErrModelUnavailable when their API key is not set.
func Load(ctx context.Context, cfg Config) (Model, error) {
	switch cfg.Type {
	case tfidf.Name, "":
		return tfidf.NewEmbedder(), nil
	case openai.Name:
		return openai.NewClient(openai.Config{
			BaseURL:           cfg.BaseURL,
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			Model:             cfg.Model,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case gemini.Name:
		return gemini.NewEmbedder(ctx, gemini.Config{
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			Model:             cfg.Model,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("%w: unknown embedder type %q", domain.ErrModelUnavailable, cfg.Type)
	}
}

// SpaceOf reports the embedding space a prepared model produces.
func SpaceOf(m Model) domain.Space {
	return domain.Space{Model: m.Name(), Dimension: m.Dimension()}
}
