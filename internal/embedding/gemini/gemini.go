// Package gemini embeds text with the Gemini embedding API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"handbookrag/internal/domain"
)

// Name is the embedder type identifier.
const Name = "gemini"

const defaultModel = "text-embedding-004"

// Config configures the Gemini embedder.
type Config struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
}

type contentEmbedder interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

// Embedder calls EmbedContent once per text.
type Embedder struct {
	client    *genai.Client
	em        contentEmbedder
	model     string
	dimension atomic.Int64
	limiter   *rate.Limiter
}

// NewEmbedder opens a Gemini client for the configured embedding model.
func NewEmbedder(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key for %s embedder", domain.ErrModelUnavailable, Name)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %w", domain.ErrModelUnavailable, err)
	}
	e := newEmbedder(client.EmbeddingModel(cfg.Model), cfg)
	e.client = client
	return e, nil
}

func newEmbedder(em contentEmbedder, cfg Config) *Embedder {
	e := &Embedder{em: em, model: cfg.Model}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

// Name identifies the embedding space by backend and model.
func (e *Embedder) Name() string { return Name + "/" + e.model }

// Prepare is a no-op for remote models.
func (e *Embedder) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality seen so far.
func (e *Embedder) Dimension() int { return int(e.dimension.Load()) }

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := e.em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %w", domain.ErrModelUnavailable, err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, errors.New("no embedding returned"))
	}
	out := make([]float64, len(resp.Embedding.Values))
	for i, v := range resp.Embedding.Values {
		out[i] = float64(v)
	}
	e.dimension.CompareAndSwap(0, int64(len(out)))
	return out, nil
}

// Close releases the underlying client.
func (e *Embedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
