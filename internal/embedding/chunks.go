package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"handbookrag/internal/domain"
)

// Cache stores vectors keyed by model name and text.
// Lookups are best-effort: a failing cache behaves as a miss.
type Cache interface {
	Get(ctx context.Context, model, text string) ([]float64, bool, error)
	Set(ctx context.Context, model, text string, vector []float64) error
}

// Options tune EmbedChunks.
type Options struct {
	Cache Cache
}

// Result holds the chunks that were embedded, in input order, and the
// chunks that were not. Failed chunks are absent from Embedded.
type Result struct {
	Embedded []domain.EmbeddedChunk
	Failures []*domain.ChunkError
	Space    domain.Space
}

// Err joins the per-chunk failures, or returns nil when every chunk was embedded.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return fmt.Errorf("%w: %d of %d chunks failed: %w",
		domain.ErrEmbedding, len(r.Failures), len(r.Failures)+len(r.Embedded), errors.Join(errs...))
}

// Complete reports whether every chunk was embedded.
func (r *Result) Complete() bool { return len(r.Failures) == 0 }

// EmbedChunks embeds the text of each chunk with m. The model must
// already be prepared. Chunks with empty text fail with
// domain.ErrEmptyInput; model errors are reported as
// domain.ErrModelUnavailable. The returned Result is never nil, and the
// error is Result.Err() unless the context was cancelled.
func EmbedChunks(ctx context.Context, m Model, chunks []domain.Chunk, opts Options) (*Result, error) {
	res := &Result{
		Embedded: make([]domain.EmbeddedChunk, 0, len(chunks)),
		Space:    domain.Space{Model: m.Name(), Dimension: m.Dimension()},
	}
	for i, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		fail := func(err error) {
			res.Failures = append(res.Failures, &domain.ChunkError{Index: i, ClauseID: ch.Metadata.ClauseID, Err: err})
		}
		if strings.TrimSpace(ch.Text) == "" {
			fail(domain.ErrEmptyInput)
			continue
		}

		vec, err := embedCached(ctx, m, ch.Text, opts.Cache)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			fail(modelError(err))
			continue
		}
		if res.Space.Dimension == 0 {
			res.Space.Dimension = len(vec)
		}
		if len(vec) != res.Space.Dimension {
			fail(fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vec), res.Space.Dimension))
			continue
		}
		res.Embedded = append(res.Embedded, domain.EmbeddedChunk{Chunk: ch, Vector: vec})
	}
	return res, res.Err()
}

// EmbedQuery embeds a single query text and reports the space it belongs to.
func EmbedQuery(ctx context.Context, m Model, text string, cache Cache) ([]float64, domain.Space, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Space{}, domain.ErrEmptyInput
	}
	vec, err := embedCached(ctx, m, text, cache)
	if err != nil {
		return nil, domain.Space{}, modelError(err)
	}
	return vec, domain.Space{Model: m.Name(), Dimension: len(vec)}, nil
}

func embedCached(ctx context.Context, m Model, text string, cache Cache) ([]float64, error) {
	name := m.Name()
	if cache != nil {
		if vec, ok, err := cache.Get(ctx, name, text); err == nil && ok {
			return vec, nil
		}
	}
	vec, err := m.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		_ = cache.Set(ctx, name, text, vec)
	}
	return vec, nil
}

func modelError(err error) error {
	if errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, domain.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
}
