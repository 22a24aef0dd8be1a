// Package retriever embeds a query and looks it up in a vector index.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/vectorstore"
)

// DefaultK is the number of clauses retrieved when the caller does not say.
const DefaultK = 3

// Retriever must use the same model that embedded the indexed chunks.
type Retriever struct {
	model embedding.Model
	cache embedding.Cache
}

// New creates a Retriever. cache may be nil.
func New(model embedding.Model, cache embedding.Cache) *Retriever {
	return &Retriever{model: model, cache: cache}
}

// Retrieve returns up to k chunks ranked by similarity to query.
func (r *Retriever) Retrieve(ctx context.Context, index vectorstore.Index, query string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidArgument, k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: missing query text", domain.ErrInvalidArgument)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: no index has been built", domain.ErrIndex)
	}
	if index.Len() == 0 {
		return domain.RetrievalResult{}, nil
	}

	want := index.Manifest().Space
	if name := r.model.Name(); name != want.Model {
		return nil, fmt.Errorf("%w: query model %q, index model %q", domain.ErrSpaceMismatch, name, want.Model)
	}
	vec, got, err := embedding.EmbedQuery(ctx, r.model, query, r.cache)
	if err != nil {
		return nil, err
	}
	if got.Dimension != want.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrSpaceMismatch, got.Dimension, want.Dimension)
	}
	return index.Query(ctx, vec, k)
}
