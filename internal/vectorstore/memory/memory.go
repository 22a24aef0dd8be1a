// Package memory is an in-process vector index using brute-force cosine similarity.
package memory

import (
	"context"

	"handbookrag/internal/domain"
	"handbookrag/internal/vectorstore"
)

// Builder creates in-memory indexes.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build copies chunks into a new index. The input may be reused by the caller.
func (b *Builder) Build(_ context.Context, m vectorstore.Manifest, chunks []domain.EmbeddedChunk) (vectorstore.Index, error) {
	if err := vectorstore.ValidateBuild(m, chunks); err != nil {
		return nil, err
	}
	idx := &Index{
		manifest: m,
		chunks:   make([]domain.Chunk, len(chunks)),
		vectors:  make([][]float64, len(chunks)),
	}
	idx.manifest.Count = len(chunks)
	for i, ch := range chunks {
		idx.chunks[i] = ch.Chunk
		idx.vectors[i] = append([]float64(nil), ch.Vector...)
	}
	return idx, nil
}

// Index is read-only after Build.
type Index struct {
	manifest vectorstore.Manifest
	chunks   []domain.Chunk
	vectors  [][]float64
}

func (s *Index) Manifest() vectorstore.Manifest { return s.manifest }

func (s *Index) Len() int { return len(s.chunks) }

func (s *Index) Query(_ context.Context, vector []float64, k int) (domain.RetrievalResult, error) {
	if err := vectorstore.ValidateQuery(s.manifest, len(s.chunks), vector, k); err != nil {
		return nil, err
	}
	cands := make([]vectorstore.Candidate, len(s.vectors))
	for i := range s.vectors {
		cands[i] = vectorstore.Candidate{Seq: i, Chunk: s.chunks[i], Score: vectorstore.Cosine(s.vectors[i], vector)}
	}
	return vectorstore.Rank(cands, k), nil
}

func (s *Index) Close() error { return nil }
