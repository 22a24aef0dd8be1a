// Package vectorstore defines the vector index contract shared by all backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"handbookrag/internal/domain"
)

// ErrNoIndex is returned by Opener when nothing has been built yet.
var ErrNoIndex = errors.New("no persisted index")

// Manifest describes what an index was built from.
type Manifest struct {
	Space   domain.Space `json:"space"`
	Version string       `json:"version"`
	Count   int          `json:"count"`
	BuiltAt time.Time    `json:"built_at"`
}

// Matches reports whether an index built under m can serve queries
// for the given space and document version.
func (m Manifest) Matches(space domain.Space, version string) bool {
	return m.Space == space && m.Version == version
}

// Index is an immutable collection of embedded chunks. Concurrent
// queries are safe.
type Index interface {
	Manifest() Manifest
	Len() int
	// Query returns at most k chunks by descending cosine similarity.
	// Equal scores keep insertion order.
	Query(ctx context.Context, vector []float64, k int) (domain.RetrievalResult, error)
	Close() error
}

// Builder constructs an index from a complete set of chunks. Each call
// is a full rebuild.
type Builder interface {
	Build(ctx context.Context, m Manifest, chunks []domain.EmbeddedChunk) (Index, error)
}

// Opener reloads an index persisted by an earlier Build.
type Opener interface {
	Open(ctx context.Context) (Index, error)
}

// ValidateBuild checks every vector has the manifest dimension.
func ValidateBuild(m Manifest, chunks []domain.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if m.Space.Dimension <= 0 {
		return fmt.Errorf("%w: zero dimension for %d chunks", domain.ErrIndex, len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Vector) != m.Space.Dimension {
			return &domain.ChunkError{
				Index:    i,
				ClauseID: ch.Metadata.ClauseID,
				Err:      fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(ch.Vector), m.Space.Dimension),
			}
		}
	}
	return nil
}

// ValidateQuery checks k and the query vector against an index of size n.
func ValidateQuery(m Manifest, n int, vector []float64, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidArgument, k)
	}
	if n > 0 && len(vector) != m.Space.Dimension {
		return fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(vector), m.Space.Dimension)
	}
	return nil
}

// Candidate is a scored chunk with its insertion sequence.
type Candidate struct {
	Seq   int
	Chunk domain.Chunk
	Score float64
}

// Rank sorts candidates by descending score, ties by ascending Seq, and
// keeps the first k.
func Rank(cands []Candidate, k int) domain.RetrievalResult {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Seq < cands[j].Seq
	})
	if k > len(cands) {
		k = len(cands)
	}
	out := make(domain.RetrievalResult, k)
	for i := 0; i < k; i++ {
		out[i] = domain.ScoredChunk{Chunk: cands[i].Chunk, Score: cands[i].Score}
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero vector.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
