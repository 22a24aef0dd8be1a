package domain

import (
	"errors"
	"fmt"
)

// Pipeline errors. Match with errors.Is; wrapped errors add the
// offending clause or chunk.
var (
	// ErrStructuring indicates the document could not be split into clauses.
	ErrStructuring = errors.New("structuring error")

	// ErrDuplicateClause indicates two headings share a clause identifier.
	ErrDuplicateClause = fmt.Errorf("%w: duplicate clause id", ErrStructuring)

	// ErrEmbedding indicates a chunk could not be embedded.
	ErrEmbedding = errors.New("embedding error")

	// ErrEmptyInput indicates an empty text was given to the embedding model.
	ErrEmptyInput = fmt.Errorf("%w: empty input", ErrEmbedding)

	// ErrIndex indicates the vector index could not be built or queried.
	ErrIndex = errors.New("index error")

	// ErrDimensionMismatch indicates vectors of different sizes in one index.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrIndex)

	// ErrInvalidArgument indicates malformed caller input (k <= 0, empty query).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrModelUnavailable indicates an embedding or language model failed to load or respond.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrGenerationFailed indicates the language model call failed.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSpaceMismatch indicates the query embedder differs from the one used to build the index.
	ErrSpaceMismatch = errors.New("embedding space mismatch")
)

// ChunkError reports a failure for a single chunk.
type ChunkError struct {
	Index    int
	ClauseID string
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%s): %v", e.Index, e.ClauseID, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }
