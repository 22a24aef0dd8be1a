package chunker

import "handbookrag/internal/domain"

// DefaultSource labels chunks when no document name is given.
const DefaultSource = "employee handbook"

// ClauseChunker wraps every clause record into exactly one chunk.
// Clauses are never split or merged.
type ClauseChunker struct {
	source string
}

// NewClauseChunker creates a chunker that tags chunks with source.
func NewClauseChunker(source string) *ClauseChunker {
	if source == "" {
		source = DefaultSource
	}
	return &ClauseChunker{source: source}
}

// Chunk maps records to chunks, preserving order.
func (c *ClauseChunker) Chunk(records []domain.ClauseRecord) []domain.Chunk {
	if len(records) == 0 {
		return nil
	}
	chunks := make([]domain.Chunk, len(records))
	for i, r := range records {
		chunks[i] = domain.Chunk{
			Text: r.Body,
			Metadata: domain.Metadata{
				ClauseID: r.ClauseID,
				Source:   c.source,
				Position: i,
			},
		}
	}
	return chunks
}
