package domain

// ClauseRecord is one numbered provision of the handbook.
// Body is the text between this clause's heading and the next one.
type ClauseRecord struct {
	ClauseID string `json:"clause_id"`
	Body     string `json:"body"`
}

// Metadata describes where a chunk came from. It is never embedded.
type Metadata struct {
	ClauseID string `json:"clause_id"`
	Source   string `json:"source,omitempty"`
	Position int    `json:"position"`
}

// Chunk is the retrievable unit; one chunk per clause.
type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// EmbeddedChunk is a chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk
	Vector []float64 `json:"vector"`
}

// ScoredChunk is a chunk matched by a similarity query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []ScoredChunk

// Texts returns the chunk texts in ranked order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i := range r {
		out[i] = r[i].Chunk.Text
	}
	return out
}

// ClauseIDs returns the clause identifiers in ranked order.
func (r RetrievalResult) ClauseIDs() []string {
	out := make([]string, len(r))
	for i := range r {
		out[i] = r[i].Chunk.Metadata.ClauseID
	}
	return out
}

// Space identifies an embedding space: the model that produced the
// vectors and their dimensionality. Query vectors must come from the
// same space as the indexed vectors.
type Space struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Heading is a clause heading located in a document.
// Start and End are byte offsets of the heading token.
type Heading struct {
	ClauseID string
	Start    int
	End      int
}

// HeadingMatcher finds clause headings in document order.
// Implementations decide what a heading looks like, so other document
// formats can plug in their own detection.
type HeadingMatcher interface {
	Name() string
	FindHeadings(text string) []Heading
}
