// Package service runs the handbook pipeline: structure, chunk, embed,
// build the index, and answer questions against it.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"handbookrag/internal/answer"
	"handbookrag/internal/chunker"
	"handbookrag/internal/document"
	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/logger"
	"handbookrag/internal/retriever"
	"handbookrag/internal/structurer"
	"handbookrag/internal/summarizer"
	"handbookrag/internal/vectorstore"
)

// ModelLoader returns the embedding model for one build. Corpus-fitted
// models must be a fresh instance per call, since Prepare mutates them.
type ModelLoader func(ctx context.Context) (embedding.Model, error)

// Options wires the pipeline stages.
type Options struct {
	Structurer *structurer.Structurer
	NewModel   ModelLoader
	Builder    vectorstore.Builder
	// Cache is optional.
	Cache embedding.Cache
	// Generator is optional; without one Ask fails with ErrModelUnavailable.
	Generator           answer.Generator
	Summarizer          *summarizer.FrequencySummarizer
	SummaryMaxSentences int
	// AllowPartial indexes the chunks that embedded and skips the rest.
	AllowPartial bool
}

// IngestReport summarises one build.
type IngestReport struct {
	Document string               `json:"document"`
	Clauses  int                  `json:"clauses"`
	Indexed  int                  `json:"indexed"`
	Skipped  []*domain.ChunkError `json:"-"`
	Reused   bool                 `json:"reused"`
	Manifest vectorstore.Manifest `json:"manifest"`
	Summary  string               `json:"summary"`
	Took     time.Duration        `json:"took"`
}

// generation is everything one build produced. It is never mutated
// after it is published. Its index is closed once the generation has
// been replaced and the last query holding it has returned.
type generation struct {
	document  string
	records   []domain.ClauseRecord
	summary   string
	index     vectorstore.Index
	retriever *retriever.Retriever
	answerer  *answer.Answerer

	mu      sync.Mutex
	refs    int
	retired bool
}

func (g *generation) acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retired {
		return false
	}
	g.refs++
	return true
}

func (g *generation) release() {
	g.mu.Lock()
	g.refs--
	last := g.retired && g.refs == 0
	g.mu.Unlock()
	if last {
		if err := g.index.Close(); err != nil {
			logger.Warn("closing replaced index: %v", err)
		}
	}
}

// retire closes the index now when no query holds it, otherwise the
// last release does.
func (g *generation) retire() error {
	g.mu.Lock()
	g.retired = true
	idle := g.refs == 0
	g.mu.Unlock()
	if idle {
		return g.index.Close()
	}
	return nil
}

// RAGService serves queries from the latest build while a rebuild runs.
type RAGService struct {
	opts    Options
	buildMu sync.Mutex
	current atomic.Pointer[generation]
}

func NewRAGService(opts Options) *RAGService {
	if opts.Structurer == nil {
		opts.Structurer = structurer.New(nil, structurer.Options{})
	}
	if opts.Summarizer == nil {
		opts.Summarizer = summarizer.NewFrequencySummarizer()
	}
	return &RAGService{opts: opts}
}

// Ingest structures raw handbook text and rebuilds the index from it.
func (s *RAGService) Ingest(ctx context.Context, docName, text string) (*IngestReport, error) {
	logger.Section("Structure")
	records, err := s.opts.Structurer.Structure(text)
	if err != nil {
		return nil, err
	}
	logger.Debug("%d clauses found with the %s matcher", len(records), s.opts.Structurer.Matcher().Name())
	return s.IngestClauses(ctx, docName, records)
}

// IngestClauses rebuilds the index from already structured clauses.
// An empty clause list builds an empty index and logs a warning.
func (s *RAGService) IngestClauses(ctx context.Context, docName string, records []domain.ClauseRecord) (*IngestReport, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	if docName == "" {
		docName = chunker.DefaultSource
	}
	report := &IngestReport{Document: docName, Clauses: len(records)}
	chunks := chunker.NewClauseChunker(docName).Chunk(records)
	version := indexVersion(docName, records)

	model, err := s.opts.NewModel(ctx)
	if err != nil {
		return nil, err
	}

	var idx vectorstore.Index
	if len(chunks) == 0 {
		logger.Warn("no structured content in %s; serving an empty index", docName)
		idx, err = s.opts.Builder.Build(ctx, vectorstore.Manifest{Version: version}, nil)
		if err != nil {
			return nil, err
		}
	} else {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		if err := model.Prepare(texts); err != nil {
			return nil, fmt.Errorf("%w: preparing %s: %w", domain.ErrEmbedding, model.Name(), err)
		}
		idx, err = s.reuse(ctx, model, version)
		if err != nil {
			return nil, err
		}
		if idx != nil {
			report.Reused = true
		} else if idx, report.Skipped, err = s.build(ctx, model, version, chunks); err != nil {
			return nil, err
		}
	}

	gen := &generation{
		document:  docName,
		records:   records,
		summary:   s.opts.Summarizer.SummarizeClauses(records, s.opts.SummaryMaxSentences),
		index:     idx,
		retriever: retriever.New(model, s.opts.Cache),
	}
	if s.opts.Generator != nil {
		gen.answerer = answer.New(gen.retriever, s.opts.Generator)
	}
	if old := s.current.Swap(gen); old != nil {
		if err := old.retire(); err != nil {
			logger.Warn("closing previous index: %v", err)
		}
	}

	report.Indexed = idx.Len()
	report.Manifest = idx.Manifest()
	report.Summary = gen.summary
	report.Took = time.Since(start)
	logger.Info("indexed %d of %d clauses from %s in %s (reused=%t)",
		report.Indexed, report.Clauses, docName, report.Took.Round(time.Millisecond), report.Reused)
	return report, nil
}

// reuse returns a persisted index built from the same document with the
// same model, or nil when a rebuild is needed.
func (s *RAGService) reuse(ctx context.Context, model embedding.Model, version string) (vectorstore.Index, error) {
	opener, ok := s.opts.Builder.(vectorstore.Opener)
	if !ok {
		return nil, nil
	}
	idx, err := opener.Open(ctx)
	if errors.Is(err, vectorstore.ErrNoIndex) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := idx.Manifest()
	space := embedding.SpaceOf(model)
	// remote models learn their dimension on the first call
	if space.Dimension == 0 {
		space.Dimension = m.Space.Dimension
	}
	if m.Count > 0 && m.Matches(space, version) {
		logger.Debug("reusing index %s built %s", m.Version, m.BuiltAt.Format(time.RFC3339))
		return idx, nil
	}
	logger.Debug("persisted index is stale (model %s, version %s)", m.Space.Model, m.Version)
	_ = idx.Close()
	return nil, nil
}

func (s *RAGService) build(ctx context.Context, model embedding.Model, version string, chunks []domain.Chunk) (vectorstore.Index, []*domain.ChunkError, error) {
	logger.Section("Embed")
	done := logger.Timed(fmt.Sprintf("embedding %d chunks with %s", len(chunks), model.Name()))
	res, err := embedding.EmbedChunks(ctx, model, chunks, embedding.Options{Cache: s.opts.Cache})
	done()
	if err != nil {
		if ctx.Err() != nil || !s.opts.AllowPartial || len(res.Embedded) == 0 {
			return nil, nil, err
		}
		for _, f := range res.Failures {
			logger.Warn("skipping chunk: %v", f)
		}
	}

	logger.Section("Build index")
	idx, err := s.opts.Builder.Build(ctx, vectorstore.Manifest{Space: res.Space, Version: version}, res.Embedded)
	if err != nil {
		return nil, nil, err
	}
	return idx, res.Failures, nil
}

// acquire pins the served generation until release. A generation
// retired between Load and acquire has already been replaced, so the
// loop picks up its successor.
func (s *RAGService) acquire() (*generation, error) {
	for {
		gen := s.current.Load()
		if gen == nil {
			return nil, fmt.Errorf("%w: no handbook has been ingested", domain.ErrIndex)
		}
		if gen.acquire() {
			return gen, nil
		}
	}
}

// Retrieve returns the k clauses most similar to query.
func (s *RAGService) Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error) {
	gen, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer gen.release()
	logger.Section("Retrieve")
	res, err := gen.retriever.Retrieve(ctx, gen.index, query, k)
	if err != nil {
		return nil, err
	}
	for i, r := range res {
		logger.Debug("%d. %s (%.4f)", i+1, r.Chunk.Metadata.ClauseID, r.Score)
	}
	return res, nil
}

// Ask answers question from the k most similar clauses.
func (s *RAGService) Ask(ctx context.Context, question string, k int) (*answer.Response, error) {
	gen, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer gen.release()
	if gen.answerer == nil {
		return nil, fmt.Errorf("%w: no language model configured", domain.ErrModelUnavailable)
	}
	logger.Section("Answer")
	defer logger.Timed("answer")()
	return gen.answerer.Respond(ctx, gen.index, question, k)
}

// Summary is the extractive overview of the ingested handbook.
func (s *RAGService) Summary() string {
	if gen := s.current.Load(); gen != nil {
		return gen.summary
	}
	return ""
}

// Clauses returns the records behind the served index.
func (s *RAGService) Clauses() []domain.ClauseRecord {
	if gen := s.current.Load(); gen != nil {
		return gen.records
	}
	return nil
}

// Manifest describes the served index. ok is false before the first build.
func (s *RAGService) Manifest() (m vectorstore.Manifest, ok bool) {
	if gen := s.current.Load(); gen != nil {
		return gen.index.Manifest(), true
	}
	return vectorstore.Manifest{}, false
}

// Close stops serving and releases the index once running queries return.
func (s *RAGService) Close() error {
	if gen := s.current.Swap(nil); gen != nil {
		return gen.retire()
	}
	return nil
}

// indexVersion covers the source name too, since every chunk carries it.
func indexVersion(docName string, records []domain.ClauseRecord) string {
	return document.Fingerprint(append([]domain.ClauseRecord{{ClauseID: docName}}, records...))
}
