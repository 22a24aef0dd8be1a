// Package bootstrap assembles the pipeline from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"handbookrag/internal/cache"
	"handbookrag/internal/config"
	"handbookrag/internal/document"
	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/embedding/tfidf"
	"handbookrag/internal/llm"
	"handbookrag/internal/logger"
	"handbookrag/internal/service"
	"handbookrag/internal/structurer"
	"handbookrag/internal/summarizer"
	"handbookrag/internal/vectorstore"
	"handbookrag/internal/vectorstore/memory"
	"handbookrag/internal/vectorstore/pgvector"
	"handbookrag/internal/vectorstore/qdrant"
	"handbookrag/internal/vectorstore/sqlite"
)

// Options select which optional collaborators New must provide.
type Options struct {
	// WithGenerator loads the language model. Commands that only
	// retrieve or build leave it off so no API key is needed.
	WithGenerator bool
}

type App struct {
	Config     *config.AppConfig
	Service    *service.RAGService
	Structurer *structurer.Structurer
	Generator  llm.Generator
	Redis      *redis.Client
	Postgres   *pgxpool.Pool

	StartedAt time.Time
	closers   []func() error
}

func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.wire(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config

	st, err := NewStructurer(cfg.Structurer)
	if err != nil {
		return err
	}
	a.Structurer = st

	newModel, err := a.modelLoader(ctx)
	if err != nil {
		return err
	}
	builder, err := a.builder(ctx)
	if err != nil {
		return err
	}

	var embCache embedding.Cache
	if cfg.Cache.Enabled {
		client, err := cache.Connect(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			return err
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		embCache = cache.NewEmbeddingCache(client, cfg.Cache.Prefix, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		logger.Debug("embedding cache at %s", cfg.Cache.Addr)
	}

	svcOpts := service.Options{
		Structurer:          st,
		NewModel:            newModel,
		Builder:             builder,
		Cache:               embCache,
		Summarizer:          summarizer.NewFrequencySummarizer(),
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		AllowPartial:        cfg.Embedder.AllowPartial,
	}
	if opts.WithGenerator {
		gen, err := llm.Load(ctx, llm.Config{
			Type:        cfg.LLM.Type,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: &cfg.LLM.Temperature,
			Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		}, os.Getenv(cfg.LLM.APIKeyEnv))
		if err != nil {
			return fmt.Errorf("%w (set %s)", err, cfg.LLM.APIKeyEnv)
		}
		a.Generator = gen
		a.addCloser(gen)
		svcOpts.Generator = gen
		logger.Debug("language model %s (%s)", gen.Name(), cfg.LLM.Model)
	}

	a.Service = service.NewRAGService(svcOpts)
	a.closers = append(a.closers, a.Service.Close)
	return nil
}

// NewStructurer builds the structurer described by cfg.
func NewStructurer(cfg config.StructurerConfig) (*structurer.Structurer, error) {
	pattern := cfg.Pattern
	if cfg.Matcher != "regex" {
		pattern = ""
	}
	matcher, err := structurer.MatcherByName(cfg.Matcher, pattern)
	if err != nil {
		return nil, err
	}
	var patterns []string
	if cfg.StripPageNoise {
		patterns = append(patterns, structurer.DefaultNoisePatterns...)
	}
	patterns = append(patterns, cfg.NoisePatterns...)
	var cleaner *structurer.Cleaner
	if len(patterns) > 0 {
		if cleaner, err = structurer.NewCleaner(patterns); err != nil {
			return nil, err
		}
	}
	var sectionBreak *regexp.Regexp
	if cfg.StopAtSections {
		pattern := cfg.SectionPattern
		if pattern == "" {
			pattern = structurer.DefaultSectionBreakPattern
		}
		if sectionBreak, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: section pattern %q: %v", domain.ErrInvalidArgument, pattern, err)
		}
	}
	return structurer.New(matcher, structurer.Options{
		Cleaner:            cleaner,
		SkipTOC:            cfg.SkipTOC,
		CollapseWhitespace: cfg.CollapseWhitespace,
		SectionBreak:       sectionBreak,
	}), nil
}

// modelLoader returns a fresh TF-IDF model per build, since each build
// fits its own vocabulary. Remote models are stateless and loaded once.
func (a *App) modelLoader(ctx context.Context) (service.ModelLoader, error) {
	cfg := a.Config.Embedder
	if cfg.Type == tfidf.Name {
		return func(context.Context) (embedding.Model, error) { return tfidf.NewEmbedder(), nil }, nil
	}

	ec := embedding.Config{Type: cfg.Type}
	switch {
	case cfg.OpenAI != nil && cfg.Type == "openai":
		ec.BaseURL = cfg.OpenAI.BaseURL
		ec.Model = cfg.OpenAI.Model
		ec.APIKeyEnv = cfg.OpenAI.APIKeyEnv
		ec.Timeout = time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second
		ec.RequestsPerSecond = cfg.OpenAI.RequestsPerSecond
	case cfg.Gemini != nil && cfg.Type == "gemini":
		ec.Model = cfg.Gemini.Model
		ec.APIKeyEnv = cfg.Gemini.APIKeyEnv
		ec.RequestsPerSecond = cfg.Gemini.RequestsPerSecond
	}
	model, err := embedding.Load(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("%w (set %s)", err, ec.APIKeyEnv)
	}
	a.addCloser(model)
	return func(context.Context) (embedding.Model, error) { return model, nil }, nil
}

func (a *App) builder(ctx context.Context) (vectorstore.Builder, error) {
	cfg := a.Config.VectorStore
	switch cfg.Type {
	case "sqlite":
		store, err := sqlite.NewStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "qdrant":
		return qdrant.NewBuilder(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "pgvector":
		dsn := os.Getenv(cfg.PGVector.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("pgvector: %s is not set", cfg.PGVector.DSNEnv)
		}
		pool, err := pgvector.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.Postgres = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return pgvector.NewStore(pool, cfg.PGVector.Table)
	default:
		return memory.NewBuilder(), nil
	}
}

func (a *App) addCloser(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// LoadDocument ingests the configured handbook. A configured clause
// file takes precedence over the raw document.
func (a *App) LoadDocument(ctx context.Context) (*service.IngestReport, error) {
	doc := a.Config.Document
	if doc.ClausesPath != "" {
		records, err := document.ReadClausesFile(doc.ClausesPath)
		if err != nil {
			return nil, fmt.Errorf("read clauses %s: %w", doc.ClausesPath, err)
		}
		logger.Debug("loaded %d clauses from %s", len(records), doc.ClausesPath)
		return a.Service.IngestClauses(ctx, docName(doc), records)
	}
	text, err := document.LoadText(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("read handbook %s: %w", doc.Path, err)
	}
	return a.Service.Ingest(ctx, docName(doc), text)
}

func docName(doc config.DocumentConfig) string {
	if doc.Name != "" {
		return doc.Name
	}
	path := doc.Path
	if doc.ClausesPath != "" {
		path = doc.ClausesPath
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Close releases everything New opened, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
