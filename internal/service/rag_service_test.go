package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/embedding/tfidf"
	"handbookrag/internal/structurer"
	"handbookrag/internal/vectorstore"
	"handbookrag/internal/vectorstore/memory"
	"handbookrag/internal/vectorstore/sqlite"
)

const handbook = `Employee Handbook

Article 1 Employees must arrive by 9am.
Article 2 Annual leave is 10 days.
Article 3 Overtime requires written approval from a manager.
`

type echoGenerator struct{ prompts []string }

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return "Ten days.", nil
}

// flakyModel is a fixed-dimension model that fails on texts containing "fail".
type flakyModel struct{}

func (m *flakyModel) Name() string           { return "flaky" }
func (m *flakyModel) Prepare([]string) error { return nil }
func (m *flakyModel) Dimension() int         { return 2 }
func (m *flakyModel) Embed(_ context.Context, text string) ([]float64, error) {
	if strings.Contains(text, "fail") {
		return nil, errors.New("backend down")
	}
	return []float64{float64(len(text)), 1}, nil
}

func tfidfLoader(calls *int) ModelLoader {
	return func(context.Context) (embedding.Model, error) {
		if calls != nil {
			*calls++
		}
		return tfidf.NewEmbedder(), nil
	}
}

func newService(t *testing.T, opts Options) *RAGService {
	t.Helper()
	if opts.NewModel == nil {
		opts.NewModel = tfidfLoader(nil)
	}
	if opts.Builder == nil {
		opts.Builder = memory.NewBuilder()
	}
	s := NewRAGService(opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestAndAsk(t *testing.T) {
	gen := &echoGenerator{}
	s := newService(t, Options{Generator: gen, SummaryMaxSentences: 1})

	report, err := s.Ingest(context.Background(), "handbook.txt", handbook)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Clauses)
	assert.Equal(t, 3, report.Indexed)
	assert.False(t, report.Reused)
	assert.NotEmpty(t, report.Summary)
	assert.True(t, strings.HasPrefix(report.Manifest.Space.Model, "tfidf/"))

	resp, err := s.Ask(context.Background(), "How many days of annual leave?", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ten days.", resp.Answer)
	assert.Equal(t, []string{"Article 2"}, resp.Retrieved.ClauseIDs())
	assert.Equal(t, "handbook.txt", resp.Retrieved[0].Chunk.Metadata.Source)
	assert.Equal(t,
		"Answer the question using the context below. Context: Annual leave is 10 days. Question: How many days of annual leave?",
		gen.prompts[0])
}

func TestRetrieve_BeforeIngest(t *testing.T) {
	s := newService(t, Options{})

	_, err := s.Retrieve(context.Background(), "leave", 3)
	assert.ErrorIs(t, err, domain.ErrIndex)

	_, ok := s.Manifest()
	assert.False(t, ok)
	assert.Empty(t, s.Summary())
}

func TestAsk_WithoutGenerator(t *testing.T) {
	s := newService(t, Options{})
	_, err := s.Ingest(context.Background(), "", handbook)
	require.NoError(t, err)

	_, err = s.Ask(context.Background(), "leave?", 3)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestIngest_NoHeadingsServesEmptyIndex(t *testing.T) {
	s := newService(t, Options{})

	report, err := s.Ingest(context.Background(), "notes.txt", "Just a memo without any numbered clauses.")
	require.NoError(t, err)
	assert.Zero(t, report.Clauses)
	assert.Zero(t, report.Indexed)

	res, err := s.Retrieve(context.Background(), "memo", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIngest_DuplicateClauseFails(t *testing.T) {
	s := newService(t, Options{})

	_, err := s.Ingest(context.Background(), "", "Article 1 a\nArticle 1 b")
	assert.ErrorIs(t, err, domain.ErrDuplicateClause)
}

func TestIngest_ChineseHandbook(t *testing.T) {
	s := newService(t, Options{Structurer: structurer.New(structurer.ChineseClauseMatcher(), structurer.Options{})})

	_, err := s.Ingest(context.Background(), "员工手册", "第一条 员工每天九点上班。\n第二条 员工每年享有十天年假。\n")
	require.NoError(t, err)

	res, err := s.Retrieve(context.Background(), "年假有几天", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"第二条"}, res.ClauseIDs())
}

func TestIngestClauses_PartialFailure(t *testing.T) {
	records := []domain.ClauseRecord{
		{ClauseID: "A1", Body: "works"},
		{ClauseID: "A2", Body: "will fail"},
		{ClauseID: "A3", Body: "works too"},
	}
	loader := func(context.Context) (embedding.Model, error) { return &flakyModel{}, nil }

	strict := newService(t, Options{NewModel: loader})
	_, err := strict.IngestClauses(context.Background(), "", records)
	var ce *domain.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "A2", ce.ClauseID)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	_, ok := strict.Manifest()
	assert.False(t, ok)

	lenient := newService(t, Options{NewModel: loader, AllowPartial: true})
	report, err := lenient.IngestClauses(context.Background(), "", records)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 1, report.Skipped[0].Index)
}

func TestIngest_RebuildSwapsGeneration(t *testing.T) {
	s := newService(t, Options{})
	_, err := s.Ingest(context.Background(), "", handbook)
	require.NoError(t, err)
	first, _ := s.Manifest()

	_, err = s.Ingest(context.Background(), "", "Article 9 Remote work needs approval.")
	require.NoError(t, err)
	second, _ := s.Manifest()

	assert.NotEqual(t, first.Version, second.Version)
	assert.Equal(t, []domain.ClauseRecord{{ClauseID: "Article 9", Body: "Remote work needs approval."}}, s.Clauses())
	res, err := s.Retrieve(context.Background(), "remote work", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Article 9"}, res.ClauseIDs())
}

func TestIngest_ReusesPersistedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	ingest := func(text string) *IngestReport {
		store, err := sqlite.NewStore(path)
		require.NoError(t, err)
		defer store.Close()
		s := newService(t, Options{Builder: store})
		report, err := s.Ingest(ctx, "handbook.txt", text)
		require.NoError(t, err)
		res, err := s.Retrieve(ctx, "annual leave", 1)
		require.NoError(t, err)
		require.NotEmpty(t, res)
		return report
	}

	assert.False(t, ingest(handbook).Reused)
	assert.True(t, ingest(handbook).Reused)
	assert.False(t, ingest(handbook+"Article 4 Annual leave carries over.\n").Reused)
}

func TestIngest_ModelLoaderCalledPerBuild(t *testing.T) {
	calls := 0
	s := newService(t, Options{NewModel: tfidfLoader(&calls)})

	for i := 0; i < 2; i++ {
		_, err := s.Ingest(context.Background(), "", handbook)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

type trackedIndex struct {
	vectorstore.Index
	closed *int
}

func (x trackedIndex) Close() error {
	*x.closed++
	return x.Index.Close()
}

// trackingBuilder counts Close calls on the indexes it builds.
type trackingBuilder struct {
	vectorstore.Builder
	closed []*int
}

func (b *trackingBuilder) Build(ctx context.Context, m vectorstore.Manifest, chunks []domain.EmbeddedChunk) (vectorstore.Index, error) {
	idx, err := b.Builder.Build(ctx, m, chunks)
	if err != nil {
		return nil, err
	}
	n := new(int)
	b.closed = append(b.closed, n)
	return trackedIndex{Index: idx, closed: n}, nil
}

func TestIngest_ReplacedIndexClosedAfterInFlightQuery(t *testing.T) {
	builder := &trackingBuilder{Builder: memory.NewBuilder()}
	s := newService(t, Options{Builder: builder})
	ctx := context.Background()

	_, err := s.Ingest(ctx, "", handbook)
	require.NoError(t, err)
	inFlight, err := s.acquire()
	require.NoError(t, err)

	_, err = s.Ingest(ctx, "", "Article 9 Remote work needs approval.")
	require.NoError(t, err)
	assert.Zero(t, *builder.closed[0])

	res, err := inFlight.retriever.Retrieve(ctx, inFlight.index, "annual leave", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Article 2"}, res.ClauseIDs())

	inFlight.release()
	assert.Equal(t, 1, *builder.closed[0])
	assert.Zero(t, *builder.closed[1])

	_, err = s.Ingest(ctx, "", handbook)
	require.NoError(t, err)
	assert.Equal(t, 1, *builder.closed[1])

	require.NoError(t, s.Close())
	assert.Equal(t, 1, *builder.closed[2])
}
