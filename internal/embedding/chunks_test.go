package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
)

// stubModel returns a vector per known text.
type stubModel struct {
	vectors map[string][]float64
	calls   int
}

func (s *stubModel) Name() string                  { return "stub" }
func (s *stubModel) Prepare(corpus []string) error { return nil }
func (s *stubModel) Dimension() int                { return 0 }
func (s *stubModel) Embed(_ context.Context, text string) ([]float64, error) {
	s.calls++
	v, ok := s.vectors[text]
	if !ok {
		return nil, errors.New("backend down")
	}
	return v, nil
}

type mapCache map[string][]float64

func (m mapCache) Get(_ context.Context, model, text string) ([]float64, bool, error) {
	v, ok := m[model+"|"+text]
	return v, ok, nil
}

func (m mapCache) Set(_ context.Context, model, text string, v []float64) error {
	m[model+"|"+text] = v
	return nil
}

func chunk(id, text string, pos int) domain.Chunk {
	return domain.Chunk{Text: text, Metadata: domain.Metadata{ClauseID: id, Position: pos}}
}

func TestEmbedChunks_PreservesOrder(t *testing.T) {
	m := &stubModel{vectors: map[string][]float64{"a": {1, 0}, "b": {0, 1}, "c": {1, 1}}}
	chunks := []domain.Chunk{chunk("A1", "a", 0), chunk("A2", "b", 1), chunk("A3", "c", 2)}

	res, err := EmbedChunks(context.Background(), m, chunks, Options{})

	require.NoError(t, err)
	require.Len(t, res.Embedded, 3)
	for i, ec := range res.Embedded {
		assert.Equal(t, chunks[i], ec.Chunk)
		assert.Len(t, ec.Vector, 2)
	}
	assert.Equal(t, domain.Space{Model: "stub", Dimension: 2}, res.Space)
	assert.True(t, res.Complete())
}

func TestEmbedChunks_ExplicitPartialFailure(t *testing.T) {
	m := &stubModel{vectors: map[string][]float64{"a": {1, 0}}}
	chunks := []domain.Chunk{chunk("A1", "a", 0), chunk("A2", "  ", 1), chunk("A3", "unknown", 2)}

	res, err := EmbedChunks(context.Background(), m, chunks, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	require.Len(t, res.Embedded, 1)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "A2", res.Failures[0].ClauseID)
	assert.Equal(t, "A3", res.Failures[1].ClauseID)
}

func TestEmbedChunks_DimensionDrift(t *testing.T) {
	m := &stubModel{vectors: map[string][]float64{"a": {1, 0}, "b": {1, 0, 0}}}

	res, err := EmbedChunks(context.Background(), m, []domain.Chunk{chunk("A1", "a", 0), chunk("A2", "b", 1)}, Options{})

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Len(t, res.Embedded, 1)
}

func TestEmbedChunks_UsesCache(t *testing.T) {
	m := &stubModel{vectors: map[string][]float64{"a": {1, 0}}}
	cache := mapCache{}
	chunks := []domain.Chunk{chunk("A1", "a", 0)}

	_, err := EmbedChunks(context.Background(), m, chunks, Options{Cache: cache})
	require.NoError(t, err)
	_, err = EmbedChunks(context.Background(), m, chunks, Options{Cache: cache})
	require.NoError(t, err)

	assert.Equal(t, 1, m.calls)
}

func TestEmbedChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := EmbedChunks(ctx, &stubModel{}, []domain.Chunk{chunk("A1", "a", 0)}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQuery(t *testing.T) {
	m := &stubModel{vectors: map[string][]float64{"q": {0, 1}}}

	v, space, err := EmbedQuery(context.Background(), m, "q", nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, v)
	assert.Equal(t, domain.Space{Model: "stub", Dimension: 2}, space)

	_, _, err = EmbedQuery(context.Background(), m, "", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestLoad(t *testing.T) {
	m, err := Load(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "tfidf", m.Name())

	t.Setenv("HANDBOOK_TEST_EMPTY_KEY", "")
	_, err = Load(context.Background(), Config{Type: "openai", APIKeyEnv: "HANDBOOK_TEST_EMPTY_KEY"})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	_, err = Load(context.Background(), Config{Type: "word2vec"})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}
