package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
)

type fakeEmbedder struct {
	values []float32
	err    error
	got    []genai.Part
}

func (f *fakeEmbedder) EmbedContent(_ context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error) {
	f.got = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.EmbedContentResponse{Embedding: &genai.ContentEmbedding{Values: f.values}}, nil
}

func TestEmbedder_Embed(t *testing.T) {
	fake := &fakeEmbedder{values: []float32{0.5, 0.25}}
	e := newEmbedder(fake, Config{Model: "text-embedding-004"})

	v, err := e.Embed(context.Background(), "annual leave")

	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, v)
	assert.Equal(t, 2, e.Dimension())
	assert.Equal(t, "gemini/text-embedding-004", e.Name())
	assert.Equal(t, []genai.Part{genai.Text("annual leave")}, fake.got)
	assert.NoError(t, e.Close())
}

func TestEmbedder_Errors(t *testing.T) {
	e := newEmbedder(&fakeEmbedder{err: errors.New("quota")}, Config{})
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	e = newEmbedder(&fakeEmbedder{}, Config{})
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Config{})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}
