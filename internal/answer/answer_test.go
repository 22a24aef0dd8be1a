package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/chunker"
	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/embedding/tfidf"
	"handbookrag/internal/retriever"
	"handbookrag/internal/vectorstore"
	"handbookrag/internal/vectorstore/memory"
)

type recordingGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type fixedRetriever struct {
	result domain.RetrievalResult
	err    error
}

func (f fixedRetriever) Retrieve(context.Context, vectorstore.Index, string, int) (domain.RetrievalResult, error) {
	return f.result, f.err
}

func scored(id, text string) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{Text: text, Metadata: domain.Metadata{ClauseID: id}}}
}

func TestRenderPrompt(t *testing.T) {
	got := RenderPrompt(domain.RetrievalResult{scored("A2", "Leave is 10 days."), scored("A1", "Arrive by 9am.")}, "How much leave?")

	assert.Equal(t,
		"Answer the question using the context below. Context: Leave is 10 days.\n\nArrive by 9am. Question: How much leave?",
		got)
}

func TestRenderPrompt_EmptyContext(t *testing.T) {
	got := RenderPrompt(nil, "Anything?")
	assert.Equal(t, "Answer the question using the context below. Context:  Question: Anything?", got)
}

func TestRenderPrompt_LiteralSubstitution(t *testing.T) {
	got := RenderPrompt(domain.RetrievalResult{scored("A1", "see {question}")}, "what is {context}?")

	assert.Contains(t, got, "Context: see {question} Question: what is {context}?")
}

func TestAnswer_ReturnsRawOutput(t *testing.T) {
	gen := &recordingGenerator{reply: "  Ten days.  "}
	a := New(fixedRetriever{result: domain.RetrievalResult{scored("A2", "Leave is 10 days.")}}, gen)

	out, err := a.Answer(context.Background(), nil, "How much leave?", 1)

	require.NoError(t, err)
	assert.Equal(t, "  Ten days.  ", out)
	require.Len(t, gen.prompts, 1)
}

func TestAnswer_ZeroResultsStillCallsModel(t *testing.T) {
	gen := &recordingGenerator{reply: "I don't know."}
	a := New(fixedRetriever{}, gen)

	resp, err := a.Respond(context.Background(), nil, "q", 3)

	require.NoError(t, err)
	assert.Equal(t, "I don't know.", resp.Answer)
	assert.Contains(t, gen.prompts[0], "Context:  Question: q")
}

func TestAnswer_GenerationFailed(t *testing.T) {
	a := New(fixedRetriever{}, &recordingGenerator{err: errors.New("401 unauthorized")})

	_, err := a.Answer(context.Background(), nil, "q", 1)

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestAnswer_RetrievalErrorSkipsModel(t *testing.T) {
	gen := &recordingGenerator{}
	a := New(fixedRetriever{err: domain.ErrInvalidArgument}, gen)

	_, err := a.Answer(context.Background(), nil, "q", 0)

	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, gen.prompts)
}

func TestAnswer_EndToEnd(t *testing.T) {
	records := []domain.ClauseRecord{
		{ClauseID: "Article 1", Body: "Employees must arrive by 9am."},
		{ClauseID: "Article 2", Body: "Annual leave is 10 days."},
	}
	chunks := chunker.NewClauseChunker("").Chunk(records)
	model := tfidf.NewEmbedder()
	require.NoError(t, model.Prepare([]string{chunks[0].Text, chunks[1].Text}))
	res, err := embedding.EmbedChunks(context.Background(), model, chunks, embedding.Options{})
	require.NoError(t, err)
	idx, err := memory.NewBuilder().Build(context.Background(), vectorstore.Manifest{Space: res.Space}, res.Embedded)
	require.NoError(t, err)

	gen := &recordingGenerator{reply: "10 days."}
	resp, err := New(retriever.New(model, nil), gen).Respond(context.Background(), idx, "How many days of annual leave?", 1)

	require.NoError(t, err)
	require.Len(t, resp.Retrieved, 1)
	assert.Equal(t, "Article 2", resp.Retrieved[0].Chunk.Metadata.ClauseID)

	start := strings.Index(resp.Prompt, "Context: ") + len("Context: ")
	end := strings.Index(resp.Prompt, " Question: ")
	assert.Equal(t, "Annual leave is 10 days.", resp.Prompt[start:end])
	assert.Equal(t, "10 days.", resp.Answer)
}
