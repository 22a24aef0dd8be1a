// Package answer builds the grounded prompt and asks the language model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"handbookrag/internal/domain"
	"handbookrag/internal/vectorstore"
)

// PromptTemplate is filled with the context block and the question.
const PromptTemplate = "Answer the question using the context below. Context: {context} Question: {question}"

// ContextSeparator joins retrieved chunk texts in the context block.
const ContextSeparator = "\n\n"

// Retriever finds the chunks used as context.
type Retriever interface {
	Retrieve(ctx context.Context, index vectorstore.Index, query string, k int) (domain.RetrievalResult, error)
}

// Generator produces answer text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Response is an answer together with what produced it.
type Response struct {
	Answer    string                 `json:"answer"`
	Prompt    string                 `json:"prompt"`
	Retrieved domain.RetrievalResult `json:"retrieved"`
}

type Answerer struct {
	retriever Retriever
	generator Generator
}

func New(retriever Retriever, generator Generator) *Answerer {
	return &Answerer{retriever: retriever, generator: generator}
}

// RenderPrompt substitutes the ranked chunk texts and the question into
// PromptTemplate. Both values are inserted literally, even if they
// contain placeholder text themselves.
func RenderPrompt(retrieved domain.RetrievalResult, question string) string {
	r := strings.NewReplacer(
		"{context}", strings.Join(retrieved.Texts(), ContextSeparator),
		"{question}", question,
	)
	return r.Replace(PromptTemplate)
}

// Answer returns the model output for question, unmodified.
func (a *Answerer) Answer(ctx context.Context, index vectorstore.Index, question string, k int) (string, error) {
	resp, err := a.Respond(ctx, index, question, k)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// Respond is Answer with the prompt and retrieved chunks attached.
// Zero retrieved chunks still produce a model call with an empty context.
func (a *Answerer) Respond(ctx context.Context, index vectorstore.Index, question string, k int) (*Response, error) {
	retrieved, err := a.retriever.Retrieve(ctx, index, question, k)
	if err != nil {
		return nil, err
	}
	prompt := RenderPrompt(retrieved, question)
	out, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrGenerationFailed, err)
		}
		return nil, err
	}
	return &Response{Answer: out, Prompt: prompt, Retrieved: retrieved}, nil
}
