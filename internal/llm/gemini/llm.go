// Package gemini generates answers with a Gemini model.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"handbookrag/internal/domain"
)

// Name is the generator type identifier.
const Name = "gemini"

const defaultModel = "gemini-1.5-flash"

// Config configures the Gemini generator.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float64
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Generator wraps a genai.GenerativeModel.
type Generator struct {
	client *genai.Client
	gm     contentGenerator
	model  string
}

// New opens a Gemini client.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini: API key is required", domain.ErrModelUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: create gemini client: %w", domain.ErrModelUnavailable, err)
	}
	gm := client.GenerativeModel(cfg.Model)
	if cfg.Temperature != nil {
		gm.SetTemperature(float32(*cfg.Temperature))
	}
	return &Generator{client: client, gm: gm, model: cfg.Model}, nil
}

func (g *Generator) Name() string { return Name + "/" + g.model }

// Generate returns the text parts of the first candidate, concatenated.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %w", domain.ErrGenerationFailed, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: gemini: no candidates returned", domain.ErrGenerationFailed)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// Close releases the underlying client.
func (g *Generator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
