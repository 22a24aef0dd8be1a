// Package openai generates answers through an OpenAI-compatible
// /chat/completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"handbookrag/internal/domain"
)

// Name is the generator type identifier.
const Name = "openai"

// Default configuration values.
const (
	DefaultBaseURL     = "https://open.bigmodel.cn/api/paas/v4"
	DefaultModel       = "glm-4"
	DefaultTemperature = 0.7
	DefaultTimeout     = 120 * time.Second
)

// Config holds configuration for the chat completion client.
type Config struct {
	// APIKey is sent as a bearer token (required).
	APIKey string

	// BaseURL is the API base URL. Any OpenAI-compatible server works.
	BaseURL string

	Model string
	// Temperature defaults to DefaultTemperature when nil. Zero is kept.
	Temperature *float64
	Timeout     time.Duration
}

// Generator sends one chat completion request per prompt.
type Generator struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrModelUnavailable)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Generator{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: temperature,
	}, nil
}

func (g *Generator) Name() string { return Name + "/" + g.model }

// Generate sends prompt as a single user message and returns the first
// choice verbatim. Every failure wraps domain.ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(chatCompletionRequest{
		Model:       g.model,
		Messages:    []chatCompletionMsg{{Role: "user", Content: prompt}},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", domain.ErrGenerationFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %w", domain.ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %w", domain.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", domain.ErrGenerationFailed, err)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, resp.StatusCode, string(body))
		}
		return "", fmt.Errorf("%w: decode response: %w", domain.ErrGenerationFailed, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrGenerationFailed, chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrGenerationFailed, resp.StatusCode, string(body))
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices returned", domain.ErrGenerationFailed)
	}
	return chatResp.Choices[0].Message.Content, nil
}
