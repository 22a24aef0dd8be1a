package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
)

func TestGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "glm-4", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "the prompt", req.Messages[0].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Ten days.\n"}}]}`))
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "token", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "the prompt")

	require.NoError(t, err)
	assert.Equal(t, "  Ten days.\n", out)
}

func TestGenerator_ZeroTemperatureIsSent(t *testing.T) {
	var got *float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Temperature *float64 `json:"temperature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.Temperature
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	zero := 0.0
	g, err := New(Config{APIKey: "token", BaseURL: srv.URL, Temperature: &zero})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, *got)
}

func TestGenerator_FailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "token", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "token", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestGenerator_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "token", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}
