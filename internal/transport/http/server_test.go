package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
	"handbookrag/internal/embedding"
	"handbookrag/internal/embedding/tfidf"
	"handbookrag/internal/service"
	"handbookrag/internal/transport/http/response"
	"handbookrag/internal/vectorstore/memory"
)

const handbook = "Article 1 Employees must arrive by 9am.\nArticle 2 Annual leave is 10 days.\n"

type stubGenerator struct{ err error }

func (g stubGenerator) Generate(context.Context, string) (string, error) {
	return "Ten days.", g.err
}

func newTestRouter(t *testing.T, gen stubGenerator, ingest bool) (*gin.Engine, *service.RAGService) {
	t.Helper()
	svc := service.NewRAGService(service.Options{
		NewModel:  func(context.Context) (embedding.Model, error) { return tfidf.NewEmbedder(), nil },
		Builder:   memory.NewBuilder(),
		Generator: gen,
	})
	t.Cleanup(func() { _ = svc.Close() })
	if ingest {
		_, err := svc.Ingest(context.Background(), "handbook", handbook)
		require.NoError(t, err)
	}
	rebuild := func(ctx context.Context) (*service.IngestReport, error) {
		return svc.Ingest(ctx, "handbook", handbook)
	}
	return NewRouter(svc, RouterConfig{GinMode: gin.TestMode, TopK: 1, Rebuild: rebuild, Started: time.Now()}), svc
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (int, response.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{}, false)
	code, resp := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no index", resp.Data.(map[string]any)["status"])

	r, _ = newTestRouter(t, stubGenerator{}, true)
	_, resp = do(t, r, http.MethodGet, "/health", nil)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.EqualValues(t, 2, data["index"].(map[string]any)["count"])
}

func TestAsk(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{}, true)

	code, resp := do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "How many days of annual leave?"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"answer": "Ten days."}, resp.Data)

	_, resp = do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "annual leave", "with_context": true})
	data := resp.Data.(map[string]any)
	assert.Contains(t, data["prompt"], "Context: Annual leave is 10 days.")
	assert.Len(t, data["retrieved"], 1)
}

func TestAsk_Errors(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{}, true)

	code, _ := do(t, r, http.MethodPost, "/api/ask", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "leave", "top_k": -1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.CodeBadRequest, resp.Code)

	r, _ = newTestRouter(t, stubGenerator{err: errors.New("quota")}, true)
	code, resp = do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "leave"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, response.CodeModelFailure, resp.Code)

	r, _ = newTestRouter(t, stubGenerator{}, false)
	code, _ = do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "leave"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRetrieve(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{}, true)

	code, resp := do(t, r, http.MethodPost, "/api/retrieve", gin.H{"query": "arrive 9am", "top_k": 2})

	require.Equal(t, http.StatusOK, code)
	results := resp.Data.(map[string]any)["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)["chunk"].(map[string]any)
	assert.Equal(t, "Article 1", first["metadata"].(map[string]any)["clause_id"])
}

func TestRetrieve_TopKDefaultsOnlyWhenOmitted(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{}, true)

	code, resp := do(t, r, http.MethodPost, "/api/retrieve", gin.H{"query": "arrive 9am", "top_k": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.CodeBadRequest, resp.Code)

	code, _ = do(t, r, http.MethodPost, "/api/ask", gin.H{"question": "leave", "top_k": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = do(t, r, http.MethodPost, "/api/retrieve", gin.H{"query": "arrive 9am"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data.(map[string]any)["results"].([]any), 1)
}

func TestRebuild(t *testing.T) {
	r, svc := newTestRouter(t, stubGenerator{}, false)

	code, resp := do(t, r, http.MethodPost, "/api/rebuild", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["indexed"])

	code, _ = do(t, r, http.MethodPost, "/api/rebuild", gin.H{"name": "v2", "content": "Article 7 Remote work is allowed on Fridays."})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []domain.ClauseRecord{{ClauseID: "Article 7", Body: "Remote work is allowed on Fridays."}}, svc.Clauses())

	code, _ = do(t, r, http.MethodPost, "/api/rebuild", gin.H{"content": "Article 1 a\nArticle 1 b"})
	assert.Equal(t, http.StatusBadRequest, code)
}
