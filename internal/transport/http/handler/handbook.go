package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"handbookrag/internal/answer"
	"handbookrag/internal/domain"
	"handbookrag/internal/service"
	"handbookrag/internal/transport/http/response"
)

// HandbookService is the part of the RAG service exposed over HTTP.
type HandbookService interface {
	Ask(ctx context.Context, question string, k int) (*answer.Response, error)
	Retrieve(ctx context.Context, query string, k int) (domain.RetrievalResult, error)
	Ingest(ctx context.Context, docName, text string) (*service.IngestReport, error)
}

// Rebuilder re-ingests the configured handbook document.
type Rebuilder func(ctx context.Context) (*service.IngestReport, error)

type HandbookHandler struct {
	svc      HandbookService
	rebuild  Rebuilder
	defaultK int
}

type AskRequest struct {
	Question    string `json:"question" binding:"required"`
	TopK        *int   `json:"top_k"`
	WithContext bool   `json:"with_context"`
}

type RetrieveRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  *int   `json:"top_k"`
}

// RebuildRequest may carry replacement handbook text. An empty body
// reloads the configured document.
type RebuildRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func NewHandbookHandler(svc HandbookService, rebuild Rebuilder, defaultK int) *HandbookHandler {
	return &HandbookHandler{svc: svc, rebuild: rebuild, defaultK: defaultK}
}

// topK uses the configured default only when the request omits top_k.
func (h *HandbookHandler) topK(k *int) int {
	if k == nil {
		return h.defaultK
	}
	return *k
}

func (h *HandbookHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	resp, err := h.svc.Ask(c.Request.Context(), req.Question, h.topK(req.TopK))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !req.WithContext {
		response.OK(c, gin.H{"answer": resp.Answer})
		return
	}
	response.OK(c, resp)
}

func (h *HandbookHandler) Retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	res, err := h.svc.Retrieve(c.Request.Context(), req.Query, h.topK(req.TopK))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"results": res})
}

// Rebuild replaces the served index. Queries keep using the old index
// until the new one is ready.
func (h *HandbookHandler) Rebuild(c *gin.Context) {
	var req RebuildRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
			return
		}
	}

	var (
		report *service.IngestReport
		err    error
	)
	switch {
	case strings.TrimSpace(req.Content) != "":
		report, err = h.svc.Ingest(c.Request.Context(), req.Name, req.Content)
	case h.rebuild != nil:
		report, err = h.rebuild(c.Request.Context())
	default:
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "content is required")
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, report)
}
