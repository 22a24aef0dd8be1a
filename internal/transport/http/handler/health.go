package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"handbookrag/internal/transport/http/response"
	"handbookrag/internal/vectorstore"
)

// ManifestSource reports the index currently served.
type ManifestSource interface {
	Manifest() (vectorstore.Manifest, bool)
}

type HealthHandler struct {
	src       ManifestSource
	startedAt time.Time
}

func NewHealthHandler(src ManifestSource, startedAt time.Time) *HealthHandler {
	return &HealthHandler{src: src, startedAt: startedAt}
}

func (h *HealthHandler) Check(c *gin.Context) {
	data := gin.H{
		"status":     "ok",
		"started_at": h.startedAt.Format(time.RFC3339),
		"uptime_sec": int64(time.Since(h.startedAt).Seconds()),
	}
	if m, ok := h.src.Manifest(); ok {
		data["index"] = m
	} else {
		data["status"] = "no index"
	}
	response.OK(c, data)
}
