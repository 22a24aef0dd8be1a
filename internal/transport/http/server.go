package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"handbookrag/internal/service"
	"handbookrag/internal/transport/http/handler"
)

// RouterConfig wires the HTTP API.
type RouterConfig struct {
	GinMode string
	TopK    int
	Rebuild handler.Rebuilder
	Started time.Time
}

func NewRouter(svc *service.RAGService, cfg RouterConfig) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(svc, cfg.Started)
	handbookHandler := handler.NewHandbookHandler(svc, cfg.Rebuild, cfg.TopK)

	router.GET("/health", healthHandler.Check)

	api := router.Group("/api")
	api.POST("/ask", handbookHandler.Ask)
	api.POST("/retrieve", handbookHandler.Retrieve)
	api.POST("/rebuild", handbookHandler.Rebuild)

	return router
}
