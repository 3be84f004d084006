package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/pkg/response"
)

type statsProvider interface {
	Stats(ctx context.Context) (map[string]interface{}, error)
}

type HealthHandler struct {
	stats statsProvider
}

func NewHealthHandler(stats statsProvider) *HealthHandler {
	return &HealthHandler{stats: stats}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	stats, err := h.stats.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	stats["status"] = "ok"
	response.Success(c, stats)
}
