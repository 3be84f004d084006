package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

type questionAnswerer interface {
	Ask(ctx context.Context, q model.Query) (*model.Answer, error)
}

type QueryHandler struct {
	answerer questionAnswerer
}

func NewQueryHandler(answerer questionAnswerer) *QueryHandler {
	return &QueryHandler{answerer: answerer}
}

type queryRequest struct {
	Query     string   `json:"query"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

func (h *QueryHandler) Ask(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.TopK < 0 || req.TopK > 50 {
		response.Error(c, errcode.ErrInvalidQuery, "top_k must be between 1 and 50")
		return
	}
	if req.Threshold != nil && (*req.Threshold < -1 || *req.Threshold > 1) {
		response.Error(c, errcode.ErrInvalidQuery, "threshold must be between -1 and 1")
		return
	}
	answer, err := h.answerer.Ask(c.Request.Context(), model.Query{
		Text:      req.Query,
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, answer)
}
