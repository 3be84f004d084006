package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/pkg/errcode"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

type tokenIssuer interface {
	IssueToken(ctx context.Context, key string) (string, string, error)
}

type AuthHandler struct {
	auth tokenIssuer
}

func NewAuthHandler(auth tokenIssuer) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type tokenRequest struct {
	Key string `json:"key"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		response.Error(c, errcode.ErrInvalid, "key required")
		return
	}
	token, role, err := h.auth.IssueToken(c.Request.Context(), req.Key)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tokenResponse{Token: token, Role: role})
}
