package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/middleware"
	"github.com/xxxsen/docqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

// errorCode maps an error from the service layer to the code and message
// returned to clients. Internal details never leave the process.
func errorCode(err error) (int, string) {
	var (
		ingestErr *appErr.IngestionError
		embedErr  *appErr.EmbeddingError
		synthErr  *appErr.SynthesisError
	)
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrInvalidQuery):
		return errcode.ErrInvalidQuery, "invalid query"
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "document already indexed"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	case errors.Is(err, appErr.ErrInvalid) && errors.As(err, &ingestErr):
		return errcode.ErrInvalidFile, "unsupported or empty document"
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, "invalid request"
	case errors.As(err, &embedErr):
		return errcode.ErrEmbeddingFailed, "embedding service unavailable"
	case errors.As(err, &synthErr):
		return errcode.ErrSynthesisFailed, "answer generation failed"
	case errors.Is(err, appErr.ErrIndexNotFound),
		errors.Is(err, appErr.ErrIndexCorrupt),
		errors.Is(err, appErr.ErrDimensionMismatch),
		errors.Is(err, appErr.ErrMetricMismatch):
		return errcode.ErrIndexUnavailable, "index unavailable"
	case errors.As(err, &ingestErr):
		return errcode.ErrIngestFailed, "ingest failed"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("role", c.GetString(middleware.ContextRoleKey)),
		zap.Int("code", code),
		zap.Error(err),
	)
	response.Error(c, code, msg)
}
