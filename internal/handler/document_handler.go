package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docqa/internal/pkg/errcode"
	"github.com/xxxsen/docqa/internal/pkg/response"
)

type documentIngester interface {
	Ingest(ctx context.Context, data []byte, sourceID string) error
}

type DocumentHandler struct {
	ingester       documentIngester
	maxUploadBytes int64
}

func NewDocumentHandler(ingester documentIngester, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{ingester: ingester, maxUploadBytes: maxUploadBytes}
}

type uploadResponse struct {
	Source string `json:"source"`
	Size   int64  `json:"size"`
}

// Upload indexes the multipart "file" under its base file name.
func (h *DocumentHandler) Upload(c *gin.Context) {
	limitText := "file exceeds " + formatUploadLimit(h.maxUploadBytes)
	// leave room for the multipart envelope around the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64*1024)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrInvalidFile, limitText)
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, limitText)
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	data, err := io.ReadAll(io.LimitReader(opened, h.maxUploadBytes+1))
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	sourceID := filepath.Base(filepath.Clean("/" + file.Filename))
	if err := h.ingester.Ingest(c.Request.Context(), data, sourceID); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, uploadResponse{Source: sourceID, Size: int64(len(data))})
}
