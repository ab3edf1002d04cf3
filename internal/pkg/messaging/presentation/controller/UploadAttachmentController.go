package controller

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careline/internal/pkg/messaging/application/attachment"
)

// maxAttachmentBytes caps a single upload.
const maxAttachmentBytes = 25 << 20 // 25MB

// UploadAttachmentController runs the two-phase pipeline for a file posted
// against an already-durable message.
type UploadAttachmentController struct {
	Pipeline *attachment.Pipeline
}

func NewUploadAttachmentController(p *attachment.Pipeline) *UploadAttachmentController {
	return &UploadAttachmentController{Pipeline: p}
}

func (h *UploadAttachmentController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		messageID := c.Param("messageId")
		if conversationID == "" || messageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId and messageId are required"})
			return
		}

		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
			return
		}
		if fh.Size > maxAttachmentBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}

		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxAttachmentBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		att, err := h.Pipeline.Upload(ctx, conversationID, messageID, attachment.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":        att.ID,
			"file_name": att.FileName,
			"file_url":  att.FileURL,
			"file_type": att.FileType,
			"file_size": att.FileSize,
		})
	}
}
