package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"careline/internal/pkg/messaging/application/usecase"

	messaging "careline/internal/pkg/messaging/domain"
)

// GetHistoryController fetches the ordered message log of a conversation.
type GetHistoryController struct {
	UC *usecase.GetHistoryUseCase
}

func NewGetHistoryController(uc *usecase.GetHistoryUseCase) *GetHistoryController {
	return &GetHistoryController{UC: uc}
}

func (h *GetHistoryController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		// Defaults
		limit := 50
		offset := 0
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		msgs, err := h.UC.Execute(ctx, usecase.GetHistoryInput{
			ConversationID: conversationID,
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		out := make([]gin.H, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messagePayload(m))
		}
		c.JSON(http.StatusOK, gin.H{
			"messages": out,
			"limit":    limit,
			"offset":   offset,
			"count":    len(out),
		})
	}
}

func messagePayload(m messaging.Message) gin.H {
	atts := make([]gin.H, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, gin.H{
			"id":        a.ID,
			"file_name": a.FileName,
			"file_url":  a.FileURL,
			"file_type": a.FileType,
			"file_size": a.FileSize,
		})
	}
	return gin.H{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"sender_type":     m.SenderType,
		"content":         m.Content,
		"message_type":    m.MessageType,
		"read_at":         m.ReadAt,
		"created_at":      m.CreatedAt,
		"attachments":     atts,
	}
}
