package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	identityport "careline/internal/infrastructure/identity/port"
	"careline/internal/pkg/messaging/application/usecase"

	messaging "careline/internal/pkg/messaging/domain"
)

// SendMessageController handles the durable HTTP send path. Optimistic sends
// ride the websocket; this endpoint blocks until the store confirms.
type SendMessageController struct {
	UC       *usecase.SendMessageUseCase
	Lists    *usecase.ListConversationsUseCase
	Identity identityport.Identity
}

func NewSendMessageController(uc *usecase.SendMessageUseCase, lists *usecase.ListConversationsUseCase, id identityport.Identity) *SendMessageController {
	return &SendMessageController{UC: uc, Lists: lists, Identity: id}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := c.Param("conversationId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
			return
		}

		user, err := h.Identity.CurrentUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		senderType, err := messaging.ParseSenderType(string(user.Role))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		msg, err := h.UC.Execute(ctx, usecase.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       user.ID,
			SenderType:     senderType,
			Content:        req.Content,
			MessageType:    messaging.MessageText,
		})
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		h.Lists.InvalidateLists(ctx)
		c.JSON(http.StatusCreated, messagePayload(*msg))
	}
}
