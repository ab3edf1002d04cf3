package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	identityport "careline/internal/infrastructure/identity/port"
	"careline/internal/pkg/messaging/application/usecase"
)

// MarkReadController records read receipts for the calling user.
type MarkReadController struct {
	UC       *usecase.MarkReadUseCase
	Identity identityport.Identity
}

func NewMarkReadController(uc *usecase.MarkReadUseCase, id identityport.Identity) *MarkReadController {
	return &MarkReadController{UC: uc, Identity: id}
}

func (h *MarkReadController) Handle() gin.HandlerFunc {
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

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		n, err := h.UC.Execute(ctx, usecase.MarkReadInput{
			ConversationID: conversationID,
			ReaderID:       user.ID,
		})
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"marked_read": n})
	}
}
