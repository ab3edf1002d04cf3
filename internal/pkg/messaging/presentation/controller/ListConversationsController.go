package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"careline/internal/pkg/messaging/application/usecase"

	messaging "careline/internal/pkg/messaging/domain"
)

// ListConversationsController serves the filtered triage inbox.
type ListConversationsController struct {
	UC *usecase.ListConversationsUseCase
}

func NewListConversationsController(uc *usecase.ListConversationsUseCase) *ListConversationsController {
	return &ListConversationsController{UC: uc}
}

func (h *ListConversationsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		var f messaging.ConversationFilter
		if v := c.Query("status"); v != "" {
			status, err := messaging.ParseStatus(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.Status = status
		}
		if v := c.Query("priority"); v != "" {
			priority, err := messaging.ParsePriority(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.Priority = priority
		}
		f.AssignedTo = c.Query("assigned_to")
		f.Tag = c.Query("tag")
		f.Search = c.Query("q")

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		convs, err := h.UC.Execute(ctx, f)
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		out := make([]gin.H, 0, len(convs))
		for _, conv := range convs {
			out = append(out, conversationPayload(conv))
		}
		c.JSON(http.StatusOK, gin.H{"conversations": out, "count": len(out)})
	}
}
