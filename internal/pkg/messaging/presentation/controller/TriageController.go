package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	identityport "careline/internal/infrastructure/identity/port"
	"careline/internal/pkg/messaging/application/triage"

	messaging "careline/internal/pkg/messaging/domain"
)

// TriageController mutates one triage field per request. The update is
// optimistic: the handler answers 202 once the local apply succeeded; the
// durable write settles in the background and reverts on failure.
type TriageController struct {
	Manager  *triage.Manager
	Identity identityport.Identity
}

func NewTriageController(m *triage.Manager, id identityport.Identity) *TriageController {
	return &TriageController{Manager: m, Identity: id}
}

type triageRequest struct {
	Field    string   `json:"field" binding:"required"` // status, priority, tags, assignee
	Value    string   `json:"value"`
	Tags     []string `json:"tags"`
	Assignee *string  `json:"assignee"`
}

func (h *TriageController) Handle() gin.HandlerFunc {
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

		var req triageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Hydrate the local view if this manager has not seen the thread yet.
		if _, ok := h.Manager.Get(conversationID); !ok {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if _, err := h.Manager.Load(ctx, conversationID); err != nil {
				respondUseCaseError(c, err)
				return
			}
		}

		switch triage.Field(req.Field) {
		case triage.FieldStatus:
			err = h.Manager.UpdateStatus(conversationID, messaging.Status(req.Value), user.ID)
		case triage.FieldPriority:
			err = h.Manager.UpdatePriority(conversationID, messaging.Priority(req.Value), user.ID)
		case triage.FieldTags:
			err = h.Manager.UpdateTags(conversationID, req.Tags, user.ID)
		case triage.FieldAssignee:
			err = h.Manager.UpdateAssignee(conversationID, req.Assignee, user.ID)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown triage field"})
			return
		}
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		conv, _ := h.Manager.Get(conversationID)
		c.JSON(http.StatusAccepted, conversationPayload(conv))
	}
}
