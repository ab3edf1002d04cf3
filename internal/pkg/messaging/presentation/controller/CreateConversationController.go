package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	identityport "careline/internal/infrastructure/identity/port"
	"careline/internal/pkg/messaging/application/usecase"

	messaging "careline/internal/pkg/messaging/domain"
)

// CreateConversationController opens a new thread (one controller per endpoint).
type CreateConversationController struct {
	UC       *usecase.CreateConversationUseCase
	Lists    *usecase.ListConversationsUseCase
	Identity identityport.Identity
}

func NewCreateConversationController(uc *usecase.CreateConversationUseCase, lists *usecase.ListConversationsUseCase, id identityport.Identity) *CreateConversationController {
	return &CreateConversationController{UC: uc, Lists: lists, Identity: id}
}

type createConversationRequest struct {
	Subject        string  `json:"subject" binding:"required"`
	PatientID      string  `json:"patient_id" binding:"required"`
	PatientName    string  `json:"patient_name"`
	ClinicID       string  `json:"clinic_id" binding:"required"`
	ClinicName     string  `json:"clinic_name"`
	BookingID      *string `json:"booking_id"`
	InitialContent string  `json:"initial_content"`
}

func (h *CreateConversationController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.Identity.CurrentUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}

		var req createConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		senderType, err := messaging.ParseSenderType(string(user.Role))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		conv, err := h.UC.Execute(ctx, usecase.CreateConversationInput{
			Subject:        req.Subject,
			PatientID:      req.PatientID,
			PatientName:    req.PatientName,
			ClinicID:       req.ClinicID,
			ClinicName:     req.ClinicName,
			BookingID:      req.BookingID,
			InitialContent: req.InitialContent,
			SenderID:       user.ID,
			SenderType:     senderType,
		})
		if err != nil {
			respondUseCaseError(c, err)
			return
		}

		h.Lists.InvalidateLists(ctx)
		c.JSON(http.StatusCreated, conversationPayload(*conv))
	}
}

// respondUseCaseError maps the error taxonomy onto HTTP statuses.
func respondUseCaseError(c *gin.Context, err error) {
	var ve *messaging.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, usecase.ErrPersistence), messaging.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary store failure, retry", "retryable": true})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func conversationPayload(conv messaging.Conversation) gin.H {
	return gin.H{
		"id":              conv.ID,
		"subject":         conv.Subject,
		"status":          conv.Status,
		"priority":        conv.Priority,
		"assigned_to":     conv.AssignedTo,
		"tags":            conv.Tags,
		"patient_id":      conv.PatientID,
		"patient_name":    conv.PatientName,
		"clinic_id":       conv.ClinicID,
		"clinic_name":     conv.ClinicName,
		"booking_id":      conv.BookingID,
		"created_at":      conv.CreatedAt,
		"last_message_at": conv.LastMessageAt,
	}
}
