package v1

import (
	"github.com/gin-gonic/gin"

	httpHandler "careline/internal/pkg/messaging/presentation/http"
)

// RegisterRoutes mounts all version 1 API routes under /api/v1
func RegisterRoutes(r *gin.Engine, identityMW gin.HandlerFunc, d httpHandler.Deps) {
	v1 := r.Group("/api/v1")
	v1.Use(identityMW)
	httpHandler.RegisterRoutes(v1, d)
}
