package adapter

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"careline/internal/infrastructure/identity/port"
)

type ctxKey struct{}

// ErrNoIdentity is returned when the request context carries no resolved user.
var ErrNoIdentity = errors.New("identity: no user in context")

// HeaderIdentity resolves the current user from trusted gateway headers.
// The auth layer in front of this service populates them; requests reaching
// us without them are rejected upstream of any handler that needs identity.
type HeaderIdentity struct{}

// Ensure interface compliance at compile time
var _ port.Identity = (*HeaderIdentity)(nil)

func (HeaderIdentity) CurrentUser(ctx context.Context) (port.User, error) {
	u, ok := ctx.Value(ctxKey{}).(port.User)
	if !ok || u.ID == "" {
		return port.User{}, ErrNoIdentity
	}
	return u, nil
}

// Middleware copies the gateway identity headers into the request context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := port.Role(c.GetHeader("X-User-Role"))
		switch role {
		case port.RolePatient, port.RoleClinic, port.RoleAdmin:
		default:
			role = ""
		}
		u := port.User{
			ID:          c.GetHeader("X-User-Id"),
			DisplayName: c.GetHeader("X-User-Name"),
			AvatarURL:   c.GetHeader("X-User-Avatar"),
			Role:        role,
		}
		if u.ID != "" && u.Role != "" {
			c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
		}
		c.Next()
	}
}

// WithUser injects a resolved user into ctx; exported for tests and the
// websocket handshake, which resolves identity before upgrading.
func WithUser(ctx context.Context, u port.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}
