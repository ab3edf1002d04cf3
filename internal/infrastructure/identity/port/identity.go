package port

import "context"

// Role mirrors the marketplace party behind a session.
type Role string

const (
	RolePatient Role = "patient"
	RoleClinic  Role = "clinic"
	RoleAdmin   Role = "admin"
)

// User is the read-only identity of the current actor.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Role        Role
}

// Identity resolves the current user from a request context. Authentication
// itself lives outside this subsystem; this port only reads its result.
type Identity interface {
	CurrentUser(ctx context.Context) (User, error)
}
