package dto

import (
	"time"

	"github.com/spec-kit/license-service/internal/domain"
)

// CreateUserRequest payload for admin user creation.
type CreateUserRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     domain.UserRole `json:"role"`
}

// UpdateUserRequest payload for admin user edits.
type UpdateUserRequest struct {
	Name  *string          `json:"name"`
	Email *string          `json:"email"`
	Role  *domain.UserRole `json:"role"`
}

// SessionResponse is the admin view of a login session. The token itself is
// never exposed.
type SessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewSessionResponse maps a domain session.
func NewSessionResponse(session domain.Session) SessionResponse {
	return SessionResponse{
		ID:        session.ID,
		UserID:    session.UserID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
}
