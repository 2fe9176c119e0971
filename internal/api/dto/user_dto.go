package dto

import (
	"time"

	"github.com/opsdesk/support-desk/internal/domain"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Password    string          `json:"password"`
	Role        domain.UserRole `json:"role"`
}

// LoginRequest authenticates an account.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the wire form of a profile.
type UserResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Role        domain.UserRole `json:"role"`
}

// AuthResponse carries a signed token.
type AuthResponse struct {
	User      UserResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}
