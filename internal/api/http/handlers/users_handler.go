package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/support-desk/internal/api/dto"
	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/service"
	"github.com/opsdesk/support-desk/pkg/util"
)

// UsersHandler manages registration and login.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Register POST /auth/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	role := req.Role
	if role == "" {
		role = domain.UserRoleCustomer
	}

	user, token, exp, err := h.auth.Register(c.UserContext(), req.Email, req.DisplayName, req.Password, role)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": authResponse(user, token, exp)})
}

// Login POST /auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}

	user, token, exp, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": authResponse(user, token, exp)})
}

func authResponse(user *domain.UserProfile, token string, exp time.Time) dto.AuthResponse {
	return dto.AuthResponse{
		User: dto.UserResponse{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		},
		Token:     token,
		ExpiresAt: exp,
	}
}
