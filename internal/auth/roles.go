package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/pkg/util"
)

// RequireRole ensures the principal holds one of the allowed roles; with
// no arguments it only requires authentication.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return util.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Identity.Role]; !exists {
			return util.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireAgent ensures the caller may work the agent queue.
func RequireAgent() fiber.Handler {
	return RequireRole(domain.UserRoleAgent, domain.UserRoleAdmin)
}
