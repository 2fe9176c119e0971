package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/support-desk/internal/api/http/handlers"
	"github.com/opsdesk/support-desk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Agent          *handlers.AgentHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/stream", cfg.Stream.StreamTicket)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)

	agent := app.Group("/agent", cfg.AuthMiddleware.Handle, auth.RequireAgent())
	agent.Get("/queue", cfg.Agent.ListQueue)
	agent.Get("/queue/stream", cfg.Stream.StreamQueue)
	agent.Post("/tickets/:id/claim", cfg.Agent.ClaimTicket)
	agent.Post("/tickets/:id/status", cfg.Agent.TransitionTicket)
}
