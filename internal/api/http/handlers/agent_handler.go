package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/support-desk/internal/api/dto"
	"github.com/opsdesk/support-desk/internal/auth"
	"github.com/opsdesk/support-desk/internal/service"
	"github.com/opsdesk/support-desk/pkg/util"
)

// AgentHandler manages the agent queue endpoints: listing, claiming and
// walking the status machine.
type AgentHandler struct {
	tickets    *service.TicketService
	assignment *service.AssignmentService
	lifecycle  *service.LifecycleService
}

// NewAgentHandler constructs handler.
func NewAgentHandler(tickets *service.TicketService, assignment *service.AssignmentService, lifecycle *service.LifecycleService) *AgentHandler {
	return &AgentHandler{tickets: tickets, assignment: assignment, lifecycle: lifecycle}
}

// ListQueue GET /agent/queue.
func (h *AgentHandler) ListQueue(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}

	filter := service.QueueFilter{
		Limit:  parseInt(c.Query("page_size"), 100),
		Offset: (parseInt(c.Query("page"), 1) - 1) * parseInt(c.Query("page_size"), 100),
	}
	switch c.Query("filter") {
	case "unassigned":
		filter.Unassigned = true
	case "mine":
		agentID := principal.Identity.UserID
		filter.AgentID = &agentID
	}

	tickets, err := h.tickets.ListQueue(c.UserContext(), principal.Identity, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// ClaimTicket POST /agent/tickets/:id/claim.
func (h *AgentHandler) ClaimTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticket, warnings, err := h.assignment.Claim(c.UserContext(), principal.Identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(withWarnings(fiber.Map{"data": ticketResponse(ticket)}, warnings))
}

// TransitionTicket POST /agent/tickets/:id/status.
func (h *AgentHandler) TransitionTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return util.NewValidationError("status required", nil)
	}

	ticket, warnings, err := h.lifecycle.Transition(c.UserContext(), principal.Identity, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(withWarnings(fiber.Map{"data": ticketResponse(ticket)}, warnings))
}
