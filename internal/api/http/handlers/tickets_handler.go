package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/opsdesk/support-desk/internal/api/dto"
	"github.com/opsdesk/support-desk/internal/auth"
	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/service"
	"github.com/opsdesk/support-desk/pkg/util"
)

// TicketsHandler manages customer-facing ticket endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
	chat    *service.ChatService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, chat *service.ChatService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, chat: chat}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}

	ticket, warnings, err := h.tickets.CreateTicket(c.UserContext(), principal.Identity, service.TicketCreateInput{
		Subject:  req.Subject,
		Priority: req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(withWarnings(fiber.Map{"data": ticketResponse(ticket)}, warnings))
}

// ListTickets GET /tickets returns the caller's own tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)

	tickets, err := h.tickets.ListCustomerTickets(c.UserContext(), principal.Identity, pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponses(tickets)})
}

// GetTicket GET /tickets/:id returns the ticket with its thread.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	ticket, msgs, err := h.tickets.GetTicket(c.UserContext(), principal.Identity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailResponse{
		Ticket:   ticketResponse(ticket),
		Messages: messageResponses(msgs),
	}})
}

// AddMessage POST /tickets/:id/messages appends to the chat log.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return util.NewUnauthorized("authentication required")
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}

	msg, warnings, err := h.chat.Append(c.UserContext(), principal.Identity, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(withWarnings(fiber.Map{"data": messageResponse(msg)}, warnings))
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:         ticket.ID,
		CustomerID: ticket.CustomerID,
		AgentID:    ticket.AgentID,
		Subject:    ticket.Subject,
		Priority:   ticket.Priority,
		Status:     ticket.Status,
		CreatedAt:  ticket.CreatedAt,
		UpdatedAt:  ticket.UpdatedAt,
	}
}

func ticketResponses(tickets []domain.Ticket) []dto.TicketResponse {
	result := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		result = append(result, ticketResponse(&tickets[i]))
	}
	return result
}

func messageResponse(msg *domain.ChatMessage) dto.MessageResponse {
	return dto.MessageResponse{
		ID:       msg.ID,
		TicketID: msg.TicketID,
		SenderID: msg.SenderID,
		Role:     msg.Role,
		Body:     msg.Body,
		SentAt:   msg.SentAt,
	}
}

func messageResponses(msgs []domain.ChatMessage) []dto.MessageResponse {
	result := make([]dto.MessageResponse, 0, len(msgs))
	for i := range msgs {
		result = append(result, messageResponse(&msgs[i]))
	}
	return result
}

func withWarnings(body fiber.Map, warnings []string) fiber.Map {
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}
	return body
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
