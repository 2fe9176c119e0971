package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/pkg/util"
)

// ChatService appends to a ticket's conversation log. Messages are
// durable before the corresponding event is published: a subscriber never
// sees an event for a message a fresh read would not return.
type ChatService struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	bus      events.Bus
	logger   *zap.Logger
}

// ChatDependencies bundles collaborators.
type ChatDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	Bus         events.Bus
	Logger      *zap.Logger
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	return &ChatService{
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
		bus:      deps.Bus,
		logger:   orNop(deps.Logger),
	}
}

// Append adds a message to the ticket's log. Closed tickets are
// read-only; blank bodies are rejected. The store assigns the timestamp,
// never the client.
func (s *ChatService) Append(ctx context.Context, identity domain.Identity, ticketID, body string) (*domain.ChatMessage, []string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil, util.NewEmptyMessage()
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, util.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, util.MapError(err)
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, nil, util.NewTicketClosed(ticketID)
	}
	if !canViewTicket(identity, ticket) {
		return nil, nil, util.NewForbidden("access denied")
	}

	role := domain.SenderRoleCustomer
	if identity.IsAgent() {
		role = domain.SenderRoleAgent
	}
	msg := &domain.ChatMessage{
		ID:       uuid.NewString(),
		TicketID: ticketID,
		SenderID: identity.UserID,
		Role:     role,
		Body:     body,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, nil, util.MapError(err)
	}

	warnings := publishTicketTopic(ctx, s.bus, s.logger, ticketID,
		events.MessageAdded(msg, identity))
	return msg, warnings, nil
}
