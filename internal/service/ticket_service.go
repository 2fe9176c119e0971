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

// TicketService handles ticket creation and read models.
type TicketService struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	bus      events.Bus
	logger   *zap.Logger
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	Bus         events.Bus
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject  string
	Priority domain.TicketPriority
}

// QueueFilter describes agent queue listing parameters. The event bus does
// no per-filter delivery; these narrow snapshot reads only.
type QueueFilter struct {
	Unassigned bool
	AgentID    *string
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
		bus:      deps.Bus,
		logger:   orNop(deps.Logger),
	}
}

// CreateTicket files a new ticket for the calling customer: status open,
// no assignee. Publish failures after the write committed come back as
// warnings, never as an error.
func (s *TicketService) CreateTicket(ctx context.Context, identity domain.Identity, input TicketCreateInput) (*domain.Ticket, []string, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, nil, util.NewValidationError("subject required", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !domain.ValidPriority(priority) {
		return nil, nil, util.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	ticket := &domain.Ticket{
		ID:         uuid.NewString(),
		CustomerID: identity.UserID,
		Subject:    subject,
		Priority:   priority,
		Status:     domain.TicketStatusOpen,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, nil, util.MapError(err)
	}

	warnings := publishBoth(ctx, s.bus, s.logger, ticket.ID, events.TicketCreated(ticket, identity))
	return ticket, warnings, nil
}

// ListCustomerTickets returns the calling customer's tickets, newest
// first.
func (s *TicketService) ListCustomerTickets(ctx context.Context, identity domain.Identity, limit, offset int) ([]domain.Ticket, error) {
	customerID := identity.UserID
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		CustomerID: &customerID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return tickets, nil
}

// ListQueue returns non-closed tickets for the agent queue.
func (s *TicketService) ListQueue(ctx context.Context, identity domain.Identity, filter QueueFilter) ([]domain.Ticket, error) {
	if !identity.IsAgent() {
		return nil, util.NewForbidden("agent role required")
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{
		AgentID:       filter.AgentID,
		Unassigned:    filter.Unassigned,
		ExcludeClosed: true,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, util.MapError(err)
	}
	return tickets, nil
}

// GetTicket fetches a ticket with its full message thread, enforcing that
// customers only see their own tickets.
func (s *TicketService) GetTicket(ctx context.Context, identity domain.Identity, ticketID string) (*domain.Ticket, []domain.ChatMessage, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, util.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, util.MapError(err)
	}
	if !canViewTicket(identity, ticket) {
		return nil, nil, util.NewForbidden("access denied")
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID, nil)
	if err != nil {
		return nil, nil, util.MapError(err)
	}
	return ticket, msgs, nil
}

func canViewTicket(identity domain.Identity, ticket *domain.Ticket) bool {
	if identity.IsAgent() {
		return true
	}
	return ticket.CustomerID == identity.UserID
}

// publishBoth emits the same change on the per-ticket topic and the queue
// topic. Publish failures never unwind the committed write; callers that
// need to surface degradation collect warnings instead.
func publishBoth(ctx context.Context, bus events.Bus, logger *zap.Logger, ticketID string, evt events.Event) []string {
	var warnings []string
	for _, topic := range []string{events.TicketTopic(ticketID), events.TopicQueue} {
		if err := bus.Publish(ctx, topic, evt); err != nil {
			logger.Warn("event publish failed",
				zap.String("topic", topic),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err))
			warnings = append(warnings, "notification delivery degraded: "+topic)
		}
	}
	return warnings
}

func publishTicketTopic(ctx context.Context, bus events.Bus, logger *zap.Logger, ticketID string, evt events.Event) []string {
	if err := bus.Publish(ctx, events.TicketTopic(ticketID), evt); err != nil {
		logger.Warn("event publish failed",
			zap.String("topic", events.TicketTopic(ticketID)),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err))
		return []string{"notification delivery degraded: " + events.TicketTopic(ticketID)}
	}
	return nil
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
