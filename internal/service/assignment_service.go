package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/pkg/util"
)

// AssignmentService resolves the claim race: exactly one agent becomes a
// ticket's assignee no matter how many try at once. The decision is a
// single conditional write at the storage layer; this service never does
// read-then-write on the assignee.
type AssignmentService struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	bus      events.Bus
	logger   *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	UserRepo    repository.UserRepository
	Bus         events.Bus
	Logger      *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
		users:    deps.UserRepo,
		bus:      deps.Bus,
		logger:   orNop(deps.Logger),
	}
}

// Claim makes the calling agent the ticket's sole assignee and moves the
// ticket to in_progress. Losing a concurrent race returns AlreadyAssigned
// so the agent can be told someone else got it. Once claimed, a ticket is
// never unassigned or reassigned.
//
// The returned warnings report post-commit side effects (system message,
// event publish) that failed; the claim itself stands regardless.
func (s *AssignmentService) Claim(ctx context.Context, identity domain.Identity, ticketID string) (*domain.Ticket, []string, error) {
	if !identity.IsAgent() {
		return nil, nil, util.NewForbidden("agent role required")
	}

	ticket, err := s.tickets.Claim(ctx, ticketID, identity.UserID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, nil, util.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		case errors.Is(err, repository.ErrTicketClosed):
			return nil, nil, util.NewTicketClosed(ticketID)
		case errors.Is(err, repository.ErrAlreadyAssigned):
			return nil, nil, util.NewAlreadyAssigned(ticketID)
		}
		return nil, nil, util.MapError(err)
	}

	var warnings []string
	msg, err := s.appendClaimNotice(ctx, identity, ticket)
	if err != nil {
		s.logger.Warn("claim notice not recorded",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
		warnings = append(warnings, "assignment note not recorded")
	}

	warnings = append(warnings, publishBoth(ctx, s.bus, s.logger, ticket.ID,
		events.TicketAssigned(ticket, identity))...)
	if msg != nil {
		warnings = append(warnings, publishTicketTopic(ctx, s.bus, s.logger, ticket.ID,
			events.MessageAdded(msg, identity))...)
	}
	return ticket, warnings, nil
}

func (s *AssignmentService) appendClaimNotice(ctx context.Context, identity domain.Identity, ticket *domain.Ticket) (*domain.ChatMessage, error) {
	agentName := identity.UserID
	if profile, err := s.users.GetByID(ctx, identity.UserID); err == nil && profile.DisplayName != "" {
		agentName = profile.DisplayName
	}
	msg := &domain.ChatMessage{
		ID:       uuid.NewString(),
		TicketID: ticket.ID,
		SenderID: identity.UserID,
		Role:     domain.SenderRoleSystem,
		Body:     fmt.Sprintf("Agent %s has been assigned to this ticket.", agentName),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
