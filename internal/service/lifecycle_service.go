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

// LifecycleService enforces the ticket status state machine. The agent
// path is strictly linear (open -> in_progress -> resolved -> closed) and
// only the assigned agent may walk it; admins may additionally close any
// non-closed ticket directly.
type LifecycleService struct {
	tickets  repository.TicketRepository
	messages repository.MessageRepository
	bus      events.Bus
	logger   *zap.Logger
}

// LifecycleDependencies bundles collaborators.
type LifecycleDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	Bus         events.Bus
	Logger      *zap.Logger
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	return &LifecycleService{
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
		bus:      deps.Bus,
		logger:   orNop(deps.Logger),
	}
}

// Transition moves the ticket to the requested status. The persisted
// update is conditioned on the status the caller was shown still being
// current, so a stale transition fails with InvalidTransition instead of
// clobbering a concurrent change. The status write commits first; the
// system message and change events are best-effort afterwards, reported
// via warnings.
func (s *LifecycleService) Transition(ctx context.Context, identity domain.Identity, ticketID string, to domain.TicketStatus) (*domain.Ticket, []string, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, util.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, util.MapError(err)
	}

	from := ticket.Status
	if err := s.authorize(identity, ticket, to); err != nil {
		return nil, nil, err
	}

	updated, err := s.tickets.UpdateStatus(ctx, ticketID, from, to)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStatusChanged):
			// Someone moved the ticket between our read and write.
			return nil, nil, util.NewInvalidTransition(string(from), string(to))
		case errors.Is(err, repository.ErrNotFound):
			return nil, nil, util.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, util.MapError(err)
	}

	var warnings []string
	msg, err := s.appendStatusNotice(ctx, identity, updated)
	if err != nil {
		s.logger.Warn("status notice not recorded",
			zap.String("ticket_id", updated.ID), zap.Error(err))
		warnings = append(warnings, "status note not recorded")
	}

	warnings = append(warnings, publishBoth(ctx, s.bus, s.logger, updated.ID,
		events.TicketStatusChanged(updated, from, identity))...)
	if msg != nil {
		warnings = append(warnings, publishTicketTopic(ctx, s.bus, s.logger, updated.ID,
			events.MessageAdded(msg, identity))...)
	}
	return updated, warnings, nil
}

// authorize applies the actor and state-machine rules. Wrong actor and
// wrong source state both surface as InvalidTransition.
func (s *LifecycleService) authorize(identity domain.Identity, ticket *domain.Ticket, to domain.TicketStatus) error {
	// Administrative closure: closed is reachable from every non-closed
	// state for admins, assigned or not.
	if to == domain.TicketStatusClosed && identity.IsAdmin() {
		if !domain.CanClose(ticket.Status) {
			return util.NewInvalidTransition(string(ticket.Status), string(to))
		}
		return nil
	}
	if !identity.IsAgent() {
		return util.NewInvalidTransition(string(ticket.Status), string(to))
	}
	if !ticket.AssignedTo(identity.UserID) {
		return util.NewInvalidTransition(string(ticket.Status), string(to))
	}
	if !domain.ValidTransition(ticket.Status, to) {
		return util.NewInvalidTransition(string(ticket.Status), string(to))
	}
	return nil
}

func (s *LifecycleService) appendStatusNotice(ctx context.Context, identity domain.Identity, ticket *domain.Ticket) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:       uuid.NewString(),
		TicketID: ticket.ID,
		SenderID: identity.UserID,
		Role:     domain.SenderRoleSystem,
		Body:     fmt.Sprintf("Ticket status changed to %s.", ticket.Status),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
