package service

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/pkg/util"
)

func TestLifecycleService_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("assigned agent walks the full lifecycle", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		agent := f.agent()
		if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		for _, to := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusClosed} {
			updated, warnings, err := f.lifecycle.Transition(ctx, agent, ticket.ID, to)
			if err != nil {
				t.Fatalf("Transition to %s: %v", to, err)
			}
			if len(warnings) != 0 {
				t.Errorf("Transition to %s warnings: %v", to, warnings)
			}
			if updated.Status != to {
				t.Errorf("status = %s, want %s", updated.Status, to)
			}
		}
	})

	t.Run("skipping a state is rejected", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		agent := f.agent()
		if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		if _, _, err := f.lifecycle.Transition(ctx, agent, ticket.ID, domain.TicketStatusClosed); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("in_progress to closed: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("unassigned agent is rejected", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		owner := f.agent()
		other := f.agent()
		if _, _, err := f.assignment.Claim(ctx, owner, ticket.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		if _, _, err := f.lifecycle.Transition(ctx, other, ticket.ID, domain.TicketStatusResolved); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("transition by non-assignee: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("customer is rejected", func(t *testing.T) {
		f := newFixture(t)
		customer := f.customer()
		ticket := f.openTicket(t, customer)

		if _, _, err := f.lifecycle.Transition(ctx, customer, ticket.ID, domain.TicketStatusInProgress); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("transition by customer: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("admin closes from any non-closed state", func(t *testing.T) {
		f := newFixture(t)
		admin := f.admin()

		// Unassigned and still open.
		ticket := f.openTicket(t, f.customer())
		updated, _, err := f.lifecycle.Transition(ctx, admin, ticket.ID, domain.TicketStatusClosed)
		if err != nil {
			t.Fatalf("admin close of open ticket: %v", err)
		}
		if updated.Status != domain.TicketStatusClosed {
			t.Errorf("status = %s, want closed", updated.Status)
		}

		// Closing a closed ticket is still invalid.
		if _, _, err := f.lifecycle.Transition(ctx, admin, ticket.ID, domain.TicketStatusClosed); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("admin close of closed ticket: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("admin non-close transitions follow agent rules", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		admin := f.admin()

		// Admin is not the assignee; only the close shortcut applies.
		if _, _, err := f.lifecycle.Transition(ctx, admin, ticket.ID, domain.TicketStatusInProgress); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("admin in_progress without claim: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("closed ticket admits nothing", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		agent := f.agent()
		if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		for _, to := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusClosed} {
			if _, _, err := f.lifecycle.Transition(ctx, agent, ticket.ID, to); err != nil {
				t.Fatalf("Transition to %s: %v", to, err)
			}
		}

		if _, _, err := f.lifecycle.Transition(ctx, agent, ticket.ID, domain.TicketStatusResolved); !util.IsCode(err, util.CodeInvalidTransition) {
			t.Errorf("reopen attempt: got %v, want INVALID_TRANSITION", err)
		}
	})

	t.Run("missing ticket", func(t *testing.T) {
		f := newFixture(t)
		if _, _, err := f.lifecycle.Transition(ctx, f.agent(), uuid.NewString(), domain.TicketStatusResolved); !util.IsCode(err, util.CodeNotFound) {
			t.Errorf("missing ticket: got %v, want NOT_FOUND", err)
		}
	})
}

func TestLifecycleService_TransitionRecordsNoticeAndEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := f.openTicket(t, f.customer())
	agent := f.agent()
	if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	sub, err := f.bus.Subscribe(ctx, events.TicketTopic(ticket.ID))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, _, err := f.lifecycle.Transition(ctx, agent, ticket.ID, domain.TicketStatusResolved); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	msgs, err := f.store.Messages().ListByTicket(ctx, ticket.ID, nil)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != domain.SenderRoleSystem {
		t.Errorf("notice role = %s, want system", last.Role)
	}
	if last.Body != "Ticket status changed to resolved." {
		t.Errorf("notice body = %q", last.Body)
	}

	evt := <-sub.Events()
	if evt.Type != events.EventTicketStatusChanged {
		t.Fatalf("event type = %s, want ticket_status_changed", evt.Type)
	}
	if evt.ChangedFields["status"] != domain.TicketStatusResolved {
		t.Errorf("changed status = %v, want resolved", evt.ChangedFields["status"])
	}
	if evt.ChangedFields["old_status"] != domain.TicketStatusInProgress {
		t.Errorf("old status = %v, want in_progress", evt.ChangedFields["old_status"])
	}
}
