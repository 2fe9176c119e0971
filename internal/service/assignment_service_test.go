package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/pkg/util"
)

type fixture struct {
	store      *repository.MemoryStore
	bus        *events.MemoryBus
	tickets    *TicketService
	assignment *AssignmentService
	lifecycle  *LifecycleService
	chat       *ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	bus := events.NewMemoryBus(nil, events.MemoryBusOptions{})
	t.Cleanup(bus.Close)

	return &fixture{
		store: store,
		bus:   bus,
		tickets: NewTicketService(TicketDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
		assignment: NewAssignmentService(AssignmentDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			UserRepo:    store.Users(),
			Bus:         bus,
		}),
		lifecycle: NewLifecycleService(LifecycleDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
		chat: NewChatService(ChatDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
	}
}

func (f *fixture) customer() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleCustomer}
}

func (f *fixture) agent() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleAgent}
}

func (f *fixture) admin() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleAdmin}
}

func (f *fixture) openTicket(t *testing.T, customer domain.Identity) *domain.Ticket {
	t.Helper()
	ticket, _, err := f.tickets.CreateTicket(context.Background(), customer, TicketCreateInput{Subject: "printer on fire"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestAssignmentService_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins and moves to in_progress", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		agent := f.agent()

		claimed, warnings, err := f.assignment.Claim(ctx, agent, ticket.ID)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
		if !claimed.AssignedTo(agent.UserID) {
			t.Errorf("ticket not assigned to claiming agent, got %v", claimed.AgentID)
		}
		if claimed.Status != domain.TicketStatusInProgress {
			t.Errorf("status = %s, want in_progress", claimed.Status)
		}
	})

	t.Run("second claim loses", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		first := f.agent()
		second := f.agent()

		if _, _, err := f.assignment.Claim(ctx, first, ticket.ID); err != nil {
			t.Fatalf("first Claim: %v", err)
		}
		_, _, err := f.assignment.Claim(ctx, second, ticket.ID)
		if !util.IsCode(err, util.CodeAlreadyAssigned) {
			t.Fatalf("second Claim: got %v, want ALREADY_ASSIGNED", err)
		}

		got, getErr := f.store.Tickets().GetByID(ctx, ticket.ID)
		if getErr != nil {
			t.Fatalf("GetByID: %v", getErr)
		}
		if !got.AssignedTo(first.UserID) {
			t.Errorf("assignee changed after losing claim, got %v", got.AgentID)
		}
	})

	t.Run("claiming own ticket again loses too", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		agent := f.agent()

		if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); !util.IsCode(err, util.CodeAlreadyAssigned) {
			t.Errorf("re-claim: got %v, want ALREADY_ASSIGNED", err)
		}
	})

	t.Run("customer may not claim", func(t *testing.T) {
		f := newFixture(t)
		customer := f.customer()
		ticket := f.openTicket(t, customer)

		if _, _, err := f.assignment.Claim(ctx, customer, ticket.ID); !util.IsCode(err, util.CodeForbidden) {
			t.Errorf("Claim by customer: got %v, want FORBIDDEN", err)
		}
	})

	t.Run("missing ticket", func(t *testing.T) {
		f := newFixture(t)
		if _, _, err := f.assignment.Claim(ctx, f.agent(), uuid.NewString()); !util.IsCode(err, util.CodeNotFound) {
			t.Errorf("Claim missing: got %v, want NOT_FOUND", err)
		}
	})

	t.Run("closed ticket", func(t *testing.T) {
		f := newFixture(t)
		ticket := f.openTicket(t, f.customer())
		if _, _, err := f.lifecycle.Transition(ctx, f.admin(), ticket.ID, domain.TicketStatusClosed); err != nil {
			t.Fatalf("close: %v", err)
		}
		if _, _, err := f.assignment.Claim(ctx, f.agent(), ticket.ID); !util.IsCode(err, util.CodeTicketClosed) {
			t.Errorf("Claim closed: got %v, want TICKET_CLOSED", err)
		}
	})
}

func TestAssignmentService_ClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := f.openTicket(t, f.customer())

	const racers = 16
	agents := make([]domain.Identity, racers)
	for i := range agents {
		agents[i] = f.agent()
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	winners := make([]*domain.Ticket, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			winners[i], _, results[i] = f.assignment.Claim(ctx, agents[i], ticket.ID)
		}(i)
	}
	wg.Wait()

	var winner *domain.Ticket
	wins, losses := 0, 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			winner = winners[i]
		case util.IsCode(err, util.CodeAlreadyAssigned):
			losses++
		default:
			t.Errorf("racer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winners, want exactly 1", wins)
	}
	if losses != racers-1 {
		t.Errorf("got %d losers, want %d", losses, racers-1)
	}

	stored, err := f.store.Tickets().GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.AssignedTo(*winner.AgentID) {
		t.Errorf("stored assignee %v does not match winner %v", stored.AgentID, winner.AgentID)
	}
}

func TestAssignmentService_ClaimRecordsSystemMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := f.openTicket(t, f.customer())
	agent := f.agent()

	if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	msgs, err := f.store.Messages().ListByTicket(ctx, ticket.ID, nil)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	notice := msgs[0]
	if notice.Role != domain.SenderRoleSystem {
		t.Errorf("notice role = %s, want system", notice.Role)
	}
	if !strings.Contains(notice.Body, "has been assigned to this ticket") {
		t.Errorf("notice body = %q", notice.Body)
	}
}

func TestAssignmentService_ClaimPublishesToBothTopics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ticket := f.openTicket(t, f.customer())
	agent := f.agent()

	queueSub, err := f.bus.Subscribe(ctx, events.TopicQueue)
	if err != nil {
		t.Fatalf("Subscribe queue: %v", err)
	}
	defer queueSub.Unsubscribe()
	ticketSub, err := f.bus.Subscribe(ctx, events.TicketTopic(ticket.ID))
	if err != nil {
		t.Fatalf("Subscribe ticket: %v", err)
	}
	defer ticketSub.Unsubscribe()

	if _, _, err := f.assignment.Claim(ctx, agent, ticket.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	queueEvt := <-queueSub.Events()
	if queueEvt.Type != events.EventTicketAssigned {
		t.Errorf("queue event type = %s, want ticket_assigned", queueEvt.Type)
	}
	assigned := <-ticketSub.Events()
	if assigned.Type != events.EventTicketAssigned {
		t.Errorf("ticket event type = %s, want ticket_assigned", assigned.Type)
	}
	noticeEvt := <-ticketSub.Events()
	if noticeEvt.Type != events.EventMessageAdded {
		t.Errorf("second ticket event type = %s, want message_added", noticeEvt.Type)
	}
}
