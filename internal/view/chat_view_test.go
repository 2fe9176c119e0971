package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/internal/service"
)

func TestChatView_SnapshotPlusLiveIsExact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	customer := h.customer()
	ticket, _, err := h.tickets.CreateTicket(ctx, customer, service.TicketCreateInput{Subject: "cannot print"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	const existing = 3
	for i := 0; i < existing; i++ {
		if _, _, err := h.chat.Append(ctx, customer, ticket.ID, fmt.Sprintf("before %d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	v, err := OpenChatView(ctx, h.store.Tickets(), h.store.Messages(), h.bus, ticket.ID, nil)
	if err != nil {
		t.Fatalf("OpenChatView: %v", err)
	}
	defer v.Close()

	if got := v.Messages(); len(got) != existing {
		t.Fatalf("opening thread size = %d, want %d", len(got), existing)
	}

	const live = 2
	for i := 0; i < live; i++ {
		if _, _, err := h.chat.Append(ctx, customer, ticket.ID, fmt.Sprintf("after %d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	waitUpdates(t, v.Updates(), live)

	got := v.Messages()
	if len(got) != existing+live {
		t.Fatalf("thread size = %d, want %d", len(got), existing+live)
	}
	seen := map[string]bool{}
	for _, msg := range got {
		if seen[msg.ID] {
			t.Fatalf("duplicate message %s in thread", msg.ID)
		}
		seen[msg.ID] = true
	}
	wantBodies := []string{"before 0", "before 1", "before 2", "after 0", "after 1"}
	for i, msg := range got {
		if msg.Body != wantBodies[i] {
			t.Errorf("message %d body = %q, want %q", i, msg.Body, wantBodies[i])
		}
	}
}

func TestChatView_DuplicateMessageEventSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	customer := h.customer()
	ticket, _, err := h.tickets.CreateTicket(ctx, customer, service.TicketCreateInput{Subject: "weird noise"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	v, err := OpenChatView(ctx, h.store.Tickets(), h.store.Messages(), h.bus, ticket.ID, nil)
	if err != nil {
		t.Fatalf("OpenChatView: %v", err)
	}
	defer v.Close()

	msg, _, err := h.chat.Append(ctx, customer, ticket.ID, "clunk clunk")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitUpdates(t, v.Updates(), 1)

	// Redeliver the same append, as a reconnect replay would.
	dup := events.MessageAdded(msg, domain.Identity{UserID: customer.UserID, Role: domain.UserRoleCustomer})
	if err := h.bus.Publish(ctx, events.TicketTopic(ticket.ID), dup); err != nil {
		t.Fatalf("Publish duplicate: %v", err)
	}

	second, _, err := h.chat.Append(ctx, customer, ticket.ID, "now a hiss")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got := waitUpdates(t, v.Updates(), 1)
	if got[0].EntityID != second.ID {
		t.Errorf("forwarded update for %s, want %s (duplicate should be silent)", got[0].EntityID, second.ID)
	}

	thread := v.Messages()
	if len(thread) != 2 {
		t.Fatalf("thread size = %d, want 2", len(thread))
	}
}

func TestChatView_TicketEventsFoldIntoMetadata(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	agent := h.agent()
	ticket := h.openTicket(t)

	v, err := OpenChatView(ctx, h.store.Tickets(), h.store.Messages(), h.bus, ticket.ID, nil)
	if err != nil {
		t.Fatalf("OpenChatView: %v", err)
	}
	defer v.Close()

	if _, _, err := h.assignment.Claim(ctx, agent, ticket.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// Claim lands the assignment event plus the system-message event on
	// the ticket topic.
	waitUpdates(t, v.Updates(), 2)

	current := v.Ticket()
	if current.Status != domain.TicketStatusInProgress {
		t.Errorf("status = %s, want in_progress", current.Status)
	}
	if !current.AssignedTo(agent.UserID) {
		t.Errorf("assignee = %v, want %s", current.AgentID, agent.UserID)
	}

	thread := v.Messages()
	if len(thread) != 1 {
		t.Fatalf("thread size = %d, want the system notice", len(thread))
	}
	if thread[0].Role != domain.SenderRoleSystem {
		t.Errorf("notice role = %s, want system", thread[0].Role)
	}
}

func TestChatView_MissingTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := OpenChatView(ctx, h.store.Tickets(), h.store.Messages(), h.bus, "nope", nil); err == nil {
		t.Fatal("OpenChatView on missing ticket succeeded")
	}
}

// stallingLookupRepo holds every ticket read after the first open until
// released, so a resync can be caught mid-flight.
type stallingLookupRepo struct {
	repository.TicketRepository

	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (r *stallingLookupRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if !first {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-r.gate
	}
	return r.TicketRepository.GetByID(ctx, id)
}

func TestChatView_CloseBeatsResync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	customer := h.customer()
	ticket, _, err := h.tickets.CreateTicket(ctx, customer, service.TicketCreateInput{Subject: "screen flicker"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	repo := &stallingLookupRepo{
		TicketRepository: h.store.Tickets(),
		gate:             make(chan struct{}),
		entered:          make(chan struct{}, 1),
	}
	v, err := OpenChatView(ctx, repo, h.store.Messages(), h.bus, ticket.ID, nil)
	if err != nil {
		t.Fatalf("OpenChatView: %v", err)
	}

	// Stall a resync on its ticket read, close the view underneath it,
	// then let it finish: it must refuse to install a subscription on
	// the closed view instead of leaving one live forever.
	resyncErr := make(chan error, 1)
	go func() { resyncErr <- v.resync(ctx) }()
	<-repo.entered
	v.Close()
	close(repo.gate)

	if err := <-resyncErr; !errors.Is(err, errViewClosed) {
		t.Errorf("resync after Close: got %v, want view-closed", err)
	}
}
