package view

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk/support-desk/internal/domain"
	"github.com/opsdesk/support-desk/internal/events"
	"github.com/opsdesk/support-desk/internal/repository"
	"github.com/opsdesk/support-desk/internal/service"
)

type harness struct {
	store      *repository.MemoryStore
	bus        *events.MemoryBus
	tickets    *service.TicketService
	assignment *service.AssignmentService
	lifecycle  *service.LifecycleService
	chat       *service.ChatService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	bus := events.NewMemoryBus(nil, events.MemoryBusOptions{})
	t.Cleanup(bus.Close)

	return &harness{
		store: store,
		bus:   bus,
		tickets: service.NewTicketService(service.TicketDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
		assignment: service.NewAssignmentService(service.AssignmentDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			UserRepo:    store.Users(),
			Bus:         bus,
		}),
		lifecycle: service.NewLifecycleService(service.LifecycleDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
		chat: service.NewChatService(service.ChatDependencies{
			TicketRepo:  store.Tickets(),
			MessageRepo: store.Messages(),
			Bus:         bus,
		}),
	}
}

func (h *harness) customer() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleCustomer}
}

func (h *harness) agent() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleAgent}
}

func (h *harness) admin() domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Role: domain.UserRoleAdmin}
}

func (h *harness) openTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, _, err := h.tickets.CreateTicket(context.Background(), h.customer(), service.TicketCreateInput{Subject: "vpn down"})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func waitUpdates(t *testing.T, updates <-chan events.Event, n int) []events.Event {
	t.Helper()
	got := make([]events.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case evt := <-updates:
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("timed out waiting for view updates, got %d of %d", len(got), n)
		}
	}
	return got
}

func TestQueueView_SnapshotThenLive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	agent := h.agent()

	before1 := h.openTicket(t)
	before2 := h.openTicket(t)

	v, err := OpenQueueView(ctx, h.store.Tickets(), h.bus, agent, nil)
	if err != nil {
		t.Fatalf("OpenQueueView: %v", err)
	}
	defer v.Close()

	snap := v.Snapshot(FilterAll)
	if len(snap) != 2 {
		t.Fatalf("initial snapshot size = %d, want 2", len(snap))
	}

	after := h.openTicket(t)
	waitUpdates(t, v.Updates(), 1)

	snap = v.Snapshot(FilterAll)
	if len(snap) != 3 {
		t.Fatalf("snapshot size after create = %d, want 3", len(snap))
	}
	ids := map[string]bool{}
	for _, ticket := range snap {
		if ids[ticket.ID] {
			t.Fatalf("duplicate ticket %s in snapshot", ticket.ID)
		}
		ids[ticket.ID] = true
	}
	for _, want := range []string{before1.ID, before2.ID, after.ID} {
		if !ids[want] {
			t.Errorf("ticket %s missing from snapshot", want)
		}
	}
}

func TestQueueView_AssignmentUpdatesFilters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	agent := h.agent()
	ticket := h.openTicket(t)
	other := h.openTicket(t)

	v, err := OpenQueueView(ctx, h.store.Tickets(), h.bus, agent, nil)
	if err != nil {
		t.Fatalf("OpenQueueView: %v", err)
	}
	defer v.Close()

	if _, _, err := h.assignment.Claim(ctx, agent, ticket.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	waitUpdates(t, v.Updates(), 1)

	mine := v.Snapshot(FilterMine)
	if len(mine) != 1 || mine[0].ID != ticket.ID {
		t.Errorf("mine = %v, want just %s", mine, ticket.ID)
	}
	if mine[0].Status != domain.TicketStatusInProgress {
		t.Errorf("claimed status = %s, want in_progress", mine[0].Status)
	}

	unassigned := v.Snapshot(FilterUnassigned)
	if len(unassigned) != 1 || unassigned[0].ID != other.ID {
		t.Errorf("unassigned = %v, want just %s", unassigned, other.ID)
	}

	assigned := v.Snapshot(FilterAssigned)
	if len(assigned) != 1 || assigned[0].ID != ticket.ID {
		t.Errorf("assigned = %v, want just %s", assigned, ticket.ID)
	}
}

func TestQueueView_ClosedTicketLeavesQueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ticket := h.openTicket(t)

	v, err := OpenQueueView(ctx, h.store.Tickets(), h.bus, h.agent(), nil)
	if err != nil {
		t.Fatalf("OpenQueueView: %v", err)
	}
	defer v.Close()

	if _, _, err := h.lifecycle.Transition(ctx, h.admin(), ticket.ID, domain.TicketStatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitUpdates(t, v.Updates(), 1)

	if snap := v.Snapshot(FilterAll); len(snap) != 0 {
		t.Errorf("snapshot after close = %v, want empty", snap)
	}
}

func TestQueueView_RedeliveredEventIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	agent := h.agent()
	ticket := h.openTicket(t)

	v, err := OpenQueueView(ctx, h.store.Tickets(), h.bus, agent, nil)
	if err != nil {
		t.Fatalf("OpenQueueView: %v", err)
	}
	defer v.Close()

	claimed, _, err := h.assignment.Claim(ctx, agent, ticket.ID)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	waitUpdates(t, v.Updates(), 1)

	// Redeliver the assignment; the fields match displayed state so the
	// view must swallow it without forwarding.
	actor := domain.Identity{UserID: agent.UserID, Role: domain.UserRoleAgent}
	if err := h.bus.Publish(ctx, events.TopicQueue, events.TicketAssigned(claimed, actor)); err != nil {
		t.Fatalf("Publish duplicate: %v", err)
	}

	// A subsequent fresh ticket must be the next forwarded update.
	fresh := h.openTicket(t)
	got := waitUpdates(t, v.Updates(), 1)
	if got[0].TicketID != fresh.ID {
		t.Errorf("forwarded update for %s, want %s (duplicate should be silent)", got[0].TicketID, fresh.ID)
	}

	if mine := v.Snapshot(FilterMine); len(mine) != 1 {
		t.Errorf("mine = %v, want a single entry", mine)
	}
}

// stallingTicketRepo wraps a repository and lets the test hold reads open,
// pinning the view's consumer loop at a chosen point while Close runs.
// The first ListWithFilter call (the opening snapshot) passes through.
type stallingTicketRepo struct {
	repository.TicketRepository

	mu          sync.Mutex
	lists       int
	getGate     chan struct{}
	getEntered  chan struct{}
	listGate    chan struct{}
	listEntered chan struct{}
}

func (r *stallingTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	select {
	case r.getEntered <- struct{}{}:
	default:
	}
	<-r.getGate
	return r.TicketRepository.GetByID(ctx, id)
}

func (r *stallingTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	r.lists++
	first := r.lists == 1
	r.mu.Unlock()
	if !first {
		select {
		case r.listEntered <- struct{}{}:
		default:
		}
		<-r.listGate
	}
	return r.TicketRepository.ListWithFilter(ctx, filter)
}

func TestQueueView_CloseDuringResyncReturns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bus := events.NewMemoryBus(nil, events.MemoryBusOptions{BufferSize: 1})
	t.Cleanup(bus.Close)

	repo := &stallingTicketRepo{
		TicketRepository: h.store.Tickets(),
		getGate:          make(chan struct{}),
		getEntered:       make(chan struct{}, 1),
		listGate:         make(chan struct{}),
		listEntered:      make(chan struct{}, 1),
	}
	v, err := OpenQueueView(ctx, repo, bus, h.agent(), nil)
	if err != nil {
		t.Fatalf("OpenQueueView: %v", err)
	}

	// Land a ticket the snapshot never saw, then flood the one-slot
	// subscriber buffer while the consumer is held inside GetByID so
	// the bus drops the view as a slow consumer.
	ticket := &domain.Ticket{
		ID:         uuid.NewString(),
		CustomerID: uuid.NewString(),
		Subject:    "stuck elevator",
		Priority:   domain.TicketPriorityMedium,
		Status:     domain.TicketStatusOpen,
	}
	if err := h.store.Tickets().Create(ctx, ticket); err != nil {
		t.Fatalf("Create: %v", err)
	}
	evt := events.TicketCreated(ticket, h.customer())
	for i := 0; i < 4; i++ {
		if err := bus.Publish(ctx, events.TopicQueue, evt); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	<-repo.getEntered
	close(repo.getGate)

	// The drop sends the consumer into a resync that is now stalled on
	// the snapshot read. Close during that window must still return.
	<-repo.listEntered
	closed := make(chan struct{})
	go func() {
		v.Close()
		close(closed)
	}()
	for {
		v.mu.RLock()
		marked := v.closed
		v.mu.RUnlock()
		if marked {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(repo.listGate)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while a resync was in flight")
	}
}
