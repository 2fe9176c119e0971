package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsdesk/support-desk/internal/domain"
)

// MemoryStore backs the repositories with process memory. It is wired in
// when no POSTGRES_DSN is configured and doubles as the test store. One
// mutex guards all state, so the conditional writes are linearizable the
// same way the SQL versions are.
type MemoryStore struct {
	mu       sync.Mutex
	tickets  map[string]domain.Ticket
	messages map[string][]domain.ChatMessage
	users    map[string]domain.UserProfile
	byEmail  map[string]string
	lastSent map[string]time.Time
	nextSeq  map[string]int64
}

// NewMemoryStore initializes an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]domain.Ticket),
		messages: make(map[string][]domain.ChatMessage),
		users:    make(map[string]domain.UserProfile),
		byEmail:  make(map[string]string),
		lastSent: make(map[string]time.Time),
		nextSeq:  make(map[string]int64),
	}
}

// Tickets returns the ticket repository view of the store.
func (s *MemoryStore) Tickets() TicketRepository { return (*memoryTickets)(s) }

// Messages returns the message repository view of the store.
func (s *MemoryStore) Messages() MessageRepository { return (*memoryMessages)(s) }

// Users returns the user repository view of the store.
func (s *MemoryStore) Users() UserRepository { return (*memoryUsers)(s) }

type memoryTickets MemoryStore

func (s *memoryTickets) Create(ctx context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *memoryTickets) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *memoryTickets) getLocked(id string) (*domain.Ticket, error) {
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := ticket
	return &copied, nil
}

func (s *memoryTickets) Claim(ctx context.Context, ticketID, agentID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, ErrTicketClosed
	}
	if ticket.AgentID != nil {
		return nil, ErrAlreadyAssigned
	}
	assignee := agentID
	ticket.AgentID = &assignee
	ticket.Status = domain.TicketStatusInProgress
	ticket.UpdatedAt = time.Now()
	s.tickets[ticketID] = ticket
	copied := ticket
	return &copied, nil
}

func (s *memoryTickets) UpdateStatus(ctx context.Context, ticketID string, from, to domain.TicketStatus) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	if ticket.Status != from {
		return nil, ErrStatusChanged
	}
	ticket.Status = to
	ticket.UpdatedAt = time.Now()
	s.tickets[ticketID] = ticket
	copied := ticket
	return &copied, nil
}

func (s *memoryTickets) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if filter.CustomerID != nil && ticket.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.AgentID != nil && !ticket.AssignedTo(*filter.AgentID) {
			continue
		}
		if filter.Unassigned && ticket.Assigned() {
			continue
		}
		if filter.ExcludeClosed && ticket.Status == domain.TicketStatusClosed {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		result = append(result, ticket)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func containsStatus(list []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}

type memoryMessages MemoryStore

func (s *memoryMessages) Create(ctx context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.lastSent[msg.TicketID]; ok && now.Before(last) {
		now = last
	}
	s.lastSent[msg.TicketID] = now
	s.nextSeq[msg.TicketID]++
	msg.SentAt = now
	msg.Seq = s.nextSeq[msg.TicketID]
	s.messages[msg.TicketID] = append(s.messages[msg.TicketID], *msg)
	return nil
}

func (s *memoryMessages) ListByTicket(ctx context.Context, ticketID string, since *time.Time) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.messages[ticketID]
	result := make([]domain.ChatMessage, 0, len(stored))
	for _, msg := range stored {
		if since != nil && msg.SentAt.Before(*since) {
			continue
		}
		result = append(result, msg)
	}
	return result, nil
}

type memoryUsers MemoryStore

func (s *memoryUsers) Create(ctx context.Context, user *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *memoryUsers) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *memoryUsers) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	user := s.users[id]
	copied := user
	return &copied, nil
}
