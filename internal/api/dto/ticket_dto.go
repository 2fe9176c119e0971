package dto

import (
	"time"

	"github.com/opsdesk/support-desk/internal/domain"
)

// CreateTicketRequest is the customer ticket-filing payload.
type CreateTicketRequest struct {
	Subject  string                `json:"subject"`
	Priority domain.TicketPriority `json:"priority"`
}

// CreateMessageRequest is the chat send payload.
type CreateMessageRequest struct {
	Body string `json:"body"`
}

// TransitionRequest asks for a status change.
type TransitionRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// TicketResponse is the wire form of a ticket.
type TicketResponse struct {
	ID         string                `json:"id"`
	CustomerID string                `json:"customer_id"`
	AgentID    *string               `json:"agent_id,omitempty"`
	Subject    string                `json:"subject"`
	Priority   domain.TicketPriority `json:"priority"`
	Status     domain.TicketStatus   `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// MessageResponse is the wire form of a chat message.
type MessageResponse struct {
	ID       string            `json:"id"`
	TicketID string            `json:"ticket_id"`
	SenderID string            `json:"sender_id"`
	Role     domain.SenderRole `json:"sender_role"`
	Body     string            `json:"body"`
	SentAt   time.Time         `json:"sent_at"`
}

// TicketDetailResponse bundles a ticket with its thread.
type TicketDetailResponse struct {
	Ticket   TicketResponse    `json:"ticket"`
	Messages []MessageResponse `json:"messages"`
}
