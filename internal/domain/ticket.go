package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests. CustomerID and Subject are
// immutable after creation; AgentID is set at most once, by a successful
// claim; Status is governed by the transition table in transitions.go.
type Ticket struct {
	ID         string
	CustomerID string
	AgentID    *string
	Subject    string
	Priority   TicketPriority
	Status     TicketStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Assigned reports whether the ticket has an assignee.
func (t *Ticket) Assigned() bool {
	return t.AgentID != nil && *t.AgentID != ""
}

// AssignedTo reports whether the given agent is the ticket's assignee.
func (t *Ticket) AssignedTo(agentID string) bool {
	return t.AgentID != nil && *t.AgentID == agentID
}
