package events

import (
	"time"

	"github.com/opsdesk/support-desk/internal/domain"
)

// Topic names. Every ticket has its own topic carrying status, assignment
// and message events for that ticket; the queue topic carries ticket-level
// changes across all tickets for the agent queue view.
const TopicQueue = "queue"

// TicketTopic returns the per-ticket topic name.
func TicketTopic(ticketID string) string {
	return "ticket:" + ticketID
}

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventMessageAdded        EventType = "message_added"
)

// EntityKind names the record an event mutated.
type EntityKind string

const (
	KindTicket  EntityKind = "ticket"
	KindMessage EntityKind = "message"
)

// Event is an opaque structured change notification. Seq is assigned by
// the bus at publish time and is totally ordered within one topic;
// consumers de-duplicate by EntityID plus the changed field values against
// their displayed state, so redelivery after a reconnect is harmless.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	Kind          EntityKind      `json:"kind"`
	EntityID      string          `json:"entity_id"`
	TicketID      string          `json:"ticket_id"`
	Actor         domain.Identity `json:"actor"`
	ChangedFields map[string]any  `json:"changed_fields,omitempty"`
	Seq           uint64          `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TicketCreated builds the event for a freshly filed ticket.
func TicketCreated(ticket *domain.Ticket, actor domain.Identity) Event {
	return Event{
		Type:     EventTicketCreated,
		Kind:     KindTicket,
		EntityID: ticket.ID,
		TicketID: ticket.ID,
		Actor:    actor,
		ChangedFields: map[string]any{
			"status":   ticket.Status,
			"priority": ticket.Priority,
			"subject":  ticket.Subject,
		},
	}
}

// TicketAssigned builds the event for a successful claim.
func TicketAssigned(ticket *domain.Ticket, actor domain.Identity) Event {
	return Event{
		Type:     EventTicketAssigned,
		Kind:     KindTicket,
		EntityID: ticket.ID,
		TicketID: ticket.ID,
		Actor:    actor,
		ChangedFields: map[string]any{
			"agent_id": ticket.AgentID,
			"status":   ticket.Status,
		},
	}
}

// TicketStatusChanged builds the event for a status transition.
func TicketStatusChanged(ticket *domain.Ticket, old domain.TicketStatus, actor domain.Identity) Event {
	return Event{
		Type:     EventTicketStatusChanged,
		Kind:     KindTicket,
		EntityID: ticket.ID,
		TicketID: ticket.ID,
		Actor:    actor,
		ChangedFields: map[string]any{
			"status":     ticket.Status,
			"old_status": old,
		},
	}
}

// MessageAdded builds the event for a chat log append.
func MessageAdded(msg *domain.ChatMessage, actor domain.Identity) Event {
	return Event{
		Type:     EventMessageAdded,
		Kind:     KindMessage,
		EntityID: msg.ID,
		TicketID: msg.TicketID,
		Actor:    actor,
		ChangedFields: map[string]any{
			"sender_id":   msg.SenderID,
			"sender_role": msg.Role,
			"body":        msg.Body,
			"sent_at":     msg.SentAt,
		},
	}
}
