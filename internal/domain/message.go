package domain

import "time"

// SenderRole indicates who authored a chat message.
type SenderRole string

const (
	SenderRoleCustomer SenderRole = "customer"
	SenderRoleAgent    SenderRole = "agent"
	SenderRoleSystem   SenderRole = "system"
)

// ChatMessage is one entry in a ticket's append-only conversation log.
// Messages are never edited or deleted. SentAt is assigned server-side and
// is non-decreasing per ticket; Seq is the insertion order within the
// ticket and breaks timestamp ties.
type ChatMessage struct {
	ID       string
	TicketID string
	SenderID string
	Role     SenderRole
	Body     string
	SentAt   time.Time
	Seq      int64
}
