package domain

// allowedTransitions is the agent-workflow status graph: a strictly linear
// path from open to closed. Administrative closure from any non-closed
// state is handled separately by CanClose.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress},
	TicketStatusInProgress: {TicketStatusResolved},
	TicketStatusResolved:   {TicketStatusClosed},
	TicketStatusClosed:     {},
}

// ValidTransition reports whether the agent workflow permits moving a
// ticket from current to next.
func ValidTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CanClose reports whether a ticket in the given state may be closed
// administratively. Closed is reachable from every non-closed state; the
// agent workflow only exposes resolved -> closed.
func CanClose(current TicketStatus) bool {
	return current != TicketStatusClosed
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status TicketStatus) bool {
	return status == TicketStatusClosed
}
