package view

import (
	"time"

	"github.com/opsdesk/support-desk/internal/domain"
)

// Event ChangedFields values are native domain types when published
// in-process but plain JSON types after a relay hop, so the coercions
// here accept both.

func fieldString(fields map[string]any, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case domain.TicketStatus:
		return string(v), true
	case domain.TicketPriority:
		return string(v), true
	case domain.SenderRole:
		return string(v), true
	}
	return "", false
}

func fieldStatus(fields map[string]any, key string) (domain.TicketStatus, bool) {
	s, ok := fieldString(fields, key)
	if !ok {
		return "", false
	}
	return domain.TicketStatus(s), true
}

func fieldRole(fields map[string]any, key string) (domain.SenderRole, bool) {
	s, ok := fieldString(fields, key)
	if !ok {
		return "", false
	}
	return domain.SenderRole(s), true
}

// fieldStringPtr reports (value, present): a present nil means the field
// was explicitly cleared, which for agent_id never happens after a claim.
func fieldStringPtr(fields map[string]any, key string) (*string, bool) {
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case nil:
		return nil, true
	case *string:
		return v, true
	case string:
		return &v, true
	}
	return nil, false
}

func fieldTime(fields map[string]any, key string) (time.Time, bool) {
	raw, ok := fields[key]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sameAgent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
