package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/support-desk/internal/domain"
)

// MessageRepository manages the append-only chat log. The store assigns
// SentAt so that per-ticket timestamps never decrease regardless of client
// clocks, and Seq so equal timestamps keep insertion order.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.ChatMessage) error
	ListByTicket(ctx context.Context, ticketID string, since *time.Time) ([]domain.ChatMessage, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository returns a Postgres-backed implementation.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.ChatMessage) error {
	// GREATEST pins the timestamp at or above the ticket's latest message.
	const query = `
        INSERT INTO chat_messages (id, ticket_id, sender_id, sender_role, body, sent_at)
        VALUES ($1,$2,$3,$4,$5,
            GREATEST(NOW(), COALESCE(
                (SELECT MAX(sent_at) FROM chat_messages WHERE ticket_id=$2),
                'epoch'::timestamptz)))
        RETURNING sent_at, seq`
	return r.pool.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.SenderID,
		msg.Role,
		msg.Body,
	).Scan(&msg.SentAt, &msg.Seq)
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string, since *time.Time) ([]domain.ChatMessage, error) {
	query := `
        SELECT id, ticket_id, sender_id, sender_role, body, sent_at, seq
        FROM chat_messages WHERE ticket_id=$1`
	args := []any{ticketID}
	if since != nil {
		query += ` AND sent_at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY sent_at ASC, seq ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.Role,
			&msg.Body,
			&msg.SentAt,
			&msg.Seq,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
