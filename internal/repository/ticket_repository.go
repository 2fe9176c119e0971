package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdesk/support-desk/internal/domain"
)

// TicketFilter captures queue and dashboard query parameters. All fields
// are equality/null filters, combined with AND.
type TicketFilter struct {
	CustomerID    *string
	AgentID       *string
	Unassigned    bool
	Statuses      []domain.TicketStatus
	ExcludeClosed bool
	Limit         int
	Offset        int
}

// TicketRepository encapsulates ticket persistence. Claim and
// UpdateStatus are single conditional writes: the storage layer, not the
// application, resolves races between concurrent callers.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)

	// Claim atomically sets the assignee and flips status to in_progress,
	// conditioned on the ticket being unassigned and not closed. Exactly
	// one concurrent caller can win; losers get ErrAlreadyAssigned.
	Claim(ctx context.Context, ticketID, agentID string) (*domain.Ticket, error)

	// UpdateStatus atomically moves status from `from` to `to`,
	// conditioned on the persisted status still being `from`.
	UpdateStatus(ctx context.Context, ticketID string, from, to domain.TicketStatus) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository returns a Postgres-backed implementation.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, customer_id, agent_id, subject, priority, status, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, customer_id, subject, priority, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.CustomerID,
		ticket.Subject,
		ticket.Priority,
		ticket.Status,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := scanTicketRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) Claim(ctx context.Context, ticketID, agentID string) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets
        SET agent_id=$2, status=$3, updated_at=NOW()
        WHERE id=$1 AND agent_id IS NULL AND status <> $4
        RETURNING ` + ticketColumns
	ticket, err := scanTicketRow(r.pool.QueryRow(ctx, query,
		ticketID, agentID, domain.TicketStatusInProgress, domain.TicketStatusClosed))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// The conditional write matched nothing; read back to say why.
	current, getErr := r.GetByID(ctx, ticketID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status == domain.TicketStatusClosed {
		return nil, ErrTicketClosed
	}
	return nil, ErrAlreadyAssigned
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticketID string, from, to domain.TicketStatus) (*domain.Ticket, error) {
	const query = `
        UPDATE tickets
        SET status=$3, updated_at=NOW()
        WHERE id=$1 AND status=$2
        RETURNING ` + ticketColumns
	ticket, err := scanTicketRow(r.pool.QueryRow(ctx, query, ticketID, from, to))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, ticketID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusChanged
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("agent_id=$%d", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "agent_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.ExcludeClosed {
		args = append(args, domain.TicketStatusClosed)
		clauses = append(clauses, fmt.Sprintf("status <> $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicketRow(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.CustomerID,
		&ticket.AgentID,
		&ticket.Subject,
		&ticket.Priority,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
