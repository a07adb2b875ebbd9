package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/ticketledger/libs/db"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
)

type TicketRepository struct {
	pool *db.Pool
}

func NewTicketRepository(pool *db.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.pool.WithTx(ctx, fn)
}

func (r *TicketRepository) CountByEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE event_id = $1
	`, eventID).Scan(&n)
	return n, err
}

func (r *TicketRepository) CountTransferred(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE event_id = $1 AND is_transferred
	`, eventID).Scan(&n)
	return n, err
}

// FindByOwner returns the oldest ticket held by owner for eventID, or nil.
func (r *TicketRepository) FindByOwner(ctx context.Context, owner, eventID string) (*model.Ticket, error) {
	return r.findByOwner(ctx, owner, eventID, "")
}

// FindByOwnerForUpdate is FindByOwner with a row lock; call it inside WithTx.
func (r *TicketRepository) FindByOwnerForUpdate(ctx context.Context, owner, eventID string) (*model.Ticket, error) {
	return r.findByOwner(ctx, owner, eventID, "FOR UPDATE")
}

func (r *TicketRepository) findByOwner(ctx context.Context, owner, eventID, lock string) (*model.Ticket, error) {
	var t model.Ticket
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		SELECT id, event_id, owner, is_transferred, created_at, updated_at
		FROM tickets
		WHERE owner = $1 AND event_id = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		`+lock, owner, eventID).Scan(&t.ID, &t.EventID, &t.Owner, &t.IsTransferred, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create assigns the ticket an id and timestamps and inserts it.
func (r *TicketRepository) Create(ctx context.Context, t *model.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return r.pool.Querier(ctx).QueryRow(ctx, `
		INSERT INTO tickets (id, event_id, owner, is_transferred)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, t.ID, t.EventID, t.Owner, t.IsTransferred).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// Update persists owner and isTransferred and refreshes UpdatedAt.
func (r *TicketRepository) Update(ctx context.Context, t *model.Ticket) error {
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		UPDATE tickets
		SET owner = $2,
			is_transferred = $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.Owner, t.IsTransferred).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
