package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/ticketledger/libs/db"
	"github.com/md-rashed-zaman/ticketledger/services/ticket-service/internal/model"
)

type EventRepository struct {
	pool *db.Pool
}

func NewEventRepository(pool *db.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// GetByEventID resolves an event by its external id.
func (r *EventRepository) GetByEventID(ctx context.Context, eventID string) (model.Event, bool, error) {
	var evt model.Event
	err := r.pool.Querier(ctx).QueryRow(ctx, `
		SELECT id, event_id, total_tickets
		FROM events
		WHERE event_id = $1
	`, eventID).Scan(&evt.ID, &evt.EventID, &evt.TotalTickets)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, false, nil
	}
	if err != nil {
		return model.Event{}, false, err
	}
	return evt, true, nil
}
