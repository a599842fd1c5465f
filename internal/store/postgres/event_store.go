package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperpredict/predictd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The full event
// is stored as JSONB alongside the indexed columns.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertEvent appends one event to the history. Re-inserting an event ID is
// a no-op, so replays from the bus are harmless.
func (s *EventStore) InsertEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}

	const query = `
		INSERT INTO events (id, type, instance_id, at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, ev.ID, string(ev.Type), ev.InstanceID, ev.At, payload)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns the instance's events ordered by descending time.
func (s *EventStore) ListEvents(ctx context.Context, instanceID string, opts domain.ListOpts) ([]domain.Event, error) {
	const query = `
		SELECT payload
		FROM events
		WHERE instance_id = $1
		ORDER BY at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, instanceID, normalizeLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", instanceID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", instanceID, err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
