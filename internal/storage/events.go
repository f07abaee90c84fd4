package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/events"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/google/uuid"
)

// SaveEvent appends one history record.
func (p *PostgresClient) SaveEvent(ctx context.Context, rec events.Record) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		id = uuid.New()
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO plc_events (id, trigger_name, program, priority, kind, details, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, id, rec.Trigger, rec.Program, string(rec.Priority), rec.Kind, rec.Details, rec.TimestampMs)

	if err != nil {
		return fmt.Errorf("failed to save event: %v: %w", err, types.ErrPersistenceFailure)
	}
	return nil
}

// RecentEvents returns up to limit records, newest first.
func (p *PostgresClient) RecentEvents(ctx context.Context, limit int) ([]events.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, trigger_name, program, priority, kind, details, timestamp_ms
		FROM plc_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	records := make([]events.Record, 0)
	for rows.Next() {
		var (
			rec      events.Record
			id       uuid.UUID
			priority string
		)
		if err := rows.Scan(&id, &rec.Trigger, &rec.Program, &priority, &rec.Kind, &rec.Details, &rec.TimestampMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.ID = id.String()
		rec.Priority = events.Priority(priority)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return records, nil
}
