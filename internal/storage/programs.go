package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/google/uuid"
)

// StoredProgram is one row of plc_programs.
type StoredProgram struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Definition []byte    `json:"definition"` // JSONB
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SaveProgram upserts a program document by name.
func (p *PostgresClient) SaveProgram(ctx context.Context, name string, doc []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO plc_programs (id, name, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (name)
		DO UPDATE SET definition = EXCLUDED.definition, updated_at = now()
	`, uuid.New(), name, doc)

	if err != nil {
		return fmt.Errorf("failed to save program %s: %v: %w", name, err, types.ErrPersistenceFailure)
	}
	return nil
}

func (p *PostgresClient) DeleteProgram(ctx context.Context, name string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM plc_programs WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete program %s: %v: %w", name, err, types.ErrPersistenceFailure)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM plc_retentive WHERE namespace = $1`, name); err != nil {
		return fmt.Errorf("failed to delete retentive %s: %v: %w", name, err, types.ErrPersistenceFailure)
	}

	return tx.Commit(ctx)
}

// LoadPrograms returns every stored program ordered by name.
func (p *PostgresClient) LoadPrograms(ctx context.Context) ([]StoredProgram, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, definition, created_at, updated_at
		FROM plc_programs
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	programs := make([]StoredProgram, 0)
	for rows.Next() {
		var prog StoredProgram
		if err := rows.Scan(&prog.ID, &prog.Name, &prog.Definition, &prog.CreatedAt, &prog.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		programs = append(programs, prog)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read programs: %w", err)
	}

	return programs, nil
}
