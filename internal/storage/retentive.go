package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/jackc/pgx/v5"
)

// LoadValue reads one retentive variable. The stored literal is placed into
// kind with the same exact-fit rules as init values.
func (p *PostgresClient) LoadValue(ctx context.Context, namespace, name string, kind value.Kind) (value.Value, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT value FROM plc_retentive
		WHERE namespace = $1 AND name = $2
	`, namespace, name).Scan(&raw)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return value.Value{}, false, nil
		}
		return value.Value{}, false, fmt.Errorf("failed to load retentive %s.%s: %v: %w", namespace, name, err, types.ErrPersistenceFailure)
	}

	v, err := decodeLiteral(raw, kind)
	if err != nil {
		return value.Value{}, false, fmt.Errorf("retentive %s.%s: %w", namespace, name, err)
	}
	return v, true, nil
}

func (p *PostgresClient) SaveValue(ctx context.Context, namespace, name string, v value.Value) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal retentive %s.%s: %w", namespace, name, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO plc_retentive (namespace, name, kind, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, name)
		DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value, updated_at = now()
	`, namespace, name, v.Kind().String(), raw)

	if err != nil {
		return fmt.Errorf("failed to save retentive %s.%s: %v: %w", namespace, name, err, types.ErrPersistenceFailure)
	}
	return nil
}

// DeleteNamespace drops every retentive value of a program.
func (p *PostgresClient) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM plc_retentive WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("failed to delete retentive %s: %v: %w", namespace, err, types.ErrPersistenceFailure)
	}
	return nil
}

func decodeLiteral(raw []byte, kind value.Kind) (value.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var literal any
	if err := dec.Decode(&literal); err != nil {
		return value.Value{}, fmt.Errorf("invalid stored value: %w", types.ErrPersistenceFailure)
	}
	return value.Literal(literal, kind)
}
