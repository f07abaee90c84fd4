package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS plc_retentive (
	namespace  TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	value      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, name)
);

CREATE TABLE IF NOT EXISTS plc_programs (
	id         UUID        PRIMARY KEY,
	name       TEXT        NOT NULL UNIQUE,
	definition JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plc_events (
	id           UUID        PRIMARY KEY,
	trigger_name TEXT        NOT NULL,
	program      TEXT        NOT NULL,
	priority     TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	details      TEXT        NOT NULL,
	timestamp_ms BIGINT      NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("Database connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresClient{pool: pool, logger: logger}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}
