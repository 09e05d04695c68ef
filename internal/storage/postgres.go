package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool construye un pool chico; el cliente solo toca un par de filas.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = 2
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

type pgRunner interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implementa Store sobre una tabla kv_store(namespace, key, value).
type PgStore struct {
	db        pgRunner
	namespace string
}

func NewPgStore(pool *pgxpool.Pool, namespace string) *PgStore {
	return &PgStore{db: pool, namespace: namespace}
}

// EnsureSchema crea la tabla si no existe.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS kv_store (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`
	_, err := s.db.Exec(ctx, query)
	return err
}

func (s *PgStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `
		SELECT value
		FROM kv_store
		WHERE namespace = $1 AND key = $2
	`
	var value []byte
	err := s.db.QueryRow(ctx, query, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pg get %s: %w", key, err)
	}
	return value, nil
}

func (s *PgStore) Set(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO kv_store (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, query, s.namespace, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("pg set %s: %w", key, err)
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, key string) error {
	const query = `
		DELETE FROM kv_store
		WHERE namespace = $1 AND key = $2
	`
	if _, err := s.db.Exec(ctx, query, s.namespace, key); err != nil {
		return fmt.Errorf("pg delete %s: %w", key, err)
	}
	return nil
}
