// Package repository provides the PostgreSQL access layer.
//
// Reads and single-statement writes go through the pgx pool. Multi-statement
// admin operations go through sqlx on the same pool so they can join a
// transaction opened by the transaction manager.
package repository

import (
	"context"
	"fmt"

	trmsqlx "github.com/avito-tech/go-transaction-manager/drivers/sqlx/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Repository provides database access methods.
type Repository struct {
	pool   *pgxpool.Pool
	db     *sqlx.DB
	getter *trmsqlx.CtxGetter
	trm    *manager.Manager
}

// New creates a new Repository with a connection pool.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 15
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromPool(pool), nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Repository {
	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return &Repository{
		pool:   pool,
		db:     db,
		getter: trmsqlx.DefaultCtxGetter,
		trm:    manager.Must(trmsqlx.NewDefaultFactory(db)),
	}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database handles.
func (r *Repository) Close() {
	_ = r.db.Close()
	r.pool.Close()
}

// Pool returns the underlying connection pool.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// DB returns the sqlx handle over the pool.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// TxManager returns the transaction manager whose transactions the sqlx
// methods of this repository join.
func (r *Repository) TxManager() *manager.Manager {
	return r.trm
}

// conn returns the transaction bound to ctx, or the plain handle.
func (r *Repository) conn(ctx context.Context) trmsqlx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.db)
}
