// Package migrations embeds the SQL schema migrations and applies them with
// golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// FS holds NNNNNN_name.{up,down}.sql files.
//
//go:embed *.sql
var FS embed.FS

// Result reports the schema version before and after a run. Version 0
// means no migration has been applied.
type Result struct {
	From uint `json:"from"`
	To   uint `json:"to"`
}

// Changed reports whether the run applied anything.
func (r Result) Changed() bool {
	return r.From != r.To
}

// Up applies every pending up migration.
func Up(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (Result, error) {
	m, err := open(pool, logger)
	if err != nil {
		return Result{}, err
	}
	defer closeMigrate(m, logger)

	var res Result
	if res.From, err = version(m); err != nil {
		return res, err
	}
	if err := run(ctx, m, m.Up); err != nil {
		return res, fmt.Errorf("migrate up: %w", err)
	}
	res.To, err = version(m)
	return res, err
}

// Reset rolls every migration back and reapplies them all.
func Reset(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	m, err := open(pool, logger)
	if err != nil {
		return err
	}
	defer closeMigrate(m, logger)

	if err := run(ctx, m, m.Down); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	if err := run(ctx, m, m.Up); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func open(pool *pgxpool.Pool, logger *slog.Logger) (*migrate.Migrate, error) {
	src, err := iofs.New(FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	// Closing this handle leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	if logger != nil {
		m.Log = migrateLogger{logger: logger.With("component", "migrate")}
	}
	return m, nil
}

// run executes step, asking migrate to stop after the current file when
// ctx ends.
func run(ctx context.Context, m *migrate.Migrate, step func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := step(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return ctx.Err()
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty; fix it by hand and force the version", v)
	}
	return v, nil
}

func closeMigrate(m *migrate.Migrate, logger *slog.Logger) {
	srcErr, dbErr := m.Close()
	if logger == nil {
		return
	}
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn("close migrate", "error", err)
	}
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
