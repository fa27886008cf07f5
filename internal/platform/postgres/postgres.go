// Package postgres opens the database/sql pool used by the Postgres stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rollcall/internal/platform/config"
)

// DB wraps the pool so callers get a Health check alongside *sql.DB.
type DB struct {
	*sql.DB
}

// Open connects through the pgx stdlib driver and applies pool limits.
func Open(ctx context.Context, cfg config.Postgres) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &DB{DB: db}, nil
}

func (d *DB) Health(ctx context.Context) error {
	return d.PingContext(ctx)
}
