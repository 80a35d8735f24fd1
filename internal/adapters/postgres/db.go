package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type DB struct {
	Pool *pgxpool.Pool
	// JobLease bounds how long a refresh job may stay running. Older running
	// jobs are assumed orphaned by a crashed worker and are reclaimed.
	JobLease time.Duration
	// MaxJobAttempts caps how often a reclaimed job is queued again before it is failed.
	MaxJobAttempts int
}

func Connect(ctx context.Context, url string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &DB{Pool: pool, JobLease: 10 * time.Minute, MaxJobAttempts: 3}, nil
}

func (db *DB) Close() { db.Pool.Close() }

// Ping reports whether the database answers within ctx.
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }
