package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing defaults. The pipeline workers hold connections briefly
// (claim, process, release), so a modest pool covers steady state.
const (
	defaultMaxConns    = 25
	defaultLifetime    = time.Hour
	defaultIdleTime    = 30 * time.Minute
	defaultPingTimeout = 5 * time.Second
)

// DB wraps a pgxpool connection pool. Repositories never touch the pool
// directly; they go through Querier so transactions carried in the
// context are honored.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c *Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pc.MaxConns = c.MaxConnections
	if pc.MaxConns <= 0 {
		pc.MaxConns = defaultMaxConns
	}
	pc.MinConns = c.MinConnections
	pc.MaxConnLifetime = c.MaxConnLifetime
	if pc.MaxConnLifetime <= 0 {
		pc.MaxConnLifetime = defaultLifetime
	}
	pc.MaxConnIdleTime = c.MaxConnIdleTime
	if pc.MaxConnIdleTime <= 0 {
		pc.MaxConnIdleTime = defaultIdleTime
	}
	return pc, nil
}

// NewConnection creates a connection pool and verifies it with a bounded
// ping, so a wrong DSN fails startup instead of the first query.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	pc, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
