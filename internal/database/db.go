package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the process-wide pool, set by ConnectDB.
var DB *pgxpool.Pool

// ConnectDB opens the pool, pings it and creates the tables when absent.
func ConnectDB(ctx context.Context, connStr string) error {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}

	DB, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := DB.Ping(pingCtx); err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}

	return EnsureSchema(ctx, DB)
}

// Store implements the rating, discipline, commentary and runner stores on
// top of a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pool. Pass DB after ConnectDB.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
