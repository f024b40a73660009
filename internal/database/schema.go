package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pug_info (
		discord_id         TEXT PRIMARY KEY,
		regular_rating     INTEGER NOT NULL DEFAULT 1000,
		regular_wins       INTEGER NOT NULL DEFAULT 0,
		regular_losses     INTEGER NOT NULL DEFAULT 0,
		regular_ties       INTEGER NOT NULL DEFAULT 0,
		novice_rating      INTEGER NOT NULL DEFAULT 1000,
		novice_wins        INTEGER NOT NULL DEFAULT 0,
		novice_losses      INTEGER NOT NULL DEFAULT 0,
		novice_ties        INTEGER NOT NULL DEFAULT 0,
		class_restrictions INTEGER[] NOT NULL DEFAULT '{}',
		steam_id           BIGINT,
		last_active        TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS user_strikes (
		discord_id           TEXT PRIMARY KEY,
		strike_count         INTEGER NOT NULL DEFAULT 0 CHECK (strike_count BETWEEN 0 AND 3),
		total_strike_count   INTEGER NOT NULL DEFAULT 0 CHECK (total_strike_count >= 0),
		first_strike_expiry  TIMESTAMPTZ,
		second_strike_expiry TIMESTAMPTZ,
		strike1              BOOLEAN NOT NULL DEFAULT FALSE,
		strike2              BOOLEAN NOT NULL DEFAULT FALSE,
		temp_ban             BOOLEAN NOT NULL DEFAULT FALSE,
		permanent_ban        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id             BIGSERIAL PRIMARY KEY,
		participant_id TEXT NOT NULL,
		guild_id       TEXT NOT NULL,
		staff_id       TEXT NOT NULL,
		body           TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS comments_participant_idx ON comments (guild_id, participant_id)`,
	`CREATE TABLE IF NOT EXISTS pug_runners (
		discord_id      TEXT PRIMARY KEY,
		regular_runs    INTEGER NOT NULL DEFAULT 0,
		regular_last_at TIMESTAMPTZ,
		novice_runs     INTEGER NOT NULL DEFAULT 0,
		novice_last_at  TIMESTAMPTZ
	)`,
}

// EnsureSchema creates every table if absent. Safe to run on each start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
