package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/pugbot/internal/models"
)

const strikeColumns = `discord_id, strike_count, total_strike_count,
	first_strike_expiry, second_strike_expiry,
	strike1, strike2, temp_ban, permanent_ban`

func scanStrikeRecord(row pgx.Row) (models.StrikeRecord, error) {
	var r models.StrikeRecord
	err := row.Scan(&r.DiscordID, &r.StrikeCount, &r.TotalStrikeCount,
		&r.FirstStrikeExpiry, &r.SecondStrikeExpiry,
		&r.Strike1, &r.Strike2, &r.TempBan, &r.PermanentBan,
	)
	return r, err
}

func collectStrikeRecords(rows pgx.Rows) ([]models.StrikeRecord, error) {
	defer rows.Close()
	var out []models.StrikeRecord
	for rows.Next() {
		r, err := scanStrikeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strike record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EnsureStrikeRecord creates a clean row for id if absent and returns it.
func (s *Store) EnsureStrikeRecord(ctx context.Context, id string) (models.StrikeRecord, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO user_strikes (discord_id) VALUES ($1) ON CONFLICT (discord_id) DO NOTHING`, id,
	); err != nil {
		return models.StrikeRecord{}, fmt.Errorf("failed to ensure strike record: %w", err)
	}
	return s.GetStrikeRecord(ctx, id)
}

// GetStrikeRecord returns the row for id or ErrNotFound.
func (s *Store) GetStrikeRecord(ctx context.Context, id string) (models.StrikeRecord, error) {
	q := `SELECT ` + strikeColumns + ` FROM user_strikes WHERE discord_id = $1`
	r, err := scanStrikeRecord(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StrikeRecord{}, ErrNotFound
	}
	if err != nil {
		return models.StrikeRecord{}, fmt.Errorf("failed to get strike record %s: %w", id, err)
	}
	return r, nil
}

// UpdateStrikeRecord overwrites every mutable column of the row.
func (s *Store) UpdateStrikeRecord(ctx context.Context, r models.StrikeRecord) error {
	q := `
		UPDATE user_strikes SET
			strike_count = $2, total_strike_count = $3,
			first_strike_expiry = $4, second_strike_expiry = $5,
			strike1 = $6, strike2 = $7, temp_ban = $8, permanent_ban = $9
		WHERE discord_id = $1`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, r.DiscordID, r.StrikeCount, r.TotalStrikeCount,
			r.FirstStrikeExpiry, r.SecondStrikeExpiry,
			r.Strike1, r.Strike2, r.TempBan, r.PermanentBan,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update strike record %s: %w", r.DiscordID, err)
	}
	return nil
}

// ListSweepCandidates returns rows the daily sweep may decay: one or two
// strikes and no permanent ban.
func (s *Store) ListSweepCandidates(ctx context.Context) ([]models.StrikeRecord, error) {
	q := `SELECT ` + strikeColumns + ` FROM user_strikes
		WHERE strike_count > 0 AND strike_count < 3 AND NOT permanent_ban`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep candidates: %w", err)
	}
	return collectStrikeRecords(rows)
}

// ListActiveStrikes returns every row with strikes or a ban.
func (s *Store) ListActiveStrikes(ctx context.Context) ([]models.StrikeRecord, error) {
	q := `SELECT ` + strikeColumns + ` FROM user_strikes
		WHERE strike_count > 0 OR temp_ban OR permanent_ban`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query active strikes: %w", err)
	}
	return collectStrikeRecords(rows)
}

// BannedAmong reports which of ids carry a temporary or permanent ban.
func (s *Store) BannedAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT discord_id FROM user_strikes WHERE discord_id = ANY($1) AND (temp_ban OR permanent_ban)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query bans: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ban row: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
