package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// RecordRun bumps the operator's run counter for the track.
func (s *Store) RecordRun(ctx context.Context, runnerID string, track models.Track, at time.Time) error {
	col := trackColumns(track)
	q := fmt.Sprintf(`
		INSERT INTO pug_runners (discord_id, %[1]s_runs, %[1]s_last_at) VALUES ($1, 1, $2)
		ON CONFLICT (discord_id) DO UPDATE SET
			%[1]s_runs = pug_runners.%[1]s_runs + 1,
			%[1]s_last_at = EXCLUDED.%[1]s_last_at`, col)
	if _, err := s.pool.Exec(ctx, q, runnerID, at); err != nil {
		return fmt.Errorf("failed to record %s run: %w", col, err)
	}
	return nil
}

// GetRunnerRecord returns the operator's run counters; an operator with no
// runs gets a zero record.
func (s *Store) GetRunnerRecord(ctx context.Context, runnerID string) (models.RunnerRecord, error) {
	q := `SELECT discord_id, regular_runs, regular_last_at, novice_runs, novice_last_at
		FROM pug_runners WHERE discord_id = $1`
	var r models.RunnerRecord
	err := s.pool.QueryRow(ctx, q, runnerID).Scan(
		&r.DiscordID, &r.RegularRuns, &r.RegularLastAt, &r.NoviceRuns, &r.NoviceLastAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RunnerRecord{DiscordID: runnerID}, nil
	}
	if err != nil {
		return models.RunnerRecord{}, fmt.Errorf("failed to get runner record: %w", err)
	}
	return r, nil
}
