package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("record not found")

const pugColumns = `discord_id,
	regular_rating, regular_wins, regular_losses, regular_ties,
	novice_rating, novice_wins, novice_losses, novice_ties,
	class_restrictions, steam_id, last_active`

func scanPugRecord(row pgx.Row) (models.PugRecord, error) {
	var p models.PugRecord
	err := row.Scan(&p.DiscordID,
		&p.Regular.Rating, &p.Regular.Wins, &p.Regular.Losses, &p.Regular.Ties,
		&p.Novice.Rating, &p.Novice.Wins, &p.Novice.Losses, &p.Novice.Ties,
		&p.ClassRestrictions, &p.SteamID, &p.LastActive,
	)
	return p, err
}

// trackColumns whitelists the per-track column prefix.
func trackColumns(t models.Track) string {
	if t == models.TrackNovice {
		return "novice"
	}
	return "regular"
}

// EnsurePugRecords creates default rows for any ids that have none.
func (s *Store) EnsurePugRecords(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := `INSERT INTO pug_info (discord_id) SELECT unnest($1::text[]) ON CONFLICT (discord_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("failed to ensure pug records: %w", err)
	}
	return nil
}

// GetPugRecord returns one row, creating it first if absent.
func (s *Store) GetPugRecord(ctx context.Context, id string) (models.PugRecord, error) {
	if err := s.EnsurePugRecords(ctx, []string{id}); err != nil {
		return models.PugRecord{}, err
	}
	q := `SELECT ` + pugColumns + ` FROM pug_info WHERE discord_id = $1`
	p, err := scanPugRecord(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return models.PugRecord{}, fmt.Errorf("failed to get pug record %s: %w", id, err)
	}
	return p, nil
}

// GetPugRecords returns existing rows keyed by discord id. Missing ids are
// absent from the map.
func (s *Store) GetPugRecords(ctx context.Context, ids []string) (map[string]models.PugRecord, error) {
	q := `SELECT ` + pugColumns + ` FROM pug_info WHERE discord_id = ANY($1)`
	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query pug records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.PugRecord, len(ids))
	for rows.Next() {
		p, err := scanPugRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pug record: %w", err)
		}
		out[p.DiscordID] = p
	}
	return out, rows.Err()
}

// BulkUpdatePugStats writes rating and w/l/t for one track in a single
// statement. Ids with no row are skipped; the number of rows written is
// returned.
func (s *Store) BulkUpdatePugStats(ctx context.Context, track models.Track, updates []models.StatUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	ids := make([]string, len(updates))
	ratings := make([]int32, len(updates))
	wins := make([]int32, len(updates))
	losses := make([]int32, len(updates))
	ties := make([]int32, len(updates))
	for i, u := range updates {
		ids[i] = u.DiscordID
		ratings[i] = int32(u.Stats.Rating)
		wins[i] = int32(u.Stats.Wins)
		losses[i] = int32(u.Stats.Losses)
		ties[i] = int32(u.Stats.Ties)
	}

	col := trackColumns(track)
	q := fmt.Sprintf(`
		UPDATE pug_info AS p SET
			%[1]s_rating = u.rating,
			%[1]s_wins   = u.wins,
			%[1]s_losses = u.losses,
			%[1]s_ties   = u.ties
		FROM unnest($1::text[], $2::int[], $3::int[], $4::int[], $5::int[])
			AS u(id, rating, wins, losses, ties)
		WHERE p.discord_id = u.id`, col)

	tag, err := s.pool.Exec(ctx, q, ids, ratings, wins, losses, ties)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update %s stats: %w", col, err)
	}
	return tag.RowsAffected(), nil
}

// TouchLastActive stamps last_active for every id in one statement.
func (s *Store) TouchLastActive(ctx context.Context, ids []string, at time.Time) error {
	q := `UPDATE pug_info SET last_active = $1 WHERE discord_id = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, at, ids); err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

// SetSteamID links the external match-log account for a participant.
func (s *Store) SetSteamID(ctx context.Context, id string, steamID int64) error {
	if err := s.EnsurePugRecords(ctx, []string{id}); err != nil {
		return err
	}
	q := `UPDATE pug_info SET steam_id = $1 WHERE discord_id = $2`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, steamID, id)
		return err
	})
}

// ToggleClassRestriction flips one class restriction code and reports
// whether it is set afterwards.
func (s *Store) ToggleClassRestriction(ctx context.Context, id string, code int) (bool, error) {
	if err := s.EnsurePugRecords(ctx, []string{id}); err != nil {
		return false, err
	}
	var set bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var codes []int
		if err := tx.QueryRow(ctx,
			`SELECT class_restrictions FROM pug_info WHERE discord_id = $1 FOR UPDATE`, id,
		).Scan(&codes); err != nil {
			return err
		}
		if i := slices.Index(codes, code); i >= 0 {
			codes = slices.Delete(codes, i, i+1)
		} else {
			codes = append(codes, code)
			slices.Sort(codes)
			set = true
		}
		_, err := tx.Exec(ctx, `UPDATE pug_info SET class_restrictions = $1 WHERE discord_id = $2`, codes, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle class restriction: %w", err)
	}
	return set, nil
}

// TopPugRecords returns the highest rated participants with at least one
// game on the track.
func (s *Store) TopPugRecords(ctx context.Context, track models.Track, limit int) ([]models.PugRecord, error) {
	col := trackColumns(track)
	q := fmt.Sprintf(`SELECT %[2]s FROM pug_info
		WHERE %[1]s_wins + %[1]s_losses + %[1]s_ties > 0
		ORDER BY %[1]s_rating DESC, discord_id
		LIMIT $1`, col, pugColumns)
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []models.PugRecord
	for rows.Next() {
		p, err := scanPugRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pug record: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
