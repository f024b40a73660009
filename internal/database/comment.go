package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// AppendComment adds a commentary log entry for a participant.
func (s *Store) AppendComment(ctx context.Context, participantID, guildID, staffID, text string) error {
	q := `INSERT INTO comments (participant_id, guild_id, staff_id, body) VALUES ($1, $2, $3, $4)`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, participantID, guildID, staffID, text)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to append comment: %w", err)
	}
	return nil
}

// ListComments returns a participant's comments, newest first.
func (s *Store) ListComments(ctx context.Context, participantID, guildID string, limit int) ([]models.Comment, error) {
	q := `
		SELECT id, participant_id, guild_id, staff_id, body, created_at
		FROM comments
		WHERE participant_id = $1 AND guild_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, participantID, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.GuildID, &c.StaffID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
