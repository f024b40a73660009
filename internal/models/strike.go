// internal/models/strike.go
package models

import "time"

// StrikeRecord is a row of the user_strikes table.
type StrikeRecord struct {
	DiscordID          string     `json:"discord_id"`
	StrikeCount        int        `json:"strike_count"`       // clamped to [0,3]
	TotalStrikeCount   int        `json:"total_strike_count"` // lifetime
	FirstStrikeExpiry  *time.Time `json:"first_strike_expiry,omitempty"`
	SecondStrikeExpiry *time.Time `json:"second_strike_expiry,omitempty"`
	Strike1            bool       `json:"strike1"`
	Strike2            bool       `json:"strike2"`
	TempBan            bool       `json:"temp_ban"`
	PermanentBan       bool       `json:"permanent_ban"`
}

// Banned reports whether either ban flag is set.
func (s *StrikeRecord) Banned() bool {
	return s.TempBan || s.PermanentBan
}

// Active reports whether the record carries any live discipline state.
func (s *StrikeRecord) Active() bool {
	return s.StrikeCount > 0 || s.Banned()
}

// Comment is a commentary log entry written by staff or by moderation actions.
type Comment struct {
	ID            int64     `json:"id"`
	ParticipantID string    `json:"participant_id"`
	GuildID       string    `json:"guild_id"`
	StaffID       string    `json:"staff_id"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunnerRecord tracks how many games an operator has run per track.
type RunnerRecord struct {
	DiscordID     string     `json:"discord_id"`
	RegularRuns   int        `json:"regular_runs"`
	RegularLastAt *time.Time `json:"regular_last_at,omitempty"`
	NoviceRuns    int        `json:"novice_runs"`
	NoviceLastAt  *time.Time `json:"novice_last_at,omitempty"`
}
