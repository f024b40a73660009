// Package config defines the bot's configuration and its loading order.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for callers using errors.Is.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// RoomPair is a red/blu pair of team voice rooms.
type RoomPair struct {
	Red string `koanf:"red"`
	Blu string `koanf:"blu"`
}

// Rooms returns the pair as a slice in red, blu order.
func (p RoomPair) Rooms() []string {
	return []string{p.Red, p.Blu}
}

// RoomSet is the voice room layout for one track.
type RoomSet struct {
	Waiting  string   `koanf:"waiting"`
	NextGame string   `koanf:"next_game"`
	A        RoomPair `koanf:"a"`
	B        RoomPair `koanf:"b"`
}

// Roles holds the guild role ids touched by moderation actions.
type Roles struct {
	Pug     string `koanf:"pug"`     // active participation
	Novice  string `koanf:"novice"`  // active participation, novice track
	Strike1 string `koanf:"strike1"` // first strike
	Strike2 string `koanf:"strike2"` // second strike, temporary ban
	Strike3 string `koanf:"strike3"` // permanent ban

	ClassLock string `koanf:"class_lock"` // mirrors the class-lock restriction
	// ClassBans maps the other restriction keys (scout, soldier, demoman,
	// sniper, spy) to their roles.
	ClassBans map[string]string `koanf:"class_bans"`

	// Levels holds the skill tier roles; index N is "Level N".
	Levels []string `koanf:"levels"`

	// Staff may run moderation commands and draft teams. Members with the
	// Administrator permission always may.
	Staff []string `koanf:"staff"`
}

// ClassRestrictionRole returns the role mirroring a restriction key, or ""
// when none is configured.
func (r Roles) ClassRestrictionRole(key string) string {
	if key == "medic" {
		return r.ClassLock
	}
	return r.ClassBans[key]
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address for interactions and metrics.
	Addr string `koanf:"addr"`
	// WorkerAddr serves the rating worker's metrics. Empty disables it.
	WorkerAddr string `koanf:"worker_addr"`

	PGHost     string `koanf:"pg_host"`
	PGPort     string `koanf:"pg_port"`
	PGUser     string `koanf:"pg_user"`
	PGPassword string `koanf:"pg_password"`
	PGDatabase string `koanf:"pg_database"`

	RedisAddr   string `koanf:"redis_addr"`
	RedisDB     int    `koanf:"redis_db"`
	RatingQueue string `koanf:"rating_queue"`

	DiscordToken     string `koanf:"discord_token"`
	DiscordAppID     string `koanf:"discord_app_id"`
	DiscordPublicKey string `koanf:"discord_public_key"` // hex encoded ed25519 key
	GuildID          string `koanf:"guild_id"`

	AuditChannelID  string `koanf:"audit_channel_id"`
	PugLogChannelID string `koanf:"pug_log_channel_id"`

	Regular RoomSet `koanf:"regular"`
	Novice  RoomSet `koanf:"novice"`
	Roles   Roles   `koanf:"roles"`

	DefaultTeamSize int           `koanf:"default_team_size"`
	ProposalTimeout time.Duration `koanf:"proposal_timeout"`
	UndoTimeout     time.Duration `koanf:"undo_timeout"`

	// SweepAt is the UTC time of day, HH:MM, of the daily discipline sweep.
	SweepAt string `koanf:"sweep_at"`

	MatchLogURL      string        `koanf:"match_log_url"`
	MatchLogCacheTTL time.Duration `koanf:"match_log_cache_ttl"`
	MatchLogWindow   time.Duration `koanf:"match_log_window"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":8080",
		WorkerAddr:       ":9091",
		PGHost:           "localhost",
		PGPort:           "5432",
		PGDatabase:       "pugbot",
		RedisAddr:        "localhost:6379",
		RatingQueue:      "pugbot_rating_jobs",
		DefaultTeamSize:  6,
		ProposalTimeout:  120 * time.Second,
		UndoTimeout:      30 * time.Second,
		SweepAt:          "07:00",
		MatchLogURL:      "https://logs.tf",
		MatchLogCacheTTL: 10 * time.Minute,
		MatchLogWindow:   5 * time.Minute,
	}
}

// RoomSet returns the layout for the given track name.
func (c *Config) RoomSet(novice bool) RoomSet {
	if novice {
		return c.Novice
	}
	return c.Regular
}

// PostgresURL builds the pgx connection string.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// SweepClock parses SweepAt into hour and minute.
func (c *Config) SweepClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.SweepAt)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: sweep_at %q: %v", ErrInvalidConfig, c.SweepAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks the fields every binary depends on.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.DefaultTeamSize < 2 || c.DefaultTeamSize > 9 {
		return fmt.Errorf("%w: default_team_size must be within 2..9", ErrInvalidConfig)
	}
	if c.ProposalTimeout <= 0 || c.UndoTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if len(c.Roles.Levels) > 4 {
		return fmt.Errorf("%w: roles.levels holds at most four roles", ErrInvalidConfig)
	}
	if _, _, err := c.SweepClock(); err != nil {
		return err
	}
	return nil
}
