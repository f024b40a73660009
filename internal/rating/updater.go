package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/jason-s-yu/pugbot/internal/matchlog"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrExternalLogUnavailable means no match log could be tied to the rosters.
// Callers treat it as "nothing to rate", not as a failure.
var ErrExternalLogUnavailable = errors.New("no recent match log for these players")

// Store is the slice of the rating store the updater uses.
type Store interface {
	GetPugRecords(ctx context.Context, ids []string) (map[string]models.PugRecord, error)
	BulkUpdatePugStats(ctx context.Context, track models.Track, updates []models.StatUpdate) (int64, error)
}

// LogSource resolves and downloads match logs.
type LogSource interface {
	FindRecentLog(ctx context.Context, steamID int64) (int64, bool, error)
	FetchLog(ctx context.Context, id int64) (matchlog.Log, error)
	LogURL(id int64) string
}

// Announcer posts a line to the pug log channel.
type Announcer interface {
	Announce(ctx context.Context, content string) error
}

// Job names the two rosters of a finished match. Team A played red.
type Job struct {
	Track models.Track
	TeamA []string
	TeamB []string
}

// Summary describes an applied update.
type Summary struct {
	LogID   int64
	DeltaA  int
	DeltaB  int
	Written int64 // rows the store actually updated
}

// Updater applies match results to the rating store.
type Updater struct {
	store     Store
	logs      LogSource
	announcer Announcer
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

// NewUpdater wires an Updater. announcer and m may be nil.
func NewUpdater(store Store, logs LogSource, announcer Announcer, logger *logrus.Logger, m *metrics.Metrics) *Updater {
	return &Updater{store: store, logs: logs, announcer: announcer, logger: logger, metrics: m}
}

// UpdateRatings applies one match to both sides in a single bulk write.
// Members without a linked steam id are left out entirely. Must be called at
// most once per match.
func (u *Updater) UpdateRatings(ctx context.Context, teamA, teamB []models.PugRecord, result MatchResult, track models.Track) (Summary, error) {
	teamA, teamB = linked(teamA), linked(teamB)
	if len(teamA) == 0 || len(teamB) == 0 {
		return Summary{}, ErrExternalLogUnavailable
	}

	deltaA, deltaB := Deltas(MeanRating(teamA, track), MeanRating(teamB, track), result)
	outA, outB := result.Outcomes()

	updates := make([]models.StatUpdate, 0, len(teamA)+len(teamB))
	for _, p := range teamA {
		updates = append(updates, models.StatUpdate{DiscordID: p.DiscordID, Stats: Apply(p.Stats(track), deltaA, outA)})
	}
	for _, p := range teamB {
		updates = append(updates, models.StatUpdate{DiscordID: p.DiscordID, Stats: Apply(p.Stats(track), deltaB, outB)})
	}

	written, err := u.store.BulkUpdatePugStats(ctx, track, updates)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to write ratings: %w", err)
	}
	if skipped := int64(len(updates)) - written; skipped > 0 {
		u.logger.WithField("skipped", skipped).Debug("rating rows missing, skipped")
	}

	u.metrics.RatingDelta(deltaA)
	u.metrics.RatingDelta(deltaB)
	u.logger.WithFields(logrus.Fields{
		"track":   track,
		"score_a": result.ScoreA,
		"score_b": result.ScoreB,
		"delta_a": deltaA,
		"delta_b": deltaB,
		"written": written,
	}).Info("ratings updated")

	return Summary{DeltaA: deltaA, DeltaB: deltaB, Written: written}, nil
}

// Run finds the match log for a finished match and applies it.
func (u *Updater) Run(ctx context.Context, job Job) (Summary, error) {
	ids := append(append([]string(nil), job.TeamA...), job.TeamB...)
	records, err := u.store.GetPugRecords(ctx, ids)
	if err != nil {
		return Summary{}, err
	}
	teamA := linked(pick(records, job.TeamA))
	teamB := linked(pick(records, job.TeamB))

	logID, ok := u.findLog(ctx, append(append([]models.PugRecord(nil), teamA...), teamB...))
	if !ok {
		u.metrics.RatingJob("skipped")
		return Summary{}, ErrExternalLogUnavailable
	}

	if u.announcer != nil {
		if err := u.announcer.Announce(ctx, u.logs.LogURL(logID)); err != nil {
			u.logger.WithError(err).WithField("log_id", logID).Warn("failed to post match log link")
		}
	}

	l, err := u.logs.FetchLog(ctx, logID)
	if err != nil {
		u.metrics.RatingJob("error")
		return Summary{}, fmt.Errorf("failed to fetch log %d: %w", logID, err)
	}

	sum, err := u.UpdateRatings(ctx, teamA, teamB, MatchResult{
		ScoreA:   l.Teams.Red.Score,
		ScoreB:   l.Teams.Blue.Score,
		Duration: l.Duration(),
	}, job.Track)
	if err != nil {
		u.metrics.RatingJob("error")
		return Summary{}, err
	}
	u.metrics.RatingJob("applied")
	sum.LogID = logID
	return sum, nil
}

// findLog asks for each player's newest log until one falls inside the
// correlation window. Lookup errors are logged and the next player tried.
func (u *Updater) findLog(ctx context.Context, players []models.PugRecord) (int64, bool) {
	for _, p := range players {
		id, ok, err := u.logs.FindRecentLog(ctx, *p.SteamID)
		if err != nil {
			u.logger.WithError(err).WithField("steam_id", *p.SteamID).Warn("match log lookup failed")
			continue
		}
		if ok {
			return id, true
		}
	}
	return 0, false
}

func pick(records map[string]models.PugRecord, ids []string) []models.PugRecord {
	out := make([]models.PugRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := records[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func linked(records []models.PugRecord) []models.PugRecord {
	out := make([]models.PugRecord, 0, len(records))
	for _, r := range records {
		if r.HasSteamID() {
			out = append(out, r)
		}
	}
	return out
}
