// Package discipline tracks each participant's escalating moderation state:
// clean, first strike, second strike with a temporary ban, permanent ban.
//
// Every transition is persisted first, then announced. The direct message to
// the participant is best effort; the audit channel post is the record of
// truth and its failure is returned to the caller.
package discipline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// FirstStrikeDuration is how long a participant's first-ever strike lasts.
	FirstStrikeDuration = 45 * 24 * time.Hour
	// TempBanDuration is how long the ban from a second strike lasts.
	TempBanDuration = 7 * 24 * time.Hour

	MaxStrikes = 3
)

var (
	ErrAlreadyBanned      = errors.New("participant is already banned")
	ErrNoActiveStrikes    = errors.New("participant has no strikes")
	ErrNoActiveBan        = errors.New("participant is not banned")
	ErrNotificationFailed = errors.New("failed to post audit notice")
)

// Event names a moderation transition.
type Event string

const (
	EventWarn     Event = "warn"
	EventStrike   Event = "strike"
	EventUnstrike Event = "unstrike"
	EventPugban   Event = "pugban"
	EventPugunban Event = "pugunban"
	EventDecay    Event = "decay"
)

// Store persists strike records.
type Store interface {
	EnsureStrikeRecord(ctx context.Context, id string) (models.StrikeRecord, error)
	UpdateStrikeRecord(ctx context.Context, r models.StrikeRecord) error
	ListSweepCandidates(ctx context.Context) ([]models.StrikeRecord, error)
	ListActiveStrikes(ctx context.Context) ([]models.StrikeRecord, error)
}

// CommentLog is the staff commentary log.
type CommentLog interface {
	AppendComment(ctx context.Context, participantID, guildID, staffID, text string) error
}

// Notifier delivers moderation notices.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, content string) error
	NotifyAudit(ctx context.Context, content string) error
}

// RoleEditor adds and removes guild roles.
type RoleEditor interface {
	AddRoles(ctx context.Context, userID string, roleIDs ...string) error
	RemoveRoles(ctx context.Context, userID string, roleIDs ...string) error
}

// Action is one moderation command.
type Action struct {
	TargetID string
	GuildID  string
	ActorID  string
	Reason   string
}

// Deps wires a Machine. Roles and Metrics may be left zero.
type Deps struct {
	Store    Store
	Comments CommentLog
	Notifier Notifier
	Roles    RoleEditor
	RoleIDs  config.Roles
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics

	// GuildID and BotID attribute sweep decays in the commentary log.
	GuildID string
	BotID   string
}

// Machine applies moderation transitions.
type Machine struct {
	store    Store
	comments CommentLog
	notifier Notifier
	roles    RoleEditor
	roleIDs  config.Roles
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	guildID  string
	botID    string
	now      func() time.Time
}

func NewMachine(d Deps) *Machine {
	return &Machine{
		store:    d.Store,
		comments: d.Comments,
		notifier: d.Notifier,
		roles:    d.Roles,
		roleIDs:  d.RoleIDs,
		logger:   d.Logger,
		metrics:  d.Metrics,
		guildID:  d.GuildID,
		botID:    d.BotID,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Warn records a warning. It never changes state.
func (m *Machine) Warn(ctx context.Context, a Action) (models.StrikeRecord, error) {
	return m.apply(ctx, EventWarn, a, func(*models.StrikeRecord, time.Time) error { return nil })
}

// Strike adds a strike. The first strike ever starts the 45 day clock, the
// second starts a 7 day ban and the third is permanent.
func (m *Machine) Strike(ctx context.Context, a Action) (models.StrikeRecord, error) {
	return m.apply(ctx, EventStrike, a, func(r *models.StrikeRecord, now time.Time) error {
		if r.StrikeCount >= MaxStrikes || r.PermanentBan {
			return ErrAlreadyBanned
		}
		if r.TotalStrikeCount == 0 {
			exp := now.Add(FirstStrikeDuration)
			r.FirstStrikeExpiry = &exp
		}
		r.StrikeCount = min(MaxStrikes, r.StrikeCount+1)
		r.TotalStrikeCount++
		switch r.StrikeCount {
		case 1:
			r.Strike1 = true
		case 2:
			exp := now.Add(TempBanDuration)
			r.SecondStrikeExpiry = &exp
			r.Strike2 = true
			r.TempBan = true
		case 3:
			r.PermanentBan = true
		}
		return nil
	})
}

// Unstrike removes one strike and lifts any ban.
func (m *Machine) Unstrike(ctx context.Context, a Action) (models.StrikeRecord, error) {
	return m.apply(ctx, EventUnstrike, a, func(r *models.StrikeRecord, _ time.Time) error {
		if r.StrikeCount == 0 {
			return ErrNoActiveStrikes
		}
		r.StrikeCount--
		r.TotalStrikeCount = max(0, r.TotalStrikeCount-1)
		r.Strike1 = r.StrikeCount >= 1
		r.Strike2 = r.StrikeCount >= 2
		r.TempBan = false
		r.PermanentBan = false
		return nil
	})
}

// Pugban bans permanently whatever the current strike count.
func (m *Machine) Pugban(ctx context.Context, a Action) (models.StrikeRecord, error) {
	return m.apply(ctx, EventPugban, a, func(r *models.StrikeRecord, _ time.Time) error {
		if r.PermanentBan {
			return ErrAlreadyBanned
		}
		r.PermanentBan = true
		return nil
	})
}

// Pugunban lifts both bans. A participant banned by a third strike comes back
// at two strikes rather than clean.
func (m *Machine) Pugunban(ctx context.Context, a Action) (models.StrikeRecord, error) {
	return m.apply(ctx, EventPugunban, a, func(r *models.StrikeRecord, _ time.Time) error {
		if !r.Banned() {
			return ErrNoActiveBan
		}
		r.TempBan = false
		r.PermanentBan = false
		r.SecondStrikeExpiry = nil
		if r.StrikeCount == MaxStrikes {
			r.StrikeCount--
		}
		return nil
	})
}

// apply loads the record, runs mutate and, when it succeeds, persists and
// announces the change. A precondition error from mutate leaves the record
// untouched.
func (m *Machine) apply(ctx context.Context, ev Event, a Action, mutate func(*models.StrikeRecord, time.Time) error) (rec models.StrikeRecord, err error) {
	defer func() { m.metrics.StrikeTransition(string(ev), err) }()

	log := m.logger.WithFields(logrus.Fields{
		"event":  ev,
		"target": a.TargetID,
		"actor":  a.ActorID,
	})

	rec, err = m.store.EnsureStrikeRecord(ctx, a.TargetID)
	if err != nil {
		return models.StrikeRecord{}, fmt.Errorf("failed to load strike record: %w", err)
	}
	before := rec
	if err = mutate(&rec, m.now()); err != nil {
		log.WithError(err).Debug("transition rejected")
		return before, err
	}
	if ev != EventWarn {
		if err = m.store.UpdateStrikeRecord(ctx, rec); err != nil {
			return before, err
		}
		m.syncRoles(ctx, rec, ev == EventPugban || rec.PermanentBan && !before.PermanentBan)
	}
	log.WithFields(logrus.Fields{
		"strike_count": rec.StrikeCount,
		"total":        rec.TotalStrikeCount,
		"temp_ban":     rec.TempBan,
		"perm_ban":     rec.PermanentBan,
	}).Info("discipline transition")

	// The change is committed, so the comment is written even when the audit
	// notice fails.
	err = m.announce(ctx, ev, a, rec)
	if cerr := m.comments.AppendComment(ctx, a.TargetID, a.GuildID, a.ActorID, commentText(ev, a.Reason, rec)); cerr != nil {
		log.WithError(cerr).Warn("failed to append comment")
	}
	return rec, err
}

// announce sends the direct notice, then the audit notice.
func (m *Machine) announce(ctx context.Context, ev Event, a Action, rec models.StrikeRecord) error {
	if err := m.notifier.NotifyUser(ctx, a.TargetID, userNotice(ev, a.Reason, rec)); err != nil {
		m.logger.WithError(err).WithField("target", a.TargetID).Warn("could not message participant")
	}
	if err := m.notifier.NotifyAudit(ctx, auditNotice(ev, a, rec)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return nil
}

// syncRoles mirrors the record onto the strike roles. Role edits are best
// effort: the record is already committed.
func (m *Machine) syncRoles(ctx context.Context, rec models.StrikeRecord, stripParticipation bool) {
	if m.roles == nil {
		return
	}
	var add, remove []string
	for _, r := range []struct {
		id   string
		want bool
	}{
		{m.roleIDs.Strike1, rec.Strike1},
		{m.roleIDs.Strike2, rec.Strike2},
		{m.roleIDs.Strike3, rec.PermanentBan},
	} {
		switch {
		case r.id == "":
		case r.want:
			add = append(add, r.id)
		default:
			remove = append(remove, r.id)
		}
	}
	if stripParticipation {
		for _, id := range []string{m.roleIDs.Pug, m.roleIDs.Novice} {
			if id != "" {
				remove = append(remove, id)
			}
		}
	}

	log := m.logger.WithField("target", rec.DiscordID)
	if len(add) > 0 {
		if err := m.roles.AddRoles(ctx, rec.DiscordID, add...); err != nil {
			log.WithError(err).Warn("failed to add strike roles")
		}
	}
	if len(remove) > 0 {
		if err := m.roles.RemoveRoles(ctx, rec.DiscordID, remove...); err != nil {
			log.WithError(err).Warn("failed to remove roles")
		}
	}
}
