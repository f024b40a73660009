package discipline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

// Decay rules, also used as metric labels.
const (
	RuleFirstStrike = "first_strike"
	RuleTempBan     = "temp_ban"
)

// decay applies whichever expiry rule matches r at now. It returns "" when
// none does, so running it again on a decayed record changes nothing.
func decay(r *models.StrikeRecord, now time.Time) string {
	switch {
	case r.StrikeCount > 0 && r.StrikeCount < MaxStrikes && r.TotalStrikeCount == 1 &&
		r.FirstStrikeExpiry != nil && !now.Before(*r.FirstStrikeExpiry):
		r.StrikeCount--
		r.Strike1 = false
		r.FirstStrikeExpiry = nil
		return RuleFirstStrike
	case r.StrikeCount == 2 && r.TempBan &&
		r.SecondStrikeExpiry != nil && !now.Before(*r.SecondStrikeExpiry):
		r.TempBan = false
		r.SecondStrikeExpiry = nil
		return RuleTempBan
	}
	return ""
}

// Sweep decays every expired penalty. It keeps going past individual
// failures and returns them joined, along with the number of records decayed.
func (m *Machine) Sweep(ctx context.Context) (int, error) {
	candidates, err := m.store.ListSweepCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	now := m.now()
	var (
		decayed int
		errs    []error
	)
	for _, rec := range candidates {
		rule := decay(&rec, now)
		if rule == "" {
			continue
		}
		log := m.logger.WithFields(logrus.Fields{"target": rec.DiscordID, "rule": rule})

		if err := m.store.UpdateStrikeRecord(ctx, rec); err != nil {
			log.WithError(err).Error("failed to persist decay")
			errs = append(errs, err)
			continue
		}
		decayed++
		m.metrics.SweepDecay(rule)
		m.syncRoles(ctx, rec, false)
		log.WithField("strike_count", rec.StrikeCount).Info("penalty decayed")

		a := Action{TargetID: rec.DiscordID, GuildID: m.guildID, ActorID: m.botID, Reason: decayReason(rule)}
		if err := m.announce(ctx, EventDecay, a, rec); err != nil {
			log.WithError(err).Error("decay notice failed")
			errs = append(errs, err)
		}
		if err := m.comments.AppendComment(ctx, a.TargetID, a.GuildID, a.ActorID, commentText(EventDecay, a.Reason, rec)); err != nil {
			log.WithError(err).Warn("failed to append comment")
		}
	}
	return decayed, errors.Join(errs...)
}

func decayReason(rule string) string {
	if rule == RuleFirstStrike {
		return "first strike expired"
	}
	return "temporary ban expired"
}

// Info returns a participant's record, creating a clean one if absent.
func (m *Machine) Info(ctx context.Context, id string) (models.StrikeRecord, error) {
	return m.store.EnsureStrikeRecord(ctx, id)
}

// ListActive returns every participant with strikes or a ban, most severe
// first.
func (m *Machine) ListActive(ctx context.Context) ([]models.StrikeRecord, error) {
	recs, err := m.store.ListActiveStrikes(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b models.StrikeRecord) int {
		return cmp.Or(
			boolDesc(a.PermanentBan, b.PermanentBan),
			boolDesc(a.TempBan, b.TempBan),
			cmp.Compare(b.StrikeCount, a.StrikeCount),
			cmp.Compare(a.DiscordID, b.DiscordID),
		)
	})
	return recs, nil
}

func boolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
