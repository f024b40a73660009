// internal/handlers/players.go
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/matchlog"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 25
	infoComments    = 5
)

func (b *Bot) infoCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	target := subOptions(inter).user("user")
	if target == "" {
		target = actorID(inter)
	}

	rec, err := b.players.GetPugRecord(ctx, target)
	if err != nil {
		b.logger.WithError(err).WithField("target", target).Error("failed to read pug record")
		return ephemeral("Could not read the record for %v.", mention(target))
	}
	strikes, err := b.discipline.Info(ctx, target)
	if err != nil {
		b.logger.WithError(err).WithField("target", target).Error("failed to read strike record")
		return ephemeral("Could not read the record for %v.", mention(target))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%v**\n", mention(target))
	for _, t := range []models.Track{models.TrackRegular, models.TrackNovice} {
		st := rec.Stats(t)
		fmt.Fprintf(&sb, "%v: %d (%d-%d-%d)\n", trackLabel(t), st.Rating, st.Wins, st.Losses, st.Ties)
	}
	if rec.HasSteamID() {
		fmt.Fprintf(&sb, "Steam: %d\n", *rec.SteamID)
	} else {
		sb.WriteString("Steam: not linked, ratings will not update\n")
	}
	if labels := rec.RestrictionLabels(); len(labels) > 0 {
		fmt.Fprintf(&sb, "Restrictions: %v\n", strings.Join(labels, ", "))
	}
	fmt.Fprintf(&sb, "Discipline: %v\n", strikeSummary(strikes))

	if b.isStaff(inter) {
		b.staffInfo(ctx, &sb, inter.GuildID, target)
	}
	return ephemeral(sb.String())
}

// staffInfo appends the runner counters and recent moderation comments.
func (b *Bot) staffInfo(ctx context.Context, sb *strings.Builder, guildID, target string) {
	if runs, err := b.players.GetRunnerRecord(ctx, target); err != nil {
		b.logger.WithError(err).Warn("failed to read runner record")
	} else if runs.RegularRuns+runs.NoviceRuns > 0 {
		fmt.Fprintf(sb, "Pugs run: %d regular, %d novice\n", runs.RegularRuns, runs.NoviceRuns)
	}

	comments, err := b.players.ListComments(ctx, target, guildID, infoComments)
	if err != nil {
		b.logger.WithError(err).Warn("failed to read comments")
		return
	}
	if len(comments) == 0 {
		return
	}
	sb.WriteString("**Recent log**\n")
	for _, c := range comments {
		fmt.Fprintf(sb, "<t:%d:d> %v %v\n", c.CreatedAt.Unix(), mention(c.StaffID), c.Body)
	}
}

func (b *Bot) topCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	track, err := models.ParseTrack(opts.str("track", ""))
	if err != nil {
		return ephemeral("%v", err)
	}
	limit := opts.integer("limit", defaultTopLimit)
	// enforce bounds
	if limit <= 0 {
		limit = defaultTopLimit
	} else if limit > maxTopLimit {
		limit = maxTopLimit
	}

	recs, err := b.players.TopPugRecords(ctx, track, int(limit))
	if err != nil {
		b.logger.WithError(err).Error("failed to read leaderboard")
		return ephemeral("Could not read the leaderboard.")
	}
	if len(recs) == 0 {
		return ephemeral("Nobody has played a rated %v game yet.", track)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Top %v**\n", trackLabel(track))
	for i, rec := range recs {
		st := rec.Stats(track)
		fmt.Fprintf(&sb, "%d. %v %d (%d-%d-%d)\n", i+1, mention(rec.DiscordID), st.Rating, st.Wins, st.Losses, st.Ties)
	}
	return ephemeral(sb.String())
}

func (b *Bot) linkCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	target := actorID(inter)
	if other := opts.user("user"); other != "" && other != target {
		if !b.isStaff(inter) {
			return ephemeral("Only staff may link another player's account.")
		}
		target = other
	}

	steamID, ok := matchlog.ParseSteamID(opts.str("steam", ""))
	if !ok {
		return ephemeral("That is not a SteamID64 or [U:1:N] id.")
	}
	if err := b.players.SetSteamID(ctx, target, steamID); err != nil {
		b.logger.WithError(err).WithField("target", target).Error("failed to link steam id")
		return ephemeral("Could not link the account.")
	}
	b.logger.WithFields(logrus.Fields{"target": target, "steam_id": steamID}).Info("steam id linked")
	return ephemeral("Linked %v to Steam account %d.", mention(target), steamID)
}

func (b *Bot) classBanCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	target := opts.user("user")
	if target == "" {
		return ephemeral("A player is required.")
	}
	r, ok := models.LookupClassRestriction(opts.str("class", ""))
	if !ok {
		return ephemeral("Pick one of the listed class restrictions.")
	}
	set, err := b.players.ToggleClassRestriction(ctx, target, r.Code)
	if err != nil {
		b.logger.WithError(err).WithField("target", target).Error("failed to toggle class restriction")
		return ephemeral("Could not update %v.", mention(target))
	}

	log := b.logger.WithFields(logrus.Fields{"target": target, "restriction": r.Key, "set": set})
	if role := b.cfg.Roles.ClassRestrictionRole(r.Key); role != "" && b.roles != nil {
		edit := b.roles.RemoveRoles
		if set {
			edit = b.roles.AddRoles
		}
		if err := edit(ctx, target, role); err != nil {
			log.WithError(err).Warn("failed to mirror class restriction role")
		}
	}

	verb := "Removed"
	if set {
		verb = "Added"
	}
	b.comment(ctx, inter, target, fmt.Sprintf("[classban] %v %v", strings.ToLower(verb), r.Label))
	log.Info("class restriction toggled")
	return ephemeral("%v %v for %v.", verb, r.Label, mention(target))
}

// levelCmdHandler gives the player exactly one of the configured level roles.
func (b *Bot) levelCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	target := opts.user("user")
	if target == "" {
		return ephemeral("A player is required.")
	}
	level := int(opts.integer("level", -1))
	levels := b.cfg.Roles.Levels
	if level < 0 || level >= len(levels) || levels[level] == "" || b.roles == nil {
		return ephemeral("Level %d has no role configured.", level)
	}

	var others []string
	for i, id := range levels {
		if i != level && id != "" {
			others = append(others, id)
		}
	}
	log := b.logger.WithFields(logrus.Fields{"target": target, "level": level})
	if len(others) > 0 {
		if err := b.roles.RemoveRoles(ctx, target, others...); err != nil {
			log.WithError(err).Error("failed to remove level roles")
			return ephemeral("Could not update the level of %v.", mention(target))
		}
	}
	if err := b.roles.AddRoles(ctx, target, levels[level]); err != nil {
		log.WithError(err).Error("failed to add level role")
		return ephemeral("Could not update the level of %v.", mention(target))
	}

	b.comment(ctx, inter, target, fmt.Sprintf("[level] set to Level %d", level))
	log.Info("level set")
	return ephemeral("Set %v to Level %d.", mention(target), level)
}

// comment records a staff change in the commentary log; failures are logged.
func (b *Bot) comment(ctx context.Context, inter *discordgo.Interaction, target, text string) {
	if err := b.players.AppendComment(ctx, target, inter.GuildID, actorID(inter), text); err != nil {
		b.logger.WithError(err).WithField("target", target).Warn("failed to append comment")
	}
}

func trackLabel(t models.Track) string {
	if t == models.TrackNovice {
		return "Novice"
	}
	return "Regular"
}
