// internal/handlers/moderation.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/discipline"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

type moderationFunc func(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)

// moderationHandler runs one discipline transition. Notices and role edits
// can take several requests, so the reply is deferred.
func (b *Bot) moderationHandler(name PugSubCommand, apply moderationFunc) CmdHandler {
	return func(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
		opts := subOptions(inter)
		target := opts.user("user")
		if target == "" {
			return ephemeral("A player is required.")
		}
		a := discipline.Action{
			TargetID: target,
			GuildID:  inter.GuildID,
			ActorID:  actorID(inter),
			Reason:   strings.TrimSpace(opts.str("reason", "")),
		}

		return b.deferred(ctx, inter, false, func(ctx context.Context) *discordgo.WebhookEdit {
			rec, err := apply(ctx, a)
			content := moderationReply(name, target, rec, err)
			if err != nil && !isPrecondition(err) {
				b.logger.WithError(err).WithFields(logrus.Fields{
					"command": name,
					"target":  target,
				}).Error("moderation command failed")
			}
			return &discordgo.WebhookEdit{Content: &content}
		})
	}
}

func isPrecondition(err error) bool {
	return errors.Is(err, discipline.ErrAlreadyBanned) ||
		errors.Is(err, discipline.ErrNoActiveStrikes) ||
		errors.Is(err, discipline.ErrNoActiveBan)
}

func moderationReply(name PugSubCommand, target string, rec models.StrikeRecord, err error) string {
	user := mention(target)
	rec.DiscordID = target
	switch {
	case errors.Is(err, discipline.ErrAlreadyBanned):
		return fmt.Sprintf("%v is already banned.", user)
	case errors.Is(err, discipline.ErrNoActiveStrikes):
		return fmt.Sprintf("%v has no strikes to remove.", user)
	case errors.Is(err, discipline.ErrNoActiveBan):
		return fmt.Sprintf("%v is not banned.", user)
	case errors.Is(err, discipline.ErrNotificationFailed):
		return fmt.Sprintf("%v\nThe audit notice could not be posted; please record this by hand.",
			moderationDone(name, rec))
	case err != nil:
		return "Something went wrong; nothing was changed."
	}
	return moderationDone(name, rec)
}

func moderationDone(name PugSubCommand, rec models.StrikeRecord) string {
	user := mention(rec.DiscordID)
	switch name {
	case WarnCmd:
		return fmt.Sprintf("Warned %v.", user)
	case BanCmd:
		return fmt.Sprintf("Banned %v from pugs.", user)
	case UnbanCmd:
		return fmt.Sprintf("Lifted the pug ban on %v. %v", user, strikeSummary(rec))
	}
	return fmt.Sprintf("%v: %v", user, strikeSummary(rec))
}

func strikeSummary(rec models.StrikeRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d strikes (%d lifetime)", rec.StrikeCount, discipline.MaxStrikes, rec.TotalStrikeCount)
	switch {
	case rec.PermanentBan:
		sb.WriteString(", banned")
	case rec.TempBan && rec.SecondStrikeExpiry != nil:
		fmt.Fprintf(&sb, ", banned until <t:%d:f>", rec.SecondStrikeExpiry.Unix())
	case rec.TempBan:
		sb.WriteString(", temporarily banned")
	}
	if rec.StrikeCount > 0 && rec.FirstStrikeExpiry != nil && !rec.Banned() {
		fmt.Fprintf(&sb, ", first strike expires <t:%d:R>", rec.FirstStrikeExpiry.Unix())
	}
	return sb.String()
}

func (b *Bot) strikesCmdHandler(ctx context.Context, _ *discordgo.Interaction) *discordgo.InteractionResponse {
	recs, err := b.discipline.ListActive(ctx)
	if err != nil {
		b.logger.WithError(err).Error("failed to list active strikes")
		return ephemeral("Could not read the strike list.")
	}
	if len(recs) == 0 {
		return ephemeral("Nobody has active strikes.")
	}
	var sb strings.Builder
	sb.WriteString("**Active strikes**\n")
	for _, rec := range recs {
		fmt.Fprintf(&sb, "%v %v\n", mention(rec.DiscordID), strikeSummary(rec))
	}
	return ephemeral(sb.String())
}

func mention(id string) string {
	return "<@" + id + ">"
}
