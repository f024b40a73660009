// internal/handlers/dm.go
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

// Room choices for /pug dm, suffixed to the track name: "regular_a".
const (
	roomWaiting = "waiting"
	roomA       = "a"
	roomB       = "b"
)

func roomLabel(part string) string {
	switch part {
	case roomA:
		return "A pugs"
	case roomB:
		return "B pugs"
	}
	return "waiting room"
}

// dmRooms resolves a room choice to the configured voice room ids.
func dmRooms(cfg *config.Config, choice string) (label string, rooms []string) {
	name, part, ok := strings.Cut(choice, "_")
	if !ok {
		return "", nil
	}
	track, err := models.ParseTrack(name)
	if err != nil || name == "" {
		return "", nil
	}
	set := cfg.RoomSet(track == models.TrackNovice)

	var ids []string
	switch part {
	case roomWaiting:
		ids = []string{set.Waiting}
	case roomA:
		ids = set.A.Rooms()
	case roomB:
		ids = set.B.Rooms()
	default:
		return "", nil
	}
	for _, id := range ids {
		if id != "" {
			rooms = append(rooms, id)
		}
	}
	return trackLabel(track) + " " + roomLabel(part), rooms
}

// dmCmdHandler sends a message to every member of a pug room, one at a time,
// and reports who could not be reached.
func (b *Bot) dmCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	if b.roster == nil || b.notifier == nil {
		return ephemeral("Direct messages are not set up on this bot.")
	}
	opts := subOptions(inter)
	message := strings.TrimSpace(opts.str("message", ""))
	if message == "" {
		return ephemeral("A message is required.")
	}
	label, rooms := dmRooms(b.cfg, opts.str("room", ""))
	if len(rooms) == 0 {
		return ephemeral("That room is not configured.")
	}

	return b.deferred(ctx, inter, false, func(ctx context.Context) *discordgo.WebhookEdit {
		content := b.broadcast(ctx, inter, label, rooms, message)
		return &discordgo.WebhookEdit{Content: &content}
	})
}

func (b *Bot) broadcast(ctx context.Context, inter *discordgo.Interaction, label string, rooms []string, message string) string {
	log := b.logger.WithFields(logrus.Fields{"actor": actorID(inter), "rooms": label})
	members, err := b.roster.Snapshot(ctx, rooms...)
	if err != nil {
		log.WithError(err).Error("failed to read room members")
		return fmt.Sprintf("Could not read who is in the %v.", label)
	}
	if len(members) == 0 {
		return fmt.Sprintf("Nobody is in the %v.", label)
	}

	var failed []string
	for _, m := range members {
		if err := b.notifier.NotifyUser(ctx, m.ID, message); err != nil {
			log.WithError(err).WithField("target", m.ID).Warn("could not message member")
			failed = append(failed, mention(m.ID))
		}
	}
	log.WithFields(logrus.Fields{"sent": len(members) - len(failed), "failed": len(failed)}).Info("room message sent")

	content := fmt.Sprintf("Sent the message to %d of %d members in the %v.", len(members)-len(failed), len(members), label)
	if len(failed) > 0 {
		content += "\nCould not reach: " + strings.Join(failed, " ")
	}
	return content
}
