// Package discord adapts a discordgo session to the narrow capabilities the
// rest of the bot consumes: messaging, room moves, role edits and a roster of
// voice rooms.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// API is the subset of *discordgo.Session the adapters call.
type API interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberMove(guildID, userID string, channelID *string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// Guild performs actions in one guild.
type Guild struct {
	api            API
	guildID        string
	auditChannelID string
	logChannelID   string
}

// NewGuild binds the adapters to a guild and its audit and pug-log channels.
func NewGuild(api API, guildID, auditChannelID, logChannelID string) *Guild {
	return &Guild{
		api:            api,
		guildID:        guildID,
		auditChannelID: auditChannelID,
		logChannelID:   logChannelID,
	}
}

// NotifyUser sends a direct message.
func (g *Guild) NotifyUser(ctx context.Context, userID, content string) error {
	ch, err := g.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM with %s: %w", userID, err)
	}
	if _, err := g.api.ChannelMessageSend(ch.ID, truncate(content), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to DM %s: %w", userID, err)
	}
	return nil
}

// NotifyAudit posts to the audit channel.
func (g *Guild) NotifyAudit(ctx context.Context, content string) error {
	if g.auditChannelID == "" {
		return errors.New("no audit channel configured")
	}
	if _, err := g.api.ChannelMessageSend(g.auditChannelID, truncate(content), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to post audit notice: %w", err)
	}
	return nil
}

// Announce posts to the pug-log channel. It is a no-op when none is set.
func (g *Guild) Announce(ctx context.Context, content string) error {
	if g.logChannelID == "" {
		return nil
	}
	_, err := g.api.ChannelMessageSend(g.logChannelID, truncate(content), discordgo.WithContext(ctx))
	return err
}

// MovePlayer moves a member, who must be connected to voice, into roomID.
func (g *Guild) MovePlayer(ctx context.Context, participantID, roomID string) error {
	return g.api.GuildMemberMove(g.guildID, participantID, &roomID, discordgo.WithContext(ctx))
}

// AddRoles grants each role in turn, stopping at the first failure.
func (g *Guild) AddRoles(ctx context.Context, userID string, roleIDs ...string) error {
	for _, id := range roleIDs {
		if err := g.api.GuildMemberRoleAdd(g.guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to add role %s: %w", id, err)
		}
	}
	return nil
}

// RemoveRoles revokes every role, continuing past failures.
func (g *Guild) RemoveRoles(ctx context.Context, userID string, roleIDs ...string) error {
	var errs []error
	for _, id := range roleIDs {
		if err := g.api.GuildMemberRoleRemove(g.guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove role %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// truncate keeps content within the message size limit.
func truncate(s string) string {
	const msgLimit = 1988 // room for the ellipsis and markdown
	runes := []rune(s)
	if len(runes) > msgLimit {
		s = fmt.Sprintf("%v...", string(runes[:msgLimit]))
	}
	return s
}
