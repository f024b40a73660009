package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// Roster reads voice room occupancy from the gateway state cache.
type Roster struct {
	state   *discordgo.State
	guildID string
}

func NewRoster(state *discordgo.State, guildID string) *Roster {
	return &Roster{state: state, guildID: guildID}
}

// Snapshot lists the members in roomIDs, grouped by room in argument order,
// with their role names resolved.
func (r *Roster) Snapshot(_ context.Context, roomIDs ...string) ([]models.Member, error) {
	guild, err := r.state.Guild(r.guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", r.guildID, err)
	}

	byRoom := make(map[string][]string, len(roomIDs))
	r.state.RLock()
	for _, vs := range guild.VoiceStates {
		if slices.Contains(roomIDs, vs.ChannelID) {
			byRoom[vs.ChannelID] = append(byRoom[vs.ChannelID], vs.UserID)
		}
	}
	r.state.RUnlock()

	var out []models.Member
	for _, room := range roomIDs {
		for _, userID := range byRoom[room] {
			out = append(out, models.Member{
				ID:        userID,
				RoomID:    room,
				RoleNames: r.roleNames(userID),
			})
		}
	}
	return out, nil
}

// roleNames resolves the member's role ids; unknown members or roles are
// skipped.
func (r *Roster) roleNames(userID string) []string {
	member, err := r.state.Member(r.guildID, userID)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(member.Roles))
	for _, id := range member.Roles {
		if role, err := r.state.Role(r.guildID, id); err == nil {
			names = append(names, role.Name)
		}
	}
	return names
}
