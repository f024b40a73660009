// internal/handlers/teams.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/jason-s-yu/pugbot/internal/proposal"
	"github.com/jason-s-yu/pugbot/internal/rating"
)

// Button actions, carried in custom ids as "pug:<action>:<session>".
const (
	actionConfirmA = "confirm_a"
	actionConfirmB = "confirm_b"
	actionReroll   = "reroll"
	actionCancel   = "cancel"
	actionUndo     = "undo"
	actionKeep     = "keep"
)

func customID(action string, id uuid.UUID) string {
	return "pug:" + action + ":" + id.String()
}

func parseCustomID(s string) (action string, id uuid.UUID, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != string(PugCmd) {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(parts[2])
	if err != nil {
		return "", uuid.Nil, false
	}
	return parts[1], id, true
}

func (b *Bot) genTeamsCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	track, err := models.ParseTrack(opts.str("track", ""))
	if err != nil {
		return ephemeral("%v", err)
	}
	req := proposal.Request{
		RunnerID: actorID(inter),
		GuildID:  inter.GuildID,
		Track:    track,
		TeamSize: int(opts.integer("team_size", int64(b.cfg.DefaultTeamSize))),
		Rooms:    b.cfg.RoomSet(track == models.TrackNovice),
	}
	v, err := b.proposals.Propose(ctx, req)
	if err != nil {
		return b.proposeError("draft teams", err)
	}
	b.remember(v.ID, inter)
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: sessionMessage(v, ""),
	}
}

func (b *Bot) returnCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	opts := subOptions(inter)
	track, err := models.ParseTrack(opts.str("track", ""))
	if err != nil {
		return ephemeral("%v", err)
	}
	side, ok := proposal.ParseSide(opts.str("pair", ""))
	if !ok {
		return ephemeral("Pair must be a or b.")
	}
	req := proposal.Request{
		RunnerID: actorID(inter),
		GuildID:  inter.GuildID,
		Track:    track,
		Side:     side,
		Rooms:    b.cfg.RoomSet(track == models.TrackNovice),
	}
	v, err := b.proposals.ProposeReturn(ctx, req)
	if err != nil {
		return b.proposeError("return players", err)
	}
	b.remember(v.ID, inter)
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: sessionMessage(v, ""),
	}
}

func (b *Bot) proposeError(what string, err error) *discordgo.InteractionResponse {
	switch {
	case errors.Is(err, balance.ErrInsufficientPlayers),
		errors.Is(err, balance.ErrUnsatisfiableConstraint),
		errors.Is(err, balance.ErrInvalidTeamSize),
		errors.Is(err, proposal.ErrEmptyRooms):
		return ephemeral("Cannot %v: %v.", what, err)
	}
	b.logger.WithError(err).Error("failed to open proposal")
	return ephemeral("Cannot %v right now; check the bot logs.", what)
}

// componentHandler answers button presses on session messages. Buttons only
// work for the operator who opened the session; anyone else gets a private
// refusal and the message is left alone.
func (b *Bot) componentHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	action, id, ok := parseCustomID(inter.MessageComponentData().CustomID)
	if !ok {
		b.metrics.Interaction("component", false)
		return ephemeral("Unknown button.")
	}
	actor := actorID(inter)
	current, ok := b.proposals.Get(id)
	if !ok {
		b.metrics.Interaction(action, false)
		return ephemeral("%v", proposal.ErrSessionClosed)
	}
	if current.RunnerID != actor {
		b.metrics.Interaction(action, false)
		return ephemeral("Only %v can use these buttons.", mention(current.RunnerID))
	}
	b.metrics.Interaction(action, true)

	switch action {
	case actionConfirmA, actionConfirmB:
		side := proposal.SideA
		if action == actionConfirmB {
			side = proposal.SideB
		}
		return b.deferred(ctx, inter, true, func(ctx context.Context) *discordgo.WebhookEdit {
			v, err := b.proposals.Confirm(ctx, id, actor, side)
			return b.sessionEdit(inter, v, err)
		})

	case actionUndo:
		return b.deferred(ctx, inter, true, func(ctx context.Context) *discordgo.WebhookEdit {
			v, err := b.proposals.Undo(ctx, id, actor)
			return b.sessionEdit(inter, v, err)
		})

	case actionReroll:
		v, err := b.proposals.Reroll(ctx, id, actor)
		return b.sessionUpdate(inter, v, err)

	case actionCancel:
		v, err := b.proposals.Cancel(id, actor)
		return b.sessionUpdate(inter, v, err)

	case actionKeep:
		v, err := b.proposals.CloseUndo(id, actor)
		return b.sessionUpdate(inter, v, err)
	}
	return ephemeral("Unknown button.")
}

// follow keeps the interaction that now shows the session, or drops it once
// the session is over.
func (b *Bot) follow(inter *discordgo.Interaction, v proposal.View) {
	if v.State.Terminal() {
		b.forget(v.ID)
		return
	}
	b.remember(v.ID, inter)
}

// sessionUpdate answers a fast button press by rewriting the message.
func (b *Bot) sessionUpdate(inter *discordgo.Interaction, v proposal.View, err error) *discordgo.InteractionResponse {
	if v.ID == uuid.Nil {
		return ephemeral("%v", sessionErrorText(err))
	}
	b.follow(inter, v)
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: sessionMessage(v, sessionErrorText(err)),
	}
}

// sessionEdit is sessionUpdate for deferred presses.
func (b *Bot) sessionEdit(inter *discordgo.Interaction, v proposal.View, err error) *discordgo.WebhookEdit {
	if v.ID == uuid.Nil {
		if err != nil {
			b.logger.WithError(err).Warn("session action failed")
		}
		return nil
	}
	b.follow(inter, v)
	data := sessionMessage(v, sessionErrorText(err))
	return &discordgo.WebhookEdit{Content: &data.Content, Components: &data.Components}
}

func sessionErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, proposal.ErrDestinationOccupied):
		return "Those rooms are in use; pick the other pair or wait."
	case errors.Is(err, proposal.ErrSessionClosed), errors.Is(err, proposal.ErrNotAuthorized):
		return err.Error()
	case errors.Is(err, balance.ErrInsufficientPlayers), errors.Is(err, balance.ErrUnsatisfiableConstraint):
		return "Reroll failed: " + err.Error()
	}
	return "Something went wrong; check the bot logs."
}

func sessionMessage(v proposal.View, note string) *discordgo.InteractionResponseData {
	content := renderSession(v)
	if note != "" {
		content += "\n" + note
	}
	return &discordgo.InteractionResponseData{
		Content:    truncateContent(content),
		Components: sessionComponents(v),
	}
}

func renderSession(v proposal.View) string {
	var sb strings.Builder
	if v.Kind == proposal.KindReturn {
		fmt.Fprintf(&sb, "**%v: return pair %v** (%v)\n", trackLabel(v.Track), strings.ToUpper(string(v.Side)), mention(v.RunnerID))
		writeTeam(&sb, "RED", v.TeamA, "")
		writeTeam(&sb, "BLU", v.TeamB, "")
	} else {
		fmt.Fprintf(&sb, "**%v %dv%d** (%v)\n", trackLabel(v.Track), v.TeamSize, v.TeamSize, mention(v.RunnerID))
		writeTeam(&sb, "RED", v.TeamA, v.Track)
		writeTeam(&sb, "BLU", v.TeamB, v.Track)
		if len(v.Bench) > 0 {
			fmt.Fprintf(&sb, "Bench: %v\n", mentions(v.Bench))
		}
		if len(v.Banned) > 0 {
			ids := make([]string, len(v.Banned))
			for i, id := range v.Banned {
				ids[i] = mention(id)
			}
			fmt.Fprintf(&sb, "Skipped, banned: %v\n", strings.Join(ids, " "))
		}
	}
	sb.WriteString(statusLine(v))
	return sb.String()
}

// writeTeam lists one side; ratings are shown when track is set.
func writeTeam(sb *strings.Builder, label string, team []models.Candidate, track models.Track) {
	if track == "" {
		fmt.Fprintf(sb, "**%v** %v\n", label, mentions(team))
		return
	}
	recs := make([]models.PugRecord, len(team))
	for i, c := range team {
		recs[i] = c.Record
	}
	fmt.Fprintf(sb, "**%v** avg %.0f\n", label, rating.MeanRating(recs, track))
	for _, c := range team {
		fmt.Fprintf(sb, "%v %d", mention(c.ID()), c.Record.Rating(track))
		if c.ClassLocked {
			sb.WriteString(" (class-locked)")
		}
		sb.WriteString("\n")
	}
}

func mentions(cs []models.Candidate) string {
	if len(cs) == 0 {
		return "nobody"
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = mention(c.ID())
	}
	return strings.Join(out, " ")
}

func statusLine(v proposal.View) string {
	moved := fmt.Sprintf("Moved %d players", v.Moved)
	if v.Failed > 0 {
		moved += fmt.Sprintf(", %d could not be moved", v.Failed)
	}
	if v.RatingQueued {
		moved += "; rating queued"
	}

	switch v.State {
	case proposal.StateProposed:
		line := fmt.Sprintf("Waiting for confirmation, expires <t:%d:R>.", v.ExpiresAt.Unix())
		if v.Kind == proposal.KindDraft {
			for _, side := range []proposal.Side{proposal.SideA, proposal.SideB} {
				if !v.Available[side] {
					line += fmt.Sprintf(" Pair %v is in use.", strings.ToUpper(string(side)))
				}
			}
		}
		return line
	case proposal.StateUndoOffered:
		return fmt.Sprintf("%v. Undo available until <t:%d:T>.", moved, v.ExpiresAt.Unix())
	case proposal.StateUndoExpired:
		return moved + "."
	case proposal.StateUndone:
		return fmt.Sprintf("Undone: moved %d players back.", v.Moved)
	case proposal.StateCancelled:
		return "Cancelled."
	case proposal.StateTimedOut:
		return "Timed out without confirmation."
	}
	return string(v.State)
}

func button(label string, style discordgo.ButtonStyle, action string, id uuid.UUID, disabled bool) discordgo.Button {
	return discordgo.Button{
		Label:    label,
		Style:    style,
		CustomID: customID(action, id),
		Disabled: disabled,
	}
}

func sessionComponents(v proposal.View) []discordgo.MessageComponent {
	var row []discordgo.MessageComponent
	switch {
	case v.State == proposal.StateProposed && v.Kind == proposal.KindReturn:
		action := actionConfirmA
		if v.Side == proposal.SideB {
			action = actionConfirmB
		}
		row = []discordgo.MessageComponent{
			button("Confirm", discordgo.SuccessButton, action, v.ID, false),
			button("Cancel", discordgo.DangerButton, actionCancel, v.ID, false),
		}
	case v.State == proposal.StateProposed:
		row = []discordgo.MessageComponent{
			button("Confirm A", discordgo.SuccessButton, actionConfirmA, v.ID, !v.Available[proposal.SideA]),
			button("Confirm B", discordgo.SuccessButton, actionConfirmB, v.ID, !v.Available[proposal.SideB]),
			button("Reroll", discordgo.SecondaryButton, actionReroll, v.ID, false),
			button("Cancel", discordgo.DangerButton, actionCancel, v.ID, false),
		}
	case v.State == proposal.StateUndoOffered:
		row = []discordgo.MessageComponent{
			button("Undo", discordgo.DangerButton, actionUndo, v.ID, false),
			button("Keep", discordgo.SecondaryButton, actionKeep, v.ID, false),
		}
	default:
		return []discordgo.MessageComponent{}
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: row}}
}
