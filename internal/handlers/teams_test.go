package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/jason-s-yu/pugbot/internal/proposal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buttons flattens the first action row.
func buttons(t *testing.T, components []discordgo.MessageComponent) []discordgo.Button {
	t.Helper()
	if len(components) == 0 {
		return nil
	}
	row, ok := components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	out := make([]discordgo.Button, 0, len(row.Components))
	for _, c := range row.Components {
		b, ok := c.(discordgo.Button)
		require.True(t, ok)
		out = append(out, b)
	}
	return out
}

func openDraft(t *testing.T, h *harness) proposal.View {
	t.Helper()
	resp := h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember()))
	require.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	require.Len(t, h.proposals.requests, 1)
	for _, v := range h.proposals.views {
		return v
	}
	t.Fatal("no session opened")
	return proposal.View{}
}

func TestGenTeams(t *testing.T) {
	h := newHarness(t)
	resp := h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember(),
		strOpt("track", "novice"), intOpt("team_size", 4)))

	require.Len(t, h.proposals.requests, 1)
	req := h.proposals.requests[0]
	assert.Equal(t, "mod", req.RunnerID)
	assert.Equal(t, models.TrackNovice, req.Track)
	assert.Equal(t, 4, req.TeamSize)
	assert.Equal(t, h.cfg.Novice, req.Rooms)

	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	assert.Zero(t, resp.Data.Flags, "proposals are posted publicly")
	assert.Contains(t, resp.Data.Content, "**Novice 4v4** (<@mod>)")
	assert.Contains(t, resp.Data.Content, "**RED** avg 1000\n<@a1> 1100\n<@a2> 900")
	assert.Contains(t, resp.Data.Content, "Pair B is in use.")

	bs := buttons(t, resp.Data.Components)
	require.Len(t, bs, 4)
	assert.Equal(t, "Confirm A", bs[0].Label)
	assert.False(t, bs[0].Disabled)
	assert.True(t, bs[1].Disabled, "occupied pair cannot be chosen")
	for _, b := range bs {
		_, id, ok := parseCustomID(b.CustomID)
		require.True(t, ok)
		assert.Contains(t, h.proposals.views, id)
	}
}

func TestGenTeamsDefaults(t *testing.T) {
	h := newHarness(t)
	h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember()))
	require.Len(t, h.proposals.requests, 1)
	assert.Equal(t, models.TrackRegular, h.proposals.requests[0].Track)
	assert.Equal(t, h.cfg.DefaultTeamSize, h.proposals.requests[0].TeamSize)
	assert.Equal(t, h.cfg.Regular, h.proposals.requests[0].Rooms)
}

func TestGenTeamsErrors(t *testing.T) {
	h := newHarness(t)
	h.proposals.err = balance.ErrInsufficientPlayers
	resp := h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember()))
	assert.Equal(t, "Cannot draft teams: not enough players to form teams.", resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	h.proposals.err = errors.New("state cache empty")
	resp = h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember()))
	assert.Contains(t, resp.Data.Content, "check the bot logs")

	resp = h.bot.Dispatch(context.Background(), command(GenTeamsCmd, staffMember(), strOpt("track", "pro")))
	assert.Contains(t, resp.Data.Content, `unknown track "pro"`)
}

func TestForeignActorCannotPress(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)

	resp := h.bot.Dispatch(context.Background(), press(customID(actionCancel, v.ID), member("other")))
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Equal(t, "Only <@mod> can use these buttons.", resp.Data.Content)

	got, _ := h.proposals.Get(v.ID)
	assert.Equal(t, proposal.StateProposed, got.State)
}

func TestConfirmThenKeep(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)

	confirm := press(customID(actionConfirmA, v.ID), staffMember())
	resp := h.bot.Dispatch(context.Background(), confirm)
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, resp.Type)
	assert.Equal(t, []proposal.Side{proposal.SideA}, h.proposals.confirms)

	e := h.followup.last(t)
	assert.Equal(t, confirm.ID, e.interactionID)
	assert.Contains(t, e.content, "Moved 4 players. Undo available until")
	require.NotNil(t, e.components)
	bs := buttons(t, *e.components)
	require.Len(t, bs, 2)
	assert.Equal(t, "Undo", bs[0].Label)
	assert.Equal(t, confirm, h.bot.messages[v.ID], "expiry now edits the confirmed message")

	resp = h.bot.Dispatch(context.Background(), press(customID(actionKeep, v.ID), staffMember()))
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Empty(t, resp.Data.Components)
	assert.Contains(t, resp.Data.Content, "Moved 4 players.")
	assert.NotContains(t, h.bot.messages, v.ID)
}

func TestConfirmOccupiedKeepsButtons(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)

	h.bot.Dispatch(context.Background(), press(customID(actionConfirmB, v.ID), staffMember()))
	e := h.followup.last(t)
	assert.Contains(t, e.content, "Those rooms are in use")
	require.NotNil(t, e.components)
	assert.Len(t, buttons(t, *e.components), 4)
}

func TestUndo(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)
	h.bot.Dispatch(context.Background(), press(customID(actionConfirmA, v.ID), staffMember()))

	resp := h.bot.Dispatch(context.Background(), press(customID(actionUndo, v.ID), staffMember()))
	assert.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, resp.Type)
	e := h.followup.last(t)
	assert.Contains(t, e.content, "Undone: moved 4 players back.")
	assert.Empty(t, *e.components)
	assert.NotContains(t, h.bot.messages, v.ID)
}

func TestRerollAndCancel(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)

	resp := h.bot.Dispatch(context.Background(), press(customID(actionReroll, v.ID), staffMember()))
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Contains(t, resp.Data.Content, "**RED** avg 1000\n<@b1> 1000")
	assert.Len(t, buttons(t, resp.Data.Components), 4)

	resp = h.bot.Dispatch(context.Background(), press(customID(actionCancel, v.ID), staffMember()))
	assert.Contains(t, resp.Data.Content, "Cancelled.")
	assert.Empty(t, resp.Data.Components)

	resp = h.bot.Dispatch(context.Background(), press(customID(actionCancel, v.ID), staffMember()))
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Equal(t, proposal.ErrSessionClosed.Error(), resp.Data.Content)
}

func TestUnknownSessionOrButton(t *testing.T) {
	h := newHarness(t)
	resp := h.bot.Dispatch(context.Background(), press(customID(actionCancel, uuid.New()), staffMember()))
	assert.Equal(t, proposal.ErrSessionClosed.Error(), resp.Data.Content)

	resp = h.bot.Dispatch(context.Background(), press("other:thing", staffMember()))
	assert.Equal(t, "Unknown button.", resp.Data.Content)
}

func TestExpiryClosesMessage(t *testing.T) {
	h := newHarness(t)
	v := openDraft(t, h)
	require.NotNil(t, h.proposals.expire)

	v.State = proposal.StateTimedOut
	h.proposals.expire(v)

	e := h.followup.last(t)
	assert.Equal(t, "cmd-genteams", e.interactionID)
	assert.Contains(t, e.content, "Timed out without confirmation.")
	require.NotNil(t, e.components)
	assert.Empty(t, *e.components)

	h.proposals.expire(v)
	assert.Len(t, h.followup.edits, 1, "a session is closed once")
}

func TestReturnCommand(t *testing.T) {
	h := newHarness(t)
	resp := h.bot.Dispatch(context.Background(), command(ReturnCmd, staffMember(), strOpt("pair", "b")))

	require.Len(t, h.proposals.requests, 1)
	assert.Equal(t, proposal.SideB, h.proposals.requests[0].Side)
	assert.Contains(t, resp.Data.Content, "**Regular: return pair B** (<@mod>)")
	assert.Contains(t, resp.Data.Content, "**RED** <@a1> <@a2>")

	bs := buttons(t, resp.Data.Components)
	require.Len(t, bs, 2)
	action, _, ok := parseCustomID(bs[0].CustomID)
	require.True(t, ok)
	assert.Equal(t, actionConfirmB, action)

	resp = h.bot.Dispatch(context.Background(), command(ReturnCmd, staffMember(), strOpt("pair", "c")))
	assert.Equal(t, "Pair must be a or b.", resp.Data.Content)
}

func TestParseCustomID(t *testing.T) {
	id := uuid.New()
	action, got, ok := parseCustomID(customID(actionUndo, id))
	require.True(t, ok)
	assert.Equal(t, actionUndo, action)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "pug:undo", "pug:undo:not-a-uuid", "td:undo:" + id.String()} {
		_, _, ok := parseCustomID(bad)
		assert.False(t, ok, bad)
	}
}

func TestStatusLine(t *testing.T) {
	v := proposal.View{State: proposal.StateUndoExpired, Moved: 10, Failed: 2, RatingQueued: true}
	assert.Equal(t, "Moved 10 players, 2 could not be moved; rating queued.", statusLine(v))
}
