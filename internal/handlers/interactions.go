// internal/handlers/interactions.go
package handlers

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/discipline"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/middleware"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/jason-s-yu/pugbot/internal/proposal"
	"github.com/sirupsen/logrus"
)

// deferredTimeout bounds work finished after the interaction was acknowledged.
const deferredTimeout = 30 * time.Second

// TopLevelCommand names a registered slash command.
type TopLevelCommand string

const PugCmd TopLevelCommand = "pug"

// CmdHandler answers one interaction.
type CmdHandler func(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse

// Discipline applies moderation commands.
type Discipline interface {
	Warn(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)
	Strike(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)
	Unstrike(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)
	Pugban(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)
	Pugunban(ctx context.Context, a discipline.Action) (models.StrikeRecord, error)
	Info(ctx context.Context, id string) (models.StrikeRecord, error)
	ListActive(ctx context.Context) ([]models.StrikeRecord, error)
}

// Proposals runs the confirmation flow.
type Proposals interface {
	Propose(ctx context.Context, req proposal.Request) (proposal.View, error)
	ProposeReturn(ctx context.Context, req proposal.Request) (proposal.View, error)
	Reroll(ctx context.Context, id uuid.UUID, actor string) (proposal.View, error)
	Confirm(ctx context.Context, id uuid.UUID, actor string, side proposal.Side) (proposal.View, error)
	Cancel(id uuid.UUID, actor string) (proposal.View, error)
	Undo(ctx context.Context, id uuid.UUID, actor string) (proposal.View, error)
	CloseUndo(id uuid.UUID, actor string) (proposal.View, error)
	Get(id uuid.UUID) (proposal.View, bool)
	OnExpire(fn func(proposal.View))
}

// PlayerStore reads and edits rating records.
type PlayerStore interface {
	GetPugRecord(ctx context.Context, id string) (models.PugRecord, error)
	TopPugRecords(ctx context.Context, track models.Track, limit int) ([]models.PugRecord, error)
	SetSteamID(ctx context.Context, id string, steamID int64) error
	ToggleClassRestriction(ctx context.Context, id string, code int) (bool, error)
	GetRunnerRecord(ctx context.Context, runnerID string) (models.RunnerRecord, error)
	ListComments(ctx context.Context, participantID, guildID string, limit int) ([]models.Comment, error)
	AppendComment(ctx context.Context, participantID, guildID, staffID, text string) error
}

// RoleEditor mirrors class restrictions and skill levels onto guild roles.
type RoleEditor interface {
	AddRoles(ctx context.Context, userID string, roleIDs ...string) error
	RemoveRoles(ctx context.Context, userID string, roleIDs ...string) error
}

// Roster reports who sits in the given voice rooms.
type Roster interface {
	Snapshot(ctx context.Context, roomIDs ...string) ([]models.Member, error)
}

// Notifier sends a direct message.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, content string) error
}

// Followup edits a response after it was deferred.
type Followup interface {
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// BotDeps wires a Bot. Roles, Roster, Notifier and Metrics may be nil; the
// commands needing them then refuse to run.
type BotDeps struct {
	PublicKey  ed25519.PublicKey
	Config     *config.Config
	Discipline Discipline
	Proposals  Proposals
	Players    PlayerStore
	Roles      RoleEditor
	Roster     Roster
	Notifier   Notifier
	Followup   Followup
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
}

// Bot answers Discord interactions delivered over HTTP.
type Bot struct {
	pubKey     ed25519.PublicKey
	cfg        *config.Config
	discipline Discipline
	proposals  Proposals
	players    PlayerStore
	roles      RoleEditor
	roster     Roster
	notifier   Notifier
	followup   Followup
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	topLevel map[TopLevelCommand]CmdHandler
	pugSub   map[PugSubCommand]subCommand

	// messages holds the interaction whose response shows each live
	// session, so expiry can edit it.
	msgMu    sync.Mutex
	messages map[uuid.UUID]*discordgo.Interaction

	// async runs work that outlives the HTTP response.
	async func(func())
}

func NewBot(d BotDeps) *Bot {
	b := &Bot{
		pubKey:     d.PublicKey,
		cfg:        d.Config,
		discipline: d.Discipline,
		proposals:  d.Proposals,
		players:    d.Players,
		roles:      d.Roles,
		roster:     d.Roster,
		notifier:   d.Notifier,
		followup:   d.Followup,
		logger:     d.Logger,
		metrics:    d.Metrics,
		messages:   make(map[uuid.UUID]*discordgo.Interaction),
		async:      func(f func()) { go f() },
	}
	b.topLevel = map[TopLevelCommand]CmdHandler{
		PugCmd: b.pugCmdHandler,
	}
	b.pugSub = b.pugSubCommands()
	b.proposals.OnExpire(b.onExpire)
	return b
}

// InteractionHandler verifies and dispatches interactions.
func (b *Bot) InteractionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !discordgo.VerifyInteraction(r, b.pubKey) {
			b.logger.Warn("failed to verify interaction signature")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			b.logger.WithError(err).Warn("failed to read interaction body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var inter discordgo.Interaction
		if err := inter.UnmarshalJSON(body); err != nil {
			b.logger.WithError(err).Warn("failed to unmarshal interaction")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := b.Dispatch(r.Context(), &inter)
		if resp == nil {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}

		rawResp, err := json.Marshal(resp)
		if err != nil {
			b.logger.WithError(err).Error("failed to marshal interaction response")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(rawResp); err != nil {
			b.logger.WithError(err).Warn("failed to write interaction response")
		}
	}
}

// Dispatch routes a verified interaction. It returns nil for interaction
// types the bot does not handle.
func (b *Bot) Dispatch(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	switch inter.Type {
	case discordgo.InteractionPing:
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}

	case discordgo.InteractionApplicationCommand:
		name := inter.ApplicationCommandData().Name
		middleware.LogInteraction(b.logger, inter, name)
		hdlr, ok := b.topLevel[TopLevelCommand(name)]
		if !ok {
			b.metrics.Interaction(name, false)
			return ephemeral("unknown command '%v'", name)
		}
		return hdlr(ctx, inter)

	case discordgo.InteractionMessageComponent:
		customID := inter.MessageComponentData().CustomID
		middleware.LogInteraction(b.logger, inter, customID)
		return b.componentHandler(ctx, inter)
	}

	b.logger.WithField("type", inter.Type.String()).Warn("unimplemented interaction type")
	return nil
}

// actorID is the user who triggered the interaction.
func actorID(inter *discordgo.Interaction) string {
	if inter.Member != nil && inter.Member.User != nil {
		return inter.Member.User.ID
	}
	if inter.User != nil {
		return inter.User.ID
	}
	return ""
}

// isStaff reports whether the invoking member may moderate and run pugs.
func (b *Bot) isStaff(inter *discordgo.Interaction) bool {
	if inter.Member == nil {
		return false
	}
	if inter.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return slices.ContainsFunc(inter.Member.Roles, func(id string) bool {
		return slices.Contains(b.cfg.Roles.Staff, id)
	})
}

// deferred acknowledges the interaction now and fills the response in once
// work returns. update selects editing the message a component sits on
// rather than posting a new ephemeral reply.
func (b *Bot) deferred(ctx context.Context, inter *discordgo.Interaction, update bool, work func(ctx context.Context) *discordgo.WebhookEdit) *discordgo.InteractionResponse {
	b.async(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deferredTimeout)
		defer cancel()
		edit := work(ctx)
		if edit == nil {
			return
		}
		if edit.Content != nil {
			c := truncateContent(*edit.Content)
			edit.Content = &c
		}
		if _, err := b.followup.InteractionResponseEdit(inter, edit, discordgo.WithContext(ctx)); err != nil {
			b.logger.WithError(err).WithField("interaction", inter.ID).Warn("failed to edit deferred response")
		}
	})

	if update {
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
}

// remember records which interaction's response displays a session.
func (b *Bot) remember(id uuid.UUID, inter *discordgo.Interaction) {
	b.msgMu.Lock()
	defer b.msgMu.Unlock()
	b.messages[id] = inter
}

func (b *Bot) forget(id uuid.UUID) {
	b.msgMu.Lock()
	defer b.msgMu.Unlock()
	delete(b.messages, id)
}

// onExpire strips the buttons from a session message once its window lapses.
func (b *Bot) onExpire(v proposal.View) {
	b.msgMu.Lock()
	inter, ok := b.messages[v.ID]
	delete(b.messages, v.ID)
	b.msgMu.Unlock()
	if !ok {
		return
	}

	content := truncateContent(renderSession(v))
	components := []discordgo.MessageComponent{}
	ctx, cancel := context.WithTimeout(context.Background(), deferredTimeout)
	defer cancel()
	if _, err := b.followup.InteractionResponseEdit(inter, &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}, discordgo.WithContext(ctx)); err != nil {
		b.logger.WithError(err).WithField("session", v.ID).Warn("failed to close expired session message")
	}
}

// ephemeral builds a reply only the invoking user sees.
func ephemeral(format string, args ...any) *discordgo.InteractionResponse {
	content := format
	if len(args) > 0 {
		content = fmt.Sprintf(format, args...)
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: truncateContent(content),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// truncateContent keeps content within Discord's message size limit.
func truncateContent(content string) string {
	const msgLimit = 1988 // leave room for the ellipsis and markdown
	runes := []rune(content)
	if len(runes) > msgLimit {
		content = string(runes[:msgLimit]) + "..."
	}
	return strings.TrimRight(content, "\n")
}
