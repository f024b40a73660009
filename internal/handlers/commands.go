// internal/handlers/commands.go
package handlers

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// PugSubCommand names a /pug sub-command.
type PugSubCommand string

const (
	HelpCmd     PugSubCommand = "help"
	WarnCmd     PugSubCommand = "warn"
	StrikeCmd   PugSubCommand = "strike"
	UnstrikeCmd PugSubCommand = "unstrike"
	BanCmd      PugSubCommand = "ban"
	UnbanCmd    PugSubCommand = "unban"
	InfoCmd     PugSubCommand = "info"
	StrikesCmd  PugSubCommand = "strikes"
	GenTeamsCmd PugSubCommand = "genteams"
	ReturnCmd   PugSubCommand = "return"
	TopCmd      PugSubCommand = "top"
	LinkCmd     PugSubCommand = "link"
	ClassBanCmd PugSubCommand = "classban"
	LevelCmd    PugSubCommand = "level"
	DMCmd       PugSubCommand = "dm"
)

type subCommand struct {
	handler CmdHandler
	staff   bool
}

func (b *Bot) pugSubCommands() map[PugSubCommand]subCommand {
	return map[PugSubCommand]subCommand{
		HelpCmd:     {handler: b.helpCmdHandler},
		WarnCmd:     {handler: b.moderationHandler(WarnCmd, b.discipline.Warn), staff: true},
		StrikeCmd:   {handler: b.moderationHandler(StrikeCmd, b.discipline.Strike), staff: true},
		UnstrikeCmd: {handler: b.moderationHandler(UnstrikeCmd, b.discipline.Unstrike), staff: true},
		BanCmd:      {handler: b.moderationHandler(BanCmd, b.discipline.Pugban), staff: true},
		UnbanCmd:    {handler: b.moderationHandler(UnbanCmd, b.discipline.Pugunban), staff: true},
		InfoCmd:     {handler: b.infoCmdHandler},
		StrikesCmd:  {handler: b.strikesCmdHandler, staff: true},
		GenTeamsCmd: {handler: b.genTeamsCmdHandler, staff: true},
		ReturnCmd:   {handler: b.returnCmdHandler, staff: true},
		TopCmd:      {handler: b.topCmdHandler},
		LinkCmd:     {handler: b.linkCmdHandler},
		ClassBanCmd: {handler: b.classBanCmdHandler, staff: true},
		LevelCmd:    {handler: b.levelCmdHandler, staff: true},
		DMCmd:       {handler: b.dmCmdHandler, staff: true},
	}
}

func (b *Bot) pugCmdHandler(ctx context.Context, inter *discordgo.Interaction) *discordgo.InteractionResponse {
	data := inter.ApplicationCommandData()
	name := HelpCmd
	if len(data.Options) > 0 && data.Options[0].Name != "" {
		name = PugSubCommand(data.Options[0].Name)
	}
	sub, ok := b.pugSub[name]
	if !ok {
		sub = b.pugSub[HelpCmd]
	}
	if sub.staff && !b.isStaff(inter) {
		b.metrics.Interaction(string(name), false)
		return ephemeral("You need a staff role to use /pug %v.", name)
	}
	b.metrics.Interaction(string(name), true)
	return sub.handler(ctx, inter)
}

const helpText = "**/pug** commands\n" +
	"`genteams` draft balanced teams from the waiting rooms\n" +
	"`return` send a finished match back to the waiting room and rate it\n" +
	"`info` show ratings and discipline for a player\n" +
	"`top` show the leaderboard\n" +
	"`link` link your Steam account for rating\n" +
	"Staff: `warn` `strike` `unstrike` `ban` `unban` `strikes` `classban` `level` `dm`"

func (b *Bot) helpCmdHandler(_ context.Context, _ *discordgo.Interaction) *discordgo.InteractionResponse {
	return ephemeral(helpText)
}

// CommandRegistrar is the subset of *discordgo.Session that registers
// commands.
type CommandRegistrar interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// RegisterCommands replaces the guild's slash commands with Commands().
func RegisterCommands(ctx context.Context, reg CommandRegistrar, appID, guildID string) error {
	if _, err := reg.ApplicationCommandBulkOverwrite(appID, guildID, Commands(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	return nil
}

var (
	trackOption = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "track",
		Description: "Rating track (default is regular)",
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "regular", Value: "regular"},
			{Name: "novice", Value: "novice"},
		},
	}
	reasonOption = &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Shown to the player and recorded in the log",
	}
)

func userOption(required bool, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: desc,
		Required:    required,
	}
}

func moderationCommand(name PugSubCommand, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        string(name),
		Description: desc,
		Options:     []*discordgo.ApplicationCommandOption{userOption(true, "Player"), reasonOption},
	}
}

func classChoices() []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, len(models.ClassRestrictions))
	for i, r := range models.ClassRestrictions {
		out[i] = &discordgo.ApplicationCommandOptionChoice{Name: r.Label, Value: r.Key}
	}
	return out
}

func roomChoices() []*discordgo.ApplicationCommandOptionChoice {
	var out []*discordgo.ApplicationCommandOptionChoice
	for _, t := range []models.Track{models.TrackRegular, models.TrackNovice} {
		for _, part := range []string{roomWaiting, roomA, roomB} {
			out = append(out, &discordgo.ApplicationCommandOptionChoice{
				Name:  trackLabel(t) + " " + roomLabel(part),
				Value: string(t) + "_" + part,
			})
		}
	}
	return out
}

// Commands is the slash command set.
func Commands() []*discordgo.ApplicationCommand {
	minSize, maxSize := float64(2), float64(9)
	minLimit := float64(1)
	return []*discordgo.ApplicationCommand{{
		Name:        string(PugCmd),
		Description: "Pick-up game commands; try /pug help to start",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(HelpCmd),
				Description: "Show usage for pug",
			},
			moderationCommand(WarnCmd, "Warn a player without adding a strike"),
			moderationCommand(StrikeCmd, "Add a strike"),
			moderationCommand(UnstrikeCmd, "Remove a strike"),
			moderationCommand(BanCmd, "Ban a player from pugs"),
			moderationCommand(UnbanCmd, "Lift a pug ban"),
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(InfoCmd),
				Description: "Show ratings and discipline for a player",
				Options:     []*discordgo.ApplicationCommandOption{userOption(false, "Player (default is you)")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(StrikesCmd),
				Description: "List players with active strikes or bans",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(GenTeamsCmd),
				Description: "Draft balanced teams from the waiting rooms",
				Options: []*discordgo.ApplicationCommandOption{
					trackOption,
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "team_size",
						Description: "Players per team",
						MinValue:    &minSize,
						MaxValue:    maxSize,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(ReturnCmd),
				Description: "Send a finished match back to the waiting room",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "pair",
						Description: "Team rooms to empty",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "A", Value: "a"},
							{Name: "B", Value: "b"},
						},
					},
					trackOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(TopCmd),
				Description: "Show the leaderboard",
				Options: []*discordgo.ApplicationCommandOption{
					trackOption,
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "limit",
						Description: "Number of players (default is 10)",
						MinValue:    &minLimit,
						MaxValue:    maxTopLimit,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(LinkCmd),
				Description: "Link a Steam account for rating",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "steam",
						Description: "SteamID64 or [U:1:N]",
						Required:    true,
					},
					userOption(false, "Player to link (staff only, default is you)"),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(ClassBanCmd),
				Description: "Toggle a class ban or the medic lock on a player",
				Options: []*discordgo.ApplicationCommandOption{
					userOption(true, "Player"),
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "class",
						Description: "Restriction to toggle",
						Required:    true,
						Choices:     classChoices(),
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(LevelCmd),
				Description: "Set a player's skill level role",
				Options: []*discordgo.ApplicationCommandOption{
					userOption(true, "Player"),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "level",
						Description: "Skill level",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Level 0", Value: 0},
							{Name: "Level 1", Value: 1},
							{Name: "Level 2", Value: 2},
							{Name: "Level 3", Value: 3},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        string(DMCmd),
				Description: "Direct message everyone in a pug voice room",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "room",
						Description: "Rooms to message",
						Required:    true,
						Choices:     roomChoices(),
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "Text to send",
						Required:    true,
					},
				},
			},
		},
	}}
}

// options indexes the invoked sub-command's options by name.
type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func subOptions(inter *discordgo.Interaction) options {
	out := options{}
	data := inter.ApplicationCommandData()
	if len(data.Options) == 0 {
		return out
	}
	for _, opt := range data.Options[0].Options {
		out[opt.Name] = opt
	}
	return out
}

func (o options) str(name, def string) string {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return def
}

func (o options) integer(name string, def int64) int64 {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionInteger {
		return opt.IntValue()
	}
	return def
}

func (o options) user(name string) string {
	if opt, ok := o[name]; ok && opt.Type == discordgo.ApplicationCommandOptionUser {
		return opt.UserValue(nil).ID
	}
	return ""
}
