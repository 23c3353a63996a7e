package osuconcierge

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// discordModalInputLabelMaxLength defines the maximum length for the label of a modal
	// input in Discord interactions.
	discordModalInputLabelMaxLength = 45

	// discordMaxButtonsPerActionRow defines the maximum number of buttons
	// allowed per action row in Discord interactions.
	discordMaxButtonsPerActionRow = 5

	discordMaxSelectMenuOptions = 25

	DiscordSlashCommandMedals            = "medals"
	DiscordSlashCommandMedalsMissing     = "missing"
	DiscordSlashCommandMedalsList        = "list"
	DiscordSlashCommandOsekai            = "osekai"
	DiscordSlashCommandOsekaiMedalCount  = "medalcount"
	DiscordSlashCommandHigherLower       = "higherlower"
	DiscordSlashCommandCommands          = "commands"
	DiscordSlashCommandServerLeaderboard = "serverleaderboard"
	DiscordSlashCommandTop               = "top"
	DiscordSlashCommandGraph             = "graph"
	DiscordSlashCommandGraphRank         = "rank"
	DiscordSlashCommandLink              = "link"

	commandOptionName  = "name"
	commandOptionSort  = "sort"
	commandOptionKind  = "kind"
	commandOptionMode  = "mode"
	commandOptionRange = "days"

	commandOptionGroup   = "group"
	commandOptionReverse = "reverse"
	commandOptionCountry = "country"
)

// Discord manages the discord session and the bot's application commands
type Discord struct {
	session   DiscordSessionHandler
	config    *DiscordConfig
	logger    *slog.Logger
	publicKey ed25519.PublicKey

	connected         atomic.Bool
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64

	removeHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{
		config:             config,
		logger:             logger.With(loggerNameKey, "discord"),
		removeHandlerFuncs: []func(){},
	}

	if config.WebhookServer.PublicKey != "" {
		publicKey, err := hex.DecodeString(config.WebhookServer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("error decoding public key: %w", err)
		}
		if len(publicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid public key length: %d", len(publicKey))
		}
		d.publicKey = ed25519.PublicKey(publicKey)
	}
	return d, nil
}

// newSession creates a discordgo session, with its logs routed through slog
func (d *Discord) newSession(ctx context.Context, httpClient *http.Client) (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	if httpClient != nil {
		disc.Client = httpClient
	}
	session.session = disc

	level := DefaultDiscordgoLogLevel
	if d.config.DiscordGoLogLevel != nil {
		level = d.config.DiscordGoLogLevel.Level()
	}
	if err = session.SetLogLevel(level); err != nil {
		return session, err
	}
	discordgo.Logger = discordgoLoggerFunc(ctx, d.logger.Handler())
	return session, nil
}

func (d *Discord) handlerConnect() func(s *discordgo.Session, r *discordgo.Connect) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected")
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(s *discordgo.Session, r *discordgo.Disconnect) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected")
	}
}

func (d *Discord) handlerReady() func(s *discordgo.Session, r *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", userID, "username", username),
			"guilds", len(r.Guilds),
		)
	}
}

// applicationCommands returns every slash command the bot handles
func (*Discord) applicationCommands() []*discordgo.ApplicationCommand {
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	guildOnly := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
	}
	userOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        commandOptionName,
		Description: "osu! username (defaults to your linked account)",
		Required:    false,
	}
	modeOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        commandOptionMode,
		Description: "Game mode",
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "osu", Value: string(GameModeOsu)},
			{Name: "taiko", Value: string(GameModeTaiko)},
			{Name: "catch", Value: string(GameModeCatch)},
			{Name: "mania", Value: string(GameModeMania)},
		},
	}

	sortChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(medalSortOrders))
	for _, o := range medalSortOrders {
		sortChoices = append(
			sortChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: o.Label(), Value: string(o)},
		)
	}
	kindChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(leaderboardKinds))
	for _, k := range leaderboardKinds {
		kindChoices = append(
			kindChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: k.Label(), Value: string(k)},
		)
	}

	listOrderChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(medalListOrders))
	for _, o := range medalListOrders {
		listOrderChoices = append(
			listOrderChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: o.Label(), Value: string(o)},
		)
	}
	groupChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(medalGroups))
	for _, g := range medalGroups {
		groupChoices = append(groupChoices, &discordgo.ApplicationCommandOptionChoice{Name: g, Value: g})
	}

	rangeChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(rankGraphRanges))
	for _, d := range rankGraphRanges {
		rangeChoices = append(
			rangeChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: fmt.Sprintf("%d days", d), Value: d},
		)
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandMedals,
			Description: "Medal related commands",
			Contexts:    &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        DiscordSlashCommandMedalsMissing,
					Description: "Display a list of medals that a user is missing",
					Options: []*discordgo.ApplicationCommandOption{
						userOption,
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionSort,
							Description: "Sort order of the medals",
							Choices:     sortChoices,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        DiscordSlashCommandMedalsList,
					Description: "List all achieved medals of a user",
					Options: []*discordgo.ApplicationCommandOption{
						userOption,
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionSort,
							Description: "Sort order of the medals",
							Choices:     listOrderChoices,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionGroup,
							Description: "Only show medals of this group",
							Choices:     groupChoices,
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        commandOptionReverse,
							Description: "Reverse the sort order",
						},
					},
				},
			},
		},
		{
			Name:        DiscordSlashCommandOsekai,
			Description: "Rankings from osekai",
			Contexts:    &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        DiscordSlashCommandOsekaiMedalCount,
					Description: "Who has the most medals?",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandOptionCountry,
							Description: "Country code or name",
						},
					},
				},
			},
		},
		{
			Name:        DiscordSlashCommandHigherLower,
			Description: "Play a game of guessing whether a top play is worth higher or lower pp",
			Contexts:    &contexts,
			Options:     []*discordgo.ApplicationCommandOption{modeOption},
		},
		{
			Name:        DiscordSlashCommandCommands,
			Description: "Display a list of popular commands",
			Contexts:    &contexts,
		},
		{
			Name:        DiscordSlashCommandServerLeaderboard,
			Description: "Various leaderboards for linked server members",
			Contexts:    &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionKind,
					Description: "Specify what kind of leaderboard to show",
					Required:    true,
					Choices:     kindChoices,
				},
				modeOption,
			},
		},
		{
			Name:        DiscordSlashCommandTop,
			Description: "Display the user's current top plays",
			Contexts:    &contexts,
			Options:     []*discordgo.ApplicationCommandOption{userOption, modeOption},
		},
		{
			Name:        DiscordSlashCommandGraph,
			Description: "Display graphs about some data",
			Contexts:    &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        DiscordSlashCommandGraphRank,
					Description: "Display a user's rank progression over time",
					Options: []*discordgo.ApplicationCommandOption{
						userOption,
						modeOption,
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        commandOptionRange,
							Description: "Number of days to show (default 90)",
							Choices:     rangeChoices,
						},
					},
				},
			},
		},
		{
			Name:        DiscordSlashCommandLink,
			Description: "Link your discord account to an osu! account",
			Contexts:    &contexts,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        commandOptionName,
					Description: "osu! username",
					Required:    true,
				},
			},
		},
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.applicationCommands(),
		options...,
	)
	if err != nil {
		return created, fmt.Errorf("error overwriting discord commands: %w", err)
	}
	if len(created) == 0 {
		d.logger.Warn("no commands created")
	}
	return created, nil
}

// DiscordSessionHandler defines the methods of `discordgo.Session` used by
// the bot, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponse gets the response to an interaction
	InteractionResponse(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// ChannelMessageSendComplex posts a new message to a channel
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEditComplex edits an existing message, outside of
	// an interaction response
	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl {
	case slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError:
		d.session.LogLevel = discordgoLogLevel(lvl)
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.InteractionResponse(interaction, options...)
	if err != nil {
		d.logger.Error("error getting interaction response", tint.Err(err))
	}
	return msg, err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error("error sending message", tint.Err(err), "channel_id", channelID)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditComplex(m, options...)
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i == nil || i.Interaction == nil {
		return nil
	}
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}
