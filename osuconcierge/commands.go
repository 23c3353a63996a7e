package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	generalIssueMessage = "Something went wrong, please try again later"
	noLinkMessage       = "Either specify an osu! username or link yourself to an osu! profile via `/link`"
	guildOnlyMessage    = "This command can only be used in a server"
)

// userFacingError is an error with a message that can be shown to the
// user as-is
type userFacingError struct {
	message string
}

func (e *userFacingError) Error() string {
	return e.message
}

// commandFunc runs a deferred slash command. opts holds the command's
// options, flattened across subcommands.
type commandFunc func(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error

func (c *Concierge) commandFuncs() map[string]commandFunc {
	return map[string]commandFunc{
		DiscordSlashCommandMedals:            c.commandMedals,
		DiscordSlashCommandOsekai:            c.commandMedalCount,
		DiscordSlashCommandHigherLower:       c.commandHigherLower,
		DiscordSlashCommandCommands:          c.commandCommandCount,
		DiscordSlashCommandServerLeaderboard: c.commandServerLeaderboard,
		DiscordSlashCommandTop:               c.commandTopScores,
		DiscordSlashCommandGraph:             c.commandRankGraph,
		DiscordSlashCommandLink:              c.commandLink,
	}
}

// runCommand acknowledges the command, then runs it. Errors are reported
// to the user by editing the acknowledgement.
func (c *Concierge) runCommand(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	data := i.ApplicationCommandData()

	fn, ok := c.commandFuncs()[data.Name]
	if !ok {
		logger.WarnContext(ctx, "unknown command", "command", data.Name)
		_ = handler.Respond(ctx, ephemeralResponse("Unknown command"))
		return
	}
	c.metrics.observeCommand(data.Name)

	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource},
	); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	var userID string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
	}
	if c.db != nil {
		if err := c.db.RecordCommand(ctx, data.Name, i.GuildID, userID, time.Now()); err != nil {
			logger.ErrorContext(ctx, "error recording command usage", tint.Err(err))
		}
	}

	opts := discordInteractionOptions(i)
	if err := fn(ctx, handler, opts); err != nil {
		content := generalIssueMessage
		var ufe *userFacingError
		var verr *ValidationError
		switch {
		case errors.As(err, &ufe):
			content = ufe.message
			logger.InfoContext(ctx, "command rejected", tint.Err(err))
		case errors.As(err, &verr):
			content = verr.Reason
			logger.InfoContext(ctx, "command rejected", tint.Err(err))
		case errors.Is(err, ErrOsuNotFound):
			content = "User not found"
			logger.InfoContext(ctx, "osu! user not found", tint.Err(err))
		default:
			logger.ErrorContext(ctx, "error running command", "command", data.Name, tint.Err(err))
		}
		empty := []discordgo.MessageComponent{}
		if _, editErr := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content, Components: &empty},
		); editErr != nil {
			logger.ErrorContext(ctx, "error reporting command error", tint.Err(editErr))
		}
	}
}

func optionString(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok && opt != nil {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

// resolveOsuUser returns the user named in the command's options, or the
// invoking user's linked account
func (c *Concierge) resolveOsuUser(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	mode GameMode,
) (*OsuUser, error) {
	if name := optionString(opts, commandOptionName); name != "" {
		return c.osu.User(ctx, name, mode)
	}
	u := getDiscordUser(handler.GetInteraction())
	if u == nil || c.db == nil {
		return nil, &userFacingError{message: noLinkMessage}
	}
	link, err := c.db.GetLink(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting link: %w", err)
	}
	if link == nil {
		return nil, &userFacingError{message: noLinkMessage}
	}
	return c.osu.UserByID(ctx, link.OsuUserID, mode)
}

func optionBool(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	if opt, ok := opts[name]; ok && opt != nil {
		return opt.BoolValue()
	}
	return false
}

// commandMedals dispatches the medals subcommands
func (c *Concierge) commandMedals(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	if _, ok := opts[DiscordSlashCommandMedalsList]; ok {
		return c.commandMedalsList(ctx, handler, opts)
	}
	return c.commandMedalsMissing(ctx, handler, opts)
}

// userAndMedals looks up the user and every known medal concurrently
func (c *Concierge) userAndMedals(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) (user *OsuUser, medals []Medal, err error) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(
		func() (err error) {
			user, err = c.resolveOsuUser(egCtx, handler, opts, GameModeOsu)
			return err
		},
	)
	eg.Go(
		func() (err error) {
			medals, err = c.osu.Medals(egCtx)
			if err != nil {
				return fmt.Errorf("error getting medals: %w", err)
			}
			return nil
		},
	)
	if err = eg.Wait(); err != nil {
		return nil, nil, err
	}
	return user, medals, nil
}

func (c *Concierge) commandMedalsList(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	listOpts := MedalListOptions{
		Order:   parseMedalListOrder(optionString(opts, commandOptionSort)),
		Group:   optionString(opts, commandOptionGroup),
		Reverse: optionBool(opts, commandOptionReverse),
	}
	user, medals, err := c.userAndMedals(ctx, handler, opts)
	if err != nil {
		return err
	}
	p, err := NewMedalsListPagination(user, medals, listOpts)
	if err != nil {
		return err
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandMedalCount(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	country := optionString(opts, commandOptionCountry)
	ranking, err := c.osu.MedalCountRanking(ctx)
	if err != nil {
		return fmt.Errorf("error getting medal count ranking: %w", err)
	}
	ranking, ok := filterMedalCountRanking(ranking, country)
	if !ok {
		return &userFacingError{
			message: fmt.Sprintf("Looks like `%s` is neither a country name nor a country code", country),
		}
	}

	var authorName string
	if u := getDiscordUser(handler.GetInteraction()); u != nil && c.db != nil {
		link, linkErr := c.db.GetLink(ctx, u.ID)
		switch {
		case linkErr != nil:
			c.logger.WarnContext(ctx, "error getting link", tint.Err(linkErr))
		case link != nil:
			authorName = link.OsuUsername
		}
	}

	p, err := NewMedalCountPagination(ranking, country, authorName)
	if err != nil {
		return err
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandHigherLower(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	mode := parseGameMode(optionString(opts, commandOptionMode))
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	g, err := NewHigherLowerGame(ctx, mode, RandomScoreSource(c.osu, rng))
	if err != nil {
		return fmt.Errorf("error starting higher lower game: %w", err)
	}
	return c.paginator.BeginPagination(ctx, g, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandMedalsMissing(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	sort := parseMedalSortOrder(optionString(opts, commandOptionSort))
	user, medals, err := c.userAndMedals(ctx, handler, opts)
	if err != nil {
		return err
	}

	p, err := NewMedalsMissingPagination(user, medals, sort)
	if err != nil {
		return err
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandCommandCount(
	ctx context.Context,
	handler InteractionHandler,
	_ map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	if c.db == nil {
		return errors.New("no database")
	}
	counts, err := c.db.CommandCounts(ctx, DefaultCommandUsageLookup)
	if err != nil {
		return fmt.Errorf("error getting command counts: %w", err)
	}
	p, err := NewCommandCountPagination(counts, c.startedAt)
	if err != nil {
		return err
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandServerLeaderboard(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	i := handler.GetInteraction()
	if i.GuildID == "" {
		return &userFacingError{message: guildOnlyMessage}
	}
	kind := parseLeaderboardKind(optionString(opts, commandOptionKind))
	mode := parseGameMode(optionString(opts, commandOptionMode))

	entries, err := c.serverLeaderboard(ctx, i.GuildID, kind, mode)
	if err != nil {
		return err
	}
	var authorID string
	if u := getDiscordUser(i); u != nil {
		authorID = u.ID
	}
	p, err := NewServerLeaderboardPagination(kind, mode, entries, authorID)
	if err != nil {
		return err
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

// serverLeaderboard ranks the linked members of the guild. Users come
// from the cache when warm.
func (c *Concierge) serverLeaderboard(
	ctx context.Context,
	guildID string,
	kind LeaderboardKind,
	mode GameMode,
) ([]LeaderboardEntry, error) {
	if c.db == nil {
		return nil, errors.New("no database")
	}
	links, err := c.db.GuildLinks(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("error getting guild links: %w", err)
	}
	members, err := fetchLeaderboardMembers(ctx, c.osu, links, mode, c.logger)
	if err != nil {
		return nil, err
	}
	return leaderboardEntries(kind, members), nil
}

func (c *Concierge) commandTopScores(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	mode := parseGameMode(optionString(opts, commandOptionMode))
	user, err := c.resolveOsuUser(ctx, handler, opts, mode)
	if err != nil {
		return err
	}
	scores, err := c.osu.TopScores(ctx, user.ID, mode)
	if err != nil {
		return fmt.Errorf("error getting top scores: %w", err)
	}
	p, err := NewTopScoresPagination(user, mode, scores)
	if err != nil {
		return err
	}
	if guildID := handler.GetInteraction().GuildID; guildID != "" && c.config.Osu.MissAnalyzerURL != "" {
		p.WithMissAnalyzer(
			func(ctx context.Context, scoreID int64) (bool, error) {
				return c.osu.MissAnalyzerCheck(ctx, guildID, scoreID)
			},
			c.config.Osu.MissAnalyzerURL,
			c.config.Osu.MissAnalyzerTimeout,
			handler.Logger(),
		)
	}
	return c.paginator.BeginPagination(ctx, p, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandRankGraph(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	mode := parseGameMode(optionString(opts, commandOptionMode))
	user, err := c.resolveOsuUser(ctx, handler, opts, mode)
	if err != nil {
		return err
	}
	if user.RankHistory == nil || len(user.RankHistory.Data) == 0 {
		return &userFacingError{message: fmt.Sprintf("`%s` has no rank history", user.Username)}
	}

	history := user.RankHistory.Data
	title := fmt.Sprintf("%s (%s)", user.Username, mode)
	day := time.Now().UTC().Format(time.DateOnly)
	render := func(ctx context.Context, days int) ([]byte, error) {
		key := fmt.Sprintf("graph:rank:%d:%s:%d:%s", user.ID, mode, days, day)
		return cachedFetch(
			ctx, c.cache, &c.renderGroup, c.logger, key, c.config.Osu.CacheTTL,
			func(context.Context) ([]byte, error) {
				return renderRankGraph(title, history, days)
			},
		)
	}

	days := rankGraphRanges[len(rankGraphRanges)-1]
	if opt, ok := opts[commandOptionRange]; ok && opt != nil {
		days = int(opt.IntValue())
	}
	m := NewRankGraphMessage(user, mode, days, render, handler.Logger())
	return c.paginator.BeginPagination(ctx, m, InteractionOrigin{Handler: handler}, 0)
}

func (c *Concierge) commandLink(
	ctx context.Context,
	handler InteractionHandler,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	name := optionString(opts, commandOptionName)
	if name == "" {
		return &userFacingError{message: "Specify an osu! username"}
	}
	discordUser := getDiscordUser(handler.GetInteraction())
	if discordUser == nil {
		return errors.New("no user in interaction")
	}
	if c.db == nil {
		return errors.New("no database")
	}
	user, err := c.osu.User(ctx, name, GameModeOsu)
	if err != nil {
		return err
	}
	link := &UserLink{
		DiscordUserID: discordUser.ID,
		OsuUserID:     user.ID,
		OsuUsername:   user.Username,
	}
	if err = c.db.LinkUser(ctx, link); err != nil {
		return fmt.Errorf("error saving link: %w", err)
	}
	content := fmt.Sprintf("Linked to [%s](<%s>)", user.Username, user.ProfileURL())
	_, err = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
	return err
}
