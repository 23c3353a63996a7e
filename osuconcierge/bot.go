package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Concierge is the bot: it owns the discord session, the active
// message registry, and the background loops keeping it tidy
type Concierge struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      *database
	cache   Cache
	osu     OsuAPI
	metrics *Metrics
	discord *Discord

	registry  *Registry
	router    *Router
	paginator *Paginator
	sweeper   *Sweeper

	api           *API
	webhookServer *DiscordWebhookServer

	startedAt   time.Time
	renderGroup singleflight.Group

	// lifecycle records are written in the background, since registry
	// hooks run with entry locks held
	recordWG sync.WaitGroup
	// in-flight interactions
	interactionWG sync.WaitGroup

	runMu sync.Mutex
}

// New validates the config and builds the bot. Connections to the
// database, redis and discord are made by Run.
func New(config *Config) (*Concierge, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	c := &Concierge{
		config:    config,
		metrics:   NewMetrics(),
		startedAt: time.Now(),
	}
	c.logHandler = newLogHandler(os.Stdout, config.LogLevel)
	c.logger = slog.New(c.logHandler)
	slog.SetDefault(c.logger)

	disc, err := newDiscord(
		config.Discord,
		slog.New(newLogHandler(os.Stdout, config.Discord.LogLevel)).With(loggerNameKey, "discord"),
	)
	if err != nil {
		errs = append(errs, err)
	}
	c.discord = disc

	c.registry = NewRegistry(WithRegistryHooks(c.onEntryBegin, c.onEntryRemove))

	am := config.ActiveMessages
	if am == nil {
		am = &ActiveMessagesConfig{}
	}
	amLogger := c.logger.With(loggerNameKey, "active_messages")
	// the editor is bound once the discord session exists
	c.router = NewRouter(c.registry, nil, c.metrics, am.ArtifactTimeout, amLogger)
	c.paginator = NewPaginator(c.registry, c.router, *am, amLogger)
	c.sweeper = NewSweeper(c.registry, nil, c.metrics, am.SweepInterval, amLogger)

	if config.API != nil && config.API.Enabled {
		api, apiErr := newAPI(c, config.API)
		errs = append(errs, apiErr)
		c.api = api
	}
	if config.Discord.WebhookServer.Enabled {
		ws, wsErr := newWebhookServer(c, &config.Discord.WebhookServer)
		errs = append(errs, wsErr)
		c.webhookServer = ws
	}

	return c, errors.Join(errs...)
}

// onEntryBegin updates metrics and records the new entry
func (c *Concierge) onEntryBegin(e *Entry) {
	c.metrics.observeBegin(e.Kind)
	if c.db == nil {
		return
	}
	record := newActiveMessageRecord(e)
	c.recordWG.Add(1)
	go func() {
		defer c.recordWG.Done()
		if err := c.db.RecordActiveMessageBegin(context.Background(), record); err != nil {
			c.logger.Error("error recording active message", "record", record.ID, tint.Err(err))
		}
	}()
}

// onEntryRemove updates metrics and records why the entry was closed
func (c *Concierge) onEntryRemove(e *Entry, reason CloseReason) {
	c.metrics.observeClose(e.Kind, reason)
	if c.db == nil {
		return
	}
	id := e.ID.String()
	closedAt := time.Now()
	c.recordWG.Add(1)
	go func() {
		defer c.recordWG.Done()
		if err := c.db.RecordActiveMessageClose(context.Background(), id, reason, closedAt); err != nil {
			c.logger.Error("error recording active message close", "record", id, tint.Err(err))
		}
	}()
}

func (c *Concierge) Registry() *Registry {
	return c.registry
}

func (c *Concierge) Metrics() *Metrics {
	return c.metrics
}

// RegisterSlashCommands registers the bot's slash commands with discord
func (c *Concierge) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if c.discord.session == nil {
		session, err := c.discord.newSession(context.Background(), c.config.HTTPClient)
		if err != nil {
			return nil, err
		}
		c.discord.session = session
	}
	return c.discord.registerCommands(options...)
}

// initDB opens (and migrates) the database, if it hasn't been set
func (c *Concierge) initDB(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	handler := newLogHandler(os.Stdout, c.config.DatabaseLogLevel)
	db, err := CreateDB(
		ctx,
		c.config.DatabaseType,
		c.config.Database,
		handler,
		c.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return err
	}
	c.db = newDatabase(
		db,
		slog.New(handler).With(loggerNameKey, "database"),
		c.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

// initOsu connects to redis (when configured) and builds the osu! client
func (c *Concierge) initOsu(ctx context.Context) error {
	if c.osu != nil {
		return nil
	}
	c.cache = noopCache{}
	if c.config.Redis != nil && c.config.Redis.Addr != "" {
		rc, err := NewRedisCache(ctx, *c.config.Redis)
		if err != nil {
			return err
		}
		c.cache = rc
	}
	c.osu = NewOsuClient(
		ctx,
		*c.config.Osu,
		c.cache,
		c.metrics,
		c.config.HTTPClient,
		slog.New(newLogHandler(os.Stdout, c.config.Osu.LogLevel)),
	)
	return nil
}

// initDiscordSession creates the session and adds gateway handlers
func (c *Concierge) initDiscordSession(ctx context.Context) error {
	if c.discord.session == nil {
		session, err := c.discord.newSession(ctx, c.config.HTTPClient)
		if err != nil {
			return err
		}
		c.discord.session = session
	}
	for _, remove := range c.discord.removeHandlerFuncs {
		remove()
	}
	session := c.discord.session
	c.router.editor = session
	c.sweeper.editor = session

	c.discord.removeHandlerFuncs = []func(){
		session.AddHandler(c.discord.handlerConnect()),
		session.AddHandler(c.discord.handlerDisconnect()),
		session.AddHandler(c.discord.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := newGatewayHandler(
					session, i,
					c.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...)),
				)
				c.interactionWG.Add(1)
				go func() {
					defer c.interactionWG.Done()
					c.handleInteraction(ctx, handler)
				}()
			},
		),
	}
	return nil
}

// Run starts the bot, blocking until ctx is canceled
func (c *Concierge) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	logger := c.logger
	if err := c.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", c.config))

	startupTimeout := c.config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	defer startCancel()

	if err := c.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	if err := c.initOsu(startCtx); err != nil {
		return fmt.Errorf("error initializing osu! client: %w", err)
	}
	if err := c.initDiscordSession(ctx); err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}

	if c.config.Discord.GatewayEnabled {
		logger.InfoContext(ctx, "connecting to discord")
		if err := c.discord.session.Open(); err != nil {
			logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
			return fmt.Errorf("error connecting to discord: %w", err)
		}
	} else if c.webhookServer == nil {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	if err := c.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("error starting sweeper: %w", err)
	}
	warmCron, err := c.startCacheWarm(ctx)
	if err != nil {
		return fmt.Errorf("error starting cache warm loop: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	if c.api != nil {
		eg.Go(
			func() error {
				if e := c.api.Serve(egCtx); e != nil && !errors.Is(e, http.ErrServerClosed) {
					return fmt.Errorf("error serving api: %w", e)
				}
				return nil
			},
		)
	}
	if c.webhookServer != nil {
		eg.Go(
			func() error {
				if e := c.webhookServer.Serve(egCtx); e != nil && !errors.Is(e, http.ErrServerClosed) {
					return fmt.Errorf("error serving webhook: %w", e)
				}
				return nil
			},
		)
	}

	logger.InfoContext(ctx, "ready")
	<-egCtx.Done()

	if warmCron != nil {
		<-warmCron.Stop().Done()
	}
	runErr := eg.Wait()
	if shutdownErr := c.shutdown(ctx); shutdownErr != nil {
		return errors.Join(runErr, shutdownErr)
	}
	return runErr
}

// shutdown closes every active message, and waits for in-flight work
// until the shutdown timeout
func (c *Concierge) shutdown(ctx context.Context) error {
	logger := c.logger
	logger.WarnContext(ctx, "shutting down")

	timeout := c.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error

	done := make(chan struct{})
	go func() {
		c.interactionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		errs = append(errs, errors.New("timed out waiting on interactions"))
	}

	closed := c.closeAllActiveMessages(shutdownCtx)
	logger.InfoContext(ctx, "closed active messages", "count", closed)

	if err := c.router.Wait(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("timed out waiting on deferred edits: %w", err))
	}

	recordsDone := make(chan struct{})
	go func() {
		c.recordWG.Wait()
		close(recordsDone)
	}()
	select {
	case <-recordsDone:
	case <-shutdownCtx.Done():
		errs = append(errs, errors.New("timed out writing active message records"))
	}

	if c.discord.session != nil && c.config.Discord.GatewayEnabled {
		if err := c.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing cache: %w", err))
		}
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB().DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", closeErr))
			}
		}
	}
	return errors.Join(errs...)
}

// closeAllActiveMessages disables the controls of every tracked message,
// and stops tracking it
func (c *Concierge) closeAllActiveMessages(ctx context.Context) int {
	var n int
	for _, e := range c.registry.Entries() {
		if ctx.Err() != nil {
			break
		}
		if c.closeActiveMessage(ctx, e, CloseReasonShutdown) {
			n++
		}
	}
	return n
}

// closeActiveMessage disables the entry's controls and removes it.
// Returns false if the entry was already closed.
func (c *Concierge) closeActiveMessage(ctx context.Context, e *Entry, reason CloseReason) bool {
	e.lock()
	defer e.unlock()
	if e.closed {
		return false
	}
	if c.router.editor != nil {
		controls := disableComponents(e.controls)
		_, err := c.router.editor.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:         e.Key.MessageID,
				Channel:    e.Key.ChannelID,
				Components: &controls,
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			c.logger.WarnContext(ctx, "unable to disable controls", "active_message", e, tint.Err(err))
		}
	}
	return c.registry.removeLocked(e, reason)
}

// handleInteraction logs the interaction, then dispatches it
func (c *Concierge) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(WithLogger(ctx, logger), rc)
		}
	}()

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction", "interaction", structToSlogValue(i))
		return
	}
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	var wg sync.WaitGroup
	defer wg.Wait()

	if c.db != nil {
		interactionLog, err := newInteractionLog(i, discordUser, handler.InteractionReceiveMethod())
		if err != nil {
			logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if createErr := c.db.Create(ctx, interactionLog); createErr != nil {
					logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
				}
			}()
		}
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		c.router.RouteComponent(ctx, handler)
	case discordgo.InteractionModalSubmit:
		c.router.RouteModal(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		c.runCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

// startCacheWarm schedules refreshing the osu! users of linked members
// in recently active guilds, so server leaderboards are served from
// the cache. Returns a nil cron if warming is disabled.
func (c *Concierge) startCacheWarm(ctx context.Context) (*cron.Cron, error) {
	cfg := c.config.CacheWarm
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultCacheWarmSchedule
	}
	logger := c.logger.With(loggerNameKey, "cache_warm")
	cr := cron.New(cron.WithLogger(cronLogger{logger: logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})))
	_, err := cr.AddFunc(
		schedule, func() {
			warmed, warmErr := c.warmCache(ctx, time.Now())
			if warmErr != nil {
				logger.ErrorContext(ctx, "error warming cache", tint.Err(warmErr))
				return
			}
			logger.InfoContext(ctx, "warmed cache", "users", warmed)
		},
	)
	if err != nil {
		return nil, err
	}
	cr.Start()
	return cr, nil
}

// warmCache fetches the osu! user of each linked member of guilds active
// since the guild TTL, returning the number of users fetched
func (c *Concierge) warmCache(ctx context.Context, now time.Time) (int, error) {
	guildTTL := DefaultCacheWarmGuildTTL
	if c.config.CacheWarm != nil && c.config.CacheWarm.GuildTTL > 0 {
		guildTTL = c.config.CacheWarm.GuildTTL
	}
	guilds, err := c.db.ActiveGuilds(ctx, now.Add(-guildTTL))
	if err != nil {
		return 0, fmt.Errorf("error getting active guilds: %w", err)
	}

	seen := map[int]struct{}{}
	var links []UserLink
	for _, guildID := range guilds {
		guildLinks, linkErr := c.db.GuildLinks(ctx, guildID)
		if linkErr != nil {
			return 0, fmt.Errorf("error getting links for guild %s: %w", guildID, linkErr)
		}
		for _, l := range guildLinks {
			if _, ok := seen[l.OsuUserID]; ok {
				continue
			}
			seen[l.OsuUserID] = struct{}{}
			links = append(links, l)
		}
	}

	var warmed int
	for _, mode := range []GameMode{GameModeOsu, GameModeTaiko, GameModeCatch, GameModeMania} {
		members, fetchErr := fetchLeaderboardMembers(ctx, c.osu, links, mode, c.logger)
		if fetchErr != nil {
			return warmed, fetchErr
		}
		warmed += len(members)
	}
	return warmed, nil
}
