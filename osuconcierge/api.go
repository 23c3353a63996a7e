package osuconcierge

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	pprofPrefix = "/debug"
	apiPrefix   = "/api"

	apiHealthCheck            = "/healthz"
	apiMetrics                = "/metrics"
	apiPathActiveMessages     = "/active_messages"
	apiPathActiveMessage      = "/active_messages/:channel_id/:message_id"
	apiPathSweep              = "/active_messages/sweep"
	apiPathCommandUsage       = "/command_usage"
	apiPathRegisterCommands   = "/discord/register_commands"
	apiDiscordInteractions    = "/discord/interactions"
	defaultAPIShutdownTimeout = 10 * time.Second
)

const xRequestIDHeader = "X-Request-ID"

// API is the admin HTTP server. Routes under /api require the configured
// secret as a bearer token.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	c *Concierge
}

// newAPI builds the API's routes and HTTP server. Nothing is bound until
// [API.Serve] is called.
func newAPI(c *Concierge, config *APIConfig) (*API, error) {
	logger := slog.New(newLogHandler(os.Stdout, config.LogLevel)).With(loggerNameKey, "api")

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: logger,
		c:      c,
	}

	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", err)
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	corsConfig := config.CORS.GINConfig()
	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(c.metrics, "api"),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiMetrics, gin.WrapH(c.metrics.Handler()))

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Secret))

	protected.GET(apiPathActiveMessages, api.listActiveMessages)
	protected.POST(apiPathSweep, api.sweepActiveMessages)
	protected.GET(apiPathActiveMessage, api.getActiveMessage)
	protected.DELETE(apiPathActiveMessage, api.closeActiveMessage)
	protected.GET(apiPathCommandUsage, api.commandUsage)
	protected.POST(apiPathRegisterCommands, api.discordRegisterCommands)

	return api, nil
}

// Serve listens on the configured address, serving until ctx is
// canceled, at which point the server is shut down gracefully.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		ln, err := listen(ctx, a.config.ListenNetwork, a.config.Listen, a.httpServer.TLSConfig)
		if err != nil {
			return err
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	return serveUntilDone(ctx, a.httpServer, a.listener, a.logger)
}

// listen opens a listener for the given network and address, wrapping
// it with TLS when a config is provided
func listen(ctx context.Context, network string, addr string, tlsCfg *tls.Config) (net.Listener, error) {
	if network == "" {
		network = "tcp"
	}
	listenCfg := &net.ListenConfig{}
	ln, err := listenCfg.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// serveUntilDone serves on ln, shutting the server down when ctx is
// canceled. Returns [http.ErrServerClosed] after a shutdown.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAPIShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", tint.Err(err))
		}
	}()
	return srv.Serve(ln)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	ActiveMessages          int    `json:"active_messages"`
	Uptime                  string `json:"uptime"`
}

func (a *API) healthCheck(c *gin.Context) {
	var connected bool
	if a.c.discord != nil {
		connected = a.c.discord.connected.Load()
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: connected,
			ActiveMessages:          a.c.registry.Len(),
			Uptime:                  time.Since(a.c.startedAt).Round(time.Second).String(),
		},
	)
}

// listActiveMessages returns the tracked active messages, oldest first.
// The optional `kind` query parameter filters by message kind.
func (a *API) listActiveMessages(c *gin.Context) {
	snapshots := a.c.registry.Snapshot()
	if kind := c.Query("kind"); kind != "" {
		snapshots = slices.DeleteFunc(
			snapshots, func(s EntrySnapshot) bool {
				return s.Kind != kind
			},
		)
	}
	slices.SortFunc(
		snapshots, func(x, y EntrySnapshot) int {
			return x.CreatedAt.Compare(y.CreatedAt)
		},
	)
	if snapshots == nil {
		snapshots = []EntrySnapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

func activeMessageKey(c *gin.Context) MessageKey {
	return MessageKey{
		ChannelID: c.Param("channel_id"),
		MessageID: c.Param("message_id"),
	}
}

func (a *API) getActiveMessage(c *gin.Context) {
	entry, ok := a.c.registry.Lookup(activeMessageKey(c))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "active message not found"})
		return
	}
	entry.lock()
	snapshot := entry.snapshot()
	entry.unlock()
	c.JSON(http.StatusOK, snapshot)
}

// closeActiveMessage disables the message's controls and stops
// tracking it
func (a *API) closeActiveMessage(c *gin.Context) {
	log := ginContextLogger(c)
	key := activeMessageKey(c)
	entry, ok := a.c.registry.Lookup(key)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "active message not found"})
		return
	}
	if !a.c.closeActiveMessage(c.Request.Context(), entry, CloseReasonAdmin) {
		c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "active message already closed"})
		return
	}
	log.Info("closed active message", "active_message", key)
	ginReplyMessage(c, "active message closed")
}

type sweepResponse struct {
	Expired int `json:"expired"`
}

// sweepActiveMessages runs a sweep immediately, rather than waiting for
// the next scheduled one
func (a *API) sweepActiveMessages(c *gin.Context) {
	expired := a.c.sweeper.Sweep(c.Request.Context(), time.Now())
	c.JSON(http.StatusOK, sweepResponse{Expired: expired})
}

// commandUsage returns command invocation counts, most used first.
// `limit` caps the number of commands returned.
func (a *API) commandUsage(c *gin.Context) {
	if a.c.db == nil {
		ginReplyError(c, "database not initialized")
		return
	}
	limit := DefaultCommandUsageLookup
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid limit"})
			return
		}
		limit = n
	}
	counts, err := a.c.db.CommandCounts(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error getting command usage")
		return
	}
	if counts == nil {
		counts = []CommandUsage{}
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	created, err := a.c.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// httpReply is a standard response message
type httpReply struct {
	Message string `json:"message"`
}

// httpError is an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// authMiddleware rejects requests without `Authorization: Bearer <secret>`
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns each request a random ID, set in the gin
// context and the response headers
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the logger set in the gin context, or creates
// one with request details included, and sets it in the context
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request when it finishes, along with
// any errors added to the gin context
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if base != nil {
			requestID, _ := c.Get(xRequestIDHeader)
			c.Set(
				string(loggerContextKey),
				base.With(
					slog.Group(
						"request",
						"method", c.Request.Method,
						"path", c.Request.URL.Path,
						"remote_ip", c.RemoteIP(),
					),
					slog.Any(xRequestIDHeader, requestID),
				),
			)
		}
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		errs := c.Errors.ByType(gin.ErrorTypePrivate).Errors()
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by route and status
func metricMiddleware(m *Metrics, server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.observeHTTPRequest(server, c.Request.Method, route, c.Writer.Status())
	}
}

// ginReplyMessage sends a JSON message with HTTP 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError aborts with a JSON error and HTTP 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
