//nolint:lll // struct tags can't be split
package osuconcierge

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix     = "OSUCONCIERGE_ENV_PREFIX"
	DefaultEnvPrefix       = "OC"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "osuconcierge.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsGuilds
	DefaultDiscordWebhookLogLevel            = slog.LevelInfo
	DefaultDiscordLogLevel                   = slog.LevelInfo
	DefaultDiscordgoLogLevel                 = slog.LevelWarn
	DefaultDiscordCustomStatus               = "/medals missing"

	DefaultAPIListen       = "127.0.0.1:5000"
	DefaultAPILogLevel     = slog.LevelInfo
	DefaultUITLSMinVersion = tls.VersionTLS12
	defaultListenNetwork   = "tcp"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultRedisDialTimeout = 5 * time.Second

	DefaultOsuBaseURL           = "https://osu.ppy.sh"
	DefaultOsekaiBaseURL        = "https://osekai.net"
	DefaultOsuLogLevel          = slog.LevelInfo
	DefaultOsuRequestsPerSecond = 10
	DefaultOsuRequestTimeout    = 10 * time.Second
	DefaultOsuCacheTTL          = 5 * time.Minute
	DefaultMedalsCacheTTL       = 6 * time.Hour
	DefaultMissAnalyzerTimeout  = 2 * time.Second

	DefaultActiveMessageTTL   = 3 * time.Minute
	DefaultCacheWarmSchedule  = "@every 30m"
	DefaultCacheWarmGuildTTL  = 24 * time.Hour
	DefaultAPICORSAllowCreds  = false
	DefaultCommandUsageLookup = 100
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/osuconcierge/osuconcierge.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	structValidator = newStructValidator()

	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	Redis *RedisConfig `yaml:"redis" mapstructure:"redis" json:"redis"`

	Osu *OsuConfig `yaml:"osu" mapstructure:"osu" json:"osu" binding:"required"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	ActiveMessages *ActiveMessagesConfig `yaml:"active_messages" mapstructure:"active_messages" json:"active_messages" binding:"required"`

	CacheWarm *CacheWarmConfig `yaml:"cache_warm" mapstructure:"cache_warm" json:"cache_warm"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect and start its background loops
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	HTTPClient *http.Client `json:"-" yaml:"-" mapstructure:"-"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config against its `binding` tags
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ActiveMessagesConfig configures paginated messages
type ActiveMessagesConfig struct {
	// DefaultTTL is how long an active message may go without interaction
	// before its controls are disabled
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl" json:"default_ttl" binding:"min=1s"`

	// KindTTLs overrides DefaultTTL per kind (ex: "medals_missing: 5m")
	KindTTLs map[string]time.Duration `yaml:"kind_ttls" mapstructure:"kind_ttls" json:"kind_ttls" binding:"omitempty,dive,min=1s"`

	// SweepInterval is how often expired messages are swept
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" json:"sweep_interval" binding:"min=1s"`

	// ArtifactTimeout bounds how long a deferred page (ex: a rendered
	// graph) is waited on before being given up
	ArtifactTimeout time.Duration `yaml:"artifact_timeout" mapstructure:"artifact_timeout" json:"artifact_timeout" binding:"min=1s"`
}

// RedisConfig configures the optional redis cache. When Addr is empty,
// responses are only de-duplicated in-process, not cached.
type RedisConfig struct {
	Addr        string        `yaml:"addr" mapstructure:"addr" json:"addr"`
	Password    string        `yaml:"password" mapstructure:"password" json:"password" log:"[redacted]"`
	DB          int           `yaml:"db" mapstructure:"db" json:"db" binding:"min=0"`
	KeyPrefix   string        `yaml:"key_prefix" mapstructure:"key_prefix" json:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" json:"dial_timeout"`
}

// OsuConfig configures the osu! API client
type OsuConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id" json:"client_id" binding:"required"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret" json:"client_secret" log:"[redacted]" binding:"required"`

	BaseURL       string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
	OsekaiBaseURL string `yaml:"osekai_base_url" mapstructure:"osekai_base_url" json:"osekai_base_url" binding:"required,url"`

	// RequestsPerSecond limits outgoing osu! API requests
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"gt=0"`

	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// CacheTTL is how long user and score responses are cached
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl" json:"cache_ttl"`

	// MedalsCacheTTL is how long the medal list is cached
	MedalsCacheTTL time.Duration `yaml:"medals_cache_ttl" mapstructure:"medals_cache_ttl" json:"medals_cache_ttl"`

	// MissAnalyzerURL is an optional service annotating top scores.
	// Its lookups are bounded by MissAnalyzerTimeout.
	MissAnalyzerURL     string        `yaml:"miss_analyzer_url" mapstructure:"miss_analyzer_url" json:"miss_analyzer_url" binding:"omitempty,url"`
	MissAnalyzerTimeout time.Duration `yaml:"miss_analyzer_timeout" mapstructure:"miss_analyzer_timeout" json:"miss_analyzer_timeout"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// CacheWarmConfig configures the background job refreshing cached
// guild rankings
type CacheWarmConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Schedule is a cron spec (ex: "@every 30m", "0 * * * *")
	Schedule string `yaml:"schedule" mapstructure:"schedule" json:"schedule" binding:"required_if=Enabled true"`

	// GuildTTL limits warming to guilds with a command used within this window
	GuildTTL time.Duration `yaml:"guild_ttl" mapstructure:"guild_ttl" json:"guild_ttl"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GatewayEnabled connects to the discord websocket gateway
	GatewayEnabled bool `yaml:"gateway_enabled" mapstructure:"gateway_enabled" json:"gateway_enabled"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// DiscordWebhookServerConfig configures the server receiving discord
// interactions over HTTP
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// APIConfig configures the admin API server
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret expected as a bearer token on /api routes
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true,omitempty,min=16"`

	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`

	// Development enables pprof routes and gin's debug mode
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCreds,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	osuLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	discordWebhookLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	osuLogLevel.Set(DefaultOsuLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	discordWebhookLogLevel.Set(DefaultDiscordWebhookLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Redis: &RedisConfig{
			KeyPrefix:   "osuconcierge:",
			DialTimeout: DefaultRedisDialTimeout,
		},
		Osu: &OsuConfig{
			BaseURL:             DefaultOsuBaseURL,
			OsekaiBaseURL:       DefaultOsekaiBaseURL,
			RequestsPerSecond:   DefaultOsuRequestsPerSecond,
			RequestTimeout:      DefaultOsuRequestTimeout,
			CacheTTL:            DefaultOsuCacheTTL,
			MedalsCacheTTL:      DefaultMedalsCacheTTL,
			MissAnalyzerTimeout: DefaultMissAnalyzerTimeout,
			LogLevel:            osuLogLevel,
		},
		ActiveMessages: &ActiveMessagesConfig{
			DefaultTTL:      DefaultActiveMessageTTL,
			KindTTLs:        map[string]time.Duration{},
			SweepInterval:   DefaultSweepInterval,
			ArtifactTimeout: DefaultArtifactTimeout,
		},
		CacheWarm: &CacheWarmConfig{
			Enabled:  false,
			Schedule: DefaultCacheWarmSchedule,
			GuildTTL: DefaultCacheWarmGuildTTL,
		},
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:       false,
				Listen:        DefaultDiscordWebhookServerListen,
				ListenNetwork: defaultListenNetwork,
				SSL: SSLConfig{
					TLSMinVersion: DefaultDiscordWebhookServerTLSminVersion,
				},
				LogLevel:          discordWebhookLogLevel,
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			GatewayEnabled:    true,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
