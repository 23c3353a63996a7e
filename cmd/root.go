package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/arcward/osuconcierge/osuconcierge"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = osuconcierge.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "osuconcierge [flags]",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook()))
	},
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		levelVarHookFunc(),
	)
}

// levelVarHookFunc decodes level names (ex: "DEBUG", "warn") into
// *slog.LevelVar fields
func levelVarHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(&slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvl, nil
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(strings.ToUpper(lvl)))
	return level, err
}

func Execute() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
	)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(configFile); err != nil {
		log.Printf("unable to load %s: %v", configFile, err)
	}

	viper.SetDefault("database", osuconcierge.DefaultDatabase)
	viper.SetDefault("database_type", osuconcierge.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", osuconcierge.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", osuconcierge.DefaultDatabaseLogLevel.String())
	viper.SetDefault("development", false)
	viper.SetDefault("log_level", osuconcierge.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", osuconcierge.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", osuconcierge.DefaultShutdownTimeout)

	// Redis
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "osuconcierge:")
	viper.SetDefault("redis.dial_timeout", osuconcierge.DefaultRedisDialTimeout)

	// osu! API
	viper.SetDefault("osu.client_id", "")
	viper.SetDefault("osu.client_secret", "")
	viper.SetDefault("osu.base_url", osuconcierge.DefaultOsuBaseURL)
	viper.SetDefault("osu.osekai_base_url", osuconcierge.DefaultOsekaiBaseURL)
	viper.SetDefault("osu.requests_per_second", osuconcierge.DefaultOsuRequestsPerSecond)
	viper.SetDefault("osu.request_timeout", osuconcierge.DefaultOsuRequestTimeout)
	viper.SetDefault("osu.cache_ttl", osuconcierge.DefaultOsuCacheTTL)
	viper.SetDefault("osu.medals_cache_ttl", osuconcierge.DefaultMedalsCacheTTL)
	viper.SetDefault("osu.miss_analyzer_url", "")
	viper.SetDefault("osu.miss_analyzer_timeout", osuconcierge.DefaultMissAnalyzerTimeout)
	viper.SetDefault("osu.log_level", osuconcierge.DefaultOsuLogLevel.String())

	// Active messages
	viper.SetDefault("active_messages.default_ttl", osuconcierge.DefaultActiveMessageTTL)
	viper.SetDefault("active_messages.sweep_interval", osuconcierge.DefaultSweepInterval)
	viper.SetDefault("active_messages.artifact_timeout", osuconcierge.DefaultArtifactTimeout)

	// Cache warming
	viper.SetDefault("cache_warm.enabled", false)
	viper.SetDefault("cache_warm.schedule", osuconcierge.DefaultCacheWarmSchedule)
	viper.SetDefault("cache_warm.guild_ttl", osuconcierge.DefaultCacheWarmGuildTTL)

	// Discord
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.gateway_enabled", true)
	viper.SetDefault("discord.gateway_intents", osuconcierge.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", osuconcierge.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.log_level", osuconcierge.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", osuconcierge.DefaultDiscordgoLogLevel.String())

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault("discord.webhook_server.listen", osuconcierge.DefaultDiscordWebhookServerListen)
	viper.SetDefault("discord.webhook_server.listen_network", "tcp")
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.read_timeout", osuconcierge.DefaultReadTimeout)
	viper.SetDefault("discord.webhook_server.read_header_timeout", osuconcierge.DefaultReadHeaderTimeout)
	viper.SetDefault("discord.webhook_server.write_timeout", osuconcierge.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", osuconcierge.DefaultIdleTimeout)
	viper.SetDefault("discord.webhook_server.log_level", osuconcierge.DefaultDiscordWebhookLogLevel.String())

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.tls_min_version"))

	// API
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", osuconcierge.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.log_level", osuconcierge.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", osuconcierge.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", osuconcierge.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", osuconcierge.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", osuconcierge.DefaultIdleTimeout)

	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS
	viper.SetDefault("api.cors.allow_headers", osuconcierge.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", osuconcierge.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", osuconcierge.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", osuconcierge.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", osuconcierge.DefaultAPICORSAllowCreds)

	envPrefix := os.Getenv(osuconcierge.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = osuconcierge.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// env values are whitespace-separated
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from",
	)
}
