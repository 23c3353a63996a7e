package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restoreEnv clears the environment for the test, restoring it afterward
func restoreEnv(t testing.TB) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	restoreEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	envContent := `
# General/database config

OC_DATABASE=/home/foo/osuconcierge.sqlite3
OC_DATABASE_TYPE=sqlite
OC_DATABASE_LOG_LEVEL=INFO
OC_DATABASE_SLOW_THRESHOLD=200ms
OC_LOG_LEVEL=debug
OC_STARTUP_TIMEOUT=30s
OC_SHUTDOWN_TIMEOUT=60s
OC_DEVELOPMENT=true

# Redis

OC_REDIS_ADDR=127.0.0.1:6379
OC_REDIS_DB=2

# osu! API

OC_OSU_CLIENT_ID=1234
OC_OSU_CLIENT_SECRET=your-osu-client-secret
OC_OSU_REQUESTS_PER_SECOND=5
OC_OSU_CACHE_TTL=10m
OC_OSU_MISS_ANALYZER_URL=https://miss.example.com
OC_OSU_MISS_ANALYZER_TIMEOUT=1500ms
OC_OSU_LOG_LEVEL=WARN

# Active messages

OC_ACTIVE_MESSAGES_DEFAULT_TTL=5m
OC_ACTIVE_MESSAGES_SWEEP_INTERVAL=15s
OC_ACTIVE_MESSAGES_ARTIFACT_TIMEOUT=20s

# Cache warming

OC_CACHE_WARM_ENABLED=true
OC_CACHE_WARM_SCHEDULE="0 * * * *"
OC_CACHE_WARM_GUILD_TTL=48h

# Discord bot config

OC_DISCORD_TOKEN=your-discord-bot-token
OC_DISCORD_APPLICATION_ID=your-discord-bot-app-id
OC_DISCORD_GUILD_ID=
OC_DISCORD_LOG_LEVEL=WARN
OC_DISCORD_DISCORDGO_LOG_LEVEL=WARN
OC_DISCORD_CUSTOM_STATUS="/top"
OC_DISCORD_GATEWAY_INTENTS=3243773

# Discord webhook server

OC_DISCORD_WEBHOOK_SERVER_ENABLED=false
OC_DISCORD_WEBHOOK_SERVER_LISTEN=127.0.0.1:5001
OC_DISCORD_WEBHOOK_SERVER_SSL_CERT=/etc/ssl/cert.pem
OC_DISCORD_WEBHOOK_SERVER_SSL_KEY=/etc/ssl/cert.key
OC_DISCORD_WEBHOOK_SERVER_SSL_TLS_MIN_VERSION=771
OC_DISCORD_WEBHOOK_SERVER_LOG_LEVEL=INFO
OC_DISCORD_WEBHOOK_SERVER_PUBLIC_KEY=your_discord_public_key_here
OC_DISCORD_WEBHOOK_SERVER_READ_TIMEOUT=5s

# API server

OC_API_ENABLED=true
OC_API_LISTEN=127.0.0.1:5000
OC_API_SSL_CERT=/etc/ssl/cert.pem
OC_API_SSL_KEY=/etc/ssl/key.pem
OC_API_SSL_TLS_MIN_VERSION=771
OC_API_SECRET=your-api-secret-value
OC_API_LOG_LEVEL=DEBUG
OC_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
OC_API_CORS_ALLOW_METHODS=GET POST DELETE OPTIONS
OC_API_CORS_ALLOW_CREDENTIALS=true
OC_API_CORS_MAX_AGE=12h
OC_API_WRITE_TIMEOUT=10s
`
	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o600))

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/osuconcierge.sqlite3", viper.GetString("database"))
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"database", cfg.Database, "/home/foo/osuconcierge.sqlite3"},
		{"database_type", cfg.DatabaseType, "sqlite"},
		{"database_log_level", cfg.DatabaseLogLevel.Level(), slog.LevelInfo},
		{"database_slow_threshold", cfg.DatabaseSlowThreshold, 200 * time.Millisecond},
		{"log_level", cfg.LogLevel.Level(), slog.LevelDebug},
		{"startup_timeout", cfg.StartupTimeout, 30 * time.Second},
		{"shutdown_timeout", cfg.ShutdownTimeout, 60 * time.Second},
		{"development", cfg.Development, true},

		{"redis.addr", cfg.Redis.Addr, "127.0.0.1:6379"},
		{"redis.db", cfg.Redis.DB, 2},
		{"redis.key_prefix", cfg.Redis.KeyPrefix, "osuconcierge:"},

		{"osu.client_id", cfg.Osu.ClientID, "1234"},
		{"osu.client_secret", cfg.Osu.ClientSecret, "your-osu-client-secret"},
		{"osu.requests_per_second", cfg.Osu.RequestsPerSecond, float64(5)},
		{"osu.cache_ttl", cfg.Osu.CacheTTL, 10 * time.Minute},
		{"osu.miss_analyzer_url", cfg.Osu.MissAnalyzerURL, "https://miss.example.com"},
		{"osu.miss_analyzer_timeout", cfg.Osu.MissAnalyzerTimeout, 1500 * time.Millisecond},
		{"osu.log_level", cfg.Osu.LogLevel.Level(), slog.LevelWarn},
		{"osu.base_url", cfg.Osu.BaseURL, "https://osu.ppy.sh"},

		{"active_messages.default_ttl", cfg.ActiveMessages.DefaultTTL, 5 * time.Minute},
		{"active_messages.sweep_interval", cfg.ActiveMessages.SweepInterval, 15 * time.Second},
		{"active_messages.artifact_timeout", cfg.ActiveMessages.ArtifactTimeout, 20 * time.Second},

		{"cache_warm.enabled", cfg.CacheWarm.Enabled, true},
		{"cache_warm.schedule", cfg.CacheWarm.Schedule, "0 * * * *"},
		{"cache_warm.guild_ttl", cfg.CacheWarm.GuildTTL, 48 * time.Hour},

		{"discord.token", cfg.Discord.Token, "your-discord-bot-token"},
		{"discord.application_id", cfg.Discord.ApplicationID, "your-discord-bot-app-id"},
		{"discord.guild_id", cfg.Discord.GuildID, ""},
		{"discord.log_level", cfg.Discord.LogLevel.Level(), slog.LevelWarn},
		{"discord.discordgo_log_level", cfg.Discord.DiscordGoLogLevel.Level(), slog.LevelWarn},
		{"discord.custom_status", cfg.Discord.CustomStatus, "/top"},
		{"discord.gateway_intents", cfg.Discord.GatewayIntents, discordgo.Intent(3243773)},

		{"discord.webhook_server.enabled", cfg.Discord.WebhookServer.Enabled, false},
		{"discord.webhook_server.listen", cfg.Discord.WebhookServer.Listen, "127.0.0.1:5001"},
		{"discord.webhook_server.ssl.cert", cfg.Discord.WebhookServer.SSL.Cert, "/etc/ssl/cert.pem"},
		{"discord.webhook_server.ssl.key", cfg.Discord.WebhookServer.SSL.Key, "/etc/ssl/cert.key"},
		{"discord.webhook_server.ssl.tls_min_version", cfg.Discord.WebhookServer.SSL.TLSMinVersion, uint16(771)},
		{"discord.webhook_server.log_level", cfg.Discord.WebhookServer.LogLevel.Level(), slog.LevelInfo},
		{"discord.webhook_server.public_key", cfg.Discord.WebhookServer.PublicKey, "your_discord_public_key_here"},
		{"discord.webhook_server.read_timeout", cfg.Discord.WebhookServer.ReadTimeout, 5 * time.Second},

		{"api.enabled", cfg.API.Enabled, true},
		{"api.listen", cfg.API.Listen, "127.0.0.1:5000"},
		{"api.ssl.cert", cfg.API.SSL.Cert, "/etc/ssl/cert.pem"},
		{"api.ssl.key", cfg.API.SSL.Key, "/etc/ssl/key.pem"},
		{"api.ssl.tls_min_version", cfg.API.SSL.TLSMinVersion, uint16(771)},
		{"api.secret", cfg.API.Secret, "your-api-secret-value"},
		{"api.log_level", cfg.API.LogLevel.Level(), slog.LevelDebug},
		{
			"api.cors.allow_origins",
			cfg.API.CORS.AllowOrigins,
			[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		},
		{"api.cors.allow_methods", cfg.API.CORS.AllowMethods, []string{"GET", "POST", "DELETE", "OPTIONS"}},
		{"api.cors.allow_credentials", cfg.API.CORS.AllowCredentials, true},
		{"api.cors.max_age", cfg.API.CORS.MaxAge, 12 * time.Hour},
		{"api.write_timeout", cfg.API.WriteTimeout, 10 * time.Second},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, tc.got)
			},
		)
	}
}

func TestLevelStringToLevelVar(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		t.Run(
			tc.input, func(t *testing.T) {
				lvl, err := levelStringToLevelVar(tc.input)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.expected, lvl.Level())
			},
		)
	}
}
