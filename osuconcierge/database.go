package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteExecPragma = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation and update
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// UserLink associates a discord user with an osu! account
//
//nolint:lll // struct tags can't be split
type UserLink struct {
	ModelUintID
	ModelUnixTime
	DiscordUserID string `json:"discord_user_id" gorm:"uniqueIndex;not null"`
	OsuUserID     int    `json:"osu_user_id" gorm:"not null;index"`
	OsuUsername   string `json:"osu_username" gorm:"not null"`
}

// CommandUsage counts invocations of each command
type CommandUsage struct {
	Command  string `json:"command" gorm:"primaryKey"`
	Count    int64  `json:"count" gorm:"not null;default:0"`
	LastUsed int64  `json:"last_used" gorm:"not null;default:0"`
}

// GuildMember records that a discord user has used the bot in a guild.
// Server leaderboards only include linked members seen here.
//
//nolint:lll // struct tags can't be split
type GuildMember struct {
	GuildID       string `json:"guild_id" gorm:"primaryKey"`
	DiscordUserID string `json:"discord_user_id" gorm:"primaryKey"`
	LastSeen      int64  `json:"last_seen" gorm:"not null;index"`
}

// ActiveMessageRecord is the lifecycle of an active message
//
//nolint:lll // struct tags can't be split
type ActiveMessageRecord struct {
	ID          string      `json:"id" gorm:"primaryKey"`
	Kind        string      `json:"kind" gorm:"index;not null"`
	ChannelID   string      `json:"channel_id" gorm:"not null"`
	MessageID   string      `json:"message_id" gorm:"index;not null"`
	OwnerID     string      `json:"owner_id"`
	TTL         int64       `json:"ttl_ms"`
	OpenedAt    int64       `json:"opened_at" gorm:"not null"`
	ClosedAt    *int64      `json:"closed_at"`
	CloseReason CloseReason `json:"close_reason" gorm:"type:string"`
}

func newActiveMessageRecord(e *Entry) *ActiveMessageRecord {
	return &ActiveMessageRecord{
		ID:        e.ID.String(),
		Kind:      e.Kind,
		ChannelID: e.Key.ChannelID,
		MessageID: e.Key.MessageID,
		OwnerID:   e.OwnerID,
		TTL:       e.ExpiresAfter.Milliseconds(),
		OpenedAt:  e.CreatedAt.UnixMilli(),
	}
}

// CreateDB opens the database and migrates the bot's models
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if handler == nil {
		handler = newLogHandler(os.Stdout, slog.LevelWarn)
	}
	gormLogger := newGORMLogger(handler, slowThreshold)
	dbLogger := slog.New(handler).With(loggerNameKey, "database")

	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(
				&UserLink{},
				&CommandUsage{},
				&GuildMember{},
				&ActiveMessageRecord{},
				&InteractionLog{},
			)
		},
	)
	if err != nil {
		return db, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres')
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" && !strings.HasPrefix(database, "file:") {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(sqlite.Open(database), cfg)
		if err != nil {
			return nil, err
		}
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, err)
			}
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// database wraps the gorm connection. Writes are serialized unless
// concurrent writes are enabled (postgres).
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func newDatabase(db *gorm.DB, logger *slog.Logger, enableConcurrentWrites bool) *database {
	if logger == nil {
		logger = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 logger.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

// write runs fc with the write lock held, and a default timeout if ctx
// has no deadline
func (d *database) write(ctx context.Context, fc func(db *gorm.DB) error) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	return fc(d.db.WithContext(ctx))
}

func (d *database) read(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return d.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, dbOperationTimeout)
	return d.db.WithContext(ctx), cancel
}

func (d *database) Create(ctx context.Context, value any) error {
	return d.write(
		ctx, func(db *gorm.DB) error {
			return db.Create(value).Error
		},
	)
}

// LinkUser creates or updates the osu! account linked to the discord user
func (d *database) LinkUser(ctx context.Context, link *UserLink) error {
	return d.write(
		ctx, func(db *gorm.DB) error {
			return db.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "discord_user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"osu_user_id", "osu_username", "updated_at"}),
				},
			).Create(link).Error
		},
	)
}

// GetLink returns the link for the discord user, or nil if there is none
func (d *database) GetLink(ctx context.Context, discordUserID string) (*UserLink, error) {
	db, cancel := d.read(ctx)
	defer cancel()
	var link UserLink
	err := db.Where("discord_user_id = ?", discordUserID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// RecordCommand increments the usage count for the given command,
// and marks the user as seen in the guild
func (d *database) RecordCommand(
	ctx context.Context,
	command string,
	guildID string,
	userID string,
	now time.Time,
) error {
	return d.write(
		ctx, func(db *gorm.DB) error {
			return db.Transaction(
				func(tx *gorm.DB) error {
					err := tx.Clauses(
						clause.OnConflict{
							Columns: []clause.Column{{Name: "command"}},
							DoUpdates: clause.Assignments(
								map[string]any{
									"count":     gorm.Expr("command_usages.count + 1"),
									"last_used": now.UnixMilli(),
								},
							),
						},
					).Create(&CommandUsage{Command: command, Count: 1, LastUsed: now.UnixMilli()}).Error
					if err != nil {
						return err
					}
					if guildID == "" || userID == "" {
						return nil
					}
					return tx.Clauses(
						clause.OnConflict{
							Columns:   []clause.Column{{Name: "guild_id"}, {Name: "discord_user_id"}},
							DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
						},
					).Create(
						&GuildMember{
							GuildID:       guildID,
							DiscordUserID: userID,
							LastSeen:      now.UnixMilli(),
						},
					).Error
				},
			)
		},
	)
}

// CommandCounts returns command usage, most used first
func (d *database) CommandCounts(ctx context.Context, limit int) ([]CommandUsage, error) {
	db, cancel := d.read(ctx)
	defer cancel()
	var rv []CommandUsage
	q := db.Order("count desc").Order("command asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rv).Error
	return rv, err
}

// GuildLinks returns the links of every member seen in the guild
func (d *database) GuildLinks(ctx context.Context, guildID string) ([]UserLink, error) {
	db, cancel := d.read(ctx)
	defer cancel()
	var rv []UserLink
	err := db.Model(&UserLink{}).
		Joins("JOIN guild_members ON guild_members.discord_user_id = user_links.discord_user_id").
		Where("guild_members.guild_id = ?", guildID).
		Order("user_links.osu_user_id asc").
		Find(&rv).Error
	return rv, err
}

// ActiveGuilds returns the IDs of guilds with a command used since the
// given time
func (d *database) ActiveGuilds(ctx context.Context, since time.Time) ([]string, error) {
	db, cancel := d.read(ctx)
	defer cancel()
	var rv []string
	err := db.Model(&GuildMember{}).
		Where("last_seen >= ?", since.UnixMilli()).
		Distinct().
		Pluck("guild_id", &rv).Error
	return rv, err
}

func (d *database) RecordActiveMessageBegin(ctx context.Context, record *ActiveMessageRecord) error {
	return d.Create(ctx, record)
}

func (d *database) RecordActiveMessageClose(
	ctx context.Context,
	id string,
	reason CloseReason,
	closedAt time.Time,
) error {
	return d.write(
		ctx, func(db *gorm.DB) error {
			ts := closedAt.UnixMilli()
			return db.Model(&ActiveMessageRecord{}).
				Where("id = ?", id).
				Updates(map[string]any{"closed_at": ts, "close_reason": reason}).Error
		},
	)
}
