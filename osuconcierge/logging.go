package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// newLogHandler returns the tint handler used by every subsystem logger.
// An unset level logs at info.
func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	if lv, ok := level.(*slog.LevelVar); level == nil || (ok && lv == nil) {
		level = slog.LevelInfo
	}
	return tint.NewHandler(
		w, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// discordgoLoggerFunc returns a function suitable for discordgo.Logger,
// which sends discordgo's log output through the given handler
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler).With(loggerNameKey, "discordgo")
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// discordgoLogLevel maps a slog level to the nearest discordgo log level
func discordgoLogLevel(lvl slog.Level) int {
	switch {
	case lvl <= slog.LevelDebug:
		return discordgo.LogDebug
	case lvl <= slog.LevelInfo:
		return discordgo.LogInformational
	case lvl <= slog.LevelWarn:
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

// LogMode is a no-op, levels are controlled by the handler
func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	var rows any = rowsAffected
	if rowsAffected == -1 {
		rows = "-"
	}
	attrs := []any{
		"elapsed", elapsed,
		"threshold", g.SlowThreshold,
		"rows", rows,
		"sql", s,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.ErrorContext(ctx, "sql error", append(attrs, tint.Err(err))...)
	case g.SlowThreshold != 0 && elapsed > g.SlowThreshold:
		g.logger.WarnContext(ctx, "slow sql", attrs...)
	default:
		g.logger.DebugContext(ctx, "sql completed", attrs...)
	}
}
