package osuconcierge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

const DefaultSweepInterval = 10 * time.Second

// Sweeper periodically closes active messages which have been idle for
// longer than their TTL, disabling their controls.
type Sweeper struct {
	registry *Registry
	editor   messageEditor
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(
	registry *Registry,
	editor messageEditor,
	metrics *Metrics,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry: registry,
		editor:   editor,
		metrics:  metrics,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(loggerNameKey, "sweeper"),
	}
}

// Start schedules sweeps every interval, until ctx is done
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{logger: s.logger}))
	_, err := c.AddFunc(
		fmt.Sprintf("@every %s", s.interval), func() {
			defer func() {
				if rc := recover(); rc != nil {
					handleRecover(WithLogger(ctx, s.logger), rc)
				}
			}()
			if n := s.Sweep(ctx, s.now()); n > 0 {
				s.logger.InfoContext(ctx, "swept expired active messages", "count", n)
			}
		},
	)
	if err != nil {
		return fmt.Errorf("error scheduling sweep: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.InfoContext(ctx, "started sweeper", "interval", s.interval)

	go func() {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		s.logger.Info("stopped sweeper")
	}()
	return nil
}

// Sweep closes every entry idle for longer than its TTL as of now, and
// returns how many were closed. An entry closed by someone else while
// the sweep waited on its lock is skipped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	var expired int
	for _, entry := range s.registry.Entries() {
		if s.sweepEntry(ctx, entry, now) {
			expired++
		}
	}
	s.metrics.observeSweep(expired)
	return expired
}

func (s *Sweeper) sweepEntry(ctx context.Context, entry *Entry, now time.Time) bool {
	entry.lock()
	defer entry.unlock()

	if entry.closed || !entry.expired(now) {
		return false
	}

	logger := s.logger.With("active_message", entry)
	logger.DebugContext(ctx, "active message expired", "last_interaction", entry.lastInteraction)

	if len(entry.controls) > 0 && s.editor != nil {
		disabled := disableComponents(entry.controls)
		_, err := s.editor.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:         entry.Key.MessageID,
				Channel:    entry.Key.ChannelID,
				Components: &disabled,
			},
		)
		if err != nil {
			logger.WarnContext(ctx, "unable to disable controls on expired message", tint.Err(err))
		}
	}
	return s.registry.removeLocked(entry, CloseReasonExpired)
}

// cronLogger adapts slog to cron's logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{tint.Err(err)}, keysAndValues...)...)
}
