package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Origin is where an active message gets posted
type Origin interface {
	// Send posts the page, returning the created (or edited) message
	Send(
		ctx context.Context,
		page *PageContent,
		components []discordgo.MessageComponent,
	) (*discordgo.Message, error)

	// UserID returns the ID of the user who triggered the message
	UserID() string
}

// InteractionOrigin edits the (already deferred) response to a slash command
type InteractionOrigin struct {
	Handler InteractionHandler
}

func (o InteractionOrigin) Send(
	ctx context.Context,
	page *PageContent,
	components []discordgo.MessageComponent,
) (*discordgo.Message, error) {
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit := &discordgo.WebhookEdit{
		Components: &components,
		Files:      page.Files,
	}
	if page.Content != "" {
		content := page.Content
		edit.Content = &content
	}
	if page.Embeds != nil {
		embeds := page.Embeds
		edit.Embeds = &embeds
	}
	return o.Handler.Edit(ctx, edit)
}

func (o InteractionOrigin) UserID() string {
	if u := getDiscordUser(o.Handler.GetInteraction()); u != nil {
		return u.ID
	}
	return ""
}

// ChannelOrigin posts a new message to a channel
type ChannelOrigin struct {
	Session   DiscordSessionHandler
	ChannelID string
	Author    string
}

func (o ChannelOrigin) Send(
	_ context.Context,
	page *PageContent,
	components []discordgo.MessageComponent,
) (*discordgo.Message, error) {
	return o.Session.ChannelMessageSendComplex(
		o.ChannelID, &discordgo.MessageSend{
			Content:    page.Content,
			Embeds:     page.Embeds,
			Files:      page.Files,
			Components: components,
		},
	)
}

func (o ChannelOrigin) UserID() string {
	return o.Author
}

// Paginator posts active messages and starts tracking them
type Paginator struct {
	registry   *Registry
	router     *Router
	defaultTTL time.Duration
	kindTTLs   map[string]time.Duration
	logger     *slog.Logger
}

func NewPaginator(
	registry *Registry,
	router *Router,
	cfg ActiveMessagesConfig,
	logger *slog.Logger,
) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultActiveMessageTTL
	}
	return &Paginator{
		registry:   registry,
		router:     router,
		defaultTTL: ttl,
		kindTTLs:   cfg.KindTTLs,
		logger:     logger.With(loggerNameKey, "paginator"),
	}
}

// TTL returns the idle timeout for the given kind of active message
func (p *Paginator) TTL(kind string) time.Duration {
	if ttl, ok := p.kindTTLs[kind]; ok && ttl > 0 {
		return ttl
	}
	return p.defaultTTL
}

// BeginPagination renders the first page of the instance, sends it
// via origin, and starts tracking the resulting message. A ttl <= 0
// uses the configured TTL for the instance's kind.
func (p *Paginator) BeginPagination(
	ctx context.Context,
	instance ActiveMessage,
	origin Origin,
	ttl time.Duration,
) error {
	kind := messageKind(instance)
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = p.logger
	}
	logger = logger.With("kind", kind)

	page, err := instance.RenderPage(ctx)
	if err != nil {
		if c, ok := instance.(activeMessageCloser); ok {
			c.OnClose()
		}
		return fmt.Errorf("error rendering first page: %w", err)
	}
	if page == nil {
		return errors.New("no page rendered")
	}
	controls := instance.RenderControls()

	msg, err := origin.Send(ctx, page, controls)
	if err != nil {
		if c, ok := instance.(activeMessageCloser); ok {
			c.OnClose()
		}
		return fmt.Errorf("error sending message: %w", err)
	}
	if msg == nil {
		return errors.New("no message returned")
	}

	// nothing to navigate and nothing pending: no need to track it
	if len(controls) == 0 && page.Deferred == nil {
		logger.DebugContext(ctx, "message has no controls, not tracking it")
		if c, ok := instance.(activeMessageCloser); ok {
			c.OnClose()
		}
		return nil
	}

	if ttl <= 0 {
		ttl = p.TTL(kind)
	}
	owner := origin.UserID()
	if pub, ok := instance.(publicActiveMessage); ok && pub.AnyoneMayInteract() {
		owner = OwnerAnyone
	}

	key := MessageKey{ChannelID: msg.ChannelID, MessageID: msg.ID}
	entry := p.registry.Begin(instance, key, owner, ttl)
	logger.InfoContext(ctx, "began active message", "active_message", entry, "ttl", ttl)

	if page.Deferred != nil {
		// the first page was rendered for the entry's initial generation.
		// Anything that changed it since then makes the content stale.
		entry.lock()
		closed := entry.closed
		entry.unlock()
		if closed {
			logger.WarnContext(ctx, "active message closed before deferred content was scheduled")
			return nil
		}
		if p.router == nil {
			logger.ErrorContext(ctx, "no router to finish deferred content", tint.Err(ErrArtifactAbandoned))
			return nil
		}
		p.router.scheduleDeferred(WithLogger(ctx, logger), entry, initialGeneration, page.Deferred)
	}
	return nil
}
