package osuconcierge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	staleInteractionMessage = "This interaction is no longer active"
	notYourMessageMessage   = "This isn't your message. Use the command yourself to get your own."
	renderErrorMessage      = "Something went wrong while updating this message"
	DefaultArtifactTimeout  = 30 * time.Second
)

// RouteResult describes how an event was handled
type RouteResult string

const (
	RouteStale        RouteResult = "stale"
	RouteUnauthorized RouteResult = "unauthorized"
	RouteAccepted     RouteResult = "accepted"
	RouteInvalid      RouteResult = "invalid"
	RouteFailed       RouteResult = "failed"
)

// messageEditor edits posted messages outside of an interaction response
type messageEditor interface {
	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// Router dispatches component and modal events to the active message
// they were sent to.
type Router struct {
	registry        *Registry
	editor          messageEditor
	logger          *slog.Logger
	metrics         *Metrics
	artifactTimeout time.Duration

	// tracks deferred edits still waiting on artifacts
	deferredWG sync.WaitGroup
}

func NewRouter(
	registry *Registry,
	editor messageEditor,
	metrics *Metrics,
	artifactTimeout time.Duration,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if artifactTimeout <= 0 {
		artifactTimeout = DefaultArtifactTimeout
	}
	return &Router{
		registry:        registry,
		editor:          editor,
		metrics:         metrics,
		artifactTimeout: artifactTimeout,
		logger:          logger.With(loggerNameKey, "active_router"),
	}
}

// interactionMessageKey returns the key of the message the interaction's
// component is attached to
func interactionMessageKey(i *discordgo.InteractionCreate) (MessageKey, bool) {
	if i == nil || i.Interaction == nil || i.Message == nil || i.Message.ID == "" {
		return MessageKey{}, false
	}
	channelID := i.ChannelID
	if channelID == "" {
		channelID = i.Message.ChannelID
	}
	return MessageKey{ChannelID: channelID, MessageID: i.Message.ID}, true
}

// RouteComponent handles a button click or select menu choice.
// Errors are handled here, and never returned to the caller.
func (r *Router) RouteComponent(ctx context.Context, handler InteractionHandler) (result RouteResult) {
	return r.route(ctx, handler, true)
}

// RouteModal handles a submitted modal attached to an active message
func (r *Router) RouteModal(ctx context.Context, handler InteractionHandler) (result RouteResult) {
	return r.route(ctx, handler, false)
}

func (r *Router) route(ctx context.Context, handler InteractionHandler, component bool) (result RouteResult) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if logger == nil {
		logger = r.logger
	}
	ctx = WithLogger(ctx, logger)

	kind := "unknown"
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
			result = RouteFailed
		}
		r.metrics.observeRoute(kind, result)
	}()

	key, ok := interactionMessageKey(i)
	if !ok {
		logger.DebugContext(ctx, "interaction has no message, treating as stale")
		r.respondEphemeral(ctx, handler, staleInteractionMessage)
		return RouteStale
	}

	entry, ok := r.registry.Lookup(key)
	if !ok {
		logger.DebugContext(ctx, "no active message found", "key", key)
		r.respondEphemeral(ctx, handler, staleInteractionMessage)
		return RouteStale
	}

	entry.lock()
	defer entry.unlock()

	// the sweeper (or a replacement) may have won the race for the lock
	if entry.closed {
		logger.DebugContext(ctx, "active message closed before event was handled", "entry", entry)
		r.respondEphemeral(ctx, handler, staleInteractionMessage)
		return RouteStale
	}
	kind = entry.Kind

	var userID string
	if u := getDiscordUser(i); u != nil {
		userID = u.ID
	}
	if !entry.authorized(userID) {
		logger.DebugContext(ctx, "user is not the owner", "entry", entry, "user_id", userID)
		r.respondEphemeral(ctx, handler, notYourMessageMessage)
		return RouteUnauthorized
	}

	logger = logger.With("active_message", entry)
	ctx = WithLogger(ctx, logger)

	if component {
		return r.handleComponent(ctx, handler, entry, newComponentEvent(i, key))
	}
	return r.handleModal(ctx, handler, entry, newModalEvent(i, key))
}

func (r *Router) handleComponent(
	ctx context.Context,
	handler InteractionHandler,
	entry *Entry,
	ev *ComponentEvent,
) RouteResult {
	logger := r.contextLogger(ctx)
	outcome, err := entry.instance.OnComponent(ctx, ev)
	if err != nil {
		return r.handleEventError(ctx, handler, entry, err)
	}
	r.registry.touchLocked(entry)
	logger.DebugContext(ctx, "handled component", "custom_id", ev.CustomID, "outcome", outcome.String())

	switch outcome {
	case OutcomeUpdate:
		entry.generation++
		return r.respondUpdate(ctx, handler, entry)
	case OutcomeClose:
		resp := &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Components: disableComponents(entry.controls),
			},
		}
		if respErr := handler.Respond(ctx, resp); respErr != nil {
			logger.ErrorContext(ctx, "error disabling controls", tint.Err(respErr))
		}
		r.registry.removeLocked(entry, CloseReasonClosed)
		return RouteAccepted
	default:
		resp := ev.modal
		if resp == nil {
			resp = &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredMessageUpdate,
			}
		}
		if respErr := handler.Respond(ctx, resp); respErr != nil {
			logger.ErrorContext(ctx, "error responding to component", tint.Err(respErr))
		}
		return RouteAccepted
	}
}

func (r *Router) handleModal(
	ctx context.Context,
	handler InteractionHandler,
	entry *Entry,
	ev *ModalEvent,
) RouteResult {
	if err := entry.instance.OnModal(ctx, ev); err != nil {
		return r.handleEventError(ctx, handler, entry, err)
	}
	r.registry.touchLocked(entry)
	entry.generation++
	return r.respondUpdate(ctx, handler, entry)
}

// handleEventError responds to an error returned by an event handler.
// Validation errors are shown to the user. Terminal errors close the
// entry, anything else is logged and the entry stays active.
func (r *Router) handleEventError(
	ctx context.Context,
	handler InteractionHandler,
	entry *Entry,
	err error,
) RouteResult {
	logger := r.contextLogger(ctx)

	var verr *ValidationError
	if errors.As(err, &verr) {
		r.registry.touchLocked(entry)
		r.respondEphemeral(ctx, handler, verr.Reason)
		return RouteInvalid
	}

	if isTerminalError(err) {
		logger.WarnContext(ctx, "terminal error handling event, closing", tint.Err(err))
		r.closeWithResponse(ctx, handler, entry)
		return RouteFailed
	}

	logger.ErrorContext(ctx, "error handling event", tint.Err(err))
	r.respondEphemeral(ctx, handler, renderErrorMessage)
	return RouteFailed
}

// respondUpdate re-renders the entry and updates the message in the
// interaction response. Must be called with the entry's lock held.
func (r *Router) respondUpdate(
	ctx context.Context,
	handler InteractionHandler,
	entry *Entry,
) RouteResult {
	logger := r.contextLogger(ctx)

	page, err := entry.instance.RenderPage(ctx)
	if err != nil {
		r.metrics.observeRenderError(entry.Kind)
		if isTerminalError(err) {
			logger.WarnContext(ctx, "terminal render error, closing", tint.Err(err))
			r.closeWithResponse(ctx, handler, entry)
			return RouteFailed
		}
		logger.ErrorContext(ctx, "error rendering page", tint.Err(err))
		r.respondEphemeral(ctx, handler, renderErrorMessage)
		return RouteFailed
	}
	entry.controls = entry.instance.RenderControls()

	if len(page.Files) > 0 && !canAttachFiles(handler) {
		if !r.updateWithFiles(ctx, handler, entry, page) {
			return RouteFailed
		}
	} else if respErr := handler.Respond(ctx, updateMessageResponse(page, entry.controls)); respErr != nil {
		logger.ErrorContext(ctx, "error updating message", tint.Err(respErr))
		if isTerminalError(respErr) {
			r.registry.removeLocked(entry, CloseReasonTerminal)
		}
		return RouteFailed
	}

	if page.Deferred != nil {
		r.scheduleDeferred(ctx, entry, entry.generation, page.Deferred)
	}
	return RouteAccepted
}

// canAttachFiles reports whether the handler's interaction response can
// upload files. Webhook responses are written back as the JSON body of
// discord's request, which can't carry attachments.
func canAttachFiles(handler InteractionHandler) bool {
	return handler.InteractionReceiveMethod() != discordInteractionReceiveMethodWebhook
}

// updateWithFiles acknowledges the interaction with a deferred update,
// then edits the message with the page and its files. Must be called
// with the entry's lock held.
func (r *Router) updateWithFiles(
	ctx context.Context,
	handler InteractionHandler,
	entry *Entry,
	page *PageContent,
) bool {
	logger := r.contextLogger(ctx)
	if r.editor == nil {
		logger.ErrorContext(ctx, "no message editor to upload files with")
		r.respondEphemeral(ctx, handler, renderErrorMessage)
		return false
	}

	err := handler.Respond(
		ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate},
	)
	if err != nil {
		logger.ErrorContext(ctx, "error deferring message update", tint.Err(err))
		return false
	}

	_, err = r.editor.ChannelMessageEditComplex(messageEdit(entry.Key, page, entry.controls))
	if err != nil {
		logger.ErrorContext(ctx, "error editing message with files", tint.Err(err))
		if isTerminalError(err) {
			r.registry.removeLocked(entry, CloseReasonTerminal)
		}
		return false
	}
	return true
}

func (r *Router) closeWithResponse(ctx context.Context, handler InteractionHandler, entry *Entry) {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Components: disableComponents(entry.controls),
		},
	}
	if err := handler.Respond(ctx, resp); err != nil {
		r.contextLogger(ctx).DebugContext(ctx, "unable to disable controls", tint.Err(err))
	}
	r.registry.removeLocked(entry, CloseReasonTerminal)
}

// scheduleDeferred waits for the page's deferred content in the
// background, then edits the message with it. If the entry was closed
// or navigated away from in the meantime, the result is discarded.
func (r *Router) scheduleDeferred(
	ctx context.Context,
	entry *Entry,
	generation uint64,
	deferred func(ctx context.Context) (*PageContent, error),
) {
	logger := r.contextLogger(ctx)
	r.deferredWG.Add(1)
	go func() {
		defer r.deferredWG.Done()
		defer func() {
			if rc := recover(); rc != nil {
				handleRecover(WithLogger(ctx, logger), rc)
			}
		}()

		waitCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			r.artifactTimeout,
		)
		defer cancel()

		page, err := deferred(waitCtx)

		entry.lock()
		defer entry.unlock()

		if entry.closed || entry.generation != generation {
			logger.DebugContext(
				ctx,
				"discarding stale deferred content",
				"rendered_generation", generation,
				"current_generation", entry.generation,
				"closed", entry.closed,
			)
			r.metrics.observeArtifact(entry.Kind, "discarded")
			return
		}
		if err != nil {
			logger.WarnContext(ctx, "deferred content failed", tint.Err(err))
			r.metrics.observeArtifact(entry.Kind, "failed")
			return
		}
		if page == nil {
			return
		}
		if r.editor == nil {
			logger.ErrorContext(ctx, "no message editor for deferred content")
			r.metrics.observeArtifact(entry.Kind, "failed")
			return
		}

		_, err = r.editor.ChannelMessageEditComplex(messageEdit(entry.Key, page, entry.controls))
		if err != nil {
			logger.ErrorContext(ctx, "error editing message with deferred content", tint.Err(err))
			r.metrics.observeArtifact(entry.Kind, "failed")
			if isTerminalError(err) {
				r.registry.removeLocked(entry, CloseReasonTerminal)
			}
			return
		}
		r.metrics.observeArtifact(entry.Kind, "displayed")
	}()
}

// Wait blocks until all pending deferred edits finish, or ctx is done
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.deferredWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// contextLogger returns the logger carried by ctx, or the router's own
func (r *Router) contextLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	return r.logger
}

func (r *Router) respondEphemeral(ctx context.Context, handler InteractionHandler, content string) {
	err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error sending ephemeral reply", tint.Err(err))
	}
}

// isTerminalError reports whether the error means the active message
// can't be shown anymore
func isTerminalError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTerminal) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return true
		}
	}
	return false
}

func updateMessageResponse(
	page *PageContent,
	controls []discordgo.MessageComponent,
) *discordgo.InteractionResponse {
	if controls == nil {
		controls = []discordgo.MessageComponent{}
	}
	attachments := []*discordgo.MessageAttachment{}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:     page.Content,
			Embeds:      page.Embeds,
			Components:  controls,
			Files:       page.Files,
			Attachments: &attachments,
		},
	}
}

func messageEdit(
	key MessageKey,
	page *PageContent,
	controls []discordgo.MessageComponent,
) *discordgo.MessageEdit {
	if controls == nil {
		controls = []discordgo.MessageComponent{}
	}
	attachments := []*discordgo.MessageAttachment{}
	edit := &discordgo.MessageEdit{
		ID:          key.MessageID,
		Channel:     key.ChannelID,
		Components:  &controls,
		Files:       page.Files,
		Attachments: &attachments,
	}
	if page.Content != "" {
		content := page.Content
		edit.Content = &content
	}
	if page.Embeds != nil {
		embeds := page.Embeds
		edit.Embeds = &embeds
	}
	return edit
}
