package osuconcierge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// InteractionHandler abstracts responding to an interaction, regardless of
// whether it was received over the gateway or the webhook server.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetResponse retrieves the current response for an interaction.
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod returns the method used to receive the
	// interaction (webhook or gateway).
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func newGatewayHandler(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
) GatewayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return GatewayHandler{session: session, interaction: i, logger: logger}
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction", "response_type", response.Type)
	}
	return err
}

func (w GatewayHandler) GetResponse(ctx context.Context) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponse(w.interaction.Interaction)
	if err != nil {
		w.logger.ErrorContext(ctx, "error getting interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(w.interaction.Interaction, wh, opts...)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction response")
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	if err := w.session.InteractionResponseDelete(w.interaction.Interaction, opts...); err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// InteractionLog is a DB record of every received interaction
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Method        DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"`
	InteractionID string                          `json:"interaction_id" gorm:"not null"`
	Type          string                          `json:"type" gorm:"type:string"`
	UserID        string                          `json:"user_id" gorm:"not null;index"`
	Username      string                          `json:"username" gorm:"type:string"`
	GuildID       string                          `json:"guild_id" gorm:"type:string"`
	ChannelID     string                          `json:"channel_id" gorm:"type:string"`
	MessageID     string                          `json:"message_id" gorm:"type:string"`
	CustomID      string                          `json:"custom_id" gorm:"type:string"`
	Payload       string                          `json:"payload" gorm:"type:string"`
	CreatedAt     int64                           `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	method DiscordInteractionReceiveMethod,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
		Method:        method,
	}
	if i.Message != nil {
		interactionLog.MessageID = i.Message.ID
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		interactionLog.CustomID = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		interactionLog.CustomID = i.ModalSubmitData().CustomID
	}
	return interactionLog, nil
}
