package osuconcierge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// discord expects an initial response within 3 seconds
const webhookResponseTimeout = 3 * time.Second

var errAlreadyResponded = errors.New("interaction already responded to")

type DiscordWebhookServer struct {
	config     *DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

// Serve listens on the configured address until ctx is canceled
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		ln, err := listen(ctx, d.config.ListenNetwork, d.config.Listen, d.httpServer.TLSConfig)
		if err != nil {
			return err
		}
		d.listener = ln
	}
	if d.httpServer.TLSConfig == nil {
		d.logger.WarnContext(ctx, "starting webhook server without TLS")
	}
	d.logger.InfoContext(ctx, "webhook server listening", "addr", d.listener.Addr().String())
	return serveUntilDone(ctx, d.httpServer, d.listener, d.logger)
}

// newWebhookServer creates and returns a new [DiscordWebhookServer], and/or
// any errors that occurred during creation.
func newWebhookServer(
	c *Concierge,
	config *DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	if c.discord == nil || len(c.discord.publicKey) != ed25519.PublicKeySize {
		return nil, errors.New("webhook server requires a valid discord public key")
	}
	logger := slog.New(newLogHandler(os.Stdout, config.LogLevel)).With(loggerNameKey, "discord_webhook")

	r := gin.New()
	ws := &DiscordWebhookServer{config: config, engine: r, logger: logger}

	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
	}
	ws.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	if !c.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(c.metrics, "discord_webhook"),
		discordRequestAuthenticationMiddleware(c.discord.publicKey),
	)
	r.POST(apiDiscordInteractions, webhookReceiveHandler(c))
	return ws, nil
}

// WebhookHandler is a handler for Discord interactions received via webhook.
// The initial response is sent as the HTTP response body. Everything after
// that (edits, followups) goes through the embedded handler's session.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll  // can't split link
type WebhookHandler struct {
	InteractionHandler
	responses chan *discordgo.InteractionResponse
	once      *sync.Once
}

func newWebhookHandler(handler InteractionHandler) WebhookHandler {
	return WebhookHandler{
		InteractionHandler: handler,
		responses:          make(chan *discordgo.InteractionResponse, 1),
		once:               &sync.Once{},
	}
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

// Respond hands the response to the waiting HTTP request. Only the first
// response is accepted.
func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := errAlreadyResponded
	w.once.Do(
		func() {
			w.responses <- response
			err = nil
		},
	)
	return err
}

// webhookReceiveHandler returns a [gin.HandlerFunc] that decodes the
// interaction, dispatches it in the background, and replies with the
// first response it produces
func webhookReceiveHandler(c *Concierge) gin.HandlerFunc {
	return func(g *gin.Context) {
		logger := ginContextLogger(g)
		ctx := g.Request.Context()

		body, err := io.ReadAll(g.Request.Body)
		if err != nil {
			logger.ErrorContext(ctx, "error reading body", tint.Err(err))
			g.JSON(http.StatusInternalServerError, httpError{Error: "error reading body"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(ctx, "error unmarshalling body", tint.Err(e))
			g.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}
		i := &interaction

		if i.Type == discordgo.InteractionPing {
			g.JSON(http.StatusOK, discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
			return
		}

		handler := newWebhookHandler(
			newGatewayHandler(
				c.discord.session, i,
				logger.With(slog.Group("interaction", interactionLogAttrs(*i)...)),
			),
		)

		// the interaction outlives the request once the initial
		// response is written
		runCtx := context.WithoutCancel(ctx)
		done := make(chan struct{})
		c.interactionWG.Add(1)
		go func() {
			defer c.interactionWG.Done()
			defer close(done)
			c.handleInteraction(runCtx, handler)
		}()

		timer := time.NewTimer(webhookResponseTimeout)
		defer timer.Stop()

		select {
		case response := <-handler.responses:
			g.JSON(http.StatusOK, response)
		case <-done:
			// nothing responded, ex: the user was a bot
			select {
			case response := <-handler.responses:
				g.JSON(http.StatusOK, response)
			default:
				g.Status(http.StatusNoContent)
			}
		case <-timer.C:
			logger.ErrorContext(ctx, "timed out waiting for interaction response")
			g.JSON(http.StatusServiceUnavailable, httpError{Error: "timed out"})
		}
	}
}

// discordRequestAuthenticationMiddleware is a middleware for verifying Discord
// webhook requests.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the request's ed25519 signature over the timestamp
// header and body. The body is restored so handlers can read it.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	var msg bytes.Buffer
	msg.WriteString(timestamp)

	var body bytes.Buffer
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()
	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return false
	}
	return ed25519.Verify(key, msg.Bytes(), sig)
}
