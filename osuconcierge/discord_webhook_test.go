package osuconcierge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebhookServer(t testing.TB) (*Concierge, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, _, _ := newTestConcierge(
		t, func(cfg *Config) {
			cfg.Discord.WebhookServer.Enabled = true
			cfg.Discord.WebhookServer.PublicKey = hex.EncodeToString(pub)
		},
	)
	require.NotNil(t, c.webhookServer)
	return c, priv
}

func signedRequest(t testing.TB, key ed25519.PrivateKey, body []byte) *http.Request {
	t.Helper()
	timestamp := "1700000000"
	req := httptest.NewRequest(http.MethodPost, apiDiscordInteractions, bytes.NewReader(body))
	if key != nil {
		sig := ed25519.Sign(key, append([]byte(timestamp), body...))
		req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	}
	req.Header.Set("X-Signature-Timestamp", timestamp)
	return req
}

func TestVerifyRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	body := []byte(`{"type":1}`)
	tests := []struct {
		name   string
		req    func() *http.Request
		wantOK bool
	}{
		{
			name:   "valid",
			req:    func() *http.Request { return signedRequest(t, priv, body) },
			wantOK: true,
		},
		{
			name: "wrong key",
			req:  func() *http.Request { return signedRequest(t, otherKey, body) },
		},
		{
			name: "missing signature",
			req:  func() *http.Request { return signedRequest(t, nil, body) },
		},
		{
			name: "signature not hex",
			req: func() *http.Request {
				r := signedRequest(t, priv, body)
				r.Header.Set("X-Signature-Ed25519", "not hex")
				return r
			},
		},
		{
			name: "missing timestamp",
			req: func() *http.Request {
				r := signedRequest(t, priv, body)
				r.Header.Del("X-Signature-Timestamp")
				return r
			},
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				r := signedRequest(t, priv, body)
				r.Body = io.NopCloser(bytes.NewReader([]byte(`{"type":2}`)))
				return r
			},
		},
	}

	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				r := tc.req()
				assert.Equal(t, tc.wantOK, verifyRequest(r, pub))
			},
		)
	}
}

func TestVerifyRequest_RestoresBody(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	body := []byte(`{"type":1}`)

	r := signedRequest(t, priv, body)
	require.True(t, verifyRequest(r, pub))
	got, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWebhookServer_Ping(t *testing.T) {
	c, priv := newTestWebhookServer(t)

	w := httptest.NewRecorder()
	c.webhookServer.engine.ServeHTTP(w, signedRequest(t, priv, []byte(`{"type":1}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":1}`, w.Body.String())

	w = httptest.NewRecorder()
	c.webhookServer.engine.ServeHTTP(w, signedRequest(t, nil, []byte(`{"type":1}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookServer_Component(t *testing.T) {
	c, priv := newTestWebhookServer(t)

	m := newListMessage(t, 10, 25)
	key := MessageKey{ChannelID: "channel", MessageID: "m1"}
	c.registry.Begin(m, key, "alice", time.Minute)

	type responseBody struct {
		Type discordgo.InteractionResponseType `json:"type"`
		Data struct {
			Content string                `json:"content"`
			Flags   discordgo.MessageFlags `json:"flags"`
		} `json:"data"`
	}
	post := func(i *discordgo.InteractionCreate) *httptest.ResponseRecorder {
		body, err := json.Marshal(i.Interaction)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		c.webhookServer.engine.ServeHTTP(w, signedRequest(t, priv, body))
		return w
	}

	t.Run(
		"next page", func(t *testing.T) {
			w := post(componentInteraction(key, "alice", pageCustomIDNext))
			require.Equal(t, http.StatusOK, w.Code)
			var resp responseBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
			assert.Contains(t, resp.Data.Content, "Page 2/3")
		},
	)

	t.Run(
		"unknown message", func(t *testing.T) {
			w := post(componentInteraction(MessageKey{ChannelID: "channel", MessageID: "gone"}, "alice", pageCustomIDNext))
			require.Equal(t, http.StatusOK, w.Code)
			var resp responseBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
			assert.Equal(t, staleInteractionMessage, resp.Data.Content)
			assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
		},
	)

	t.Run(
		"bot user", func(t *testing.T) {
			i := componentInteraction(key, "robot", pageCustomIDNext)
			i.Member.User.Bot = true
			w := post(i)
			assert.Equal(t, http.StatusNoContent, w.Code)
		},
	)

	c.interactionWG.Wait()

	var logs []InteractionLog
	require.NoError(t, c.db.DB().Find(&logs).Error)
	require.Len(t, logs, 3)
	for _, l := range logs {
		assert.Equal(t, discordInteractionReceiveMethodWebhook, l.Method)
	}
}

func TestWebhookHandler_RespondOnce(t *testing.T) {
	inner := newRecordingHandler(t, componentInteraction(MessageKey{ChannelID: "c", MessageID: "m"}, "alice", "x"))
	h := newWebhookHandler(inner)
	ctx := context.Background()

	first := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	require.NoError(t, h.Respond(ctx, first))
	assert.ErrorIs(t, h.Respond(ctx, ephemeralResponse("late")), errAlreadyResponded)

	assert.Same(t, first, <-h.responses)
	assert.Nil(t, inner.lastResponse())
	assert.Equal(t, discordInteractionReceiveMethodWebhook, h.InteractionReceiveMethod())
}

func TestNewWebhookServer_RequiresPublicKey(t *testing.T) {
	c, _, _ := newTestConcierge(t, nil)
	_, err := newWebhookServer(c, &c.config.Discord.WebhookServer)
	assert.ErrorContains(t, err, "public key")
}
