package osuconcierge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingOrigin struct {
	err error
}

func (o failingOrigin) Send(context.Context, *PageContent, []discordgo.MessageComponent) (*discordgo.Message, error) {
	return nil, o.err
}

func (failingOrigin) UserID() string {
	return "alice"
}

func TestPaginator_BeginPagination(t *testing.T) {
	f := newRouterFixture(t)
	m := newListMessage(t, 10, 25)
	key := f.begin(t, m, "alice")

	entry, ok := f.registry.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "alice", entry.OwnerID)
	assert.Equal(t, time.Minute, entry.ExpiresAfter)

	f.session.mu.Lock()
	require.Len(t, f.session.sent, 1)
	sent := f.session.sent[0]
	f.session.mu.Unlock()
	assert.Contains(t, sent.Content, "item 1\n")
	assert.Contains(t, sent.Content, "Page 1/3")
	assert.Len(t, sent.Components, 1)
}

func TestPaginator_SinglePageNotTracked(t *testing.T) {
	f := newRouterFixture(t)
	m := newListMessage(t, 10, 5)
	origin := ChannelOrigin{Session: f.session, ChannelID: "channel", Author: "alice"}

	require.NoError(t, f.paginator.BeginPagination(context.Background(), m, origin, 0))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, int32(1), m.closed.Load())

	f.session.mu.Lock()
	defer f.session.mu.Unlock()
	require.Len(t, f.session.sent, 1)
	assert.Contains(t, f.session.sent[0].Content, "Page 1/1")
}

func TestPaginator_EmptyCollection(t *testing.T) {
	f := newRouterFixture(t)
	m := newListMessage(t, 10, 0)
	origin := ChannelOrigin{Session: f.session, ChannelID: "channel", Author: "alice"}

	require.NoError(t, f.paginator.BeginPagination(context.Background(), m, origin, 0))
	assert.Equal(t, 0, f.registry.Len())
}

func TestPaginator_Errors(t *testing.T) {
	f := newRouterFixture(t)

	t.Run(
		"render", func(t *testing.T) {
			m := newListMessage(t, 10, 25)
			m.renderErr = errors.New("no data")
			origin := ChannelOrigin{Session: f.session, ChannelID: "channel", Author: "alice"}
			err := f.paginator.BeginPagination(context.Background(), m, origin, 0)
			require.Error(t, err)
			assert.ErrorContains(t, err, "no data")
			assert.Equal(t, int32(1), m.closed.Load())
		},
	)

	t.Run(
		"send", func(t *testing.T) {
			m := newListMessage(t, 10, 25)
			sendErr := errors.New("missing permissions")
			err := f.paginator.BeginPagination(context.Background(), m, failingOrigin{err: sendErr}, 0)
			assert.ErrorIs(t, err, sendErr)
			assert.Equal(t, int32(1), m.closed.Load())
		},
	)

	assert.Equal(t, 0, f.registry.Len())
}

func TestPaginator_InteractionOrigin(t *testing.T) {
	f := newRouterFixture(t)
	m := newListMessage(t, 10, 25)
	h := newRecordingHandler(t, commandInteraction("alice", "medals_missing"))

	require.NoError(
		t,
		f.paginator.BeginPagination(context.Background(), m, InteractionOrigin{Handler: h}, 30*time.Second),
	)

	h.mu.Lock()
	require.Len(t, h.edits, 1)
	edit := h.edits[0]
	h.mu.Unlock()
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "Page 1/3")
	require.NotNil(t, edit.Components)
	assert.Len(t, *edit.Components, 1)

	entry, ok := f.registry.Lookup(MessageKey{ChannelID: "channel", MessageID: h.message.ID})
	require.True(t, ok)
	assert.Equal(t, "alice", entry.OwnerID)
	assert.Equal(t, 30*time.Second, entry.ExpiresAfter)
}

func TestPaginator_TTL(t *testing.T) {
	p := NewPaginator(
		NewRegistry(), nil, ActiveMessagesConfig{
			KindTTLs: map[string]time.Duration{"medals_missing": 5 * time.Minute},
		}, nil,
	)
	assert.Equal(t, 5*time.Minute, p.TTL("medals_missing"))
	assert.Equal(t, DefaultActiveMessageTTL, p.TTL("top_scores"))
}
