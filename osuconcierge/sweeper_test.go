package osuconcierge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ExpiresAfterTTL(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	m := newListMessage(t, 10, 25)
	key := f.begin(t, m, "alice")

	// idle for exactly the TTL isn't expired yet
	assert.Equal(t, 0, f.sweeper.Sweep(ctx, f.clock.Advance(time.Minute)))
	_, ok := f.registry.Lookup(key)
	require.True(t, ok)

	assert.Equal(t, 1, f.sweeper.Sweep(ctx, f.clock.Advance(time.Second)))
	assert.Equal(t, int32(1), m.closed.Load())

	edits := f.session.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, key.MessageID, edits[0].ID)
	require.NotNil(t, edits[0].Components)
	allDisabled(t, *edits[0].Components)

	result, h := f.click(t, key, "alice", pageCustomIDNext)
	assert.Equal(t, RouteStale, result)
	assertEphemeral(t, h, staleInteractionMessage)

	// already gone
	assert.Equal(t, 0, f.sweeper.Sweep(ctx, f.clock.Advance(time.Hour)))
}

func TestSweeper_InteractionResetsIdleTimer(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	key := f.begin(t, newListMessage(t, 10, 25), "alice")

	f.clock.Advance(50 * time.Second)
	result, _ := f.click(t, key, "alice", pageCustomIDNext)
	require.Equal(t, RouteAccepted, result)

	assert.Equal(t, 0, f.sweeper.Sweep(ctx, f.clock.Advance(50*time.Second)))
	assert.Equal(t, 1, f.sweeper.Sweep(ctx, f.clock.Advance(11*time.Second)))
}

func TestSweeper_InvalidInputResetsIdleTimer(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	key := f.begin(t, newListMessage(t, 10, 25), "alice")

	f.clock.Advance(50 * time.Second)
	result, _ := f.submit(t, key, "alice", map[string]string{pageJumpInputCustomID: "99"})
	require.Equal(t, RouteInvalid, result)

	assert.Equal(t, 0, f.sweeper.Sweep(ctx, f.clock.Advance(50*time.Second)))
}

func TestSweeper_UnauthorizedDoesNotResetIdleTimer(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	key := f.begin(t, newListMessage(t, 10, 25), "alice")

	f.clock.Advance(50 * time.Second)
	result, _ := f.click(t, key, "bob", pageCustomIDNext)
	require.Equal(t, RouteUnauthorized, result)

	assert.Equal(t, 1, f.sweeper.Sweep(ctx, f.clock.Advance(11*time.Second)))
}

func TestSweeper_EditFailureStillExpires(t *testing.T) {
	f := newRouterFixture(t)
	f.session.editErr = errors.New("discord unavailable")
	key := f.begin(t, newListMessage(t, 10, 25), "alice")

	assert.Equal(t, 1, f.sweeper.Sweep(context.Background(), f.clock.Advance(2*time.Minute)))
	_, ok := f.registry.Lookup(key)
	assert.False(t, ok)
}

func TestSweeper_Start(t *testing.T) {
	registry := NewRegistry()
	session := newMockDiscordSession()
	sweeper := NewSweeper(registry, session, nil, time.Second, testLogger(t))

	key := MessageKey{ChannelID: "c", MessageID: "m"}
	registry.Begin(newListMessage(t, 10, 25), key, "alice", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sweeper.Start(ctx))

	assert.Eventually(
		t, func() bool {
			_, ok := registry.Lookup(key)
			return !ok
		}, 5*time.Second, 50*time.Millisecond,
	)
}
