package osuconcierge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BeginLookupRemove(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithRegistryClock(clock.Now), WithRegistryShards(4))
	key := MessageKey{ChannelID: "c", MessageID: "m"}
	m := newListMessage(t, 10, 25)

	entry := r.Begin(m, key, "alice", time.Minute)
	assert.Equal(t, "test_list", entry.Kind)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Same(t, entry, got)

	assert.True(t, r.Remove(key))
	assert.False(t, r.Remove(key), "second remove should be a no-op")
	assert.Equal(t, int32(1), m.closed.Load())
	assert.Equal(t, 0, r.Len())

	_, ok = r.Lookup(key)
	assert.False(t, ok)
	assert.True(t, entry.Closed())
}

func TestRegistry_BeginReplacesExisting(t *testing.T) {
	var removed []CloseReason
	var mu sync.Mutex
	r := NewRegistry(
		WithRegistryHooks(
			nil, func(_ *Entry, reason CloseReason) {
				mu.Lock()
				removed = append(removed, reason)
				mu.Unlock()
			},
		),
	)
	key := MessageKey{ChannelID: "c", MessageID: "m"}
	first := newListMessage(t, 10, 25)
	second := newListMessage(t, 10, 25)

	e1 := r.Begin(first, key, "alice", time.Minute)
	e2 := r.Begin(second, key, "alice", time.Minute)

	assert.Equal(t, 1, r.Len())
	assert.True(t, e1.Closed())
	assert.False(t, e2.Closed())
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Equal(t, int32(0), second.closed.Load())
	assert.Equal(t, []CloseReason{CloseReasonReplaced}, removed)

	got, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Same(t, e2, got)

	// removing the replaced entry directly doesn't touch the new one
	e1.lock()
	assert.False(t, r.removeLocked(e1, CloseReasonClosed))
	e1.unlock()
	_, ok = r.Lookup(key)
	assert.True(t, ok)
}

func TestRegistry_ConcurrentBegin(t *testing.T) {
	r := NewRegistry()
	key := MessageKey{ChannelID: "c", MessageID: "m"}

	messages := make([]*listMessage, 20)
	var wg sync.WaitGroup
	for i := range messages {
		messages[i] = newListMessage(t, 10, 25)
		wg.Add(1)
		go func(m *listMessage) {
			defer wg.Done()
			r.Begin(m, key, "alice", time.Minute)
		}(messages[i])
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	var open int
	for _, m := range messages {
		switch m.closed.Load() {
		case 0:
			open++
		case 1:
		default:
			t.Errorf("OnClose called %d times", m.closed.Load())
		}
	}
	assert.Equal(t, 1, open)
}

func TestRegistry_Touch(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithRegistryClock(clock.Now))
	key := MessageKey{ChannelID: "c", MessageID: "m"}
	entry := r.Begin(newListMessage(t, 10, 25), key, "alice", time.Minute)

	clock.Advance(45 * time.Second)
	require.True(t, r.Touch(key))

	entry.lock()
	assert.False(t, entry.expired(clock.Advance(45*time.Second)))
	assert.True(t, entry.expired(clock.Advance(16*time.Second)))
	entry.unlock()

	assert.False(t, r.Touch(MessageKey{ChannelID: "c", MessageID: "other"}))
}

func TestRegistry_Snapshot(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithRegistryClock(clock.Now))
	for i := 0; i < 5; i++ {
		r.Begin(
			newListMessage(t, 10, 25),
			MessageKey{ChannelID: "c", MessageID: fmt.Sprintf("m%d", i)},
			"alice",
			time.Minute,
		)
	}
	require.True(t, r.Remove(MessageKey{ChannelID: "c", MessageID: "m0"}))

	snapshots := r.Snapshot()
	require.Len(t, snapshots, 4)
	for _, s := range snapshots {
		assert.NotEqual(t, "m0", s.Key.MessageID)
		assert.Equal(t, "alice", s.OwnerID)
		assert.Equal(t, clock.Now().Add(time.Minute), s.ExpiresAt)
	}
}

func TestMessageKind(t *testing.T) {
	assert.Equal(t, "test_list", messageKind(newListMessage(t, 1, 1)))
	assert.Equal(t, "rank_graph", messageKind(&RankGraphMessage{}))
}
