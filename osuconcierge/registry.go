package osuconcierge

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

const (
	defaultRegistryShards = 32

	// OwnerAnyone is the owner ID of entries whose controls can be used
	// by anyone
	OwnerAnyone = ""

	// generation of a newly registered entry, which its first page is
	// rendered for
	initialGeneration uint64 = 0
)

// CloseReason describes why an active message stopped being tracked
type CloseReason string

const (
	CloseReasonReplaced CloseReason = "replaced"
	CloseReasonExpired  CloseReason = "expired"
	CloseReasonClosed   CloseReason = "closed"
	CloseReasonTerminal CloseReason = "terminal"
	CloseReasonAdmin    CloseReason = "admin"
	CloseReasonShutdown CloseReason = "shutdown"
)

// MessageKey identifies a posted Discord message
type MessageKey struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

func (k MessageKey) String() string {
	return k.ChannelID + "/" + k.MessageID
}

func (k MessageKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("channel_id", k.ChannelID),
		slog.String("message_id", k.MessageID),
	)
}

// Entry is a tracked active message.
//
// All reads and writes of the instance, and of the entry's mutable
// fields, happen while holding mu. The registry's shard locks only
// guard the shard maps.
type Entry struct {
	ID           uuid.UUID
	Key          MessageKey
	OwnerID      string
	Kind         string
	CreatedAt    time.Time
	ExpiresAfter time.Duration

	mu              sync.Mutex
	instance        ActiveMessage
	lastInteraction time.Time
	generation      uint64
	closed          bool
	closeReason     CloseReason
	controls        []discordgo.MessageComponent
}

// EntrySnapshot is a point-in-time copy of an [Entry]'s state
type EntrySnapshot struct {
	ID              string        `json:"id"`
	Key             MessageKey    `json:"key"`
	OwnerID         string        `json:"owner_id"`
	Kind            string        `json:"kind"`
	CreatedAt       time.Time     `json:"created_at"`
	LastInteraction time.Time     `json:"last_interaction"`
	ExpiresAfter    time.Duration `json:"expires_after"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Generation      uint64        `json:"generation"`
}

func (e *Entry) lock() {
	e.mu.Lock()
}

func (e *Entry) unlock() {
	e.mu.Unlock()
}

// authorized reports whether the given user may use the entry's controls
func (e *Entry) authorized(userID string) bool {
	if e.OwnerID == OwnerAnyone {
		return true
	}
	if p, ok := e.instance.(publicActiveMessage); ok && p.AnyoneMayInteract() {
		return true
	}
	return e.OwnerID == userID
}

// expired reports whether the entry has been idle for longer than its TTL.
// Must be called with the lock held.
func (e *Entry) expired(now time.Time) bool {
	return now.Sub(e.lastInteraction) > e.ExpiresAfter
}

// close marks the entry closed and releases instance resources.
// Returns false if it was already closed. Must be called with the lock
// held.
func (e *Entry) close(reason CloseReason) bool {
	if e.closed {
		return false
	}
	e.closed = true
	e.closeReason = reason
	if c, ok := e.instance.(activeMessageCloser); ok {
		c.OnClose()
	}
	return true
}

// Closed reports whether the entry has been closed
func (e *Entry) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Entry) snapshot() EntrySnapshot {
	return EntrySnapshot{
		ID:              e.ID.String(),
		Key:             e.Key,
		OwnerID:         e.OwnerID,
		Kind:            e.Kind,
		CreatedAt:       e.CreatedAt,
		LastInteraction: e.lastInteraction,
		ExpiresAfter:    e.ExpiresAfter,
		ExpiresAt:       e.lastInteraction.Add(e.ExpiresAfter),
		Generation:      e.generation,
	}
}

func (e *Entry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", e.ID.String()),
		slog.Any("key", e.Key),
		slog.String("owner_id", e.OwnerID),
		slog.String("kind", e.Kind),
	)
}

type registryShard struct {
	mu      sync.Mutex
	entries map[MessageKey]*Entry
}

// Registry tracks live active messages, keyed by message.
//
// Keys are spread across shards, each guarding its own map, so lookups
// for different messages rarely contend. Per-message operations are
// serialized on the entry itself.
type Registry struct {
	shards   []*registryShard
	now      func() time.Time
	onBegin  func(*Entry)
	onRemove func(*Entry, CloseReason)
}

type RegistryOption func(*Registry)

// WithRegistryClock overrides the registry's time source
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRegistryShards sets the number of shards (minimum 1)
func WithRegistryShards(n int) RegistryOption {
	return func(r *Registry) {
		n = max(n, 1)
		r.shards = make([]*registryShard, n)
	}
}

// WithRegistryHooks sets functions called after an entry is added,
// and after an entry is removed. Hooks run while the entry's lock is held,
// and must not call back into the registry for the same key.
func WithRegistryHooks(onBegin func(*Entry), onRemove func(*Entry, CloseReason)) RegistryOption {
	return func(r *Registry) {
		r.onBegin = onBegin
		r.onRemove = onRemove
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		shards: make([]*registryShard, defaultRegistryShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: map[MessageKey]*Entry{}}
	}
	return r
}

func (r *Registry) shard(key MessageKey) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.ChannelID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.MessageID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Begin starts tracking the given instance. If the key is already
// tracked, the existing entry is closed before being replaced.
func (r *Registry) Begin(
	instance ActiveMessage,
	key MessageKey,
	ownerID string,
	ttl time.Duration,
) *Entry {
	now := r.now()
	entry := &Entry{
		ID:              uuid.New(),
		generation:      initialGeneration,
		Key:             key,
		OwnerID:         ownerID,
		Kind:            messageKind(instance),
		CreatedAt:       now,
		ExpiresAfter:    ttl,
		instance:        instance,
		lastInteraction: now,
		controls:        instance.RenderControls(),
	}

	s := r.shard(key)
	for {
		s.mu.Lock()
		existing := s.entries[key]
		if existing == nil {
			s.entries[key] = entry
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		existing.lock()
		s.mu.Lock()
		if s.entries[key] != existing {
			// removed or replaced while we waited on its lock
			s.mu.Unlock()
			existing.unlock()
			continue
		}
		existing.close(CloseReasonReplaced)
		s.entries[key] = entry
		s.mu.Unlock()
		if r.onRemove != nil {
			r.onRemove(existing, CloseReasonReplaced)
		}
		existing.unlock()
		break
	}

	if r.onBegin != nil {
		entry.lock()
		r.onBegin(entry)
		entry.unlock()
	}
	return entry
}

// Lookup returns the entry for the given key. Closed entries are
// treated as missing.
func (r *Registry) Lookup(key MessageKey) (*Entry, bool) {
	s := r.shard(key)
	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if !ok || entry.Closed() {
		return nil, false
	}
	return entry, true
}

// Touch resets the idle timer for the given key
func (r *Registry) Touch(key MessageKey) bool {
	entry, ok := r.Lookup(key)
	if !ok {
		return false
	}
	entry.lock()
	defer entry.unlock()
	if entry.closed {
		return false
	}
	entry.lastInteraction = r.now()
	return true
}

// touchLocked is [Registry.Touch] for callers already holding the
// entry's lock
func (r *Registry) touchLocked(entry *Entry) {
	entry.lastInteraction = r.now()
}

// Remove closes and stops tracking the entry for the given key.
// It's safe to call more than once, and returns true only for the
// call that removed the entry.
func (r *Registry) Remove(key MessageKey) bool {
	return r.RemoveWithReason(key, CloseReasonClosed)
}

func (r *Registry) RemoveWithReason(key MessageKey, reason CloseReason) bool {
	s := r.shard(key)
	s.mu.Lock()
	entry, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.lock()
	defer entry.unlock()
	return r.removeLocked(entry, reason)
}

// removeLocked closes the entry and removes it from its shard. Must be
// called with the entry's lock held.
func (r *Registry) removeLocked(entry *Entry, reason CloseReason) bool {
	closedNow := entry.close(reason)

	s := r.shard(entry.Key)
	s.mu.Lock()
	if s.entries[entry.Key] == entry {
		delete(s.entries, entry.Key)
	}
	s.mu.Unlock()

	if closedNow && r.onRemove != nil {
		r.onRemove(entry, reason)
	}
	return closedNow
}

// Entries returns all currently tracked entries
func (r *Registry) Entries() []*Entry {
	var rv []*Entry
	for _, s := range r.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			rv = append(rv, e)
		}
		s.mu.Unlock()
	}
	return rv
}

// Snapshot returns a copy of the state of all open entries
func (r *Registry) Snapshot() []EntrySnapshot {
	entries := r.Entries()
	rv := make([]EntrySnapshot, 0, len(entries))
	for _, e := range entries {
		e.lock()
		if !e.closed {
			rv = append(rv, e.snapshot())
		}
		e.unlock()
	}
	return rv
}

// Len returns the number of tracked entries
func (r *Registry) Len() int {
	var n int
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
