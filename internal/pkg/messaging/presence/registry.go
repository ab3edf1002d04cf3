package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"careline/internal/metrics"
)

// Registry owns one Room per conversation and drives the periodic full-state
// sync cycle. Rooms are created on demand and dropped once empty.
type Registry struct {
	bc           Broadcaster
	syncInterval time.Duration
	log          zerolog.Logger
	metrics      *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry constructs a Registry. metrics may be nil.
func NewRegistry(bc Broadcaster, syncInterval time.Duration, log zerolog.Logger, m *metrics.Metrics) *Registry {
	if syncInterval <= 0 {
		syncInterval = 5 * time.Second
	}
	return &Registry{
		bc:           bc,
		syncInterval: syncInterval,
		log:          log.With().Str("component", "presence").Logger(),
		metrics:      m,
		rooms:        make(map[string]*Room),
	}
}

// Room returns the presence room for a conversation, creating it if needed.
// Membership changes must go through the Registry methods; a room pointer
// held across the sweep in syncAll may no longer be tracked.
func (r *Registry) Room(conversationID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[conversationID]
	if !ok {
		room = NewRoom(conversationID, r.bc, nil)
		r.rooms[conversationID] = room
	}
	return room
}

// Join adds userID to the conversation's room. The lookup-or-create and the
// member add stay under mu so the empty-room sweep in syncAll cannot drop the
// room between them.
func (r *Registry) Join(conversationID, userID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	if !ok {
		room = NewRoom(conversationID, r.bc, nil)
		r.rooms[conversationID] = room
	}
	joined := room.Join(userID)
	r.mu.Unlock()

	if joined && r.metrics != nil {
		r.metrics.PresenceJoins.Inc()
	}
	return joined
}

// Leave removes userID from the conversation's room, if present.
func (r *Registry) Leave(conversationID, userID string) bool {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	left := room.Leave(userID)
	if left && r.metrics != nil {
		r.metrics.PresenceLeaves.Inc()
	}
	return left
}

// SetTyping publishes userID's typing state on the conversation's channel.
func (r *Registry) SetTyping(conversationID, userID string, isTyping bool) bool {
	r.mu.Lock()
	room, ok := r.rooms[conversationID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	changed := room.SetTyping(userID, isTyping)
	if changed && r.metrics != nil {
		r.metrics.TypingBroadcasts.Inc()
	}
	return changed
}

// HandleDetach is the hub's dead-peer hook: a member whose socket dropped
// without an explicit leave is removed by the transport's own cleanup.
func (r *Registry) HandleDetach(conversationID, userID string) {
	if r.Leave(conversationID, userID) {
		r.log.Debug().Str("conversation_id", conversationID).Str("user_id", userID).Msg("presence cleaned up after detach")
	}
}

// Run drives the sync cycle until ctx is canceled, dropping empty rooms.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.syncAll()
		}
	}
}

func (r *Registry) syncAll() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		if room.Empty() {
			delete(r.rooms, id)
			continue
		}
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.Sync()
	}
}
