// Package presence tracks who is subscribed to a conversation's realtime
// channel and whether they are typing. State is ephemeral: it lives only for
// the channel session and is never persisted.
package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// State is the per-member channel lifecycle, driven by join/leave/sync events.
type State int

const (
	StateDisconnected State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// Member is one participant on the channel.
type Member struct {
	UserID   string
	State    State
	Typing   bool
	JoinedAt time.Time
}

// Broadcaster fans frames out to channel members. The realtime hub satisfies
// it in production; tests use an in-memory fake.
type Broadcaster interface {
	Broadcast(conversationID string, payload []byte, excludeUserID string) int
	NotifyUser(userID string, payload []byte) bool
}

// Frame is the wire shape for presence traffic.
type Frame struct {
	Type           string        `json:"type"` // presence_join, presence_leave, typing, presence_sync
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id,omitempty"`
	IsTyping       bool          `json:"is_typing,omitempty"`
	Members        []MemberState `json:"members,omitempty"`
}

// MemberState is the sync payload per member.
type MemberState struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// Room is the presence channel for exactly one conversation. Rooms are
// independent; typing activity never leaks across threads.
type Room struct {
	conversationID string
	bc             Broadcaster
	now            func() time.Time

	mu      sync.Mutex
	members map[string]*Member
}

// NewRoom constructs an empty room. clock may be nil.
func NewRoom(conversationID string, bc Broadcaster, clock func() time.Time) *Room {
	if clock == nil {
		clock = time.Now
	}
	return &Room{
		conversationID: conversationID,
		bc:             bc,
		now:            clock,
		members:        make(map[string]*Member),
	}
}

// Join adds userID to the room and announces it. Re-joining is a no-op on
// observable state. The member starts in Joining and is promoted to Joined
// once it has received a full-state sync, either immediately when the direct
// sync delivery succeeds or on the next periodic sync cycle.
func (r *Room) Join(userID string) bool {
	r.mu.Lock()
	if _, ok := r.members[userID]; ok {
		r.mu.Unlock()
		return false
	}
	r.members[userID] = &Member{UserID: userID, State: StateJoining, JoinedAt: r.now()}
	sync := r.syncFrameLocked()
	r.mu.Unlock()

	r.broadcast(Frame{Type: "presence_join", ConversationID: r.conversationID, UserID: userID}, userID)

	if payload, err := json.Marshal(sync); err == nil && r.bc.NotifyUser(userID, payload) {
		r.mu.Lock()
		if m, ok := r.members[userID]; ok && m.State == StateJoining {
			m.State = StateJoined
		}
		r.mu.Unlock()
	}
	return true
}

// Leave removes userID and announces it. Leaving twice, or leaving without
// having joined, is a no-op.
func (r *Room) Leave(userID string) bool {
	r.mu.Lock()
	if _, ok := r.members[userID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, userID)
	r.mu.Unlock()

	r.broadcast(Frame{Type: "presence_leave", ConversationID: r.conversationID, UserID: userID}, userID)
	return true
}

// SetTyping publishes userID's typing state to the other members. Members
// that have not joined cannot type.
func (r *Room) SetTyping(userID string, isTyping bool) bool {
	r.mu.Lock()
	m, ok := r.members[userID]
	if !ok || m.State == StateDisconnected {
		r.mu.Unlock()
		return false
	}
	if m.Typing == isTyping {
		r.mu.Unlock()
		return false
	}
	m.Typing = isTyping
	r.mu.Unlock()

	r.broadcast(Frame{Type: "typing", ConversationID: r.conversationID, UserID: userID, IsTyping: isTyping}, userID)
	return true
}

// Sync broadcasts the full member state to everyone and promotes members
// still waiting on their first sync.
func (r *Room) Sync() {
	r.mu.Lock()
	frame := r.syncFrameLocked()
	for _, m := range r.members {
		if m.State == StateJoining {
			m.State = StateJoined
		}
	}
	r.mu.Unlock()

	r.broadcast(frame, "")
}

// Snapshot returns the members sorted by user id.
func (r *Room) Snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Empty reports whether nobody is on the channel.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

func (r *Room) syncFrameLocked() Frame {
	states := make([]MemberState, 0, len(r.members))
	for _, m := range r.members {
		states = append(states, MemberState{UserID: m.UserID, IsTyping: m.Typing})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UserID < states[j].UserID })
	return Frame{Type: "presence_sync", ConversationID: r.conversationID, Members: states}
}

func (r *Room) broadcast(f Frame, excludeUserID string) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	r.bc.Broadcast(r.conversationID, payload, excludeUserID)
}
