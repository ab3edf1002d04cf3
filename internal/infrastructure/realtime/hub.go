package realtime

import (
	"sync"
)

// Hub coordinates websocket sessions and logical rooms (conversations).
// It keeps one active Connection per user while allowing efficient fan-out
// to all members subscribed to a conversation. Each conversation is an
// independent room, so no frame leaks across threads.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // sessionID -> connection
	userSessions map[string]string                 // userID -> sessionID
	rooms        map[string]map[string]*Connection // conversationID -> sessionID -> connection
	sessionRooms map[string]map[string]struct{}    // sessionID -> set of conversationIDs

	// onDetach, when set, is invoked after a session is removed for every room
	// it belonged to. Presence uses it to clean up members that dropped
	// without an explicit leave.
	onDetach func(conversationID, userID string)
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[string]*Connection),
		userSessions: make(map[string]string),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
	}
}

// OnDetach registers the dead-peer cleanup hook. Must be called before the
// hub starts accepting connections.
func (h *Hub) OnDetach(fn func(conversationID, userID string)) {
	h.onDetach = fn
}

// Attach registers a connection for the given user. If a previous session exists,
// it is removed and closed after the swap to enforce one active socket per user.
func (h *Hub) Attach(conn *Connection) {
	var previous *Connection

	h.mu.Lock()
	if existingID, ok := h.userSessions[conn.UserID]; ok {
		if existing := h.sessions[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}

	h.sessions[conn.ID] = conn
	h.userSessions[conn.UserID] = conn.ID
	h.sessionRooms[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
}

// Detach removes a connection if it is still tracked and fires the dead-peer
// hook for every room it was in.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	orphaned := h.detachLocked(conn.ID)
	h.mu.Unlock()

	if h.onDetach != nil {
		for _, conversationID := range orphaned {
			h.onDetach(conversationID, conn.UserID)
		}
	}
}

// Join adds the connection to the conversation room.
func (h *Hub) Join(conversationID string, conn *Connection) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}

	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[conversationID] = room
	}
	room[conn.ID] = conn

	memberships := h.sessionRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.sessionRooms[conn.ID] = memberships
	}
	memberships[conversationID] = struct{}{}
	h.mu.Unlock()
}

// Leave removes the connection from the conversation room.
func (h *Hub) Leave(conversationID string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(conversationID, conn.ID)
	h.mu.Unlock()
}

// Broadcast writes payload to all members in the conversation.
// excludeUserID, when non-empty, prevents delivering to that user.
func (h *Hub) Broadcast(conversationID string, payload []byte, excludeUserID string) int {
	h.mu.RLock()
	room := h.rooms[conversationID]
	if len(room) == 0 {
		h.mu.RUnlock()
		return 0
	}

	delivered := 0
	for _, conn := range room {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	h.mu.RUnlock()
	return delivered
}

// NotifyUser delivers payload to the current connection of the given user.
func (h *Hub) NotifyUser(userID string, payload []byte) bool {
	h.mu.RLock()
	sessionID, ok := h.userSessions[userID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	conn := h.sessions[sessionID]
	h.mu.RUnlock()
	if conn == nil {
		return false
	}
	return conn.Send(payload) == nil
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		sessions = append(sessions, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.userSessions = make(map[string]string)
	h.rooms = make(map[string]map[string]*Connection)
	h.sessionRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "hub shutdown")
	}
}

// detachLocked removes the session and returns the conversation ids it was in.
func (h *Hub) detachLocked(sessionID string) []string {
	conn, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(h.sessions, sessionID)

	if current, ok := h.userSessions[conn.UserID]; ok && current == sessionID {
		delete(h.userSessions, conn.UserID)
	}

	orphaned := make([]string, 0, len(h.sessionRooms[sessionID]))
	for roomID := range h.sessionRooms[sessionID] {
		orphaned = append(orphaned, roomID)
		h.leaveLocked(roomID, sessionID)
	}
	delete(h.sessionRooms, sessionID)
	return orphaned
}

func (h *Hub) leaveLocked(conversationID string, sessionID string) {
	if sessionID == "" {
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	if memberships, ok := h.sessionRooms[sessionID]; ok {
		delete(memberships, conversationID)
		if len(memberships) == 0 {
			delete(h.sessionRooms, sessionID)
		}
	}
}
