package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	identityport "careline/internal/infrastructure/identity/port"
	"careline/internal/infrastructure/realtime"
	"careline/internal/metrics"
	"careline/internal/pkg/messaging/application/attachment"
	"careline/internal/pkg/messaging/application/notify"
	"careline/internal/pkg/messaging/application/optimistic"
	"careline/internal/pkg/messaging/application/usecase"
	repository "careline/internal/pkg/messaging/persistence/repository/port"
	"careline/internal/pkg/messaging/presence"

	messaging "careline/internal/pkg/messaging/domain"
)

// MessagingSocketController handles the websocket endpoint carrying message
// sends, presence and typing traffic. Each open conversation is an
// independent logical session: joining subscribes the socket to that room's
// broadcasts and creates a per-conversation optimistic controller.
type MessagingSocketController struct {
	hub           *realtime.Hub
	broadcaster   presence.Broadcaster
	registry      *presence.Registry
	identity      identityport.Identity
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	pipeline      *attachment.Pipeline
	notifier      notify.Notifier
	lists         *usecase.ListConversationsUseCase
	log           zerolog.Logger
	metrics       *metrics.Metrics
	settleTimeout time.Duration
	writeWait     time.Duration
	pingPeriod    time.Duration

	// roomMu guards the node-local index of live session controllers per
	// conversation, used to mirror confirmed sends into peer session views.
	roomMu sync.Mutex
	rooms  map[string]map[*optimistic.Controller]struct{}
}

// SocketDeps bundles the collaborators of the socket controller.
type SocketDeps struct {
	Hub           *realtime.Hub
	Broadcaster   presence.Broadcaster
	Registry      *presence.Registry
	Identity      identityport.Identity
	Messages      repository.MessageRepository
	Conversations repository.ConversationRepository
	Pipeline      *attachment.Pipeline
	Notifier      notify.Notifier
	Lists         *usecase.ListConversationsUseCase
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	SettleTimeout time.Duration
	WriteWait     time.Duration
	PingPeriod    time.Duration
}

func NewMessagingSocketController(d SocketDeps) *MessagingSocketController {
	return &MessagingSocketController{
		hub:           d.Hub,
		broadcaster:   d.Broadcaster,
		registry:      d.Registry,
		identity:      d.Identity,
		messages:      d.Messages,
		conversations: d.Conversations,
		pipeline:      d.Pipeline,
		notifier:      d.Notifier,
		lists:         d.Lists,
		log:           d.Logger.With().Str("component", "socket").Logger(),
		metrics:       d.Metrics,
		settleTimeout: d.SettleTimeout,
		writeWait:     d.WriteWait,
		pingPeriod:    d.PingPeriod,
		rooms:         make(map[string]map[*optimistic.Controller]struct{}),
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The gateway in front of this service enforces origin policy.
		return true
	},
}

type inboundFrame struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Content        string              `json:"content,omitempty"`
	IsTyping       bool                `json:"is_typing,omitempty"`
	Attachments    []inboundAttachment `json:"attachments,omitempty"`
}

// inboundAttachment carries one attachment on a message frame. Data is
// base64-encoded on the wire; content-only messages omit the field entirely.
type inboundAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	TempID    string `json:"temp_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type messageFrame struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	TempID         string   `json:"temp_id,omitempty"`
	Message        gin.H    `json:"message"`
	FailedFiles    []string `json:"failed_files,omitempty"`
}

type messageListFrame struct {
	Type           string  `json:"type"`
	ConversationID string  `json:"conversation_id"`
	Messages       []gin.H `json:"messages"`
}

const defaultReadTimeout = 60 * time.Second

// socketSession tracks the per-connection optimistic controllers.
type socketSession struct {
	mu          sync.Mutex
	controllers map[string]*optimistic.Controller
	done        chan struct{}
}

// Handle upgrades HTTP connections to websocket and processes frames until the client disconnects.
func (ctl *MessagingSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := ctl.identity.CurrentUser(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		senderType, err := messaging.ParseSenderType(string(user.Role))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just return.
			return
		}

		conn := realtime.NewConnection(user.ID, ws, realtime.ConnOptions{
			WriteWait:  ctl.writeWait,
			PingPeriod: ctl.pingPeriod,
			OnOverflow: func() {
				if ctl.metrics != nil {
					ctl.metrics.SocketOverflows.Inc()
				}
			},
		})
		ctl.hub.Attach(conn)
		if ctl.metrics != nil {
			ctl.metrics.SocketsConnected.Inc()
		}

		session := &socketSession{
			controllers: make(map[string]*optimistic.Controller),
			done:        make(chan struct{}),
		}
		defer func() {
			close(session.done)
			ctl.dropSession(session)
			ctl.hub.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
			if ctl.metrics != nil {
				ctl.metrics.SocketsConnected.Dec()
			}
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		if payload, err := json.Marshal(ackFrame{Type: "connected"}); err == nil {
			_ = conn.Send(payload)
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
					errors.Is(err, websocket.ErrCloseSent) {
					return
				}
				ctl.replyError(conn, "read_error", err.Error())
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "bad_request", "invalid payload")
				continue
			}
			if frame.ConversationID == "" {
				ctl.replyError(conn, "bad_request", "conversation_id is required")
				continue
			}

			switch frame.Type {
			case "join":
				ctl.handleJoin(session, conn, user, frame.ConversationID)
			case "leave":
				ctl.handleLeave(conn, user, frame.ConversationID)
			case "typing":
				ctl.registry.SetTyping(frame.ConversationID, user.ID, frame.IsTyping)
			case "message":
				ctl.handleMessage(session, conn, user, senderType, frame)
			case "messages":
				ctl.handleVisible(session, conn, user, frame.ConversationID)
			default:
				ctl.replyError(conn, "unsupported_type", "unknown frame type")
			}
		}
	}
}

func (ctl *MessagingSocketController) handleJoin(session *socketSession, conn *realtime.Connection, user identityport.User, conversationID string) {
	ctl.hub.Join(conversationID, conn)
	ctl.registry.Join(conversationID, user.ID)
	ctl.sessionController(session, conn, user.ID, conversationID)

	if payload, err := json.Marshal(ackFrame{Type: "joined", ConversationID: conversationID}); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *MessagingSocketController) handleLeave(conn *realtime.Connection, user identityport.User, conversationID string) {
	ctl.registry.Leave(conversationID, user.ID)
	ctl.hub.Leave(conversationID, conn)

	if payload, err := json.Marshal(ackFrame{Type: "left", ConversationID: conversationID}); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *MessagingSocketController) handleMessage(session *socketSession, conn *realtime.Connection, user identityport.User, senderType messaging.SenderType, frame inboundFrame) {
	ctrl := ctl.sessionController(session, conn, user.ID, frame.ConversationID)

	files := make([]attachment.File, 0, len(frame.Attachments))
	for _, a := range frame.Attachments {
		files = append(files, attachment.File{Name: a.Name, ContentType: a.ContentType, Data: a.Data})
	}

	entry, err := ctrl.Send(optimistic.SendInput{
		SenderID:   user.ID,
		SenderType: senderType,
		Content:    frame.Content,
		Files:      files,
	})
	if err != nil {
		ctl.replyError(conn, "bad_request", err.Error())
		return
	}

	// The provisional entry is immediately visible to the sender.
	out := messageFrame{
		Type:           "message_pending",
		ConversationID: frame.ConversationID,
		TempID:         entry.TempID,
		Message:        messagePayload(entry.Message),
	}
	if payload, err := json.Marshal(out); err == nil {
		_ = conn.Send(payload)
	}
}

// sessionController returns the optimistic controller for the conversation,
// creating it and its settle pump on first use. New controllers are indexed
// per conversation so peer sessions on this node receive confirmed sends.
func (ctl *MessagingSocketController) sessionController(session *socketSession, conn *realtime.Connection, userID, conversationID string) *optimistic.Controller {
	session.mu.Lock()
	defer session.mu.Unlock()
	if ctrl, ok := session.controllers[conversationID]; ok {
		return ctrl
	}
	ctrl := optimistic.NewController(optimistic.Config{
		ConversationID: conversationID,
		Messages:       ctl.messages,
		Conversations:  ctl.conversations,
		Pipeline:       ctl.pipeline,
		Notifier:       ctl.notifier,
		Logger:         ctl.log,
		Metrics:        ctl.metrics,
		SettleTimeout:  ctl.settleTimeout,
	})
	session.controllers[conversationID] = ctrl

	ctl.roomMu.Lock()
	peers := ctl.rooms[conversationID]
	if peers == nil {
		peers = make(map[*optimistic.Controller]struct{})
		ctl.rooms[conversationID] = peers
	}
	peers[ctrl] = struct{}{}
	ctl.roomMu.Unlock()

	go ctl.pumpSettles(session, conn, userID, conversationID, ctrl)
	return ctrl
}

// handleVisible replies with the session's current view of the conversation:
// confirmed entries in store order, provisional entries in send order.
func (ctl *MessagingSocketController) handleVisible(session *socketSession, conn *realtime.Connection, user identityport.User, conversationID string) {
	ctrl := ctl.sessionController(session, conn, user.ID, conversationID)

	entries := ctrl.Visible()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		p := messagePayload(e.Message)
		if e.Pending {
			p["pending"] = true
			p["temp_id"] = e.TempID
		}
		out = append(out, p)
	}

	frame := messageListFrame{Type: "messages", ConversationID: conversationID, Messages: out}
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

// dropSession removes every controller the session registered from the
// per-conversation index.
func (ctl *MessagingSocketController) dropSession(session *socketSession) {
	session.mu.Lock()
	defer session.mu.Unlock()
	ctl.roomMu.Lock()
	defer ctl.roomMu.Unlock()
	for conversationID, ctrl := range session.controllers {
		if peers, ok := ctl.rooms[conversationID]; ok {
			delete(peers, ctrl)
			if len(peers) == 0 {
				delete(ctl.rooms, conversationID)
			}
		}
	}
}

// ingestPeers merges a confirmed message into the other live session views of
// the conversation on this node. Remote nodes receive the broadcast through
// the redis bridge and their clients re-render from the wire frame.
func (ctl *MessagingSocketController) ingestPeers(conversationID string, origin *optimistic.Controller, m messaging.Message) {
	ctl.roomMu.Lock()
	peers := make([]*optimistic.Controller, 0, len(ctl.rooms[conversationID]))
	for peer := range ctl.rooms[conversationID] {
		if peer != origin {
			peers = append(peers, peer)
		}
	}
	ctl.roomMu.Unlock()

	for _, peer := range peers {
		peer.Ingest(m)
	}
}

// pumpSettles forwards settle outcomes to the sender and broadcasts confirmed
// messages to the rest of the room.
func (ctl *MessagingSocketController) pumpSettles(session *socketSession, conn *realtime.Connection, userID, conversationID string, ctrl *optimistic.Controller) {
	for {
		select {
		case <-session.done:
			return
		case ev := <-ctrl.Events():
			ctl.forwardSettle(conn, userID, conversationID, ctrl, ev)
		}
	}
}

func (ctl *MessagingSocketController) forwardSettle(conn *realtime.Connection, userID, conversationID string, ctrl *optimistic.Controller, ev optimistic.Event) {
	if ev.Message == nil {
		// Full rollback: the send failed, tell the sender it can retry.
		frame := errorFrame{
			Type:      "message_failed",
			Code:      "transport_error",
			Error:     ev.Err.Error(),
			TempID:    ev.TempID,
			Retryable: true,
		}
		if payload, err := json.Marshal(frame); err == nil {
			_ = conn.Send(payload)
		}
		return
	}

	var failedFiles []string
	var pf *messaging.PartialFailure
	if errors.As(ev.Err, &pf) {
		for _, f := range pf.Failed {
			failedFiles = append(failedFiles, f.FileName)
		}
	}

	settled := messageFrame{
		Type:           "message_settled",
		ConversationID: conversationID,
		TempID:         ev.TempID,
		Message:        messagePayload(*ev.Message),
		FailedFiles:    failedFiles,
	}
	if payload, err := json.Marshal(settled); err == nil {
		_ = conn.Send(payload)
	}

	broadcast := messageFrame{
		Type:           "message",
		ConversationID: conversationID,
		Message:        messagePayload(*ev.Message),
	}
	if payload, err := json.Marshal(broadcast); err == nil {
		delivered := ctl.broadcaster.Broadcast(conversationID, payload, userID)
		if ctl.metrics != nil {
			ctl.metrics.BroadcastDelivered.Add(float64(delivered))
		}
	}

	ctl.ingestPeers(conversationID, ctrl, *ev.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	ctl.lists.InvalidateLists(ctx)
	cancel()
}

func (ctl *MessagingSocketController) replyError(conn *realtime.Connection, code string, message string) {
	frame := errorFrame{Type: "error", Code: code, Error: message}
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}
