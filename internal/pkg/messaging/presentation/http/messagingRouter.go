package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	identityport "careline/internal/infrastructure/identity/port"
	qport "careline/internal/infrastructure/queue/port"
	"careline/internal/infrastructure/realtime"
	storageport "careline/internal/infrastructure/storage/port"
	"careline/internal/metrics"
	"careline/internal/pkg/messaging/application/attachment"
	"careline/internal/pkg/messaging/application/notify"
	"careline/internal/pkg/messaging/application/querycache"
	"careline/internal/pkg/messaging/application/triage"
	"careline/internal/pkg/messaging/application/usecase"
	"careline/internal/pkg/messaging/persistence/repository/adapter"
	"careline/internal/pkg/messaging/presence"
	"careline/internal/pkg/messaging/presentation/controller"
)

// Deps carries the shared infrastructure the messaging endpoints build on.
type Deps struct {
	Pool          *pgxpool.Pool
	Queue         qport.Client
	Hub           *realtime.Hub
	Broadcaster   presence.Broadcaster
	Registry      *presence.Registry
	Identity      identityport.Identity
	Storage       storageport.ObjectStorage
	ListCache     *querycache.Cache
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	SettleTimeout time.Duration
	WriteWait     time.Duration
	PingPeriod    time.Duration
}

// RegisterRoutes registers the messaging endpoints under the given router group.
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, d Deps) {
	conversations := adapter.NewPgConversationRepository(d.Pool)
	messages := adapter.NewPgMessageRepository(d.Pool)
	notifier := notify.NewQueueNotifier(d.Queue, d.Logger)
	pipeline := attachment.New(d.Storage, messages, d.Logger, d.Metrics)

	listUC := usecase.NewListConversationsUseCase(conversations, d.ListCache)
	createUC := usecase.NewCreateConversationUseCase(conversations, messages, notifier)
	historyUC := usecase.NewGetHistoryUseCase(messages)
	sendUC := usecase.NewSendMessageUseCase(messages, conversations, notifier)
	readUC := usecase.NewMarkReadUseCase(messages)

	triageMgr := triage.NewManager(triage.Config{
		Conversations: conversations,
		Cache:         d.ListCache,
		Notifier:      notifier,
		Logger:        d.Logger,
		Metrics:       d.Metrics,
	})
	go drainTriageEvents(triageMgr, d.Logger)

	createCtl := controller.NewCreateConversationController(createUC, listUC, d.Identity)
	listCtl := controller.NewListConversationsController(listUC)
	historyCtl := controller.NewGetHistoryController(historyUC)
	sendCtl := controller.NewSendMessageController(sendUC, listUC, d.Identity)
	readCtl := controller.NewMarkReadController(readUC, d.Identity)
	triageCtl := controller.NewTriageController(triageMgr, d.Identity)
	uploadCtl := controller.NewUploadAttachmentController(pipeline)
	socketCtl := controller.NewMessagingSocketController(controller.SocketDeps{
		Hub:           d.Hub,
		Broadcaster:   d.Broadcaster,
		Registry:      d.Registry,
		Identity:      d.Identity,
		Messages:      messages,
		Conversations: conversations,
		Pipeline:      pipeline,
		Notifier:      notifier,
		Lists:         listUC,
		Logger:        d.Logger,
		Metrics:       d.Metrics,
		SettleTimeout: d.SettleTimeout,
		WriteWait:     d.WriteWait,
		PingPeriod:    d.PingPeriod,
	})

	// POST /api/v1/conversations -> open a conversation
	g.POST("/conversations", createCtl.Handle())

	// GET /api/v1/conversations -> filtered inbox, newest activity first
	g.GET("/conversations", listCtl.Handle())

	// GET /api/v1/conversations/:conversationId/messages -> chronological history
	g.GET("/conversations/:conversationId/messages", historyCtl.Handle())

	// POST /api/v1/conversations/:conversationId/messages -> durable send
	g.POST("/conversations/:conversationId/messages", sendCtl.Handle())

	// POST /api/v1/conversations/:conversationId/read -> mark peer messages read
	g.POST("/conversations/:conversationId/read", readCtl.Handle())

	// PATCH /api/v1/conversations/:conversationId/triage -> status/priority/tags/assignee
	g.PATCH("/conversations/:conversationId/triage", triageCtl.Handle())

	// POST /api/v1/conversations/:conversationId/messages/:messageId/attachments -> two-phase upload
	g.POST("/conversations/:conversationId/messages/:messageId/attachments", uploadCtl.Handle())

	// GET /api/v1/ws -> websocket endpoint for realtime messaging
	g.GET("/ws", socketCtl.Handle())
}

// drainTriageEvents consumes settle outcomes so the manager's event buffer
// never fills. HTTP triage edits are acknowledged before settling; the
// outcome is visible through logs and the next list read.
func drainTriageEvents(m *triage.Manager, log zerolog.Logger) {
	for ev := range m.Events() {
		if ev.Err != nil {
			log.Warn().
				Str("conversation_id", ev.ConversationID).
				Str("field", string(ev.Field)).
				Err(ev.Err).
				Msg("messagingRouter: triage edit rolled back")
		}
	}
}
