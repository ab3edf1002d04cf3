package task

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	queueport "careline/internal/infrastructure/queue/port"
	"careline/internal/pkg/messaging/application/notify"
)

// RegisterNotifyTask binds the notification handler to the worker server.
// Actual push/email delivery mechanics are out of scope for the messaging
// core; the handler hands the event to whatever sink is configured and is
// safe to retry.
func RegisterNotifyTask(srv queueport.Server, log zerolog.Logger, deliver func(ctx context.Context, ev notify.Event) error) {
	l := log.With().Str("component", "notify_worker").Logger()
	srv.Register(notify.TaskType, func(ctx context.Context, t queueport.Task) error {
		var ev notify.Event
		if err := json.Unmarshal(t.Payload, &ev); err != nil {
			// Malformed payload will never succeed; drop it.
			l.Error().Err(err).Msg("malformed notification payload")
			return nil
		}
		if deliver == nil {
			l.Info().Str("kind", string(ev.Kind)).
				Str("conversation_id", ev.ConversationID).
				Str("message_id", ev.MessageID).
				Msg("notification event")
			return nil
		}
		return deliver(ctx, ev)
	})
}
