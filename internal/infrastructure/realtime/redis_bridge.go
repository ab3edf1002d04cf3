package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const bridgeChannel = "careline:realtime"

// bridgeEnvelope is the wire format relayed between nodes.
type bridgeEnvelope struct {
	Origin         string          `json:"origin"`
	ConversationID string          `json:"conversation_id"`
	ExcludeUserID  string          `json:"exclude_user_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// RedisBridge fans conversation frames out across nodes via redis pub/sub.
// Locally attached members get frames straight from the Hub; members connected
// to other nodes receive them through the subscription loop.
type RedisBridge struct {
	node   string
	hub    *Hub
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisBridge wires a hub to a shared redis client.
func NewRedisBridge(hub *Hub, client *redis.Client, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		node:   uuid.NewString(),
		hub:    hub,
		client: client,
		log:    log.With().Str("component", "realtime_bridge").Logger(),
	}
}

// Broadcast delivers payload to local room members and publishes it for peers.
// It returns the local delivery count.
func (b *RedisBridge) Broadcast(conversationID string, payload []byte, excludeUserID string) int {
	delivered := b.hub.Broadcast(conversationID, payload, excludeUserID)

	env := bridgeEnvelope{
		Origin:         b.node,
		ConversationID: conversationID,
		ExcludeUserID:  excludeUserID,
		Payload:        payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return delivered
	}
	// Publish is best-effort; local delivery already happened.
	if err := b.client.Publish(context.Background(), bridgeChannel, raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("publish failed")
	}
	return delivered
}

// NotifyUser delivers payload to a user's local sessions. Direct deliveries
// target the session that triggered them, which is always on this node.
func (b *RedisBridge) NotifyUser(userID string, payload []byte) bool {
	return b.hub.NotifyUser(userID, payload)
}

// Run consumes peer broadcasts until ctx is canceled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("malformed bridge envelope")
				continue
			}
			if env.Origin == b.node {
				continue
			}
			b.hub.Broadcast(env.ConversationID, env.Payload, env.ExcludeUserID)
		}
	}
}
