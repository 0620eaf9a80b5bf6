package realtime

import "github.com/google/uuid"

type SSEEvent string

const (
	SSEEventChatUpserted   SSEEvent = "ChatUpserted"
	SSEEventChatRead       SSEEvent = "ChatRead"
	SSEEventMessageCreated SSEEvent = "MessageCreated"
)

// ChannelRoster carries chat-summary updates for every conversation.
// Per-chat message streams live on ChatChannel(id).
const ChannelRoster = "roster"

func ChatChannel(chatID uuid.UUID) string {
	return "chat:" + chatID.String()
}

// SSEMessage is the unit of fanout. Delivery is at-least-once: a
// reconnecting subscriber may see an item again and dedupes by the id
// inside Data.
type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`

	// Origin is the emitting instance id: the bus forwarder drops
	// messages this instance already broadcast locally.
	Origin string `json:"origin,omitempty"`
}
