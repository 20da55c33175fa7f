package engine

import "github.com/adcraftco/relay/pkg/sse"

// ChatReply is the engine's buffered-mode reply to one turn.
type ChatReply struct {
	Answer         string        `json:"answer"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Metadata       ReplyMetadata `json:"metadata"`

	// Recovered reports that the original request referenced a conversation
	// the engine no longer knows, and this reply came from the one-shot
	// fallback that started a fresh upstream conversation. Not on the wire.
	Recovered bool `json:"-"`
}

// ReplyMetadata carries the engine's per-turn accounting.
type ReplyMetadata struct {
	Usage *sse.Usage `json:"usage,omitempty"`
}
