// Package conversation owns local conversation identity and turn persistence:
// the mapping from the application's conversation handle to the engine's
// conversation id, the message history of completed turns, and the credit
// ledger debited per turn.
package conversation

import "time"

// Role identifies who authored a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Handle is the application's identity for one conversation. UpstreamID is
// either nil (the engine has not created its side yet) or a value the engine
// returned for this exact LocalID — never guessed or synthesized locally.
type Handle struct {
	LocalID    string    `json:"local_id"`
	UpstreamID *string   `json:"upstream_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one persisted message of a completed turn.
type Message struct {
	ID      int64  `json:"id"`
	LocalID string `json:"local_id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Token accounting, zero when the engine did not report usage.
	PromptTokens     int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens int64 `json:"completion_tokens,omitempty"`
	TotalTokens      int64 `json:"total_tokens,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is one credit movement for a user. Turn debits are negative,
// grants positive; a balance is the sum of deltas.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when no handle exists for a local id.
type ErrNotFound struct {
	LocalID string
}

func (e ErrNotFound) Error() string {
	if e.LocalID == "" {
		return "conversation not found"
	}
	return "conversation not found: " + e.LocalID
}
