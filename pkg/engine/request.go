// Package engine provides the wire contract and HTTP client for the upstream
// conversational workflow engine: building turn requests, sending them in
// buffered or streaming mode, and the engine's error taxonomy.
package engine

import (
	"strings"
)

// ResponseMode selects how the engine delivers its reply.
type ResponseMode string

const (
	// ModeBuffered requests a single JSON reply ("blocking" on the wire).
	ModeBuffered ResponseMode = "blocking"

	// ModeStreaming requests a chunked event stream.
	ModeStreaming ResponseMode = "streaming"
)

// reservedInputPrefix marks inputs keys owned by the engine's own
// conversation-scoped state. Injecting such keys from the client side
// corrupts the engine's internal state (observed as workflow branch
// misrouting and state resets), so they are stripped unconditionally.
const reservedInputPrefix = "conversation"

// Continuation is the resolved upstream identity for a turn.
type Continuation struct {
	// UpstreamID is the engine's conversation id, empty for a first turn.
	UpstreamID string

	// IsNew reports whether the engine should open a fresh conversation.
	IsNew bool
}

// TurnRequest is the outbound payload for one chat turn.
type TurnRequest struct {
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ResponseMode   ResponseMode   `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
}

// SanitizeInputs returns a copy of raw with every reserved-prefix key removed
// (case-insensitive match). Returns nil when nothing survives, so the inputs
// field is omitted entirely rather than sent as an empty object — the engine
// treats an explicit empty inputs object as a state reset.
func SanitizeInputs(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(strings.ToLower(k), reservedInputPrefix) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// BuildTurnRequest produces the exact outbound payload for a turn. The
// conversation_id field is present if and only if the turn continues an
// existing upstream conversation. Pure transform; no side effects.
func BuildTurnRequest(message string, conv Continuation, rawInputs map[string]any, user string, mode ResponseMode) (*TurnRequest, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if user == "" {
		return nil, ErrMissingUser
	}

	req := &TurnRequest{
		Query:        message,
		User:         user,
		ResponseMode: mode,
		Inputs:       SanitizeInputs(rawInputs),
	}
	if !conv.IsNew {
		req.ConversationID = conv.UpstreamID
	}
	return req, nil
}
