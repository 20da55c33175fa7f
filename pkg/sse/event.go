package sse

import "encoding/json"

// EventType is the upstream's event discriminator.
type EventType string

const (
	EventMessage          EventType = "message"
	EventMessageEnd       EventType = "message_end"
	EventNodeStarted      EventType = "node_started"
	EventNodeFinished     EventType = "node_finished"
	EventWorkflowStarted  EventType = "workflow_started"
	EventWorkflowFinished EventType = "workflow_finished"
	EventError            EventType = "error"

	// EventUnknown covers frames that failed to decode or carry an event
	// name this relay does not recognize. They are still forwarded.
	EventUnknown EventType = ""
)

// NodeInfo describes a workflow node lifecycle event.
type NodeInfo struct {
	NodeID   string
	Title    string
	NodeType string
	Status   string
}

// Usage is the token accounting the engine reports on message_end.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Event is one classified frame from the stream.
type Event struct {
	Type EventType
	Raw  json.RawMessage

	// Answer is the incremental text for message events.
	Answer string

	ConversationID string
	MessageID      string

	// Node is set for node_started / node_finished events.
	Node NodeInfo

	// Outputs carries node_finished / workflow_finished outputs.
	Outputs map[string]any

	// Usage is set on message_end when the engine reported token counts.
	Usage *Usage

	// Code and Message are set for error events.
	Code    string
	Message string
}

// wireEvent mirrors the frame payload shape on the wire.
type wireEvent struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	Data           struct {
		NodeID   string         `json:"node_id"`
		Title    string         `json:"title"`
		NodeType string         `json:"node_type"`
		Status   string         `json:"status"`
		Outputs  map[string]any `json:"outputs"`
	} `json:"data"`
	Metadata struct {
		Usage *Usage `json:"usage"`
	} `json:"metadata"`
}

// Classify decodes a frame payload into an Event. Malformed payloads yield an
// EventUnknown event carrying the raw bytes and a non-nil error; the frame is
// still usable for verbatim relay.
func Classify(raw []byte) (Event, error) {
	ev := Event{Raw: append(json.RawMessage(nil), raw...)}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return ev, err
	}

	ev.ConversationID = w.ConversationID
	ev.MessageID = w.MessageID

	switch EventType(w.Event) {
	case EventMessage:
		ev.Type = EventMessage
		ev.Answer = w.Answer
	case EventMessageEnd:
		ev.Type = EventMessageEnd
		ev.Usage = w.Metadata.Usage
	case EventNodeStarted:
		ev.Type = EventNodeStarted
		ev.Node = NodeInfo{NodeID: w.Data.NodeID, Title: w.Data.Title, NodeType: w.Data.NodeType}
	case EventNodeFinished:
		ev.Type = EventNodeFinished
		ev.Node = NodeInfo{NodeID: w.Data.NodeID, Title: w.Data.Title, NodeType: w.Data.NodeType, Status: w.Data.Status}
		ev.Outputs = w.Data.Outputs
	case EventWorkflowStarted:
		ev.Type = EventWorkflowStarted
	case EventWorkflowFinished:
		ev.Type = EventWorkflowFinished
		ev.Outputs = w.Data.Outputs
	case EventError:
		ev.Type = EventError
		ev.Code = w.Code
		ev.Message = w.Message
	default:
		ev.Type = EventUnknown
	}

	return ev, nil
}
