package sse

import "strings"

// Collector accumulates the structured signals of one streaming turn while
// the frames themselves are relayed downstream: the running concatenation of
// message deltas, the workflow's explicit final answer when present, token
// usage, the upstream identity of the turn, and any error events.
type Collector struct {
	deltas         strings.Builder
	finalAnswer    string
	hasFinal       bool
	conversationID string
	messageID      string
	usage          *Usage
	errors         []Event
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Observe records the signals of one event. Events are observed in arrival
// order; Observe never blocks.
func (c *Collector) Observe(ev Event) {
	if c.conversationID == "" && ev.ConversationID != "" {
		c.conversationID = ev.ConversationID
	}
	if c.messageID == "" && ev.MessageID != "" {
		c.messageID = ev.MessageID
	}

	switch ev.Type {
	case EventMessage:
		c.deltas.WriteString(ev.Answer)
	case EventMessageEnd:
		if ev.Usage != nil {
			c.usage = ev.Usage
		}
	case EventWorkflowFinished:
		if answer, ok := ev.Outputs["answer"].(string); ok && answer != "" {
			c.finalAnswer = answer
			c.hasFinal = true
		}
	case EventError:
		c.errors = append(c.errors, ev)
	}
}

// Answer returns the turn's final answer text. The workflow_finished outputs
// answer wins over the concatenated message deltas when both exist.
func (c *Collector) Answer() string {
	if c.hasFinal {
		return c.finalAnswer
	}
	return c.deltas.String()
}

// ConversationID returns the first upstream conversation id seen in the stream.
func (c *Collector) ConversationID() string { return c.conversationID }

// MessageID returns the first upstream message id seen in the stream.
func (c *Collector) MessageID() string { return c.messageID }

// Usage returns the token usage reported by message_end, or nil.
func (c *Collector) Usage() *Usage { return c.usage }

// Errors returns every error event seen, in arrival order.
func (c *Collector) Errors() []Event { return c.errors }
