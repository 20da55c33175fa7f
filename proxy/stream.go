package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adcraftco/relay/pkg/conversation"
	"github.com/adcraftco/relay/pkg/engine"
	"github.com/adcraftco/relay/pkg/sse"
)

// handleTurnStream relays one streaming turn as Server-Sent Events. Frames
// are forwarded downstream verbatim in arrival order while their signals are
// extracted in the same pass; the turn is persisted once the stream reaches
// its terminal state.
func (p *Proxy) handleTurnStream(c *fiber.Ctx) error {
	startTime := time.Now()
	localID := c.Params("conversationID")

	var body turnBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body"})
	}
	user := p.callerIdentity(body.User)

	unlock := p.resolver.Lock(localID)
	// Released by the stream writer once the turn is fully processed; on
	// every early return below it is released here.
	finished := false
	defer func() {
		if !finished {
			unlock()
		}
	}()

	res, err := p.resolver.Resolve(c.Context(), localID)
	if err != nil {
		p.logger.Error("failed to resolve conversation", zap.String("local_id", localID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal error"})
	}

	req, err := engine.BuildTurnRequest(body.Message,
		engine.Continuation{UpstreamID: res.UpstreamID, IsNew: res.IsNew},
		body.Inputs, user, engine.ModeStreaming)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error()})
	}

	stream, err := p.engine.SendStreaming(c.Context(), req)
	if err != nil && engine.IsConversationNotFound(err) && !res.IsNew {
		// The engine rejects a stale conversation reference before any
		// frame is emitted, so nothing has reached the caller yet: clear
		// the linkage and restart once as a fresh conversation.
		if clearErr := p.resolver.OnUpstreamNotFound(c.Context(), localID); clearErr != nil {
			p.logger.Warn("failed to clear stale upstream id", zap.String("local_id", localID), zap.Error(clearErr))
		}
		res = conversation.Resolution{LocalID: localID, IsNew: true}
		req, err = engine.BuildTurnRequest(body.Message,
			engine.Continuation{IsNew: true}, body.Inputs, user, engine.ModeStreaming)
		if err == nil {
			stream, err = p.engine.SendStreaming(c.Context(), req)
		}
	}
	if err != nil {
		return p.turnError(c, localID, err)
	}

	// Set up streaming response headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	assign := res.IsNew
	finished = true

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unlock()
		defer stream.Close()

		collector := sse.NewCollector()
		completed := p.relay(w, stream, collector, localID)

		if !completed {
			// The caller disconnected mid-stream; the upstream read has
			// been abandoned and the turn did not complete.
			p.logger.Debug("stream aborted by downstream",
				zap.String("local_id", localID),
				zap.Duration("duration", time.Since(startTime)),
			)
			return
		}

		p.logger.Debug("streaming complete",
			zap.String("local_id", localID),
			zap.String("answer_preview", truncate(collector.Answer(), 200)),
			zap.Int("error_events", len(collector.Errors())),
			zap.Duration("duration", time.Since(startTime)),
		)

		p.persistTurn(localID, user, body.Message, collector.Answer(),
			collector.Usage(), collector.ConversationID(), assign)
	}))

	return nil
}

// relay pumps frames from the upstream stream to w, forwarding each frame
// verbatim and feeding its signals to the collector. Flow control follows
// the downstream writer: a frame is flushed before the next upstream read.
// Returns false when the downstream went away before the stream's terminal
// state.
func (p *Proxy) relay(w *bufio.Writer, stream *engine.Stream, collector *sse.Collector, localID string) bool {
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			// Transport closed without a [DONE]; still terminate the
			// downstream stream cleanly.
			return p.writeDone(w)
		}
		if err != nil {
			p.logger.Warn("error reading upstream stream",
				zap.String("local_id", localID), zap.Error(err))
			return p.writeDone(w)
		}
		if frame.Done {
			return p.writeDone(w)
		}

		ev, decErr := sse.Classify(frame.Data)
		if decErr != nil {
			// Malformed frames are forwarded as-is; one bad frame must not
			// kill an otherwise healthy turn.
			p.logger.Warn("malformed stream frame, forwarding as-is",
				zap.String("local_id", localID),
				zap.String("frame_preview", truncate(string(frame.Data), 120)),
			)
		} else {
			collector.Observe(ev)
			p.logStreamEvent(localID, ev)
		}

		w.WriteString("data: ")
		w.Write(frame.Data)
		w.WriteString("\n\n")
		if err := w.Flush(); err != nil {
			return false
		}
	}
}

func (p *Proxy) writeDone(w *bufio.Writer) bool {
	w.WriteString("data: [DONE]\n\n")
	return w.Flush() == nil
}

// logStreamEvent surfaces workflow lifecycle signals for monitoring without
// affecting relay.
func (p *Proxy) logStreamEvent(localID string, ev sse.Event) {
	switch ev.Type {
	case sse.EventNodeStarted:
		p.logger.Debug("workflow node started",
			zap.String("local_id", localID),
			zap.String("node_id", ev.Node.NodeID),
			zap.String("node_title", ev.Node.Title),
			zap.String("node_type", ev.Node.NodeType),
		)
	case sse.EventNodeFinished:
		p.logger.Debug("workflow node finished",
			zap.String("local_id", localID),
			zap.String("node_id", ev.Node.NodeID),
			zap.String("node_title", ev.Node.Title),
			zap.String("status", ev.Node.Status),
		)
	case sse.EventError:
		p.logger.Error("engine reported stream error",
			zap.String("local_id", localID),
			zap.String("code", ev.Code),
			zap.String("detail", ev.Message),
		)
	}
}
