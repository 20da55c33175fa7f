package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/adcraftco/relay/pkg/conversation"
	"github.com/adcraftco/relay/pkg/engine"
	"github.com/adcraftco/relay/pkg/sse"
)

// turnBody is the downstream request for one chat turn.
type turnBody struct {
	Message string         `json:"message"`
	User    string         `json:"user,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// turnReply is the downstream buffered response.
type turnReply struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// handleTurn relays one buffered turn: resolve identity, build the upstream
// contract, send (with the one-shot stale-conversation fallback inside the
// engine client), answer the caller, then persist.
func (p *Proxy) handleTurn(c *fiber.Ctx) error {
	startTime := time.Now()
	localID := c.Params("conversationID")

	var body turnBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: "invalid request body"})
	}
	user := p.callerIdentity(body.User)

	// Serialize turns per conversation so racing turns cannot both create
	// an upstream conversation.
	unlock := p.resolver.Lock(localID)
	defer unlock()

	res, err := p.resolver.Resolve(c.Context(), localID)
	if err != nil {
		p.logger.Error("failed to resolve conversation", zap.String("local_id", localID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal error"})
	}

	req, err := engine.BuildTurnRequest(body.Message,
		engine.Continuation{UpstreamID: res.UpstreamID, IsNew: res.IsNew},
		body.Inputs, user, engine.ModeBuffered)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: err.Error()})
	}

	p.logger.Debug("sending buffered turn",
		zap.String("local_id", localID),
		zap.Bool("new_upstream", res.IsNew),
		zap.String("message_preview", truncate(body.Message, 80)),
	)

	reply, err := p.engine.SendBuffered(c.Context(), req)
	if err != nil {
		return p.turnError(c, localID, err)
	}

	if reply.Recovered {
		// The stored id was stale and the engine already answered under a
		// fresh conversation; drop the stale linkage before the new id is
		// assigned below.
		if err := p.resolver.OnUpstreamNotFound(c.Context(), localID); err != nil {
			p.logger.Warn("failed to clear stale upstream id", zap.String("local_id", localID), zap.Error(err))
		}
	}

	p.logger.Debug("received buffered reply",
		zap.String("local_id", localID),
		zap.String("answer_preview", truncate(reply.Answer, 100)),
		zap.Duration("duration", time.Since(startTime)),
	)

	jsonErr := c.JSON(turnReply{
		Answer:         reply.Answer,
		ConversationID: reply.ConversationID,
		MessageID:      reply.MessageID,
	})

	// Persistence comes after the response: a storage failure must never
	// fail an already-answered turn.
	p.persistTurn(localID, user, body.Message, reply.Answer,
		reply.Metadata.Usage, reply.ConversationID, res.IsNew || reply.Recovered)

	return jsonErr
}

// turnError maps an engine failure to the downstream response. Raw upstream
// detail stays in the logs; callers get a generic message.
func (p *Proxy) turnError(c *fiber.Ctx, localID string, err error) error {
	if engine.IsConversationNotFound(err) {
		// Even the fallback path reported the conversation gone; clear the
		// linkage so the next turn starts fresh.
		if clearErr := p.resolver.OnUpstreamNotFound(c.Context(), localID); clearErr != nil {
			p.logger.Warn("failed to clear stale upstream id", zap.String("local_id", localID), zap.Error(clearErr))
		}
	}

	if engine.IsTransport(err) {
		p.logger.Error("engine unreachable", zap.String("local_id", localID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(errorBody{Error: "upstream unavailable"})
	}

	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		p.logger.Error("engine rejected turn",
			zap.String("local_id", localID),
			zap.Int("status", apiErr.Status),
			zap.String("code", apiErr.Code),
			zap.String("detail", apiErr.Message),
		)
		return c.Status(fiber.StatusBadGateway).JSON(errorBody{Error: "upstream error"})
	}

	p.logger.Error("turn failed", zap.String("local_id", localID), zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(errorBody{Error: "upstream error"})
}

// persistTurn is the persistence bridge: exactly one write per completed
// turn, after the response has been handed to the transport. Failures are
// logged warnings, never surfaced to the caller.
func (p *Proxy) persistTurn(localID, user, message, answer string, usage *sse.Usage, upstreamID string, assign bool) {
	// The caller's request context may already be gone; persistence runs on
	// its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if assign && upstreamID != "" {
		if err := p.resolver.OnUpstreamAssigned(ctx, localID, upstreamID); err != nil {
			p.logger.Warn("failed to store upstream conversation id",
				zap.String("local_id", localID), zap.Error(err))
		}
	}

	userMsg := &conversation.Message{
		LocalID: localID,
		Role:    conversation.RoleUser,
		Content: message,
	}
	assistantMsg := &conversation.Message{
		LocalID: localID,
		Role:    conversation.RoleAssistant,
		Content: answer,
	}
	if usage != nil {
		assistantMsg.PromptTokens = usage.PromptTokens
		assistantMsg.CompletionTokens = usage.CompletionTokens
		assistantMsg.TotalTokens = usage.TotalTokens
	}

	if err := p.store.AppendMessage(ctx, userMsg); err != nil {
		p.logger.Warn("failed to persist user message", zap.String("local_id", localID), zap.Error(err))
		return
	}
	if err := p.store.AppendMessage(ctx, assistantMsg); err != nil {
		p.logger.Warn("failed to persist assistant message", zap.String("local_id", localID), zap.Error(err))
		return
	}

	if err := p.store.AddLedgerEntry(ctx, &conversation.LedgerEntry{
		User:   user,
		Delta:  -1,
		Reason: "turn",
	}); err != nil {
		p.logger.Warn("failed to record turn debit", zap.String("user", user), zap.Error(err))
	}

	p.logger.Info("turn persisted",
		zap.String("local_id", localID),
		zap.String("user", user),
	)
}
