// Package proxy provides the conversation-state relay: a web front for the
// upstream workflow engine that decides whether a turn opens a new or
// continues an existing upstream conversation, relays buffered and streaming
// replies, and persists completed turns.
package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcraftco/relay/pkg/conversation"
	"github.com/adcraftco/relay/pkg/engine"
)

// Proxy is the relay server. It owns the conversation store, the identity
// resolver, and the engine client; each inbound turn flows contract builder →
// engine client → persistence bridge.
type Proxy struct {
	config   Config
	store    conversation.Store
	resolver *conversation.Resolver
	engine   *engine.Client
	logger   *zap.Logger
	server   *fiber.App

	// mu guards defaultUser, which is hot-reloadable.
	mu          sync.RWMutex
	defaultUser string
}

// New creates a new Proxy.
func New(config Config, logger *zap.Logger) (*Proxy, error) {
	var store conversation.Store
	var err error

	if config.DBPath != "" {
		store, err = conversation.NewSQLiteStore(config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", config.DBPath))
	} else {
		store = conversation.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	client := engine.NewClient(engine.Config{
		BaseURL:         strings.TrimRight(config.UpstreamURL, "/"),
		APIKey:          config.APIKey,
		BufferedTimeout: config.BufferedTimeout,
		StreamTimeout:   config.StreamTimeout,
	}, logger)

	p := &Proxy{
		config:      config,
		store:       store,
		resolver:    conversation.NewResolver(store, logger, nil),
		engine:      client,
		logger:      logger,
		server:      app,
		defaultUser: config.DefaultUser,
	}

	// Register routes
	app.Post("/api/engine/:conversationID", p.handleTurn)
	app.Post("/api/engine/:conversationID/stream", p.handleTurnStream)

	app.Post("/api/conversations", p.handleCreateConversation)
	app.Get("/api/conversations", p.handleListConversations)
	app.Get("/api/conversations/:conversationID/messages", p.handleListMessages)
	app.Get("/api/credits/:user", p.handleCreditBalance)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	return p, nil
}

// Run starts the relay server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting relay server",
		zap.String("listen", p.config.ListenAddr),
		zap.String("upstream", p.config.UpstreamURL),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// Close shuts down the relay and releases resources.
func (p *Proxy) Close() error {
	return p.store.Close()
}

// ApplyReload applies the hot-reloadable fields of a re-read config file:
// the engine API key and the default caller identity. Everything else needs
// a restart.
func (p *Proxy) ApplyReload(fc *FileConfig) {
	if fc.APIKey != "" {
		p.engine.SetAPIKey(fc.APIKey)
		p.logger.Info("engine api key rotated")
	}
	if fc.DefaultUser != "" {
		p.mu.Lock()
		p.defaultUser = fc.DefaultUser
		p.mu.Unlock()
		p.logger.Info("default user updated", zap.String("default_user", fc.DefaultUser))
	}
}

func (p *Proxy) callerIdentity(requested string) string {
	if requested != "" {
		return requested
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultUser
}

// handleCreateConversation mints a fresh local conversation handle. The
// upstream side is created lazily by the first turn.
func (p *Proxy) handleCreateConversation(c *fiber.Ctx) error {
	localID := uuid.NewString()

	h, err := p.store.EnsureHandle(c.Context(), localID)
	if err != nil {
		p.logger.Error("failed to create conversation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "failed to create conversation"})
	}

	return c.Status(fiber.StatusCreated).JSON(map[string]string{
		"conversation_id": h.LocalID,
	})
}

func (p *Proxy) handleListConversations(c *fiber.Ctx) error {
	handles, err := p.store.ListHandles(c.Context())
	if err != nil {
		p.logger.Error("failed to list conversations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "failed to list conversations"})
	}

	return c.JSON(map[string]any{
		"count":         len(handles),
		"conversations": handles,
	})
}

func (p *Proxy) handleListMessages(c *fiber.Ctx) error {
	localID := c.Params("conversationID")

	if _, err := p.store.GetHandle(c.Context(), localID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorBody{Error: "conversation not found"})
	}

	msgs, err := p.store.ListMessages(c.Context(), localID)
	if err != nil {
		p.logger.Error("failed to list messages", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "failed to list messages"})
	}

	return c.JSON(map[string]any{
		"conversation_id": localID,
		"count":           len(msgs),
		"messages":        msgs,
	})
}

func (p *Proxy) handleCreditBalance(c *fiber.Ctx) error {
	user := c.Params("user")

	balance, err := p.store.CreditBalance(c.Context(), user)
	if err != nil {
		p.logger.Error("failed to read credit balance", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "failed to read balance"})
	}

	return c.JSON(map[string]any{
		"user":    user,
		"balance": balance,
	})
}

// errorBody is the JSON error shape returned to downstream callers.
type errorBody struct {
	Error string `json:"error"`
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
