package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adcraftco/relay/pkg/sse"
)

const (
	// DefaultBufferedTimeout bounds a single-shot chat reply.
	DefaultBufferedTimeout = 60 * time.Second

	// DefaultStreamTimeout bounds a full streaming workflow run. The engine
	// may execute many sequential nodes before the first content token, so
	// this is materially longer than the buffered budget.
	DefaultStreamTimeout = 10 * time.Minute

	chatMessagesPath = "/chat-messages"
)

// Config holds what the client needs at construction time.
type Config struct {
	// BaseURL of the engine API, without trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	BufferedTimeout time.Duration
	StreamTimeout   time.Duration
}

// Client performs the HTTP exchange with the engine in both response modes,
// and owns the single self-healing retry for stale conversation references.
type Client struct {
	baseURL   string
	buffered  *http.Client
	streaming *http.Client
	logger    *zap.Logger

	// mu guards apiKey, which is hot-reloadable for key rotation.
	mu     sync.RWMutex
	apiKey string
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	bt := cfg.BufferedTimeout
	if bt <= 0 {
		bt = DefaultBufferedTimeout
	}
	st := cfg.StreamTimeout
	if st <= 0 {
		st = DefaultStreamTimeout
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		buffered:  &http.Client{Timeout: bt},
		streaming: &http.Client{Timeout: st},
		logger:    logger,
	}
}

// SetAPIKey swaps the bearer token used for subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// SendBuffered issues a single-shot turn and parses the JSON reply.
//
// If the engine rejects the request because the referenced conversation no
// longer exists, and the payload carried a conversation_id, the request is
// retried exactly once with that field removed — falling back to a fresh
// upstream conversation. The fallback reply is marked Recovered so the caller
// can reconcile stored identity. A second failure propagates without retry;
// every other error code propagates immediately.
func (c *Client) SendBuffered(ctx context.Context, req *TurnRequest) (*ChatReply, error) {
	reply, err := c.sendBufferedOnce(ctx, req)
	if err == nil {
		return reply, nil
	}

	if !IsConversationNotFound(err) || req.ConversationID == "" {
		return nil, err
	}

	c.logger.Warn("engine dropped the conversation, retrying as a fresh one",
		zap.String("conversation_id", req.ConversationID),
	)

	fresh := *req
	fresh.ConversationID = ""
	reply, err = c.sendBufferedOnce(ctx, &fresh)
	if err != nil {
		return nil, err
	}
	reply.Recovered = true
	return reply, nil
}

func (c *Client) sendBufferedOnce(ctx context.Context, req *TurnRequest) (*ChatReply, error) {
	httpResp, err := c.post(ctx, c.buffered, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(httpResp.StatusCode, body)
	}

	var reply ChatReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &reply, nil
}

// SendStreaming issues a streaming-mode turn and returns the live event
// stream. The stream is forward-only and not restartable; the caller must
// Close it, and cancelling ctx aborts the underlying read.
func (c *Client) SendStreaming(ctx context.Context, req *TurnRequest) (*Stream, error) {
	req.ResponseMode = ModeStreaming

	httpResp, err := c.post(ctx, c.streaming, req)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, decodeAPIError(httpResp.StatusCode, body)
	}

	return &Stream{
		body:    httpResp.Body,
		scanner: sse.NewScanner(httpResp.Body),
	}, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, req *TurnRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatMessagesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "post " + chatMessagesPath, Err: err}
	}
	return httpResp, nil
}

// decodeAPIError maps a non-200 body to an APIError, tolerating bodies that
// are not the engine's structured error shape.
func decodeAPIError(status int, body []byte) error {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || (e.Code == "" && e.Message == "") {
		return &APIError{Status: status, Message: string(body)}
	}
	return &APIError{Status: status, Code: e.Code, Message: e.Message}
}

// Stream is a finite, forward-only sequence of frames from one streaming
// turn. It terminates on the [DONE] sentinel or transport close.
type Stream struct {
	body    io.ReadCloser
	scanner *sse.Scanner
}

// Next returns the next frame. io.EOF marks the end of the stream.
func (s *Stream) Next() (sse.Frame, error) {
	return s.scanner.Next()
}

// Close releases the underlying connection. Safe to call after EOF.
func (s *Stream) Close() error {
	return s.body.Close()
}
