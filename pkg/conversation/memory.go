package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	messages map[string][]*Message
	ledger   []*LedgerEntry
	nextMsg  int64
	nextLed  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		handles:  make(map[string]*Handle),
		messages: make(map[string][]*Message),
	}
}

func (s *MemoryStore) EnsureHandle(_ context.Context, localID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[localID]; ok {
		return copyHandle(h), nil
	}
	now := time.Now().UTC()
	h := &Handle{LocalID: localID, CreatedAt: now, UpdatedAt: now}
	s.handles[localID] = h
	return copyHandle(h), nil
}

func (s *MemoryStore) GetHandle(_ context.Context, localID string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[localID]
	if !ok {
		return nil, ErrNotFound{LocalID: localID}
	}
	return copyHandle(h), nil
}

func (s *MemoryStore) ListHandles(_ context.Context) ([]*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, copyHandle(h))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LocalID > out[j].LocalID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SetUpstreamID(_ context.Context, localID, upstreamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[localID]
	if !ok {
		return false, ErrNotFound{LocalID: localID}
	}
	if h.UpstreamID != nil {
		return *h.UpstreamID == upstreamID, nil
	}
	v := upstreamID
	h.UpstreamID = &v
	h.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ClearUpstreamID(_ context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[localID]
	if !ok {
		return ErrNotFound{LocalID: localID}
	}
	h.UpstreamID = nil
	h.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsg++
	m.ID = s.nextMsg
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	stored := *m
	s.messages[m.LocalID] = append(s.messages[m.LocalID], &stored)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, localID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[localID]
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		copied := *m
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) AddLedgerEntry(_ context.Context, e *LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLed++
	e.ID = s.nextLed
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	s.ledger = append(s.ledger, &stored)
	return nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, e := range s.ledger {
		if e.User == user {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyHandle(h *Handle) *Handle {
	out := *h
	if h.UpstreamID != nil {
		v := *h.UpstreamID
		out.UpstreamID = &v
	}
	return &out
}
