package conversation

import "context"

// Store persists conversation handles, message history, and the credit
// ledger. The upstream-id column is the only shared mutable state across
// concurrent turns; SetUpstreamID and ClearUpstreamID must be atomic with
// respect to each other for the same local id.
type Store interface {
	// EnsureHandle returns the handle for localID, creating an empty one if
	// none exists.
	EnsureHandle(ctx context.Context, localID string) (*Handle, error)

	// GetHandle returns the handle for localID, or ErrNotFound.
	GetHandle(ctx context.Context, localID string) (*Handle, error)

	// ListHandles returns all handles, newest first.
	ListHandles(ctx context.Context) ([]*Handle, error)

	// SetUpstreamID assigns the engine's conversation id, first writer wins:
	// the write succeeds only when no id is stored yet. Reports whether the
	// stored value equals upstreamID after the call (a repeat of the same
	// value is a successful no-op). Returns ErrNotFound for unknown handles.
	SetUpstreamID(ctx context.Context, localID, upstreamID string) (bool, error)

	// ClearUpstreamID resets the upstream linkage to absent. The handle row
	// and its history remain.
	ClearUpstreamID(ctx context.Context, localID string) error

	// AppendMessage persists one message row and fills in its ID/CreatedAt.
	AppendMessage(ctx context.Context, m *Message) error

	// ListMessages returns the history for localID, oldest first.
	ListMessages(ctx context.Context, localID string) ([]*Message, error)

	// AddLedgerEntry records one credit movement.
	AddLedgerEntry(ctx context.Context, e *LedgerEntry) error

	// CreditBalance sums the ledger deltas for user.
	CreditBalance(ctx context.Context, user string) (int64, error)

	// Close releases the store's resources.
	Close() error
}
