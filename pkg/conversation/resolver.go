package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Resolution is the resolver's answer for one inbound turn.
type Resolution struct {
	LocalID    string
	UpstreamID string
	IsNew      bool
}

// ValidateFunc optionally pre-checks a stored upstream id against the engine
// before reuse. Returning false means the id is known stale. This is a
// latency/robustness tradeoff only; the main request path still handles the
// stale case regardless.
type ValidateFunc func(ctx context.Context, upstreamID string) (bool, error)

// Resolver keeps the locally stored upstream conversation id consistent with
// upstream reality, and decides per turn whether to address the engine as a
// new or continuing conversation.
type Resolver struct {
	store    Store
	logger   *zap.Logger
	validate ValidateFunc

	// locks serializes turns per local id so two turns of the same
	// conversation cannot both observe "no upstream id" and each create an
	// upstream conversation.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver creates a Resolver over store. validate may be nil.
func NewResolver(store Store, logger *zap.Logger, validate ValidateFunc) *Resolver {
	return &Resolver{
		store:    store,
		logger:   logger,
		validate: validate,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-conversation lock for localID and returns the
// release function. Callers hold it for the full turn, through the
// post-completion identity write.
func (r *Resolver) Lock(localID string) func() {
	r.mu.Lock()
	l, ok := r.locks[localID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[localID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Resolve looks up (creating if absent) the handle for localID and reports
// whether the turn starts a new upstream conversation.
func (r *Resolver) Resolve(ctx context.Context, localID string) (Resolution, error) {
	h, err := r.store.EnsureHandle(ctx, localID)
	if err != nil {
		return Resolution{}, err
	}

	if h.UpstreamID == nil {
		return Resolution{LocalID: localID, IsNew: true}, nil
	}

	if r.validate != nil {
		ok, err := r.validate(ctx, *h.UpstreamID)
		if err != nil {
			// Validation is best effort; the stored id stays tentatively
			// valid and the send path handles staleness.
			r.logger.Debug("upstream id validation failed, using stored id",
				zap.String("local_id", localID), zap.Error(err))
		} else if !ok {
			r.logger.Info("stored upstream id is stale, starting fresh",
				zap.String("local_id", localID),
				zap.String("upstream_id", *h.UpstreamID),
			)
			if err := r.store.ClearUpstreamID(ctx, localID); err != nil {
				return Resolution{}, err
			}
			return Resolution{LocalID: localID, IsNew: true}, nil
		}
	}

	return Resolution{LocalID: localID, UpstreamID: *h.UpstreamID}, nil
}

// OnUpstreamAssigned persists the engine's conversation id after the first
// successful turn of a conversation. If a different id is already stored the
// existing value wins and this call is a logged no-op.
func (r *Resolver) OnUpstreamAssigned(ctx context.Context, localID, upstreamID string) error {
	assigned, err := r.store.SetUpstreamID(ctx, localID, upstreamID)
	if err != nil {
		return err
	}
	if !assigned {
		r.logger.Warn("upstream id already assigned by a concurrent turn, keeping existing value",
			zap.String("local_id", localID),
			zap.String("discarded_upstream_id", upstreamID),
		)
	}
	return nil
}

// OnUpstreamNotFound clears the stored upstream linkage after the engine
// reported the conversation gone. Local history stays addressable; a fresh
// upstream id may be assigned on the next successful turn.
func (r *Resolver) OnUpstreamNotFound(ctx context.Context, localID string) error {
	r.logger.Info("clearing stale upstream conversation id",
		zap.String("local_id", localID),
	)
	return r.store.ClearUpstreamID(ctx, localID)
}
