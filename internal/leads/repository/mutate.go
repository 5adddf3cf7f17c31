package repository

import (
	"context"
	"errors"

	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/lock"

	"github.com/google/uuid"
)

// maxMutateAttempts bounds reload-and-retry on version conflicts.
const maxMutateAttempts = 5

// ErrUnchanged tells Mutate that fn made no change and nothing should be saved.
var ErrUnchanged = errors.New("snapshot unchanged")

// Mutate applies fn to the latest snapshot under the per-lead lock and saves
// it, reloading and reapplying fn when another writer moved the version.
// fn must be safe to run more than once. A nil locks skips in-process locking.
// A change that rewrites or drops finalised audit entries is rejected before
// it reaches the store.
func Mutate(
	ctx context.Context,
	store SnapshotStore,
	locks *lock.Keyed[uuid.UUID],
	tenantID, leadID uuid.UUID,
	fn func(s *domain.Snapshot) error,
) (*domain.Snapshot, error) {
	if locks != nil {
		unlock, err := locks.Lock(ctx, leadID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		s, err := store.Get(ctx, tenantID, leadID)
		if err != nil {
			return nil, err
		}
		prev := s.Clone().Enrichment
		if err := fn(s); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return s, nil
			}
			return nil, err
		}
		if !domain.ValidAuditHistory(prev, s.Enrichment) {
			return nil, domain.ErrInvalidTransition
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err = store.Save(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
