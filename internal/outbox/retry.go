package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultMaxAttempts caps how many dispatch attempts an item may accumulate
// before manual retry is refused.
const DefaultMaxAttempts = 5

// Retry moves a failed item back to queued and clears its error. Attempts
// are kept. The write is conditional on the item still being failed with the
// attempts count that was read, so a concurrent retry or edit yields ErrConflict.
func Retry(ctx context.Context, store Store, id uuid.UUID, maxAttempts int) (*Item, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	cur, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusFailed {
		return nil, fmt.Errorf("%w: cannot retry %s item", ErrInvalidTransition, cur.Status)
	}
	if cur.Attempts >= maxAttempts {
		return nil, fmt.Errorf("%w: %d of %d attempts used", ErrRetryLimitReached, cur.Attempts, maxAttempts)
	}

	updated, err := store.Update(ctx, id, Patch{
		Status:     Ptr(StatusQueued),
		ClearError: true,
		Expect:     &Expect{Status: StatusFailed, Attempts: Ptr(cur.Attempts)},
	})
	if errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("retry %s: %w", id, err)
	}
	return updated, err
}
