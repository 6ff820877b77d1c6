package port

import (
	"context"

	"github.com/rl1809/stockledger/internal/core/domain"
)

type IdempotencyRepository interface {
	// SetIdempotency claims key, returns false if it was already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}

// ChangePublisher receives every committed change.
type ChangePublisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// ChangeFeed delivers change events to a subscriber until the subscription is
// released. Delivery is at-least-once and ordered per subscription only.
type ChangeFeed interface {
	Subscribe(ctx context.Context, onEvent func(domain.ChangeEvent)) (Subscription, error)
}

type Subscription interface {
	// Unsubscribe releases the subscription. It is safe to call more than once.
	Unsubscribe()

	// Done is closed once no further events will be delivered.
	Done() <-chan struct{}

	// Err reports why delivery stopped, nil after a plain Unsubscribe.
	Err() error
}
