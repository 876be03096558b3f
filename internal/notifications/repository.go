// Package notifications provides the notification queue, its scheduler and
// the handler registry for marketplace notifications.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
)

// QueueRepository defines durable queue storage with atomic claiming.
type QueueRepository interface {
	// EnqueueItem inserts item unless an item with the same dedup key exists,
	// or an item with the same identity was created within lookback.
	// Returns the id of the stored item and whether it was newly created.
	EnqueueItem(ctx context.Context, item *QueueItem, lookback time.Duration) (id string, created bool, err error)

	// FindActiveItem returns the newest pending or processing item for identity.
	FindActiveItem(ctx context.Context, identity Identity) (*QueueItem, error)

	// ClaimNext atomically moves the next eligible pending item to processing.
	// Returns nil, nil if nothing is eligible.
	ClaimNext(ctx context.Context) (*QueueItem, error)

	// Touch bumps updated_at of a processing item.
	Touch(ctx context.Context, id string) error

	MarkCompleted(ctx context.Context, id string, processingTime time.Duration) error
	MarkRateLimited(ctx context.Context, id string, reason string, retryAt time.Time) error
	MarkForRetry(ctx context.Context, id string, reason string, nextAttempt time.Time) error
	MarkDeadLetter(ctx context.Context, id string, reason string) error

	// RequeueStale resets items stuck in processing since before staleBefore.
	RequeueStale(ctx context.Context, staleBefore time.Time) (int64, error)

	GetItem(ctx context.Context, id string) (*QueueItem, error)
	ListItems(ctx context.Context, status QueueStatus, limit int) ([]*QueueItem, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// EntityRepository reads marketplace entities and stamps notification markers.
type EntityRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// MarkProductPending sets the pending marker unless it is already set.
	// Returns false if another producer holds the marker.
	MarkProductPending(ctx context.Context, productID string) (bool, error)

	// MarkProductNotified records a successful announcement and clears the marker.
	MarkProductNotified(ctx context.Context, productID string, at time.Time) error
}

// AuditRepository persists delivery log entries.
type AuditRepository interface {
	InsertDeliveryLog(ctx context.Context, entry *DeliveryLogEntry) error
}
