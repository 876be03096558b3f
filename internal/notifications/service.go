package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig contains enqueue configuration.
type ServiceConfig struct {
	DedupBucket time.Duration
	DedupWindow time.Duration
	MaxAttempts int
}

// DefaultServiceConfig returns default enqueue configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DedupBucket: time.Second,
		DedupWindow: 10 * time.Second,
		MaxAttempts: 3,
	}
}

// Service accepts notification requests from producers.
type Service struct {
	config   ServiceConfig
	queue    QueueRepository
	entities EntityRepository
	now      func() time.Time
}

// NewService creates a new notifications service.
func NewService(config ServiceConfig, queue QueueRepository, entities EntityRepository) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultServiceConfig().MaxAttempts
	}
	return &Service{
		config:   config,
		queue:    queue,
		entities: entities,
		now:      time.Now,
	}
}

// EnqueueInput contains a notification request.
type EnqueueInput struct {
	Kind     Kind
	Payload  Payload
	Priority Priority
}

// EnqueueResult describes the stored queue item.
type EnqueueResult struct {
	ItemID    string `json:"item_id"`
	Duplicate bool   `json:"duplicate"`
}

// Enqueue stores a notification request and returns its queue item id.
// Duplicate requests return the id of the existing item.
func (s *Service) Enqueue(ctx context.Context, input EnqueueInput) (*EnqueueResult, error) {
	if !input.Kind.IsValid() {
		return nil, ErrUnknownKind
	}

	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.IsValid() {
		return nil, ErrInvalidPriority
	}

	if input.Payload == nil {
		input.Payload = Payload{}
	}

	identity, err := IdentityOf(input.Kind, input.Payload)
	if err != nil {
		return nil, err
	}

	if input.Kind.MarksProduct() {
		existing, err := s.claimProduct(ctx, identity, input.Payload.String(KeyProductID))
		if err != nil {
			return nil, err
		}
		if existing != nil {
			recordEnqueue(input.Kind, "short_circuit")
			slog.Debug("product notification already pending",
				"item_id", existing.ID,
				"kind", input.Kind,
				"entity_id", identity.EntityID,
			)
			return &EnqueueResult{ItemID: existing.ID, Duplicate: true}, nil
		}
	}

	now := s.now()
	item := &QueueItem{
		ID:           uuid.NewString(),
		Kind:         input.Kind,
		Priority:     priority,
		Status:       QueueStatusPending,
		Payload:      input.Payload,
		DedupKey:     DedupKey(identity, now, s.config.DedupBucket),
		Subtype:      identity.Subtype,
		EntityID:     identity.EntityID,
		MaxAttempts:  s.config.MaxAttempts,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, created, err := s.queue.EnqueueItem(ctx, item, s.config.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("enqueue item: %w", err)
	}

	if !created {
		recordEnqueue(input.Kind, "duplicate")
		slog.Debug("duplicate notification request", "item_id", id, "kind", input.Kind, "entity_id", identity.EntityID)
		return &EnqueueResult{ItemID: id, Duplicate: true}, nil
	}

	recordEnqueue(input.Kind, "created")
	slog.Info("notification enqueued",
		"item_id", id,
		"kind", input.Kind,
		"subtype", identity.Subtype,
		"priority", priority,
	)
	return &EnqueueResult{ItemID: id}, nil
}

// claimProduct stamps the pending marker on the product. If a concurrent
// producer already holds it, the active item for the identity is returned.
// A marker without an active item is stale and is ignored.
func (s *Service) claimProduct(ctx context.Context, identity Identity, productID string) (*QueueItem, error) {
	claimed, err := s.entities.MarkProductPending(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("mark product pending: %w", err)
	}
	if claimed {
		return nil, nil
	}

	existing, err := s.queue.FindActiveItem(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("find active item: %w", err)
	}
	return existing, nil
}

// GetItem returns a queue item by id.
func (s *Service) GetItem(ctx context.Context, id string) (*QueueItem, error) {
	return s.queue.GetItem(ctx, id)
}

// ListItems returns the newest queue items with the given status.
func (s *Service) ListItems(ctx context.Context, status QueueStatus, limit int) ([]*QueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.queue.ListItems(ctx, status, limit)
}

// Stats returns queue size by status.
func (s *Service) Stats(ctx context.Context) (*QueueStats, error) {
	return s.queue.GetQueueStats(ctx)
}
